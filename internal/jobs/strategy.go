package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"media-extractor/internal/converter"
	"media-extractor/internal/extractor"
	"media-extractor/internal/filesystem"
	"media-extractor/internal/identity"
	"media-extractor/internal/logging"
	"media-extractor/internal/models"
	"media-extractor/internal/transcoder"
	"media-extractor/internal/workers"
)

// Source fetches metadata and audio for a source URL.
type Source interface {
	Probe(ctx context.Context, url string) (*extractor.Metadata, error)
	Download(ctx context.Context, url, dir string) (string, error)
}

// Encoder converts a downloaded file into the artifact format.
type Encoder interface {
	Transcode(ctx context.Context, input, output string, opts transcoder.Options) error
}

// Converter is the paid conversion API.
type Converter interface {
	Enabled() bool
	Convert(ctx context.Context, identity, bitrate string) (*converter.Result, error)
}

// Strategy turns a job that has passed the quality policy into a pool task.
type Strategy interface {
	Mode() models.Mode
	Task(job *models.Job, meta *extractor.Metadata) workers.Task
}

// tempDirPrefix marks directories owned by file jobs so stale ones can be
// found by the cleanup sweep.
const tempDirPrefix = "job-"

// fileStrategy downloads the source into a temp directory, transcodes it
// when needed and moves the result into the artifact directory.
type fileStrategy struct {
	source      Source
	encoder     Encoder
	artifactDir string
	tempDir     string
	retry       filesystem.RetryConfig
	log         logging.Logger
}

func (s *fileStrategy) Mode() models.Mode { return models.ModeFile }

func (s *fileStrategy) Task(job *models.Job, meta *extractor.Metadata) workers.Task {
	return workers.Task{
		JobID: job.ID,
		Run: func(ctx context.Context, r workers.Reporter) (workers.Outcome, error) {
			return s.run(ctx, r, job, meta)
		},
	}
}

func (s *fileStrategy) run(ctx context.Context, r workers.Reporter, job *models.Job, meta *extractor.Metadata) (workers.Outcome, error) {
	r.Progress(5, "metadata")

	dir, err := os.MkdirTemp(s.tempDir, tempDirPrefix+job.ID+"-")
	if err != nil {
		return workers.Outcome{}, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warn("failed to remove temp directory %s: %v", dir, err)
		}
	}()

	r.Progress(10, "extracting")
	source, err := s.source.Download(ctx, identity.CanonicalURL(job.Identity), dir)
	if err != nil {
		return workers.Outcome{}, err
	}
	r.Progress(25, "extracted")

	opts := transcoder.Options{
		Bitrate:      job.EffectiveBitrate,
		TrimStart:    job.Params.TrimStart,
		TrimDuration: job.Params.TrimDuration(),
	}

	output := source
	if transcoder.NeedsTranscode(source, meta.ABR, opts) {
		r.Progress(30, "transcoding")
		output = filepath.Join(dir, "output"+transcoder.OutputExt)
		if err := s.encoder.Transcode(ctx, source, output, opts); err != nil {
			return workers.Outcome{}, err
		}
	} else {
		s.log.Debug("job %s: source is already a suitable mp3, passing through", job.ID)
	}
	r.Progress(95, "finalizing")

	final := filepath.Join(s.artifactDir, job.ID+filepath.Ext(output))
	if err := filesystem.MoveFile(output, final, s.retry); err != nil {
		return workers.Outcome{}, fmt.Errorf("failed to store artifact: %w", err)
	}

	info, err := filesystem.StatWithRetry(final, s.retry)
	if err != nil {
		return workers.Outcome{}, fmt.Errorf("failed to stat artifact: %w", err)
	}

	return workers.Outcome{Location: final, Title: meta.Title, Size: info.Size()}, nil
}

// apiStrategy hands the conversion to the paid API and keeps the URL it
// returns as the artifact. Nothing is written locally.
type apiStrategy struct {
	converter Converter
}

func (s *apiStrategy) Mode() models.Mode { return models.ModeAPI }

func (s *apiStrategy) Task(job *models.Job, meta *extractor.Metadata) workers.Task {
	return workers.Task{
		JobID: job.ID,
		Run: func(ctx context.Context, r workers.Reporter) (workers.Outcome, error) {
			r.Progress(5, "metadata")
			r.Progress(10, "converting")

			res, err := s.converter.Convert(ctx, job.Identity, job.EffectiveBitrate)
			if err != nil {
				return workers.Outcome{}, err
			}

			title := res.Title
			if title == "" {
				title = meta.Title
			}
			return workers.Outcome{Location: res.URL, Title: title}, nil
		},
	}
}
