package jobs

import (
	"context"
	"errors"

	"media-extractor/internal/converter"
	"media-extractor/internal/extractor"
	"media-extractor/internal/transcoder"
	"media-extractor/internal/workers"
)

var (
	// ErrAlreadyProcessing means another job holds the source and no
	// completed job with the same parameters exists yet. Retry later.
	ErrAlreadyProcessing = errors.New("content is already being processed")

	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidParams wraps every parameter validation failure.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrAlreadyInFlight is returned when a job is dispatched while a
	// previous dispatch of the same job is still running.
	ErrAlreadyInFlight = errors.New("job is already in flight")
)

// describe splits a pipeline error into a short caller-facing message and
// an internal detail string.
func describe(err error) (message, detail string) {
	var (
		xerr *extractor.Error
		terr *transcoder.Error
		cerr *converter.Error
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Job timed out", err.Error()
	case errors.As(err, &xerr):
		msg := xerr.Public()
		if msg == extractor.MsgFailed {
			return "Extraction failed", joinDetail(xerr.Detail, err)
		}
		return "Extraction failed: " + msg, joinDetail(xerr.Detail, err)
	case errors.As(err, &terr):
		return "Transcoding failed", joinDetail(terr.Detail, err)
	case errors.As(err, &cerr):
		return "Conversion service error: " + cerr.Message, err.Error()
	case errors.Is(err, converter.ErrNotConfigured):
		return "Conversion service is not configured", err.Error()
	case errors.Is(err, workers.ErrQueueFull), errors.Is(err, workers.ErrPoolClosed):
		return "Server is busy, try again later", err.Error()
	default:
		return "Processing failed", err.Error()
	}
}

func joinDetail(detail string, err error) string {
	if detail == "" {
		return err.Error()
	}
	return err.Error() + "\n" + detail
}
