package handlers

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"media-extractor/internal/identity"
	"media-extractor/internal/jobs"
	"media-extractor/internal/logging"
	"media-extractor/internal/mediatypes"
	"media-extractor/internal/models"
	"media-extractor/internal/pipeline"
	"media-extractor/internal/streaming"
)

// Stream pipes the source straight to the client as MP3 without creating
// a job or touching disk.
// GET /api/stream?url=&bitrate=&start=&end=
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ref := q.Get("url")
	if ref == "" {
		writeJSONError(w, "url is required", http.StatusBadRequest)
		return
	}

	start, err := parseSeconds(q.Get("start"))
	if err != nil {
		writeJSONError(w, "start must be a number of seconds", http.StatusBadRequest)
		return
	}
	end, err := parseSeconds(q.Get("end"))
	if err != nil {
		writeJSONError(w, "end must be a number of seconds", http.StatusBadRequest)
		return
	}

	params := models.Params{
		Bitrate:   q.Get("bitrate"),
		TrimStart: start,
		TrimEnd:   end,
		Mode:      models.ModeStream,
	}

	sink := streaming.NewSink(r.Context(), w, h.sinkConfig)
	defer sink.Close()

	headersSent := false
	prepare := func(info pipeline.StreamInfo) error {
		header := w.Header()
		header.Set("Content-Type", mediatypes.GetMimeType(mediatypes.MP3Ext))
		header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Filename}))
		header.Set("Cache-Control", "no-store")
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Audio-Bitrate", info.Bitrate)
		if info.Advisory != "" {
			header.Set("X-Quality-Advisory", info.Advisory)
		}
		w.WriteHeader(http.StatusOK)
		headersSent = true
		return nil
	}

	err = h.jobs.StreamToSink(r.Context(), ref, params, sink, prepare)
	if err == nil {
		return
	}

	if !headersSent {
		switch {
		case errors.Is(err, identity.ErrInvalidReference), errors.Is(err, jobs.ErrInvalidParams):
			writeServiceError(w, err)
		case errors.Is(err, context.Canceled):
			// client left before the first byte
		default:
			writeJSONError(w, pipeline.Describe(err), http.StatusBadGateway)
		}
		return
	}

	// The status line is gone; all that is left is to stop and log.
	if errors.Is(err, streaming.ErrClientGone) || errors.Is(err, context.Canceled) {
		logging.Debug("stream client disconnected: %v", err)
		return
	}
	logging.Warn("stream aborted after headers were sent: %v", err)
}

func parseSeconds(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
