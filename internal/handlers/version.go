package handlers

import (
	"net/http"

	"media-extractor/internal/models"
	"media-extractor/internal/startup"
)

// VersionResponse is build information plus the job modes this instance
// accepts.
type VersionResponse struct {
	startup.BuildInfo
	Modes []models.Mode `json:"modes"`
}

// GetVersion returns the application version and build information
// GET /version
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	modes := []models.Mode{models.ModeFile, models.ModeStream}
	if h.apiMode {
		modes = append(modes, models.ModeAPI)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, VersionResponse{
		BuildInfo: startup.GetBuildInfo(),
		Modes:     modes,
	})
}
