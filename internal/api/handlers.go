package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const revisionUnknown = "unknown"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Revision      string  `json:"revision"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// ArtifactInfo describes one applied artifact.
type ArtifactInfo struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Digest string `json:"digest,omitempty"`
	Size   int64  `json:"size"`
}

// RevisionResponse is the body of GET /api/v1/revision.
type RevisionResponse struct {
	Revision  string         `json:"revision"`
	Status    string         `json:"status"` // applied or unknown
	Artifacts []ArtifactInfo `json:"artifacts"`
}

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "OrthoVision backend is running"})
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Revision:      s.revisionToken(),
		Version:       s.version,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
	})
}

// revision reports the applied artifact revision. It is diagnostic only.
func (s *Server) revision(c echo.Context) error {
	resp := RevisionResponse{
		Revision:  s.revisionToken(),
		Status:    "applied",
		Artifacts: []ArtifactInfo{},
	}
	if resp.Revision == revisionUnknown {
		resp.Status = revisionUnknown
	}
	if s.artifacts != nil {
		for _, l := range s.artifacts.All() {
			resp.Artifacts = append(resp.Artifacts, ArtifactInfo{
				Name:   l.Name,
				Path:   l.Path,
				Digest: l.Digest,
				Size:   l.Size,
			})
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) revisionToken() string {
	if s.artifacts == nil || s.artifacts.Revision == "" {
		return revisionUnknown
	}
	return s.artifacts.Revision
}
