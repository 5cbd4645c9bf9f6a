package api

import (
    "net/http"
    "time"

    "healthnav/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    info := map[string]any{
        "build":  buildinfo.Info(),
        "time":   time.Now().UTC().Format(time.RFC3339),
        "config": s.Config.Redacted(),
    }
    if s.Graphs != nil {
        info["regions"] = s.Graphs.Regions()
    }
    writeJSON(w, http.StatusOK, info)
}
