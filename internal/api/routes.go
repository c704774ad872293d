package api

import (
	"encoding/json"
	"net/http"

	"github.com/sunbk201/speedreader/internal/common"
	"github.com/sunbk201/speedreader/internal/engine/streaming"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *APIServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": s.version,
	})
}

func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

type entryView struct {
	Domains  []string         `json:"domains"`
	Type     string           `json:"type"`
	URLRules []string         `json:"url-rules,omitempty"`
	Rules    *streaming.Rules `json:"rules,omitempty"`
}

func (s *APIServer) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	wl := s.sr.Store().Current()
	entries := make([]entryView, 0, wl.Len())
	for _, e := range wl.Entries {
		v := entryView{
			Domains:  e.Domains,
			Type:     e.Type.String(),
			URLRules: e.URLRules,
		}
		if e.Type == common.RewriterStreaming {
			// compiled entries always carry valid rules
			v.Rules, _ = e.Rules()
		}
		entries = append(entries, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": wl.Version,
		"entries": entries,
	})
}

func (s *APIServer) handleWhitelistCheck(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing url"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":      rawURL,
		"readable": s.sr.ReadableURL(rawURL),
		"type":     s.sr.RewriterTypeForURL(rawURL).String(),
	})
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.recorder.Snapshot())
}
