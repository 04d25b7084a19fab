package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/mashup/pkg/journal"
)

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Resources == nil {
		writeError(w, http.StatusServiceUnavailable, "resource tracking not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": s.cfg.Resources.Names()})
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Resources == nil {
		writeError(w, http.StatusServiceUnavailable, "resource tracking not configured")
		return
	}
	name := chi.URLParam(r, "name")
	data, ok := s.cfg.Resources.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "resource not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource": name,
		"data":     data,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not enabled")
		return
	}
	entries, err := s.cfg.Journal.Recent(r.Context(), journal.Query{
		Limit: queryLimit(r, 100, 1000),
		Kind:  r.URL.Query().Get("kind"),
		Name:  r.URL.Query().Get("name"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}
