package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	ids "github.com/JakeFAU/media-scraper/internal/id/uuid"
	"github.com/JakeFAU/media-scraper/internal/scrape"
)

// listMedia handles GET /api/media?page=&limit=&type=&search=&sourceUrl=.
func (s *Server) listMedia(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	mediaType, err := parseMediaType(q.Get("type"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	filter := scrape.MediaFilter{
		Type:      mediaType,
		Search:    strings.TrimSpace(q.Get("search")),
		SourceURL: strings.TrimSpace(q.Get("sourceUrl")),
	}
	media, err := s.deps.Catalog.ListMedia(r.Context(), page, filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, media, "")
}

func (s *Server) mediaStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Catalog.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats, "")
}

func (s *Server) getMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := s.mediaID(w, r)
	if !ok {
		return
	}
	media, err := s.deps.Catalog.GetMedia(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, media, "")
}

func (s *Server) deleteMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := s.mediaID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Catalog.DeleteMedia(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Media deleted successfully"})
}

func (s *Server) mediaID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !ids.Valid(id) {
		s.writeServiceError(w, r, &scrape.ValidationError{Field: "id", Reason: "must be a UUID"})
		return "", false
	}
	return id, true
}
