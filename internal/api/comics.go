package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/comic"
)

const (
	identifierLatest = "latest"
	identifierRandom = "random"

	cacheForever = "public, max-age=86400, s-maxage=604800"
	cacheNever   = "no-store"
)

func (s *Server) listComics(w http.ResponseWriter, r *http.Request) {
	series := s.directory.All()
	if q := strings.TrimSpace(r.URL.Query().Get("search")); q != "" {
		series = s.directory.Search(q)
	}
	if series == nil {
		series = []comic.Series{}
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) getStrip(w http.ResponseWriter, r *http.Request) {
	strip, ok := s.resolve(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, strip)
}

func (s *Server) getImage(w http.ResponseWriter, r *http.Request) {
	strip, ok := s.resolve(w, r)
	if !ok {
		return
	}
	src, _ := s.registry.Find(strip.Endpoint)
	img, err := src.ProxyImage(r.Context(), strip.ImageURL)
	if err != nil {
		s.fail(w, r, "proxy image failed", err)
		return
	}
	cacheControl := cacheForever
	if identifierParam(r) == identifierRandom {
		cacheControl = cacheNever
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Body)
}

// resolve looks up the strip addressed by the route, writing the error response
// itself when there is none.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*comic.Strip, bool) {
	endpoint := chi.URLParam(r, "endpoint")
	src, ok := s.registry.Find(endpoint)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown comic "+endpoint)
		return nil, false
	}
	strip, err := fetch(r.Context(), src, endpoint, identifierParam(r))
	if err != nil {
		s.fail(w, r, "fetch strip failed", err)
		return nil, false
	}
	if strip == nil {
		writeError(w, http.StatusNotFound, "strip not found")
		return nil, false
	}
	return strip, true
}

func fetch(ctx context.Context, src comic.Source, endpoint, identifier string) (*comic.Strip, error) {
	switch identifier {
	case identifierLatest:
		return src.FetchLatest(ctx, endpoint)
	case identifierRandom:
		return src.FetchRandom(ctx, endpoint)
	default:
		return src.FetchByIdentifier(ctx, endpoint, identifier)
	}
}

// identifierParam undoes percent-encoding so "%23123" reaches sources as "#123".
func identifierParam(r *http.Request) string {
	raw := chi.URLParam(r, "identifier")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	level := s.logger.Warn
	if status >= http.StatusInternalServerError {
		level = s.logger.Error
	}
	level(msg,
		zap.String("request_id", RequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err))
	writeError(w, status, err.Error())
}
