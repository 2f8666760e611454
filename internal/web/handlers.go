// Package web serves the search and export operations over HTTP for
// browsing an asset tree from a browser.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/vincent-petithory/dataurl"
	"go.uber.org/zap"

	"github.com/Faultbox/dmiscope/internal/assets"
	"github.com/Faultbox/dmiscope/internal/index"
	"github.com/Faultbox/dmiscope/internal/logger"
	"github.com/Faultbox/dmiscope/internal/render"
	"github.com/Faultbox/dmiscope/pkg/dmi"
)

// generation is part of every ETag. Bump it when rendering output changes.
const generation = 1

// Handler serves the preview endpoints of a Manager.
type Handler struct {
	m *assets.Manager

	// InlineLimit caps how many search results get their thumbnail
	// embedded as a data URL when inline=1 is requested.
	InlineLimit int
}

// NewHandler creates a handler for m.
func NewHandler(m *assets.Manager) *Handler {
	return &Handler{m: m, InlineLimit: 50}
}

// RegisterRoutes adds the preview routes to r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/search", h.searchHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/file", h.fileHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", h.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/thumb", h.thumbHandler).Methods(http.MethodGet)
	r.HandleFunc("/export.gif", h.exportHandler).Methods(http.MethodGet)
	r.HandleFunc("/frame.png", h.frameHandler).Methods(http.MethodGet)
	r.HandleFunc("/strip.png", h.stripHandler).Methods(http.MethodGet)
}

type searchResult struct {
	Path          string `json:"path"`
	State         string `json:"state,omitempty"`
	StateIndex    int    `json:"state_index"`
	Exact         bool   `json:"exact"`
	Thumbnail     string `json:"thumbnail,omitempty"`
	ThumbnailData string `json:"thumbnail_data,omitempty"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []searchResult `json:"results"`
	Indexed int            `json:"indexed"`
	Failed  int            `json:"failed"`
}

func (h *Handler) searchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	inline := r.URL.Query().Get("inline") == "1"

	resp := searchResponse{Query: q, Results: []searchResult{}}
	stats := h.m.Stats().Index
	resp.Indexed, resp.Failed = stats.Files, stats.Failures

	for i, m := range h.m.Search(q) {
		res := searchResult{
			Path:       m.Path,
			State:      m.State,
			StateIndex: m.StateIndex,
			Exact:      m.Exact,
		}
		if m.Thumbnail != nil {
			res.Thumbnail = m.Thumbnail.String()
			if inline && i < h.InlineLimit {
				res.ThumbnailData = h.inlineThumbnail(r, *m.Thumbnail)
			}
		}
		resp.Results = append(resp.Results, res)
	}
	writeJSON(w, resp)
}

// inlineThumbnail renders ref as a data URL. Failures leave the field empty;
// the client can still fetch /thumb.
func (h *Handler) inlineThumbnail(r *http.Request, ref index.ThumbnailRef) string {
	data, err := h.m.Thumbnail(r.Context(), ref)
	if err != nil {
		logger.Debug("inline thumbnail failed", zap.String("ref", ref.String()), zap.Error(err))
		return ""
	}
	text, err := dataurl.New(data, "image/png").MarshalText()
	if err != nil {
		return ""
	}
	return string(text)
}

type stateInfo struct {
	Name     string    `json:"name"`
	Dirs     int       `json:"dirs"`
	Frames   int       `json:"frames"`
	Delays   []float64 `json:"delays"`
	Loop     int       `json:"loop"`
	Rewind   bool      `json:"rewind"`
	Movement bool      `json:"movement"`
}

type fileInfo struct {
	Path        string      `json:"path"`
	Fingerprint string      `json:"fingerprint"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	CellWidth   int         `json:"cell_width"`
	CellHeight  int         `json:"cell_height"`
	States      []stateInfo `json:"states"`
	Warnings    []string    `json:"warnings,omitempty"`
}

func (h *Handler) fileHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	e, err := h.m.Entry(path)
	if err != nil {
		writeError(w, err)
		return
	}

	f := e.File
	info := fileInfo{
		Path:        e.Path,
		Fingerprint: e.Fingerprint(),
		Width:       f.Width,
		Height:      f.Height,
		CellWidth:   f.CellWidth,
		CellHeight:  f.CellHeight,
		States:      make([]stateInfo, 0, len(f.States)),
		Warnings:    f.Warnings,
	}
	for _, s := range f.States {
		info.States = append(info.States, stateInfo{
			Name:     s.Name,
			Dirs:     s.Dirs,
			Frames:   s.Frames,
			Delays:   s.Delays,
			Loop:     s.Loop,
			Rewind:   s.Rewind,
			Movement: s.Movement,
		})
	}
	writeJSON(w, info)
}

func (h *Handler) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.m.Stats())
}

func (h *Handler) thumbHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := index.ParseThumbnailRef(r.URL.Query().Get("ref"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	etag := fmt.Sprintf(`W/"thumb:%d:%s:%d"`, generation, ref.Fingerprint, ref.State)
	if notModified(w, r, etag) {
		return
	}
	data, err := h.m.Thumbnail(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeImage(w, "image/png", etag, data)
}

// stateParams are the query parameters shared by the per-state endpoints.
type stateParams struct {
	path  string
	state string
	dir   dmi.Direction
}

func parseStateParams(r *http.Request) (stateParams, error) {
	q := r.URL.Query()
	p := stateParams{path: q.Get("path"), state: q.Get("state")}
	if p.path == "" {
		return p, errors.New("path is required")
	}
	if d := q.Get("dir"); d != "" {
		dir, err := dmi.ParseDirection(d)
		if err != nil {
			return p, err
		}
		p.dir = dir
	}
	return p, nil
}

func (h *Handler) exportHandler(w http.ResponseWriter, r *http.Request) {
	p, err := parseStateParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := h.m.GIFOptions()
	if s := r.URL.Query().Get("scale"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 16 {
			http.Error(w, "scale must be between 1 and 16", http.StatusBadRequest)
			return
		}
		opts.Scale = n
	}
	if f := r.URL.Query().Get("filter"); f != "" {
		filter, err := render.ParseFilter(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Filter = filter
	}

	e, err := h.m.Entry(p.path)
	if err != nil {
		writeError(w, err)
		return
	}
	etag := fmt.Sprintf(`W/"gif:%d:%s:%s:%d:%d:%s"`, generation, e.Fingerprint(), url.QueryEscape(p.state), p.dir, opts.Scale, opts.Filter)
	if notModified(w, r, etag) {
		return
	}

	data, err := h.m.ExportWith(r.Context(), p.path, p.state, p.dir, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeImage(w, "image/gif", etag, data)
}

func (h *Handler) frameHandler(w http.ResponseWriter, r *http.Request) {
	p, err := parseStateParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	frame := 0
	if s := r.URL.Query().Get("frame"); s != "" {
		if frame, err = strconv.Atoi(s); err != nil {
			http.Error(w, "frame not a number", http.StatusBadRequest)
			return
		}
	}

	e, err := h.m.Entry(p.path)
	if err != nil {
		writeError(w, err)
		return
	}
	etag := fmt.Sprintf(`W/"frame:%d:%s:%s:%d:%d"`, generation, e.Fingerprint(), url.QueryEscape(p.state), p.dir, frame)
	if notModified(w, r, etag) {
		return
	}

	data, err := h.m.ExportFrame(r.Context(), p.path, p.state, p.dir, frame)
	if err != nil {
		writeError(w, err)
		return
	}
	writeImage(w, "image/png", etag, data)
}

func (h *Handler) stripHandler(w http.ResponseWriter, r *http.Request) {
	p, err := parseStateParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	e, err := h.m.Entry(p.path)
	if err != nil {
		writeError(w, err)
		return
	}
	etag := fmt.Sprintf(`W/"strip:%d:%s:%s:%d"`, generation, e.Fingerprint(), url.QueryEscape(p.state), p.dir)
	if notModified(w, r, etag) {
		return
	}

	data, err := h.m.ExportStrip(r.Context(), p.path, p.state, p.dir)
	if err != nil {
		writeError(w, err)
		return
	}
	writeImage(w, "image/png", etag, data)
}

func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	if r.Header.Get("If-None-Match") != etag {
		return false
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusNotModified)
	return true
}

func writeImage(w http.ResponseWriter, mime, etag string, data []byte) {
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Warn("encoding response", zap.Error(err))
	}
}

// writeError maps core errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, assets.ErrNoState), errors.Is(err, fs.ErrNotExist), errors.Is(err, index.ErrNotIndexed):
		status = http.StatusNotFound
	case errors.Is(err, dmi.ErrRange):
		status = http.StatusBadRequest
	case errors.Is(err, assets.ErrStale):
		status = http.StatusGone
	case errors.Is(err, dmi.ErrFormat), errors.Is(err, dmi.ErrMetadata),
		errors.Is(err, dmi.ErrGeometry), errors.Is(err, dmi.ErrNoPixels):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}
