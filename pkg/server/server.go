// Package server exposes a proofreading Session over HTTP.
//
//	POST /api/load          load an image and optional mask (JSON paths or multipart upload)
//	GET  /api/info          shape, paths, alignment and intensity summary
//	GET  /api/slice/:z      volume slice z as PNG
//	GET  /api/mask/:z       mask slice z as 0/255 PNG
//	POST /api/mask/update   replace one slice or a batch of slices
//	POST /api/save          write the mask to disk
//	GET  /api/download      download the last saved mask
//	POST /api/dims          raw dimensions of an uploaded file
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"proofread/internal/models"
	"proofread/pkg/editing"
	"proofread/pkg/logging"
	"proofread/pkg/session"
	"proofread/pkg/volumeio"
)

// maxUploadMemory bounds the multipart form kept in memory; larger uploads spill
// to temporary files.
const maxUploadMemory = 64 << 20

// Server routes HTTP requests to a Session.
type Server struct {
	sess *session.Session
	mux  *web.Mux
}

// New returns a Server for sess.
func New(sess *session.Session) *Server {
	s := &Server{sess: sess, mux: web.New()}
	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(requestLogger)

	s.mux.Post("/api/load", s.handleLoad)
	s.mux.Get("/api/info", s.handleInfo)
	s.mux.Get("/api/slice/:z", s.handleSlice)
	s.mux.Get("/api/mask/:z", s.handleMaskSlice)
	s.mux.Post("/api/mask/update", s.handleMaskUpdate)
	s.mux.Post("/api/save", s.handleSave)
	s.mux.Get("/api/download", s.handleDownload)
	s.mux.Post("/api/dims", s.handleDims)
	return s
}

// Handler returns the routes wrapped with CORS handling for allowedOrigins.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.mux)
}

// ListenAndServe serves the API on addr until the listener fails.
func (s *Server) ListenAndServe(addr string, allowedOrigins []string) error {
	logging.Infof("Proofreading server listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler(allowedOrigins))
}

func requestLogger(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		logging.Debugf("[%s] %s %s", middleware.GetReqID(*c), r.Method, r.URL.Path)
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

type loadRequest struct {
	ImagePath string `json:"image_path"`
	MaskPath  string `json:"mask_path"`
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var err error
	if isMultipart(r) {
		err = s.loadUpload(r)
	} else {
		var req loadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, r, "invalid load request: %v", err)
			return
		}
		if req.ImagePath == "" {
			BadRequest(w, r, "image_path is required")
			return
		}
		err = s.sess.Load(req.ImagePath, req.MaskPath, models.LoadFromPath)
	}
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"info":    s.sess.Snapshot(),
	})
}

func (s *Server) loadUpload(r *http.Request) error {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return fmt.Errorf("invalid upload: %w", err)
	}
	imageName, imageData, err := formFile(r, "image_file")
	if err != nil {
		return err
	}
	if imageData == nil {
		return errors.New("image_file is required")
	}
	maskName, maskData, err := formFile(r, "mask_file")
	if err != nil {
		return err
	}
	return s.sess.LoadUpload(imageName, imageData, maskName, maskData)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := s.sess.Snapshot()
	if !info.Loaded {
		NotFound(w, r, "%v", session.ErrNoVolume)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSlice(c web.C, w http.ResponseWriter, r *http.Request) {
	s.writeSlice(c, w, r, s.sess.Slice)
}

func (s *Server) handleMaskSlice(c web.C, w http.ResponseWriter, r *http.Request) {
	s.writeSlice(c, w, r, s.sess.MaskSlice)
}

func (s *Server) writeSlice(c web.C, w http.ResponseWriter, r *http.Request, render func(int) ([]byte, error)) {
	z, err := strconv.Atoi(c.URLParams["z"])
	if err != nil {
		BadRequest(w, r, "bad slice index %q", c.URLParams["z"])
		return
	}
	data, err := render(z)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (s *Server) handleMaskUpdate(w http.ResponseWriter, r *http.Request) {
	var payload EditPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		BadRequest(w, r, "invalid edit request: %v", err)
		return
	}
	req, err := payload.Request()
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	if err := s.sess.Edit(req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"updated": len(req.Edits()),
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	path, err := s.sess.Save()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"path":    path,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path := s.sess.SavedPath()
	if path == "" {
		NotFound(w, r, "no saved mask, save first")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func (s *Server) handleDims(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		BadRequest(w, r, "invalid upload: %v", err)
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		BadRequest(w, r, "file is required")
		return
	}
	defer f.Close()
	shape, err := volumeio.Probe(hdr.Filename, f)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"shape":   shape,
	})
}

// writeError maps session and volumeio errors to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNoVolume):
		NotFound(w, r, "%v", err)
	case errors.Is(err, editing.ErrBadBitmap),
		errors.Is(err, volumeio.ErrNotFound),
		errors.Is(err, volumeio.ErrUnsupportedFormat),
		errors.Is(err, volumeio.ErrDecode):
		BadRequest(w, r, "%v", err)
	default:
		errorResponse(w, r, http.StatusInternalServerError, "%v", err)
	}
}

// BadRequest writes a 400 JSON error and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	errorResponse(w, r, http.StatusBadRequest, format, args...)
}

// NotFound writes a 404 JSON error and logs it.
func NotFound(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	errorResponse(w, r, http.StatusNotFound, format, args...)
}

func errorResponse(w http.ResponseWriter, r *http.Request, status int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if status >= http.StatusInternalServerError {
		logging.Errorf("%s %s: %s", r.Method, r.URL.Path, msg)
	} else {
		logging.Warningf("%s %s: %s", r.Method, r.URL.Path, msg)
	}
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorf("Unable to encode JSON response: %v", err)
	}
}
