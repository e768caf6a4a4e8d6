package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"inkpanel/internal/canvas"
	"inkpanel/internal/config"
	appLog "inkpanel/internal/log"
	"inkpanel/internal/model"
)

// maxPreviewScale bounds /preview.png?scale=N.
const maxPreviewScale = 8

// Panel is the part of display.Display the server drives.
type Panel interface {
	Canvas() *canvas.Canvas
	Descriptor() model.Descriptor
	Render() error
}

// Server provides the HTTP API for drawing on the canvas and pushing it to
// the panel. All access to the panel goes through mu, so at most one
// request or scheduled render touches the hardware at a time.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux

	mu    sync.Mutex
	panel Panel
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, panel Panel) *Server {
	s := &Server{
		cfg:   cfg,
		mux:   http.NewServeMux(),
		panel: panel,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials leave auth disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="inkpanel", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is done, then shuts down
// gracefully. A render in progress is allowed to finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Full-colour refreshes take around 30 seconds.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Render pushes the canvas to the panel under the server's lock. The
// scheduler calls it as well as POST /api/render.
func (s *Server) Render() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panel.Render()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/panel", s.handlePanel)
	s.mux.HandleFunc("POST /api/draw", s.handleDraw)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
	s.mux.HandleFunc("POST /api/render", s.handleRender)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// panelResponse is the JSON response shape for /api/panel.
type panelResponse struct {
	Family     string `json:"family"`
	Variant    uint8  `json:"variant"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	PCBVariant uint8  `json:"pcb_variant,omitempty"`
	WrittenAt  string `json:"written_at,omitempty"`
}

func (s *Server) handlePanel(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	d := s.panel.Descriptor()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, panelResponse{
		Family:     d.Family().String(),
		Variant:    uint8(d.Variant),
		Width:      d.Width,
		Height:     d.Height,
		PCBVariant: d.PCBVariant,
		WrittenAt:  d.WrittenAt,
	})
}

// drawRequest is the body of POST /api/draw.
type drawRequest struct {
	Shape string `json:"shape"`
	From  [2]int `json:"from"`
	To    [2]int `json:"to"`
	Color string `json:"color"`
}

func (req drawRequest) shape() (canvas.Shape, error) {
	from := image.Pt(req.From[0], req.From[1])
	to := image.Pt(req.To[0], req.To[1])
	switch req.Shape {
	case "line":
		return canvas.Line{From: from, To: to}, nil
	case "rect":
		return canvas.Rect{Min: from, Max: to}, nil
	}
	return nil, fmt.Errorf("unknown shape %q", req.Shape)
}

// handleDraw rasterises one shape onto the canvas. Nothing is sent to the
// panel until POST /api/render.
//
// POST /api/draw {"shape":"line","from":[0,0],"to":[10,10],"color":"red"}
func (s *Server) handleDraw(w http.ResponseWriter, r *http.Request) {
	var req drawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	shape, err := req.shape()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	col, err := model.ParseColor(req.Color)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.panel.Canvas().Draw(shape, col)
	s.mu.Unlock()

	appLog.Debug("api draw", "shape", req.Shape, "from", req.From, "to", req.To, "color", col)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleClear fills the canvas, white unless a colour is given.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Color string `json:"color"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	col := model.White
	if req.Color != "" {
		c, err := model.ParseColor(req.Color)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		col = c
	}

	s.mu.Lock()
	s.panel.Canvas().Fill(col)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// renderResponse is the JSON response shape for /api/render.
type renderResponse struct {
	Status string `json:"status"`
	TookMs int64  `json:"took_ms"`
}

// handleRender blocks for the whole refresh, which is tens of seconds on
// colour panels. The request context is not honoured: an update cannot be
// interrupted once started.
func (s *Server) handleRender(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	if err := s.Render(); err != nil {
		appLog.Error("api render failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, renderResponse{
		Status: "ok",
		TookMs: time.Since(start).Milliseconds(),
	})
}

// handlePreview encodes the current canvas as a PNG, optionally
// enlarged with nearest-neighbour scaling.
//
// GET /preview.png?scale=2
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	scale := parseIntDefault(r.URL.Query().Get("scale"), 1)
	if scale < 1 || scale > maxPreviewScale {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("scale must be 1..%d", maxPreviewScale))
		return
	}

	s.mu.Lock()
	src := s.panel.Canvas()
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, dst); err != nil {
		appLog.Error("failed to encode preview", err)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
