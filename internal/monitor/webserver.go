// Package monitor serves the AWB status API, history charts and the
// gain-ratio plot over HTTP.
package monitor

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/awb/internal/awb"
	"github.com/banshee-data/awb/internal/db"
	"github.com/banshee-data/awb/internal/httputil"
	"github.com/banshee-data/awb/internal/monitoring"
	"github.com/banshee-data/awb/internal/pipeline"
)

// StatusSource is the runner view the server reads. pipeline.Runner
// implements it.
type StatusSource interface {
	Snapshot() awb.Snapshot
	History() []awb.Snapshot
	Stats() pipeline.Stats
	Do(fn func(c *awb.Context) error) error
}

// RunReader lists recorded runs. db.RunStore implements it.
type RunReader interface {
	Runs(limit int) ([]db.Run, error)
	Frames(runID string, limit int) ([]db.FrameRow, error)
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Source  StatusSource
	// Runs is optional; without it the run endpoints report 404.
	Runs RunReader
	// Admin routes are mounted under /debug/. *db.DB and the serial
	// bridge both provide them.
	Admin []AdminRouter
	Plot  PlotConfig
}

// AdminRouter attaches debug endpoints to a mux.
type AdminRouter interface {
	AttachAdminRoutes(mux *http.ServeMux) error
}

// WebServer handles the HTTP monitoring interface.
type WebServer struct {
	address string
	source  StatusSource
	runs    RunReader
	admin   []AdminRouter
	plot    PlotConfig
	server  *http.Server
}

// NewWebServer creates a web server with the provided configuration.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	ws := &WebServer{
		address: config.Address,
		source:  config.Source,
		runs:    config.Runs,
		admin:   config.Admin,
		plot:    config.Plot,
	}
	handler, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the server's routes.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Start serves until ctx is cancelled.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/history", ws.handleHistory)
	mux.HandleFunc("/api/lock", ws.handleLock)
	mux.HandleFunc("/api/unlock", ws.handleUnlock)
	mux.HandleFunc("/api/runs", ws.handleRuns)
	mux.HandleFunc("/api/runs/frames", ws.handleRunFrames)
	mux.HandleFunc("/charts/gains", ws.handleGainChart)
	mux.HandleFunc("/charts/weights", ws.handleWeightChart)
	mux.HandleFunc("/plots/ratio.png", ws.handleRatioPlot)
	mux.HandleFunc("/", ws.handleDashboard)
	for _, a := range ws.admin {
		if err := a.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// intParam parses a positive query parameter, falling back to def.
func intParam(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// history returns the last ?limit= snapshots.
func (ws *WebServer) history(r *http.Request) []awb.Snapshot {
	h := ws.source.History()
	n := intParam(r, "limit", len(h), len(h))
	return h[len(h)-n:]
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

type statusResponse struct {
	Snapshot awb.Snapshot   `json:"snapshot"`
	Stats    pipeline.Stats `json:"stats"`
	Tint     string         `json:"tint"`
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	snap := ws.source.Snapshot()
	httputil.OK(w, statusResponse{
		Snapshot: snap,
		Stats:    ws.source.Stats(),
		Tint:     GainTint(snap.Gain.Gains).Hex(),
	})
}

func (ws *WebServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.OK(w, ws.history(r))
}

func (ws *WebServer) control(w http.ResponseWriter, r *http.Request, op func(c *awb.Context) error) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := ws.source.Do(op); err != nil {
		httputil.Errorf(w, http.StatusConflict, "%v", err)
		return
	}
	httputil.OK(w, ws.source.Snapshot().Status)
}

func (ws *WebServer) handleLock(w http.ResponseWriter, r *http.Request) {
	ws.control(w, r, (*awb.Context).TryLock)
}

func (ws *WebServer) handleUnlock(w http.ResponseWriter, r *http.Request) {
	ws.control(w, r, (*awb.Context).Unlock)
}

func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if ws.runs == nil {
		httputil.Errorf(w, http.StatusNotFound, "no run store configured")
		return
	}
	runs, err := ws.runs.Runs(intParam(r, "limit", 20, 500))
	if err != nil {
		httputil.Errorf(w, http.StatusInternalServerError, "%v", err)
		return
	}
	httputil.OK(w, runs)
}

func (ws *WebServer) handleRunFrames(w http.ResponseWriter, r *http.Request) {
	if ws.runs == nil {
		httputil.Errorf(w, http.StatusNotFound, "no run store configured")
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		httputil.Errorf(w, http.StatusBadRequest, "missing 'run_id' parameter")
		return
	}
	frames, err := ws.runs.Frames(runID, intParam(r, "limit", 1000, 100000))
	if err != nil {
		httputil.Errorf(w, http.StatusInternalServerError, "%v", err)
		return
	}
	httputil.OK(w, frames)
}

func (ws *WebServer) handleRatioPlot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := WriteRatioPNG(&buf, ws.history(r), ws.plot); err != nil {
		httputil.Errorf(w, http.StatusInternalServerError, "plot error: %v", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>AWB</title>
<style>body{font-family:sans-serif;margin:1em}iframe{border:0;width:100%;height:520px}
.swatch{display:inline-block;width:1em;height:1em;vertical-align:middle;border:1px solid #888}</style>
</head><body>
<h1>AWB {{.State}}</h1>
<p>frame {{.Frames}} &middot; illuminant {{.IlluminantName}} &middot; settled {{.Settled}}
&middot; tint <span class="swatch" style="background:{{.Tint}}"></span> {{.Tint}}</p>
<iframe src="/charts/gains"></iframe>
<iframe src="/charts/weights"></iframe>
<img src="/plots/ratio.png" alt="ratio trajectory">
</body></html>`))

func (ws *WebServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	snap := ws.source.Snapshot()
	data := struct {
		awb.Status
		Tint template.CSS
	}{snap.Status, template.CSS(GainTint(snap.Gain.Gains).Hex())}

	var buf bytes.Buffer
	if err := dashboardTmpl.Execute(&buf, data); err != nil {
		httputil.Errorf(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
