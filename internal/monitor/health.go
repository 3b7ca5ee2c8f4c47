package monitor

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/awb/internal/awb"
	"github.com/banshee-data/awb/internal/monitoring"
)

// HealthService is the gRPC health service name reporting the pipeline.
const HealthService = "awb.Pipeline"

// HealthConfig contains configuration for a HealthServer.
type HealthConfig struct {
	ListenAddr string
	Source     StatusSource
	// Interval is how often the status is refreshed from Source.
	Interval time.Duration
}

// HealthServer publishes the pipeline state over the standard gRPC health
// protocol.
type HealthServer struct {
	cfg      HealthConfig
	health   *health.Server
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewHealthServer creates a health server. Start binds it.
func NewHealthServer(cfg HealthConfig) *HealthServer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &HealthServer{cfg: cfg, health: health.NewServer(), stopCh: make(chan struct{})}
}

// ServingStatus maps a snapshot to a health status. A context that is
// running or locked serves.
func ServingStatus(s awb.Snapshot) healthpb.HealthCheckResponse_ServingStatus {
	switch s.State {
	case awb.StateRunning, awb.StateLocked:
		return healthpb.HealthCheckResponse_SERVING
	case "":
		return healthpb.HealthCheckResponse_UNKNOWN
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

// Update refreshes the reported status from the source.
func (h *HealthServer) Update() {
	st := healthpb.HealthCheckResponse_UNKNOWN
	if h.cfg.Source != nil {
		st = ServingStatus(h.cfg.Source.Snapshot())
	}
	h.health.SetServingStatus(HealthService, st)
	h.health.SetServingStatus("", st)
}

// Start binds the listener and serves in the background.
func (h *HealthServer) Start() error {
	if h.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", h.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	h.listener = lis
	h.server = grpc.NewServer()
	healthpb.RegisterHealthServer(h.server, h.health)
	h.Update()
	h.running.Store(true)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		monitoring.Logf("gRPC health server listening on %s", lis.Addr())
		if err := h.server.Serve(lis); err != nil && h.running.Load() {
			monitoring.Logf("gRPC health server error: %v", err)
		}
	}()
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.Update()
			}
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (h *HealthServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops the server.
func (h *HealthServer) Stop() {
	if !h.running.Load() {
		return
	}
	h.running.Store(false)
	close(h.stopCh)
	h.health.Shutdown()
	h.server.GracefulStop()
	h.wg.Wait()
	monitoring.Logf("gRPC health server stopped")
}
