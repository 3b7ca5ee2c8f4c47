package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/awb/internal/awb"
)

func TestServingStatus(t *testing.T) {
	tests := []struct {
		state awb.State
		want  healthpb.HealthCheckResponse_ServingStatus
	}{
		{awb.StateRunning, healthpb.HealthCheckResponse_SERVING},
		{awb.StateLocked, healthpb.HealthCheckResponse_SERVING},
		{awb.StateStopped, healthpb.HealthCheckResponse_NOT_SERVING},
		{"", healthpb.HealthCheckResponse_UNKNOWN},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			var s awb.Snapshot
			s.State = tt.state
			assert.Equal(t, tt.want, ServingStatus(s))
		})
	}
}

func TestHealthServer(t *testing.T) {
	src := &fakeSource{hist: history(1)}
	hs := NewHealthServer(HealthConfig{ListenAddr: "127.0.0.1:0", Source: src, Interval: time.Hour})
	require.NoError(t, hs.Start())
	defer hs.Stop()
	require.Error(t, hs.Start())

	conn, err := grpc.NewClient(hs.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	src.hist[0].State = awb.StateStopped
	hs.Update()
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
