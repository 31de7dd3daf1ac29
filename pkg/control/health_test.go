package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/core-tools/hsu-multiserver/pkg/logging"
	"github.com/core-tools/hsu-multiserver/pkg/supervisor"
)

func check(t *testing.T, reporter *HealthReporter, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := reporter.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestHealthReporter_Lifecycle(t *testing.T) {
	reporter := NewHealthReporter(logging.NewNopLogger())

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, reporter, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, reporter, ProxyService))

	reporter.StateChanged(supervisor.StateStarting)
	reporter.ProxyChanged(true)
	reporter.WorldChanged("alpha", true)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, reporter, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, reporter, ProxyService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, reporter, WorldService("alpha")))

	reporter.StateChanged(supervisor.StateRunning)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, reporter, ""))

	reporter.WorldChanged("alpha", false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, reporter, WorldService("alpha")))

	reporter.StateChanged(supervisor.StateShuttingDown)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, reporter, ""))
}

func TestHealthReporter_TerminatedShutsDownAll(t *testing.T) {
	reporter := NewHealthReporter(logging.NewNopLogger())
	reporter.StateChanged(supervisor.StateRunning)
	reporter.ProxyChanged(true)
	reporter.WorldChanged("beta", true)

	reporter.StateChanged(supervisor.StateTerminated)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, reporter, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, reporter, ProxyService))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, reporter, WorldService("beta")))
}

func TestHealthReporter_UnknownService(t *testing.T) {
	reporter := NewHealthReporter(logging.NewNopLogger())

	_, err := reporter.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: WorldService("missing")})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestHealthReporter_ImplementsObserver(t *testing.T) {
	var _ supervisor.Observer = NewHealthReporter(logging.NewNopLogger())
}
