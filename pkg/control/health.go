package control

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-multiserver/pkg/logging"
	"github.com/core-tools/hsu-multiserver/pkg/supervisor"
)

const ProxyService = "proxy"

func WorldService(name string) string {
	return "world/" + name
}

// HealthReporter mirrors supervisor lifecycle events into a grpc health service.
// Service "" is the supervisor itself.
type HealthReporter struct {
	server *health.Server
	logger logging.Logger
}

func NewHealthReporter(logger logging.Logger) *HealthReporter {
	server := health.NewServer()
	server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	server.SetServingStatus(ProxyService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthReporter{
		server: server,
		logger: logger,
	}
}

func (h *HealthReporter) Register(registrar grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(registrar, h.server)
}

func (h *HealthReporter) Server() healthpb.HealthServer {
	return h.server
}

func (h *HealthReporter) StateChanged(state supervisor.State) {
	switch state {
	case supervisor.StateRunning:
		h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	case supervisor.StateTerminated:
		// every service reports NOT_SERVING from here on
		h.server.Shutdown()
	default:
		h.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

func (h *HealthReporter) ProxyChanged(running bool) {
	h.server.SetServingStatus(ProxyService, servingStatus(running))
}

func (h *HealthReporter) WorldChanged(name string, running bool) {
	h.logger.Debugf("World health, name: %s, running: %t", name, running)
	h.server.SetServingStatus(WorldService(name), servingStatus(running))
}

func servingStatus(running bool) healthpb.HealthCheckResponse_ServingStatus {
	if running {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
