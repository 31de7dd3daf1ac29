package control

import (
	"context"

	corecontrol "github.com/core-tools/hsu-core/pkg/control"
	coredomain "github.com/core-tools/hsu-core/pkg/domain"
	corelogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/logging"
)

// GRPCServer is the hsu-core control server carrying the core ping service and health
type GRPCServer struct {
	server corecontrol.Server
	logger logging.Logger
}

func NewGRPCServer(port int, health *HealthReporter, coreLogger corelogging.Logger, logger logging.Logger) (*GRPCServer, error) {
	server, err := corecontrol.NewServer(corecontrol.ServerOptions{Port: port}, coreLogger)
	if err != nil {
		return nil, errors.NewInternalError("failed to create control server", err).WithContext("port", port)
	}

	coreHandler := coredomain.NewDefaultHandler(coreLogger)
	corecontrol.RegisterGRPCServerHandler(server.GRPC(), coreHandler, coreLogger)
	health.Register(server.GRPC())

	return &GRPCServer{
		server: server,
		logger: logger,
	}, nil
}

func (s *GRPCServer) Start(ctx context.Context) {
	s.logger.Infof("Starting gRPC control server...")
	s.server.Start(ctx)
}

func (s *GRPCServer) Shutdown(ctx context.Context) {
	s.logger.Infof("Stopping gRPC control server...")
	s.server.Shutdown(ctx)
}
