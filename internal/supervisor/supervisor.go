package supervisor

import (
	"context"

	"go.uber.org/zap"

	poaerrors "github.com/poa-ops/poactl/internal/errors"
)

// Supervisor is the opaque process-supervision capability the orchestrator
// delegates to. Whether it is PM2, systemd or something else is its own
// business.
type Supervisor interface {
	Restart(ctx context.Context, service string) error
	IsHealthy(ctx context.Context, service string) (bool, error)
}

// Target pairs a supervisor with the service name it manages.
type Target struct {
	Supervisor Supervisor
	Service    string
}

// Stack restarts a fixed ordered list of targets. Order matters: the
// database comes back before the trading process that connects to it.
type Stack struct {
	targets []Target
	logger  *zap.Logger
}

// NewStack creates a restart stack over the given targets.
func NewStack(logger *zap.Logger, targets ...Target) *Stack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stack{targets: targets, logger: logger}
}

// RestartAll restarts every target in order, stopping at the first failure.
func (s *Stack) RestartAll(ctx context.Context) error {
	for _, target := range s.targets {
		s.logger.Info("requesting restart", zap.String("service", target.Service))
		if err := target.Supervisor.Restart(ctx, target.Service); err != nil {
			return poaerrors.NewRestartError(target.Service, err)
		}
	}
	return nil
}

// Health reports per-service health as seen by each supervisor.
func (s *Stack) Health(ctx context.Context) map[string]bool {
	health := make(map[string]bool, len(s.targets))
	for _, target := range s.targets {
		healthy, err := target.Supervisor.IsHealthy(ctx, target.Service)
		health[target.Service] = err == nil && healthy
	}
	return health
}
