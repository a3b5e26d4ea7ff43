package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	poaerrors "github.com/poa-ops/poactl/internal/errors"
)

// Probe checks the trading service's control endpoint after a restart. The
// poll is the only silently retried operation in the whole pipeline, and it
// is bounded: exhausting the attempts yields a HealthCheckTimeout.
type Probe struct {
	URL      string
	Attempts int
	Interval time.Duration
	Client   *http.Client
	Logger   *zap.Logger
}

// NewProbe creates a probe with bounded retry defaults.
func NewProbe(url string, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{
		URL:      url,
		Attempts: 10,
		Interval: 2 * time.Second,
		Client:   &http.Client{Timeout: 5 * time.Second},
		Logger:   logger,
	}
}

// Wait polls the endpoint until it answers with a non-5xx status, backing
// off between attempts.
func (p *Probe) Wait(ctx context.Context) error {
	var lastErr error
	interval := p.Interval
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := p.check(ctx); err == nil {
			p.Logger.Info("service is reachable", zap.Int("attempt", attempt))
			return nil
		} else {
			lastErr = err
			p.Logger.Debug("liveness check failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.Attempts),
				zap.Error(err))
		}

		if attempt == p.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return poaerrors.NewHealthCheckTimeout("probe", ctx.Err())
		case <-time.After(interval):
		}
		// modest growth keeps the total wait bounded but gives slow
		// restarts a chance
		interval = interval * 3 / 2
	}
	return poaerrors.NewHealthCheckTimeout("probe",
		fmt.Errorf("service unreachable after %d attempts: %w", p.Attempts, lastErr))
}

func (p *Probe) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("service answered %s", resp.Status)
	}
	return nil
}
