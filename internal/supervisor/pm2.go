package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// PM2 supervises processes through the pm2 CLI.
type PM2 struct {
	// Bin overrides the pm2 binary path, mainly for tests.
	Bin string
}

func (p *PM2) bin() string {
	if p.Bin != "" {
		return p.Bin
	}
	return "pm2"
}

// Restart runs `pm2 restart <service>`.
func (p *PM2) Restart(ctx context.Context, service string) error {
	out, err := exec.CommandContext(ctx, p.bin(), "restart", service).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pm2 restart %s: %w: %s", service, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// IsHealthy reports whether pm2 knows the process and lists it online.
func (p *PM2) IsHealthy(ctx context.Context, service string) (bool, error) {
	out, err := exec.CommandContext(ctx, p.bin(), "describe", service).CombinedOutput()
	if err != nil {
		return false, nil // pm2 exits non-zero for unknown processes
	}
	return strings.Contains(string(out), "online"), nil
}
