package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Systemd supervises host services through systemctl.
type Systemd struct {
	Bin string
}

func (s *Systemd) bin() string {
	if s.Bin != "" {
		return s.Bin
	}
	return "systemctl"
}

// Restart runs `systemctl restart <service>`.
func (s *Systemd) Restart(ctx context.Context, service string) error {
	out, err := exec.CommandContext(ctx, s.bin(), "restart", service).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl restart %s: %w: %s", service, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// IsHealthy reports whether the unit is active.
func (s *Systemd) IsHealthy(ctx context.Context, service string) (bool, error) {
	out, err := exec.CommandContext(ctx, s.bin(), "is-active", service).CombinedOutput()
	if err != nil {
		return false, nil // is-active exits non-zero for inactive units
	}
	return strings.TrimSpace(string(out)) == "active", nil
}
