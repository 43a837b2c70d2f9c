package runner

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/skiff-io/skiff/internal/logging"
)

const (
	// DefaultPollInterval is the fixed delay between readiness probes.
	DefaultPollInterval = 5 * time.Second

	// DefaultReadyTimeout bounds the whole WAITING phase.
	DefaultReadyTimeout = 5 * time.Minute

	probeDialTimeout = 10 * time.Second
)

// Probe checks once whether a target is ready to accept a session.
type Probe func(ctx context.Context, target Target) error

// TCPProbe dials the target and, when the target declares a banner,
// reads the service identification line and requires the banner to
// appear in it. A reachable port running the wrong service is not
// ready.
func TCPProbe(ctx context.Context, target Target) error {
	dialer := net.Dialer{Timeout: probeDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return err
	}
	defer conn.Close()

	if target.Banner == "" {
		return nil
	}
	if err := conn.SetReadDeadline(time.Now().Add(probeDialTimeout)); err != nil {
		return err
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading banner: %w", err)
	}
	if !strings.Contains(line, target.Banner) {
		return fmt.Errorf("unexpected banner %q, want %q", strings.TrimSpace(line), target.Banner)
	}
	return nil
}

// waitReady polls the target at a fixed interval until the probe
// succeeds, the timeout elapses, or ctx is cancelled. It returns a
// TimeoutError on expiry; cancellation surfaces as ctx.Err.
func (r *Runner) waitReady(ctx context.Context, target Target) error {
	start := time.Now()
	deadline := start.Add(r.ReadyTimeout)

	var lastErr error
	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.Probe(ctx, target); err == nil {
			logging.Debug("target ready", "addr", target.Addr(), "elapsed", time.Since(start))
			return nil
		} else {
			lastErr = err
			logging.Debug("target not ready", "addr", target.Addr(), "error", err)
		}

		if time.Now().After(deadline) {
			return &TimeoutError{Host: target.Host, Port: target.Port, Elapsed: time.Since(start), LastErr: lastErr}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
