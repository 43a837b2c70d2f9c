package runner

import (
	"context"
	"fmt"

	"github.com/skiff-io/skiff/internal/ir"
)

// Target identifies the machine a playbook runs against. Banner, when
// set, must appear in the service identification string the target
// presents before the run is considered ready.
type Target struct {
	Host           string
	Port           int
	User           string
	Banner         string
	PrivateKeyPath string
}

func (t Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Session is an open command channel to a target. Execute runs one
// command and returns its combined output and exit code; a non-nil
// error means the command could not be executed at all.
type Session interface {
	Execute(ctx context.Context, command string) (output string, exitCode int, err error)
	Close() error
}

// Dialer opens sessions against targets.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Session, error)
}

// TargetFromState builds a Target from the recorded state of a
// compute instance. This is the handoff between converge and run: the
// resource must expose a public_ip output.
func TargetFromState(state *ir.State, addr string, user string, port int) (Target, error) {
	rs := state.Lookup(addr)
	if rs == nil {
		return Target{}, fmt.Errorf("resource %s not found in state", addr)
	}
	ip, _ := rs.Outputs["public_ip"].(string)
	if ip == "" {
		return Target{}, fmt.Errorf("resource %s has no public_ip recorded", addr)
	}
	if port == 0 {
		port = 22
	}
	return Target{Host: ip, Port: port, User: user}, nil
}
