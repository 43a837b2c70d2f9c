package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiff-io/skiff/internal/ir"
)

// fakeSession records executed commands and answers them from a
// scripted response table.
type fakeSession struct {
	mu       sync.Mutex
	commands []string
	results  map[string]fakeResult // keyed by substring of the command
	closed   bool
}

type fakeResult struct {
	output   string
	exitCode int
	err      error
}

func newFakeSession() *fakeSession {
	return &fakeSession{results: make(map[string]fakeResult)}
}

func (s *fakeSession) Execute(ctx context.Context, command string) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	for key, res := range s.results {
		if strings.Contains(command, key) {
			return res.output, res.exitCode, res.err
		}
	}
	return "", 0, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeDialer struct {
	session *fakeSession
	err     error
	dials   int
}

func (d *fakeDialer) Dial(ctx context.Context, target Target) (Session, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

// readyAfter returns a probe that fails n times before succeeding.
func readyAfter(n int) Probe {
	var mu sync.Mutex
	calls := 0
	return func(ctx context.Context, target Target) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= n {
			return errors.New("connection refused")
		}
		return nil
	}
}

func neverReady(ctx context.Context, target Target) error {
	return errors.New("connection refused")
}

func testRunner(dialer Dialer, probe Probe) *Runner {
	return &Runner{
		Dialer:       dialer,
		Probe:        probe,
		PollInterval: time.Millisecond,
		ReadyTimeout: 50 * time.Millisecond,
	}
}

func testTarget() Target {
	return Target{Host: "203.0.113.10", Port: 22, User: "ubuntu"}
}

func TestRun_ExecutesStepsInOrder(t *testing.T) {
	session := newFakeSession()
	r := testRunner(&fakeDialer{session: session}, readyAfter(0))

	pb := &Playbook{
		Name: "setup",
		Steps: []Step{
			{Name: "first", Command: "echo one"},
			{Name: "second", Command: "echo two"},
			{Name: "third", Command: "echo three"},
		},
	}

	result, err := r.Run(context.Background(), testTarget(), pb)
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, result.Phase)
	assert.Equal(t, 2, result.LastStep)
	assert.Equal(t, []string{"echo one", "echo two", "echo three"}, session.commands)
	assert.True(t, session.closed)
}

func TestRun_TimeoutExecutesNoSteps(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	r := testRunner(dialer, neverReady)

	pb := &Playbook{Name: "setup", Steps: []Step{{Name: "first", Command: "echo one"}}}

	result, err := r.Run(context.Background(), testTarget(), pb)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "203.0.113.10", timeoutErr.Host)

	assert.Equal(t, PhaseFailed, result.Phase)
	assert.Equal(t, -1, result.LastStep)
	assert.Zero(t, dialer.dials, "no connection may be made to a target that never became ready")
	assert.Empty(t, session.commands)
}

func TestRun_WaitsThroughInitialProbeFailures(t *testing.T) {
	session := newFakeSession()
	r := testRunner(&fakeDialer{session: session}, readyAfter(3))

	pb := &Playbook{Name: "setup", Steps: []Step{{Name: "first", Command: "echo one"}}}

	result, err := r.Run(context.Background(), testTarget(), pb)
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, result.Phase)
}

func TestRun_FailingStepStopsTheRun(t *testing.T) {
	session := newFakeSession()
	session.results["falsecmd"] = fakeResult{output: "bad things", exitCode: 2}
	r := testRunner(&fakeDialer{session: session}, readyAfter(0))

	pb := &Playbook{
		Name: "setup",
		Steps: []Step{
			{Name: "ok", Command: "echo one"},
			{Name: "breaks", Command: "falsecmd"},
			{Name: "never", Command: "echo three"},
		},
	}

	result, err := r.Run(context.Background(), testTarget(), pb)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "breaks", stepErr.Step)
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, 2, stepErr.ExitCode)
	assert.Equal(t, "bad things", stepErr.Output)

	assert.Equal(t, PhaseFailed, result.Phase)
	assert.Equal(t, 0, result.LastStep)
	assert.Len(t, session.commands, 2, "steps after the failure must not run")
}

func TestRun_BecomeWrapsCommandAndTracksIdentity(t *testing.T) {
	session := newFakeSession()
	r := testRunner(&fakeDialer{session: session}, readyAfter(0))

	pb := &Playbook{
		Name: "setup",
		Steps: []Step{
			{Name: "plain", Command: "whoami"},
			{Name: "root", Command: "apt-get update", Become: true},
			{Name: "svc", Command: "touch /srv/app/ok", Become: true, BecomeUser: "app"},
		},
	}

	result, err := r.Run(context.Background(), testTarget(), pb)
	require.NoError(t, err)

	require.Len(t, result.Steps, 3)
	assert.Equal(t, "ubuntu", result.Steps[0].EffectiveUser)
	assert.Equal(t, "root", result.Steps[1].EffectiveUser)
	assert.Equal(t, "app", result.Steps[2].EffectiveUser)

	assert.Equal(t, "whoami", session.commands[0])
	assert.Contains(t, session.commands[1], "sudo -n -u 'root'")
	assert.Contains(t, session.commands[1], "apt-get update")
	assert.Contains(t, session.commands[2], "sudo -n -u 'app'")
}

func TestRun_CreatesSkipsCompletedStep(t *testing.T) {
	session := newFakeSession()
	session.results["test -e"] = fakeResult{exitCode: 0}
	r := testRunner(&fakeDialer{session: session}, readyAfter(0))

	pb := &Playbook{
		Name: "setup",
		Steps: []Step{
			{Name: "install", Command: "run-installer", Creates: "/opt/app/bin"},
		},
	}

	result, err := r.Run(context.Background(), testTarget(), pb)
	require.NoError(t, err)

	require.Len(t, result.Steps, 1)
	assert.True(t, result.Steps[0].Skipped)
	require.Len(t, session.commands, 1)
	assert.Contains(t, session.commands[0], "test -e")
}

func TestRun_CreatesMissingRunsStep(t *testing.T) {
	session := newFakeSession()
	session.results["test -e"] = fakeResult{exitCode: 1}
	r := testRunner(&fakeDialer{session: session}, readyAfter(0))

	pb := &Playbook{
		Name: "setup",
		Steps: []Step{
			{Name: "install", Command: "run-installer", Creates: "/opt/app/bin"},
		},
	}

	result, err := r.Run(context.Background(), testTarget(), pb)
	require.NoError(t, err)
	assert.False(t, result.Steps[0].Skipped)
	assert.Equal(t, "run-installer", session.commands[len(session.commands)-1])
}

func TestRun_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	r := &Runner{
		Dialer:       &fakeDialer{session: newFakeSession()},
		Probe:        neverReady,
		PollInterval: time.Millisecond,
		ReadyTimeout: time.Hour,
	}

	pb := &Playbook{Name: "setup", Steps: []Step{{Name: "first", Command: "echo one"}}}
	result, err := r.Run(ctx, testTarget(), pb)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseFailed, result.Phase)
}

func TestRun_EmptyPlaybookIsInvalid(t *testing.T) {
	r := testRunner(&fakeDialer{session: newFakeSession()}, readyAfter(0))
	_, err := r.Run(context.Background(), testTarget(), &Playbook{Name: "empty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no steps")
}

type hostPort struct {
	host string
	port int
}

// startBannerServer listens on a loopback port and greets every
// connection with the given banner line.
func startBannerServer(t *testing.T, banner string) hostPort {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fmt.Fprintf(conn, "%s\r\n", banner)
			conn.Close()
		}
	}()

	return hostPort{host: "127.0.0.1", port: ln.Addr().(*net.TCPAddr).Port}
}

func TestTCPProbe_BannerCheck(t *testing.T) {
	tests := []struct {
		name    string
		banner  string
		want    string
		wantErr bool
	}{
		{name: "matching banner", banner: "SSH-2.0-OpenSSH_9.6", want: "SSH-2.0", wantErr: false},
		{name: "wrong service", banner: "HTTP/1.1 400 Bad Request", want: "SSH-2.0", wantErr: true},
		{name: "no banner required", banner: "anything", want: "", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := startBannerServer(t, tt.banner)
			target := Target{Host: addr.host, Port: addr.port, Banner: tt.want}
			err := TCPProbe(context.Background(), target)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTCPProbe_ConnectionRefused(t *testing.T) {
	// Port from the TEST-NET range that nothing listens on locally.
	err := TCPProbe(context.Background(), Target{Host: "127.0.0.1", Port: 1})
	assert.Error(t, err)
}

func TestTargetFromState(t *testing.T) {
	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{
				Type: "aws:EC2.Instance", Name: "web", Provider: "aws",
				Outputs: map[string]any{"id": "i-0abc", "public_ip": "198.51.100.4"},
			},
			{
				Type: "aws:EC2.Vpc", Name: "main", Provider: "aws",
				Outputs: map[string]any{"id": "vpc-0abc"},
			},
		},
	}

	target, err := TargetFromState(state, "aws:EC2.Instance.web", "admin", 0)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.4", target.Host)
	assert.Equal(t, 22, target.Port, "port must default to 22")
	assert.Equal(t, "admin", target.User)

	target, err = TargetFromState(state, "aws:EC2.Instance.web", "admin", 2222)
	require.NoError(t, err)
	assert.Equal(t, 2222, target.Port)

	_, err = TargetFromState(state, "aws:EC2.Instance.missing", "admin", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in state")

	_, err = TargetFromState(state, "aws:EC2.Vpc.main", "admin", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no public_ip")
}

func TestStepError_Message(t *testing.T) {
	err := &StepError{Step: "install", Index: 2, ExitCode: 127, Output: "not found"}
	assert.Contains(t, err.Error(), "install")
	assert.Contains(t, err.Error(), "127")

	wrapped := &StepError{Step: "install", Index: 2, Err: fmt.Errorf("channel closed")}
	assert.Contains(t, wrapped.Error(), "channel closed")
}
