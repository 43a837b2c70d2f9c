package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/skiff-io/skiff/internal/logging"
)

// StepResult records the outcome of one executed step, including the
// identity the command actually ran as.
type StepResult struct {
	Name          string
	Command       string
	EffectiveUser string
	Output        string
	ExitCode      int
	Skipped       bool
	Duration      time.Duration
}

// Result is the overall outcome of a run. LastStep is the index of
// the last step that completed successfully, or -1 if none did.
type Result struct {
	Phase    Phase
	Target   Target
	Steps    []StepResult
	LastStep int
	Elapsed  time.Duration
}

// Runner executes a playbook against a single target, gating
// execution on the target's readiness.
type Runner struct {
	Dialer       Dialer
	Probe        Probe
	PollInterval time.Duration
	ReadyTimeout time.Duration
}

// New returns a Runner with the default TCP probe and poll settings.
func New(dialer Dialer) *Runner {
	return &Runner{
		Dialer:       dialer,
		Probe:        TCPProbe,
		PollInterval: DefaultPollInterval,
		ReadyTimeout: DefaultReadyTimeout,
	}
}

// Run waits for the target to become ready, then executes the
// playbook's steps in order. The first failing step aborts the run;
// the returned Result is populated even when err is non-nil.
func (r *Runner) Run(ctx context.Context, target Target, playbook *Playbook) (*Result, error) {
	start := time.Now()
	result := &Result{Phase: PhaseWaiting, Target: target, LastStep: -1}

	if err := playbook.Validate(); err != nil {
		result.Phase = PhaseFailed
		return result, err
	}

	logging.Info("waiting for target", "addr", target.Addr(), "timeout", r.ReadyTimeout)
	if err := r.waitReady(ctx, target); err != nil {
		result.Phase = PhaseFailed
		result.Elapsed = time.Since(start)
		return result, err
	}
	result.Phase = PhaseReady

	session, err := r.Dialer.Dial(ctx, target)
	if err != nil {
		result.Phase = PhaseFailed
		result.Elapsed = time.Since(start)
		return result, fmt.Errorf("connecting to %s: %w", target.Addr(), err)
	}
	defer session.Close()

	result.Phase = PhaseRunning
	for i, step := range playbook.Steps {
		sr, err := r.runStep(ctx, session, target, i, step)
		result.Steps = append(result.Steps, sr)
		if err != nil {
			result.Phase = PhaseFailed
			result.Elapsed = time.Since(start)
			return result, err
		}
		result.LastStep = i
	}

	result.Phase = PhaseDone
	result.Elapsed = time.Since(start)
	logging.Info("run complete", "addr", target.Addr(), "steps", len(result.Steps), "elapsed", result.Elapsed)
	return result, nil
}

func (r *Runner) runStep(ctx context.Context, session Session, target Target, index int, step Step) (StepResult, error) {
	name := step.Name
	if name == "" {
		name = step.Command
	}
	sr := StepResult{Name: name, Command: step.Command, EffectiveUser: effectiveUser(target, step)}

	if step.Creates != "" {
		if _, code, err := session.Execute(ctx, fmt.Sprintf("test -e %s", shellQuote(step.Creates))); err == nil && code == 0 {
			logging.Info("skipping step", "step", name, "creates", step.Creates)
			sr.Skipped = true
			return sr, nil
		}
	}

	command := step.Command
	if step.Become {
		command = becomeCommand(step)
	}

	logging.Info("running step", "index", index, "step", name, "user", sr.EffectiveUser)
	started := time.Now()
	output, code, err := session.Execute(ctx, command)
	sr.Output = output
	sr.ExitCode = code
	sr.Duration = time.Since(started)

	if err != nil {
		return sr, &StepError{Step: name, Index: index, Output: output, Err: err}
	}
	if code != 0 {
		return sr, &StepError{Step: name, Index: index, ExitCode: code, Output: output}
	}
	return sr, nil
}

// becomeCommand wraps a step's command for privilege escalation. The
// target user defaults to root when become_user is unset.
func becomeCommand(step Step) string {
	user := step.BecomeUser
	if user == "" {
		user = "root"
	}
	return fmt.Sprintf("sudo -n -u %s sh -c %s", shellQuote(user), shellQuote(step.Command))
}

// effectiveUser reports the identity a step's command runs as.
func effectiveUser(target Target, step Step) string {
	if step.Become {
		if step.BecomeUser != "" {
			return step.BecomeUser
		}
		return "root"
	}
	return target.User
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
