// Package lifecycle owns the belief about whether the managed container is
// stopped, starting, running or stopping. Only one transition may be in
// flight at a time; overlapping requests are rejected, never queued.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gocron "github.com/go-co-op/gocron/v2"

	"github.com/sheetflow/sheetflow/internal/model"
	"github.com/sheetflow/sheetflow/internal/script"
)

// RunFunc executes a lifecycle script. Swapped out in tests.
type RunFunc func(ctx context.Context, c script.Command) script.Outcome

type Config struct {
	Start          script.Command
	Stop           script.Command
	Probe          Prober
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// Events receives every state transition. Sends never block the
	// supervisor; when the consumer lags, transitions are dropped with a
	// warning.
	Events chan<- model.StateChange
	Run    RunFunc
}

type Supervisor struct {
	mx    sync.Mutex
	state model.ServiceState

	start          script.Command
	stop           script.Command
	probe          Prober
	confirmTimeout time.Duration
	pollInterval   time.Duration
	events         chan<- model.StateChange
	run            RunFunc
}

func NewSupervisor(cfg Config) *Supervisor {
	run := cfg.Run
	if run == nil {
		run = script.Run
	}
	confirm := cfg.ConfirmTimeout
	if confirm == 0 {
		confirm = 30 * time.Second
	}
	return &Supervisor{
		state:          model.StateUnknown,
		start:          cfg.Start,
		stop:           cfg.Stop,
		probe:          cfg.Probe,
		confirmTimeout: confirm,
		pollInterval:   cfg.PollInterval,
		events:         cfg.Events,
		run:            run,
	}
}

// State returns the current belief.
func (s *Supervisor) State() model.ServiceState {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

// Reconcile probes once and settles an Unknown belief into Running or
// Stopped. Called on startup before any user action. The probe can block
// for seconds; a transition beginning meanwhile wins over the stale result.
func (s *Supervisor) Reconcile(ctx context.Context) {
	s.mx.Lock()
	observed := s.state
	s.mx.Unlock()
	if observed.Transitioning() {
		return
	}

	next := model.StateRunning
	if err := s.probe.Probe(ctx); err != nil {
		next = model.StateStopped
	}
	s.commitIfStill(ctx, observed, next, nil)
}

// RequestStart drives stopped/unknown -> starting -> running|stopped. It
// blocks its caller until the script exits and the probe confirms (or gives
// up); the caller is expected to run it off the UI loop. The script is an
// uninterruptible black box: once issued, only its own timeout bounds it.
func (s *Supervisor) RequestStart(ctx context.Context) error {
	if err := s.begin(ctx, model.StateStarting, model.StateStopped, model.StateUnknown); err != nil {
		return err
	}

	out := s.run(ctx, s.start)
	if out.Err != nil {
		err := &model.ScriptError{Op: "start", Code: out.Code, Output: out.Output, Err: out.Err}
		s.setState(ctx, model.StateStopped, err)
		return err
	}
	if out.Code != 0 {
		err := &model.ScriptError{Op: "start", Code: out.Code, Output: out.Output}
		// exit codes lie in both directions: the container may be up even
		// when the script reports failure, so one probe decides the belief
		if s.probe.Probe(ctx) == nil {
			s.setState(ctx, model.StateRunning, err)
			return err
		}
		s.setState(ctx, model.StateStopped, err)
		return err
	}

	// exit 0 does not guarantee readiness, the container may still be
	// initializing; only the probe is authoritative
	if err := s.confirmLiveness(ctx); err != nil {
		err = fmt.Errorf("%w: %w", model.ErrProbeTimeout, err)
		s.setState(ctx, model.StateStopped, err)
		return err
	}

	s.setState(ctx, model.StateRunning, nil)
	return nil
}

// RequestStop drives running -> stopping -> stopped. A non-zero exit
// reverts the belief to running and surfaces the failure; exit 1 is a
// documented allowed failure mode of stop scripts and is logged as such.
func (s *Supervisor) RequestStop(ctx context.Context) error {
	if err := s.begin(ctx, model.StateStopping, model.StateRunning); err != nil {
		return err
	}

	out := s.run(ctx, s.stop)
	switch {
	case out.Err != nil:
		err := &model.ScriptError{Op: "stop", Code: out.Code, Output: out.Output, Err: out.Err}
		s.setState(ctx, model.StateRunning, err)
		return err
	case out.Code == 1:
		slog.WarnContext(ctx, "stop script reported its documented failure mode", "code", 1)
		err := &model.ScriptError{Op: "stop", Code: 1, Output: out.Output}
		s.setState(ctx, model.StateRunning, err)
		return err
	case out.Code != 0:
		err := &model.ScriptError{Op: "stop", Code: out.Code, Output: out.Output}
		s.setState(ctx, model.StateRunning, err)
		return err
	}

	s.setState(ctx, model.StateStopped, nil)
	return nil
}

// HealthCheck probes the service while it is believed running. A failed
// probe degrades the belief to Unknown and surfaces a warning; it never
// auto-stops.
func (s *Supervisor) HealthCheck(ctx context.Context) {
	if s.State() != model.StateRunning {
		return
	}
	if err := s.probe.Probe(ctx); err != nil {
		slog.WarnContext(ctx, "health probe failed while running", "error", err)
		s.commitIfStill(ctx, model.StateRunning, model.StateUnknown, err)
	}
}

// HealthPoll builds a scheduler firing HealthCheck every poll interval.
// The caller owns Start and Shutdown. Returns nil when polling is disabled.
func (s *Supervisor) HealthPoll(ctx context.Context) (gocron.Scheduler, error) {
	if s.pollInterval <= 0 {
		return nil, nil
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing health poll scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.pollInterval),
		gocron.NewTask(func() { s.HealthCheck(ctx) }),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing health poll job: %w", err)
	}
	return sched, nil
}

// begin claims the transition slot or rejects the request. Transitions in
// flight answer ErrBusy; valid-but-wrong states answer a plain error.
func (s *Supervisor) begin(ctx context.Context, to model.ServiceState, from ...model.ServiceState) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.state.Transitioning() {
		return model.ErrBusy
	}
	ok := false
	for _, f := range from {
		if s.state == f {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("cannot enter %s from %s", to, s.state)
	}

	prev := s.state
	s.state = to
	s.emit(ctx, model.StateChange{From: prev, To: to})
	return nil
}

func (s *Supervisor) setState(ctx context.Context, to model.ServiceState, err error) {
	s.mx.Lock()
	prev := s.state
	s.state = to
	s.mx.Unlock()
	s.emit(ctx, model.StateChange{From: prev, To: to, Err: err})
}

// commitIfStill writes a probe-derived belief only while the state is still
// the one observed before the probe ran. Probes take unbounded wall time
// next to the mutex-held transitions, so a stale result must never clobber
// a transition that began meanwhile.
func (s *Supervisor) commitIfStill(ctx context.Context, observed, to model.ServiceState, err error) {
	s.mx.Lock()
	if s.state != observed {
		current := s.state
		s.mx.Unlock()
		slog.DebugContext(ctx, "stale probe result dropped",
			"observed", observed.String(), "current", current.String())
		return
	}
	s.state = to
	s.mx.Unlock()
	s.emit(ctx, model.StateChange{From: observed, To: to, Err: err})
}

func (s *Supervisor) emit(ctx context.Context, ev model.StateChange) {
	slog.InfoContext(ctx, "service state changed",
		"from", ev.From.String(), "to", ev.To.String(), "error", ev.Err)
	if s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
		slog.WarnContext(ctx, "state event dropped, consumer lagging", "to", ev.To.String())
	}
}

func (s *Supervisor) confirmLiveness(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = s.confirmTimeout

	return backoff.Retry(func() error {
		return s.probe.Probe(ctx)
	}, backoff.WithContext(bo, ctx))
}
