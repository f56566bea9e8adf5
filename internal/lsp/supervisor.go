package lsp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// SupervisorState represents the state of a supervised session.
type SupervisorState int32

const (
	// SupervisorIdle means the supervisor is not monitoring.
	SupervisorIdle SupervisorState = iota
	// SupervisorRunning means the session is running normally.
	SupervisorRunning
	// SupervisorRestarting means the session crashed and the one automatic
	// restart is in flight.
	SupervisorRestarting
	// SupervisorManualRequired means the automatic restart was already
	// spent; only ManualRestart recovers from here.
	SupervisorManualRequired
	// SupervisorStopped means the supervisor was explicitly stopped.
	SupervisorStopped
)

// String returns a human-readable state name.
func (s SupervisorState) String() string {
	switch s {
	case SupervisorIdle:
		return "idle"
	case SupervisorRunning:
		return "running"
	case SupervisorRestarting:
		return "restarting"
	case SupervisorManualRequired:
		return "manual restart required"
	case SupervisorStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SupervisorEventType identifies the type of supervisor event.
type SupervisorEventType int

const (
	// SupervisorEventCrash indicates the session crashed.
	SupervisorEventCrash SupervisorEventType = iota
	// SupervisorEventRestarting indicates the automatic restart is starting.
	SupervisorEventRestarting
	// SupervisorEventRecovered indicates the session is running again.
	SupervisorEventRecovered
	// SupervisorEventManualRequired indicates the automatic restart budget
	// is spent and the host must intervene.
	SupervisorEventManualRequired
)

// String returns a human-readable event type name.
func (t SupervisorEventType) String() string {
	switch t {
	case SupervisorEventCrash:
		return "crash"
	case SupervisorEventRestarting:
		return "restarting"
	case SupervisorEventRecovered:
		return "recovered"
	case SupervisorEventManualRequired:
		return "manual restart required"
	default:
		return "unknown"
	}
}

// SupervisorEvent is delivered to the host on the Events channel so it can
// surface crash and recovery status in its UI.
type SupervisorEvent struct {
	Type  SupervisorEventType
	Error error
}

// SupervisorConfig configures crash recovery behavior.
type SupervisorConfig struct {
	// RestartDelay is how long to wait after a crash before the automatic
	// restart. Default: 1 second.
	RestartDelay time.Duration

	// HealthyWindow is how long the session must stay running for the
	// automatic restart to re-arm. A crash loop therefore spends its one
	// restart and stops. Default: 30 seconds.
	HealthyWindow time.Duration
}

// DefaultSupervisorConfig returns the default supervisor configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		RestartDelay:  1 * time.Second,
		HealthyWindow: 30 * time.Second,
	}
}

// Supervisor watches a session for crashes and performs at most one
// automatic restart per healthy run. A session that crashes again before
// HealthyWindow elapses is left down until the host calls ManualRestart,
// which keeps a broken server command from flapping forever.
//
// The supervisor registers itself as the session's crash handler; create it
// before starting the session.
type Supervisor struct {
	mu sync.Mutex

	session *Session
	config  SupervisorConfig
	logger  zerolog.Logger

	state     atomic.Int32
	spent     bool
	lastStart time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	eventCh chan SupervisorEvent
}

// NewSupervisor creates a supervisor for the session and hooks its crash
// handler. The session must not have been started yet.
func NewSupervisor(session *Session, config SupervisorConfig, logger zerolog.Logger) *Supervisor {
	if config.RestartDelay == 0 {
		config.RestartDelay = DefaultSupervisorConfig().RestartDelay
	}
	if config.HealthyWindow == 0 {
		config.HealthyWindow = DefaultSupervisorConfig().HealthyWindow
	}
	s := &Supervisor{
		session: session,
		config:  config,
		logger:  logger,
		eventCh: make(chan SupervisorEvent, 16),
	}
	s.state.Store(int32(SupervisorIdle))
	session.onCrash = s.handleCrash
	return s
}

// State returns the current supervisor state.
func (s *Supervisor) State() SupervisorState {
	return SupervisorState(s.state.Load())
}

// Events returns the channel supervisor events are delivered on. Events are
// dropped if the host falls behind; the channel is never closed.
func (s *Supervisor) Events() <-chan SupervisorEvent {
	return s.eventCh
}

// Start starts the underlying session under supervision.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case SupervisorIdle, SupervisorStopped:
	default:
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.session.Start(s.ctx); err != nil {
		return err
	}
	s.spent = false
	s.lastStart = time.Now()
	s.state.Store(int32(SupervisorRunning))
	return nil
}

// Stop shuts the session down and ends supervision. Crashes observed after
// Stop are ignored.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Store(int32(SupervisorStopped))
	if s.cancel != nil {
		s.cancel()
	}
	return s.session.Shutdown(ctx)
}

// ManualRestart restarts the session on the host's explicit request and
// re-arms the automatic restart. Valid whenever the supervisor is not
// stopped.
func (s *Supervisor) ManualRestart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == SupervisorStopped {
		return ErrNotRunning
	}
	if err := s.session.Restart(ctx); err != nil {
		s.state.Store(int32(SupervisorManualRequired))
		return err
	}
	s.spent = false
	s.lastStart = time.Now()
	s.state.Store(int32(SupervisorRunning))
	s.emit(SupervisorEvent{Type: SupervisorEventRecovered})
	return nil
}

// handleCrash is the session crash callback. It decides between the one
// automatic restart and handing control to the host.
func (s *Supervisor) handleCrash(cause error) {
	s.mu.Lock()

	if s.State() == SupervisorStopped {
		s.mu.Unlock()
		return
	}

	// A full healthy run re-arms the automatic restart.
	if s.spent && time.Since(s.lastStart) > s.config.HealthyWindow {
		s.spent = false
	}

	s.emit(SupervisorEvent{Type: SupervisorEventCrash, Error: cause})

	if s.spent {
		s.state.Store(int32(SupervisorManualRequired))
		s.emit(SupervisorEvent{Type: SupervisorEventManualRequired, Error: cause})
		s.mu.Unlock()
		s.logger.Error().Err(cause).Msg("session crashed again, manual restart required")
		return
	}

	s.spent = true
	s.state.Store(int32(SupervisorRestarting))
	s.emit(SupervisorEvent{Type: SupervisorEventRestarting, Error: cause})
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.Warn().Err(cause).Dur("delay", s.config.RestartDelay).Msg("session crashed, restarting")

	go s.restartAfterDelay(ctx)
}

// restartAfterDelay performs the automatic restart off the crash path. The
// crash callback runs on the session's read goroutine, so the restart must
// not block it.
func (s *Supervisor) restartAfterDelay(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.config.RestartDelay):
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != SupervisorRestarting {
		return
	}

	if err := s.session.Start(ctx); err != nil {
		s.state.Store(int32(SupervisorManualRequired))
		s.emit(SupervisorEvent{Type: SupervisorEventManualRequired, Error: err})
		s.logger.Error().Err(err).Msg("automatic restart failed, manual restart required")
		return
	}

	s.lastStart = time.Now()
	s.state.Store(int32(SupervisorRunning))
	s.emit(SupervisorEvent{Type: SupervisorEventRecovered})
	s.logger.Info().Msg("session recovered")
}

func (s *Supervisor) emit(ev SupervisorEvent) {
	select {
	case s.eventCh <- ev:
	default:
	}
}
