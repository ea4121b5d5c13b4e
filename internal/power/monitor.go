package power

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"retrievald/internal/logging"
)

// Event is a host power transition.
type Event int

const (
	// EventSleep is delivered just before the host suspends.
	EventSleep Event = iota + 1
	// EventWake is delivered after the host resumes.
	EventWake
)

func (e Event) String() string {
	switch e {
	case EventSleep:
		return "sleep"
	case EventWake:
		return "wake"
	default:
		return "unknown"
	}
}

// Callback reacts to a power transition. Errors are logged and not retried.
type Callback func(ctx context.Context) error

// Monitor watches host sleep/wake transitions.
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
}

// Source subscribes to a host power-event feed. The returned channel is
// closed when the subscription ends.
type Source interface {
	Open() (<-chan Event, error)
	Close() error
}

// ErrUnavailable reports that the host has no power-event source.
var ErrUnavailable = errors.New("power events unavailable")

type monitor struct {
	logger  *slog.Logger
	source  Source
	onSleep Callback
	onWake  Callback

	mu      sync.Mutex
	quit    chan struct{}
	running bool
}

// New returns a Monitor backed by the platform's power-event source.
func New(logger *slog.Logger, onSleep, onWake Callback) Monitor {
	return NewWithSource(logger, platformSource(), onSleep, onWake)
}

// NewWithSource returns a Monitor reading events from source. A nil source
// behaves like a host without power events.
func NewWithSource(logger *slog.Logger, source Source, onSleep, onWake Callback) Monitor {
	return &monitor{
		logger:  logging.NewComponentLogger(logger, "power-monitor"),
		source:  source,
		onSleep: onSleep,
		onWake:  onWake,
	}
}

// Start subscribes to power events. A missing source is not an error: the
// monitor stays idle and no callback fires.
func (m *monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	if m.source == nil {
		m.logger.Info("power events unavailable on this platform; sleep/wake handling disabled",
			logging.String(logging.FieldEventType, "power_monitor_unavailable"),
		)
		return nil
	}

	events, err := m.source.Open()
	if err != nil {
		logging.WarnWithContext(m.logger, "failed to subscribe to power events; sleep/wake handling disabled", "power_subscribe_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the system bus and systemd-logind are reachable"),
			logging.String(logging.FieldImpact, "indexing will not pause while the host sleeps"),
		)
		return nil
	}

	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.loop(context.WithoutCancel(ctx), quit, events)

	m.logger.Info("power monitor started",
		logging.String(logging.FieldEventType, "power_monitor_started"),
	)
	return nil
}

// Stop unsubscribes. It is safe to call when not started.
func (m *monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if err := m.source.Close(); err != nil {
		m.logger.Debug("close power event source", logging.Error(err))
	}
	m.running = false

	m.logger.Info("power monitor stopped",
		logging.String(logging.FieldEventType, "power_monitor_stopped"),
	)
}

// Running reports whether the monitor holds a live subscription.
func (m *monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *monitor) loop(ctx context.Context, quit <-chan struct{}, events <-chan Event) {
	for {
		select {
		case <-quit:
			return
		case event, ok := <-events:
			if !ok {
				m.logger.Debug("power event source closed")
				return
			}
			m.dispatch(ctx, event)
		}
	}
}

// dispatch runs the matching callback on its own goroutine so event delivery
// never waits on a slow pause or resume.
func (m *monitor) dispatch(ctx context.Context, event Event) {
	var cb Callback
	switch event {
	case EventSleep:
		cb = m.onSleep
	case EventWake:
		cb = m.onWake
	}
	m.logger.Info("power transition",
		logging.String(logging.FieldEventType, "power_"+event.String()),
	)
	if cb == nil {
		return
	}
	go func() {
		if err := cb(ctx); err != nil {
			logging.WarnWithContext(m.logger, "power transition callback failed", "power_callback_failed",
				logging.String("transition", event.String()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "retrieval service may not reflect host power state"),
			)
		}
	}()
}
