//go:build linux

package power

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	logindPath      = dbus.ObjectPath("/org/freedesktop/login1")
	logindInterface = "org.freedesktop.login1.Manager"
	prepareForSleep = "PrepareForSleep"
)

// logindSource turns systemd-logind PrepareForSleep(bool) signals into
// events: true precedes suspend, false follows resume. No delay inhibitor is
// taken, so the host may suspend before the sleep callback returns.
type logindSource struct {
	connect func() (*dbus.Conn, error)

	mu   sync.Mutex
	conn *dbus.Conn
	done chan struct{}
}

func platformSource() Source {
	return &logindSource{connect: func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() }}
}

func (s *logindSource) Open() (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connect()
	if err != nil {
		return nil, fmt.Errorf("%w: connect system bus: %v", ErrUnavailable, err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(logindPath),
		dbus.WithMatchInterface(logindInterface),
		dbus.WithMatchMember(prepareForSleep),
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, prepareForSleep, err)
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	s.conn = conn
	s.done = make(chan struct{})

	events := make(chan Event)
	go translateSignals(signals, events, s.done)
	return events, nil
}

func (s *logindSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	close(s.done)
	err := s.conn.Close()
	s.conn = nil
	s.done = nil
	return err
}

func translateSignals(signals <-chan *dbus.Signal, events chan<- Event, done <-chan struct{}) {
	defer close(events)
	for {
		select {
		case <-done:
			return
		case signal, ok := <-signals:
			if !ok {
				return
			}
			event, ok := signalEvent(signal)
			if !ok {
				continue
			}
			select {
			case events <- event:
			case <-done:
				return
			}
		}
	}
}

func signalEvent(signal *dbus.Signal) (Event, bool) {
	if signal == nil || signal.Name != logindInterface+"."+prepareForSleep || len(signal.Body) == 0 {
		return 0, false
	}
	sleeping, ok := signal.Body[0].(bool)
	if !ok {
		return 0, false
	}
	if sleeping {
		return EventSleep, true
	}
	return EventWake, true
}
