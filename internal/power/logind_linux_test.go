//go:build linux

package power

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestSignalEvent(t *testing.T) {
	name := logindInterface + "." + prepareForSleep
	tests := []struct {
		name   string
		signal *dbus.Signal
		want   Event
		ok     bool
	}{
		{"sleep", &dbus.Signal{Name: name, Body: []any{true}}, EventSleep, true},
		{"wake", &dbus.Signal{Name: name, Body: []any{false}}, EventWake, true},
		{"other member", &dbus.Signal{Name: logindInterface + ".SessionNew", Body: []any{true}}, 0, false},
		{"empty body", &dbus.Signal{Name: name}, 0, false},
		{"wrong type", &dbus.Signal{Name: name, Body: []any{"yes"}}, 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := signalEvent(tt.signal)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("signalEvent() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestTranslateSignalsStopsOnDone(t *testing.T) {
	signals := make(chan *dbus.Signal, 1)
	events := make(chan Event)
	done := make(chan struct{})
	signals <- &dbus.Signal{Name: logindInterface + "." + prepareForSleep, Body: []any{true}}

	finished := make(chan struct{})
	go func() {
		translateSignals(signals, events, done)
		close(finished)
	}()
	if got := <-events; got != EventSleep {
		t.Fatalf("expected sleep event, got %v", got)
	}
	close(done)
	<-finished
	if _, ok := <-events; ok {
		t.Fatal("expected events channel to be closed")
	}
}

func TestLogindOpenWrapsConnectFailure(t *testing.T) {
	busErr := errors.New("no system bus")
	source := &logindSource{connect: func() (*dbus.Conn, error) { return nil, busErr }}

	events, err := source.Open()
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Open error = %v, want ErrUnavailable", err)
	}
	if events != nil {
		t.Fatal("expected no event channel on failure")
	}
	if err := source.Close(); err != nil {
		t.Fatalf("Close after failed Open: %v", err)
	}
}

func TestPlatformSourceIsLogind(t *testing.T) {
	source, ok := platformSource().(*logindSource)
	if !ok || source.connect == nil {
		t.Fatalf("platformSource() = %#v", platformSource())
	}
}
