package daemon_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"retrievald/internal/config"
	"retrievald/internal/daemon"
	"retrievald/internal/filestore"
	"retrievald/internal/logging"
	"retrievald/internal/power"
	"retrievald/internal/retrieval"
	"retrievald/internal/testsupport"
)

const testToken = "s3cret-token"

// callLog records lifecycle calls across fakes in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeService struct {
	log *callLog

	startErr error
	stopErr  error
	err      error

	mu        sync.Mutex
	paused    bool
	scopes    []retrieval.Scope
	jobAction string
	suggest   retrieval.SuggestRequest
}

func (f *fakeService) Start(context.Context) error {
	f.log.add("service.start")
	return f.startErr
}

func (f *fakeService) Stop() error {
	f.log.add("service.stop")
	return f.stopErr
}

func (f *fakeService) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}

func (f *fakeService) Resume(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	return nil
}

func (f *fakeService) Suggest(_ context.Context, req retrieval.SuggestRequest) ([]retrieval.Suggestion, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.suggest = req
	f.mu.Unlock()
	return []retrieval.Suggestion{{ItemID: "item-1", Name: "notes.md", Path: "/data/notes.md", MimeType: "text/markdown", Score: 1}}, nil
}

func (f *fakeService) CreateContextPack(_ context.Context, req retrieval.ContextPackRequest) (*retrieval.ContextPack, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &retrieval.ContextPack{ID: "pack-1", Query: req.Query, Items: []retrieval.ContextItem{}}, nil
}

func (f *fakeService) Preview(_ context.Context, itemID string) (*retrieval.Preview, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &retrieval.Preview{ItemID: itemID, Name: "notes.md", Text: "hello"}, nil
}

func (f *fakeService) State(context.Context) (*retrieval.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &retrieval.State{Running: true, Paused: f.paused, Scopes: f.scopes}, nil
}

func (f *fakeService) Progress(context.Context) (*retrieval.Progress, error) {
	return &retrieval.Progress{TotalJobs: 2, CompletedJobs: 1, Percent: 50}, nil
}

func (f *fakeService) IndexStats(context.Context) (*retrieval.IndexStats, error) {
	return &retrieval.IndexStats{Items: 3, ByMimeType: map[string]int64{"text/plain": 3}}, nil
}

func (f *fakeService) Activity(context.Context) ([]retrieval.ActivityEntry, error) {
	return nil, nil
}

func (f *fakeService) BackfillJobs(context.Context) ([]retrieval.BackfillJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

func (f *fakeService) PauseJob(_ context.Context, jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobAction = "pause:" + jobID
	return nil
}

func (f *fakeService) ResumeJob(_ context.Context, jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobAction = "resume:" + jobID
	return nil
}

func (f *fakeService) TriggerBackfill(context.Context) error {
	return f.err
}

func (f *fakeService) ConfigureScopes(_ context.Context, scopes []retrieval.Scope) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes = scopes
	return nil
}

type fakeMonitor struct {
	log     *callLog
	onSleep power.Callback
	onWake  power.Callback

	mu      sync.Mutex
	running bool
}

func (m *fakeMonitor) Start(context.Context) error {
	m.log.add("monitor.start")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	return nil
}

func (m *fakeMonitor) Stop() {
	m.log.add("monitor.stop")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

func (m *fakeMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

type fixture struct {
	cfg      *config.Config
	settings *config.Settings
	service  *fakeService
	files    *filestore.Store
	monitor  *fakeMonitor
	log      *callLog
	daemon   *daemon.Daemon
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithMaxBodyBytes(1024))

	log := &callLog{}
	f := &fixture{
		cfg:      cfg,
		settings: testsupport.Settings(cfg, testToken),
		service:  &fakeService{log: log},
		log:      log,
	}
	files, err := filestore.New(cfg.Paths.BaseDir, logging.NewNop())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	f.files = files

	factory := func(_ *slog.Logger, onSleep, onWake power.Callback) power.Monitor {
		f.monitor = &fakeMonitor{log: log, onSleep: onSleep, onWake: onWake}
		return f.monitor
	}
	d, err := daemon.New(f.cfg, f.settings, f.service, files, logging.NewNop(), daemon.WithMonitorFactory(factory))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	f.daemon = d
	return f
}
