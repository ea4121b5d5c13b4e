package testsupport

import (
	"context"
	"testing"

	"retrievald/internal/config"
	"retrievald/internal/logging"
	"retrievald/internal/retrieval/engine"
)

// MustStartEngine opens and starts a retrieval engine backed by the test
// config's data directory and registers cleanup.
func MustStartEngine(t testing.TB, cfg *config.Config) *engine.Engine {
	t.Helper()

	ctx := context.Background()
	eng, err := engine.New(ctx, engine.Options{
		DBPath:       cfg.EngineDBPath(),
		Workers:      cfg.Engine.Workers,
		PreviewBytes: cfg.Engine.PreviewBytes,
		Logger:       logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		_ = eng.Stop()
		t.Fatalf("engine.Start: %v", err)
	}
	t.Cleanup(func() {
		_ = eng.Stop()
	})
	return eng
}
