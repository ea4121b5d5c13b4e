package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"--config", env.configPath, "config", "validate"})
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.cfg.Paths.BaseDir)
	requireContains(t, out, "allowlist root(s)")

	out, _, err = runCLI(t, []string{"--config", env.configPath, "config", "show"})
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[paths]")
	requireContains(t, out, env.cfg.API.Bind)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}); err == nil {
		t.Fatal("expected refusal to overwrite existing config")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "none configured")
	requireContains(t, out, "Items indexed")
}

func TestStatusUnreachable(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.Close()

	out, _, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status should report, not fail: %v", err)
	}
	requireContains(t, out, "[ERROR]")
}

func TestMissingTokenIsExplained(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.Remove(env.cfg.Paths.SettingsPath); err != nil {
		t.Fatalf("remove settings: %v", err)
	}
	_, _, err := env.run(t, "jobs", "list")
	if err == nil || !strings.Contains(err.Error(), "retrievald serve") {
		t.Fatalf("expected settings hint, got %v", err)
	}

	out, _, err := env.run(t, "--token", env.token, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list with --token: %v", err)
	}
	requireContains(t, out, "No backfill jobs")
}

func TestWrongTokenRejected(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv(tokenEnv, "not-the-token")
	_, _, err := env.run(t, "jobs", "list")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestFilesCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	local := filepath.Join(env.baseDir, "report.pdf")
	if err := os.WriteFile(local, []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err := env.run(t, "files", "upload", "abc123", local)
	if err != nil {
		t.Fatalf("files upload: %v", err)
	}
	requireContains(t, out, filepath.Join("Uploads", "abc123", "report.pdf"))

	out, _, err = env.run(t, "files", "list", "abc123")
	if err != nil {
		t.Fatalf("files list: %v", err)
	}
	requireContains(t, out, "report.pdf")
	requireContains(t, out, "application/pdf")

	out, _, err = env.run(t, "files", "list", "abc123", "--paths")
	if err != nil {
		t.Fatalf("files list --paths: %v", err)
	}
	requireContains(t, out, filepath.Join("Uploads", "abc123", "report.pdf"))

	out, _, err = env.run(t, "files", "get", "abc123", "report.pdf", "--direction", "input")
	if err != nil {
		t.Fatalf("files get: %v", err)
	}
	if out != "%PDF-1.7" {
		t.Fatalf("files get = %q", out)
	}

	outbox := filepath.Join(env.baseDir, "outbox")
	if err := os.MkdirAll(outbox, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outbox, "summary.txt"), []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err = env.run(t, "files", "collect", "abc123", outbox)
	if err != nil {
		t.Fatalf("files collect: %v", err)
	}
	requireContains(t, out, "Collected 1 file(s)")

	dest := filepath.Join(t.TempDir(), "summary.txt")
	if _, _, err := env.run(t, "files", "get", "abc123", "summary.txt", "-o", dest); err != nil {
		t.Fatalf("files get -o: %v", err)
	}
	if data, err := os.ReadFile(dest); err != nil || string(data) != "ok" {
		t.Fatalf("downloaded = %q, %v", data, err)
	}

	if _, _, err := env.run(t, "files", "delete", "abc123"); err != nil {
		t.Fatalf("files delete: %v", err)
	}
	out, _, err = env.run(t, "files", "list", "abc123", "--outputs")
	if err != nil {
		t.Fatalf("files list --outputs: %v", err)
	}
	requireContains(t, out, "No files for task abc123")
}

func TestScopesJobsAndSuggest(t *testing.T) {
	env := setupCLITestEnv(t)

	docs := filepath.Join(env.baseDir, "docs")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(docs, "roadmap.md"), []byte("# Roadmap\nship it"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := env.run(t, "scopes", "set", docs); err != nil {
		t.Fatalf("scopes set: %v", err)
	}
	out, _, err := env.run(t, "scopes", "list")
	if err != nil {
		t.Fatalf("scopes list: %v", err)
	}
	requireContains(t, out, docs)

	if _, _, err := env.run(t, "scopes", "set", "/etc"); err == nil {
		t.Fatal("expected allowlist rejection")
	}

	out, _, err = env.run(t, "jobs", "trigger")
	if err != nil {
		t.Fatalf("jobs trigger: %v", err)
	}
	requireContains(t, out, "Backfill triggered")

	waitFor(t, 5*time.Second, func() bool {
		out, _, err := env.run(t, "jobs", "list")
		return err == nil && strings.Contains(out, "Completed")
	})

	out, _, err = env.run(t, "suggest", "roadmap")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	requireContains(t, out, "roadmap.md")

	out, _, err = env.run(t, "activity")
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	requireContains(t, out, "Job Completed")
}

func TestLogsCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "logs")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log at")

	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "first\nsecond\nthird\n"
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.LogDir, "retrievald.log"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err = env.run(t, "logs", "-n", "2")
	if err != nil {
		t.Fatalf("logs -n 2: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("logs output = %q", out)
	}
}
