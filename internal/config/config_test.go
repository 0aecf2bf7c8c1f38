package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Policy.SlowQueryMs != 100 {
		t.Errorf("slow query ms = %v", cfg.Policy.SlowQueryMs)
	}
	if cfg.Policy.NPlusOneThreshold != 3 {
		t.Errorf("n+1 threshold = %d", cfg.Policy.NPlusOneThreshold)
	}
	if cfg.Policy.Weights.Critical != 20 {
		t.Errorf("critical weight = %d", cfg.Policy.Weights.Critical)
	}
	if cfg.Policy.StopGrace != 5*time.Second {
		t.Errorf("stop grace = %v", cfg.Policy.StopGrace)
	}
	if len(cfg.CriticalExceptions) == 0 {
		t.Error("expected default critical exception classes")
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
policy:
  slow_query_ms: 250
  weights:
    critical: 40
output:
  width: 120
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Policy.SlowQueryMs != 250 {
		t.Errorf("slow query ms = %v", cfg.Policy.SlowQueryMs)
	}
	if cfg.Policy.Weights.Critical != 40 {
		t.Errorf("critical weight = %d", cfg.Policy.Weights.Critical)
	}
	// Untouched keys keep their defaults.
	if cfg.Policy.Weights.Low != 1 {
		t.Errorf("low weight = %d", cfg.Policy.Weights.Low)
	}
	if cfg.Output.Width != 120 {
		t.Errorf("width = %d", cfg.Output.Width)
	}
}

func TestParseProcfile(t *testing.T) {
	content := `
# development processes
web: bin/rails server -p 3000
worker: bundle exec sidekiq

js: yarn build --watch
not a process line
`
	specs := ParseProcfile(content)
	if len(specs) != 3 {
		t.Fatalf("specs = %v", specs)
	}
	if specs[0].Name != "web" || specs[0].Command != "bin/rails server -p 3000" {
		t.Errorf("web = %+v", specs[0])
	}
	if specs[2].Name != "js" {
		t.Errorf("third = %+v", specs[2])
	}
}

func TestParseDotenv(t *testing.T) {
	content := `
# secrets
DATABASE_URL=postgres://localhost/app_dev
export RAILS_ENV=development
QUOTED="hello world"
SINGLE='single'
EMPTY=
MALFORMED LINE
`
	env := ParseDotenv(content)
	if env["DATABASE_URL"] != "postgres://localhost/app_dev" {
		t.Errorf("DATABASE_URL = %q", env["DATABASE_URL"])
	}
	if env["RAILS_ENV"] != "development" {
		t.Errorf("RAILS_ENV = %q", env["RAILS_ENV"])
	}
	if env["QUOTED"] != "hello world" {
		t.Errorf("QUOTED = %q", env["QUOTED"])
	}
	if env["SINGLE"] != "single" {
		t.Errorf("SINGLE = %q", env["SINGLE"])
	}
	if v, ok := env["EMPTY"]; !ok || v != "" {
		t.Errorf("EMPTY = %q, present %v", v, ok)
	}
	if _, ok := env["MALFORMED"]; ok {
		t.Error("malformed line should be skipped")
	}
}

func TestLoadProjectFromTOML(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[processes.web]
command = "bin/rails server"

[processes.js]
command = "yarn dev"
dir = "frontend"

[processes.js.env]
PORT = "5173"
`
	if err := os.WriteFile(filepath.Join(dir, DefaultProjectFile), []byte(tomlContent), 0o644); err != nil {
		t.Fatal(err)
	}
	// A Procfile alongside the TOML must be ignored.
	if err := os.WriteFile(filepath.Join(dir, "Procfile"), []byte("ignored: echo no\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SHARED=yes\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProject(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Processes) != 2 {
		t.Fatalf("processes = %+v", p.Processes)
	}
	// Sorted by name: js before web.
	if p.Processes[0].Name != "js" || p.Processes[0].Dir != filepath.Join(dir, "frontend") {
		t.Errorf("js = %+v", p.Processes[0])
	}
	if p.Processes[0].Env["PORT"] != "5173" {
		t.Errorf("js env = %v", p.Processes[0].Env)
	}
	if p.SharedEnv["SHARED"] != "yes" {
		t.Errorf("shared env = %v", p.SharedEnv)
	}
}

func TestLoadProjectFallsBackToProcfile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Procfile.dev"), []byte("web: bin/dev\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProject(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Processes) != 1 || p.Processes[0].Command != "bin/dev" {
		t.Errorf("processes = %+v", p.Processes)
	}
}

func TestLoadProjectRejectsEmptyCommand(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultProjectFile), []byte("[processes.web]\ncommand = \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProject(dir); err == nil {
		t.Error("expected an error for an empty command")
	}
}
