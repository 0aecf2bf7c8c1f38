// Package detect inspects a project tree and infers what to run: whether it
// is a Rails app, which frontend toolchain it uses, the package manager, and
// the database adapter. The result seeds the default process list when no
// project configuration exists.
package detect

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/blackwell-systems/railscope/internal/config"
)

// Frontend identifies the detected frontend dev server.
type Frontend string

const (
	FrontendNone    Frontend = ""
	FrontendVite    Frontend = "vite"
	FrontendWebpack Frontend = "webpack"
	FrontendNext    Frontend = "next"
	FrontendEsbuild Frontend = "esbuild"
)

// PackageManager identifies the JS package manager by its lockfile.
type PackageManager string

const (
	PMNone PackageManager = ""
	PMNpm  PackageManager = "npm"
	PMYarn PackageManager = "yarn"
	PMPnpm PackageManager = "pnpm"
	PMBun  PackageManager = "bun"
)

// Result describes what was found in the project root.
type Result struct {
	Root           string
	Rails          bool
	Frontend       Frontend
	PackageManager PackageManager
	// DatabaseAdapter is the adapter named in config/database.yml
	// ("postgresql", "mysql2", "sqlite3"), empty when undetermined.
	DatabaseAdapter string
	HasBinDev       bool
	HasSidekiq      bool
}

// Inspect examines root without executing anything in it.
func Inspect(root string) Result {
	r := Result{Root: root}

	r.Rails = fileExists(root, "config", "application.rb") && fileExists(root, "Gemfile")
	r.HasBinDev = fileExists(root, "bin", "dev")
	r.HasSidekiq = gemfileMentions(root, "sidekiq")
	r.Frontend = detectFrontend(root)
	r.PackageManager = detectPackageManager(root)
	r.DatabaseAdapter = detectDatabaseAdapter(root)

	return r
}

// FindRailsRoot walks upward from dir looking for a Rails application,
// returning the located root or dir unchanged.
func FindRailsRoot(dir string) string {
	cur := dir
	for {
		if fileExists(cur, "config", "application.rb") {
			return cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return dir
		}
		cur = parent
	}
}

// DefaultProcesses builds the process list a bare project gets: the Rails
// server, a worker when Sidekiq is present, and the frontend dev server.
// Projects with bin/dev get that single entry, since it already multiplexes.
func DefaultProcesses(r Result) []config.ProcessSpec {
	if r.HasBinDev {
		return []config.ProcessSpec{{Name: "dev", Command: "bin/dev"}}
	}

	var specs []config.ProcessSpec
	if r.Rails {
		specs = append(specs, config.ProcessSpec{Name: "web", Command: "bin/rails server"})
	}
	if r.HasSidekiq {
		specs = append(specs, config.ProcessSpec{Name: "worker", Command: "bundle exec sidekiq"})
	}
	if cmd := frontendCommand(r.Frontend, r.PackageManager); cmd != "" {
		specs = append(specs, config.ProcessSpec{Name: "js", Command: cmd})
	}
	return specs
}

func frontendCommand(f Frontend, pm PackageManager) string {
	if f == FrontendNone {
		return ""
	}
	runner := "npm run"
	switch pm {
	case PMYarn:
		runner = "yarn"
	case PMPnpm:
		runner = "pnpm"
	case PMBun:
		runner = "bun run"
	}
	switch f {
	case FrontendNext:
		return runner + " dev"
	case FrontendVite:
		return runner + " dev"
	default:
		return runner + " build --watch"
	}
}

func detectFrontend(root string) Frontend {
	pkg, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return FrontendNone
	}
	content := string(pkg)
	switch {
	case strings.Contains(content, `"next"`):
		return FrontendNext
	case strings.Contains(content, `"vite"`) || fileExists(root, "vite.config.ts") || fileExists(root, "vite.config.js"):
		return FrontendVite
	case strings.Contains(content, `"webpack"`):
		return FrontendWebpack
	case strings.Contains(content, `"esbuild"`):
		return FrontendEsbuild
	}
	return FrontendNone
}

func detectPackageManager(root string) PackageManager {
	switch {
	case fileExists(root, "bun.lockb") || fileExists(root, "bun.lock"):
		return PMBun
	case fileExists(root, "pnpm-lock.yaml"):
		return PMPnpm
	case fileExists(root, "yarn.lock"):
		return PMYarn
	case fileExists(root, "package-lock.json"):
		return PMNpm
	}
	return PMNone
}

// detectDatabaseAdapter scans config/database.yml for the first adapter
// line. A full YAML parse buys nothing here since ERB interpolation makes
// the file unparseable anyway.
func detectDatabaseAdapter(root string) string {
	data, err := os.ReadFile(filepath.Join(root, "config", "database.yml"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "adapter:") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "adapter:"))
		}
	}
	return ""
}

func gemfileMentions(root, gem string) bool {
	data, err := os.ReadFile(filepath.Join(root, "Gemfile"))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), `"`+gem+`"`) || strings.Contains(string(data), `'`+gem+`'`)
}

func fileExists(parts ...string) bool {
	_, err := os.Stat(filepath.Join(parts...))
	return err == nil
}
