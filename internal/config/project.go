package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// ProcessSpec is one process definition from project configuration.
type ProcessSpec struct {
	Name    string
	Command string `toml:"command"`
	Dir     string `toml:"dir"`
	Env     map[string]string `toml:"env"`
}

// Project is the project-local configuration: which processes to run and
// where, loaded from .railscope.toml, a Procfile, or auto-detection, in
// that order of preference.
type Project struct {
	Root      string
	Processes []ProcessSpec
	// SharedEnv comes from the project's .env file and applies to every
	// process, below per-process Env overrides.
	SharedEnv map[string]string
}

type projectFile struct {
	EnvFile   string                 `toml:"env_file"`
	Processes map[string]processToml `toml:"processes"`
}

type processToml struct {
	Command string            `toml:"command"`
	Dir     string            `toml:"dir"`
	Env     map[string]string `toml:"env"`
}

// LoadProject assembles the project configuration rooted at dir.
// A .railscope.toml wins over a Procfile; both absent leaves Processes
// empty for the detection layer to fill in. The .env file is loaded in
// every case when present.
func LoadProject(root string) (*Project, error) {
	p := &Project{Root: root, SharedEnv: map[string]string{}}

	tomlPath := filepath.Join(root, DefaultProjectFile)
	if _, err := os.Stat(tomlPath); err == nil {
		if err := p.loadTOML(tomlPath); err != nil {
			return nil, err
		}
	} else if procfile := filepath.Join(root, "Procfile.dev"); fileExists(procfile) {
		p.Processes = parseProcfileFile(procfile)
	} else if procfile := filepath.Join(root, "Procfile"); fileExists(procfile) {
		p.Processes = parseProcfileFile(procfile)
	}

	envPath := filepath.Join(root, ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		p.SharedEnv = ParseDotenv(string(data))
	}

	return p, nil
}

func (p *Project) loadTOML(path string) error {
	var pf projectFile
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	names := make([]string, 0, len(pf.Processes))
	for name := range pf.Processes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		proc := pf.Processes[name]
		if strings.TrimSpace(proc.Command) == "" {
			return fmt.Errorf("process %q has no command", name)
		}
		dir := proc.Dir
		if dir != "" && !filepath.IsAbs(dir) {
			dir = filepath.Join(p.Root, dir)
		}
		p.Processes = append(p.Processes, ProcessSpec{
			Name:    name,
			Command: proc.Command,
			Dir:     dir,
			Env:     proc.Env,
		})
	}

	if pf.EnvFile != "" {
		data, err := os.ReadFile(filepath.Join(p.Root, pf.EnvFile))
		if err != nil {
			return fmt.Errorf("env_file: %w", err)
		}
		p.SharedEnv = ParseDotenv(string(data))
	}
	return nil
}

// procfileLinePattern matches "name: command" entries.
var procfileLinePattern = regexp.MustCompile(`^([A-Za-z0-9_-]+):\s*(.+)$`)

// ParseProcfile extracts process specs from Procfile content, skipping
// blank lines and comments.
func ParseProcfile(content string) []ProcessSpec {
	var specs []ProcessSpec
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := procfileLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		specs = append(specs, ProcessSpec{Name: m[1], Command: strings.TrimSpace(m[2])})
	}
	return specs
}

func parseProcfileFile(path string) []ProcessSpec {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return ParseProcfile(string(data))
}

// ParseDotenv parses KEY=VALUE lines, tolerating comments, blank lines,
// an optional "export " prefix, and single or double quoted values.
func ParseDotenv(content string) map[string]string {
	env := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		val := strings.TrimSpace(line[i+1:])
		if len(val) >= 2 {
			if (val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'') {
				val = val[1 : len(val)-1]
			}
		}
		env[key] = val
	}
	return env
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
