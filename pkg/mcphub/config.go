package mcphub

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrNoConfig is returned by FindConfig when none of the default locations
// holds a configuration file.
var ErrNoConfig = errors.New("mcphub: no configuration file found")

// ServerEntry describes how to reach one MCP server. Exactly one shape must be
// populated: stdio (Command, optionally Args, Env, Cwd) or HTTP (URL,
// optionally Headers).
type ServerEntry struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`

	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Validate checks that the entry is exactly one of the two transport shapes.
func (e ServerEntry) Validate() error {
	stdio := e.Command != ""
	http := e.URL != ""
	switch {
	case stdio && http:
		return errors.New("mcphub: entry sets both command and url")
	case !stdio && !http:
		return errors.New("mcphub: entry sets neither command nor url")
	case http && (len(e.Args) > 0 || len(e.Env) > 0 || e.Cwd != ""):
		return errors.New("mcphub: args, env and cwd apply only to command entries")
	case stdio && len(e.Headers) > 0:
		return errors.New("mcphub: headers apply only to url entries")
	}
	return nil
}

// IsHTTP reports whether the entry describes an HTTP server.
func (e ServerEntry) IsHTTP() bool { return e.URL != "" }

// expanded returns a copy with ${NAME} references resolved against env.
func (e ServerEntry) expanded(env map[string]string) ServerEntry {
	out := e
	out.Command = ExpandEnv(e.Command, env)
	out.Cwd = ExpandEnv(e.Cwd, env)
	out.URL = ExpandEnv(e.URL, env)
	if len(e.Args) > 0 {
		out.Args = make([]string, len(e.Args))
		for i, a := range e.Args {
			out.Args[i] = ExpandEnv(a, env)
		}
	}
	if len(e.Env) > 0 {
		out.Env = make(map[string]string, len(e.Env))
		for k, v := range e.Env {
			out.Env[k] = ExpandEnv(v, env)
		}
	}
	if len(e.Headers) > 0 {
		out.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			out.Headers[k] = ExpandEnv(v, env)
		}
	}
	return out
}

// Config maps server names to their entries.
type Config map[string]ServerEntry

// Validate checks every entry, collecting all failures.
func (c Config) Validate() error {
	var errs []error
	for name, entry := range c {
		if err := entry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${NAME} reference in s with env[NAME]. Names absent
// from env expand to the empty string. Expansion reads only the given map, so
// a snapshot taken once can be applied to a whole Config deterministically.
func ExpandEnv(s string, env map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[2 : len(ref)-1]
		return env[name]
	})
}

// EnvSnapshot captures the current process environment as a map. Take the
// snapshot once and pass it wherever expansion happens; later changes to the
// process environment do not affect it.
func EnvSnapshot() map[string]string {
	environ := os.Environ()
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// configFile is the on-disk shape shared with other MCP clients.
type configFile struct {
	MCPServers Config `json:"mcpServers"`
}

// LoadConfigFile reads a configuration file. Both the wrapped
// {"mcpServers": {...}} shape and a bare name-to-entry object are accepted.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcphub: read config: %w", err)
	}
	var wrapped configFile
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.MCPServers) > 0 {
		return wrapped.MCPServers, wrapped.MCPServers.Validate()
	}
	var bare Config
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("mcphub: parse config %s: %w", path, err)
	}
	return bare, bare.Validate()
}

// DefaultConfigPaths lists the locations FindConfig probes, in order: the
// working directory, XDG config, then a dotfile in the home directory.
func DefaultConfigPaths() []string {
	paths := []string{".mcp.json"}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "orchestra", "mcp.json"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "orchestra", "mcp.json"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".mcp.json"))
	}
	return paths
}

// FindConfig loads the first existing file among DefaultConfigPaths.
func FindConfig() (Config, string, error) {
	for _, path := range DefaultConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := LoadConfigFile(path)
		if err != nil {
			return nil, path, err
		}
		return cfg, path, nil
	}
	return nil, "", ErrNoConfig
}
