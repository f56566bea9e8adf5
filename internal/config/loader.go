package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the configuration file looked for in the workspace root.
const FileName = "mythicls.toml"

// envPrefix scopes environment overrides to this tool.
const envPrefix = "MYTHICLS_"

// FileSystem abstracts file reads so loader tests can use an in-memory
// file system.
type FileSystem interface {
	fs.FS
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
}

// OSFS implements FileSystem against the real file system.
type OSFS struct{}

func (OSFS) Open(name string) (fs.File, error)     { return os.Open(name) }
func (OSFS) ReadFile(path string) ([]byte, error)  { return os.ReadFile(path) }
func (OSFS) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

// Loader resolves the effective configuration from defaults, a TOML file
// and environment variables.
type Loader struct {
	fs FileSystem
}

// NewLoader creates a loader over the OS file system.
func NewLoader() *Loader {
	return &Loader{fs: OSFS{}}
}

// NewLoaderWithFS creates a loader with a custom file system.
func NewLoaderWithFS(fsys FileSystem) *Loader {
	return &Loader{fs: fsys}
}

// Load reads the configuration file at path and applies environment
// overrides on top of the defaults. A missing file is not an error; the
// defaults plus environment are returned.
func (l *Loader) Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := l.fs.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Defaults apply.
		case err != nil:
			return cfg, fmt.Errorf("reading %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}

	l.applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve finds the configuration file for a workspace: mythicls.toml in
// the workspace root, falling back to the user config directory. An empty
// return means no file exists and defaults apply.
func (l *Loader) Resolve(workspaceRoot string) string {
	if workspaceRoot != "" {
		candidate := filepath.Join(workspaceRoot, FileName)
		if _, err := l.fs.Stat(candidate); err == nil {
			return candidate
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(dir, "mythicls", "config.toml")
		if _, err := l.fs.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// applyEnv overlays MYTHICLS_* variables. Empty values are treated as set.
func (l *Loader) applyEnv(cfg *Config) {
	for env, target := range map[string]*string{
		envPrefix + "SERVER_COMMAND":     &cfg.Server.Command,
		envPrefix + "SERVER_DIR":         &cfg.Server.Dir,
		envPrefix + "SERVER_TCP_ADDR":    &cfg.Server.TCPAddr,
		envPrefix + "SERVER_SOCKET_PATH": &cfg.Server.SocketPath,
		envPrefix + "TRACE":              &cfg.Trace,
		envPrefix + "LOG_LEVEL":          &cfg.Log.Level,
		envPrefix + "LOG_FILE":           &cfg.Log.File,
	} {
		if val, ok := os.LookupEnv(env); ok {
			*target = val
		}
	}

	if val, ok := os.LookupEnv(envPrefix + "SERVER_ARGS"); ok {
		cfg.Server.Args = strings.Fields(val)
	}
}
