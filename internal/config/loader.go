package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} references in
// operator-authored YAML.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR} / ${VAR:-default} references in raw with
// the corresponding environment variable, or the default (or empty string)
// when unset, before the result is handed to the YAML parser.
func substituteEnvVars(raw string) string {
	return envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		name, def := parts[1], parts[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}

// Loader reads the gateway's YAML configuration file, substituting
// environment references before parsing, and optionally watches it for
// changes, splitting the one-shot Load from the long-running Watch the same
// way internal/policy.Loader splits LoadFile from WatchFile.
type Loader struct {
	logger *slog.Logger

	mu       sync.RWMutex
	cfg      *Config
	filePath string

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewLoader creates a Loader pre-populated with DefaultConfig, so Get never
// returns nil even before Load is called.
func NewLoader(opts ...func(*Loader)) *Loader {
	l := &Loader{
		logger: slog.Default().With("component", "config.Loader"),
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads path, substitutes environment references, parses it as YAML
// over a fresh DefaultConfig (so a partial file only overrides what it
// names), and atomically swaps it in.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	expanded := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.filePath = path
	l.mu.Unlock()

	l.logger.Info("loaded config", "path", path)
	return nil
}

// Reload re-reads the file path passed to the last successful Load. It
// returns an error if Load has never succeeded.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.filePath
	l.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("cannot reload: no config file has been loaded yet")
	}
	return l.Load(path)
}

// Get returns the current configuration. Safe for concurrent use with Load
// and Reload.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// FilePath returns the path of the last successfully loaded file, or the
// empty string if Load has never succeeded.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filePath
}

// Watch starts an fsnotify watcher on the directory containing the loaded
// config file and calls onReload after every successful re-Load triggered
// by a write or create event. Editors that rename-and-replace on save
// still trigger it, because the watch targets the directory rather than
// the file descriptor, exactly as policy.Loader.WatchFile does.
func (l *Loader) Watch(onReload func(*Config)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.filePath == "" {
		return fmt.Errorf("cannot watch: no config file has been loaded yet")
	}
	if l.watcher != nil {
		l.stopWatchLocked()
	}

	absPath, err := filepath.Abs(l.filePath)
	if err != nil {
		return fmt.Errorf("failed to resolve config file path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	l.watcher = w
	l.watchDone = make(chan struct{})
	go l.watchLoop(absPath, onReload)

	l.logger.Info("watching config file for changes", "path", absPath)
	return nil
}

func (l *Loader) watchLoop(targetPath string, onReload func(*Config)) {
	defer close(l.watchDone)

	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			absEvent, _ := filepath.Abs(event.Name)
			if absEvent != targetPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				l.logger.Info("config file changed, reloading", "path", targetPath)
				if err := l.Reload(); err != nil {
					l.logger.Error("failed to reload config", "error", err)
					continue
				}
				if onReload != nil {
					onReload(l.Get())
				}
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("fsnotify error", "error", err)
		}
	}
}

// StopWatch stops the file watcher, if running.
func (l *Loader) StopWatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopWatchLocked()
}

func (l *Loader) stopWatchLocked() {
	if l.watcher != nil {
		_ = l.watcher.Close()
		if l.watchDone != nil {
			<-l.watchDone
		}
		l.watcher = nil
		l.watchDone = nil
	}
}

// GenerateDefault writes a starter YAML config (DefaultConfig, marshaled)
// to path, for `sentinel-gateway init`-style scaffolding.
func GenerateDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
