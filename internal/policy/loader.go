package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/sentinelgw/sentinel-gateway/internal/gateway"
)

// fileRule is the YAML-on-disk shape of an operator-authored policy,
// mirroring the field names of gateway.PolicyRule. Kept distinct from the
// data-model type so a policy file's shape can evolve (e.g. add a
// `disabled_reason` comment field) without touching the engine's types.
type fileRule struct {
	RuleID            string              `yaml:"rule_id"`
	Name              string              `yaml:"name"`
	Description       string              `yaml:"description"`
	ActionTypes       []gateway.ActionType `yaml:"action_types"`
	Conditions        map[string]any       `yaml:"conditions"`
	RiskScoreModifier float64              `yaml:"risk_score_modifier"`
	Enabled           *bool                `yaml:"enabled"`
	Priority          int                  `yaml:"priority"`
}

type fileDocument struct {
	Policies []fileRule `yaml:"policies"`
}

func (f fileRule) toRule() gateway.PolicyRule {
	enabled := true
	if f.Enabled != nil {
		enabled = *f.Enabled
	}
	return gateway.PolicyRule{
		RuleID:            f.RuleID,
		Name:              f.Name,
		Description:       f.Description,
		ActionTypes:       f.ActionTypes,
		Conditions:        f.Conditions,
		RiskScoreModifier: f.RiskScoreModifier,
		Enabled:           enabled,
		Priority:          f.Priority,
	}
}

// Loader reads operator-authored policy definitions from a YAML file and
// optionally watches it for changes, splitting the one-shot LoadFile from
// the long-running WatchFile.
type Loader struct {
	logger *slog.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewLoader creates a policy file Loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger.With("component", "policy.Loader")}
}

// LoadFile reads and validates the policy rules in path. A rule missing a
// rule_id or action_types is rejected -- malformed policy authoring is
// caught at load time rather than silently producing a rule that never
// matches anything.
func (l *Loader) LoadFile(path string) ([]gateway.PolicyRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	rules := make([]gateway.PolicyRule, 0, len(doc.Policies))
	for i, fr := range doc.Policies {
		if fr.RuleID == "" {
			return nil, fmt.Errorf("policy at index %d is missing rule_id", i)
		}
		if len(fr.ActionTypes) == 0 {
			return nil, fmt.Errorf("policy %q has no action_types", fr.RuleID)
		}
		rules = append(rules, fr.toRule())
	}
	return rules, nil
}

// WatchFile starts an fsnotify watcher on the directory containing path.
// Editors that rename-and-replace on save (vim, nano) still trigger
// onReload, because the watch targets the directory rather than the file
// descriptor.
func (l *Loader) WatchFile(path string, onReload func(path string)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		l.stopWatchLocked()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve policy file path: %w", err)
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

	l.logger.Info("watching policy file for changes", "path", absPath)
	return nil
}

func (l *Loader) watchLoop(targetPath string, onReload func(string)) {
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
				l.logger.Info("policy file changed, triggering reload", "path", targetPath)
				onReload(targetPath)
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
