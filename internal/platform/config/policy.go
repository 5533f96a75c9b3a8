package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"intakewatch/internal/intake/correlate"
)

// policyFile is the on-disk shape of the correlation policy. Durations are
// Go duration strings ("5s", "1500ms").
type policyFile struct {
	GraceWindow         string `yaml:"grace_window"`
	PendingTimeout      string `yaml:"pending_timeout"`
	IdentifierRetention string `yaml:"identifier_retention"`
}

// PolicyLoader reads the correlation policy YAML and watches it for changes.
// The grace window is a correctness-relevant knob; letting the operator tune
// it without a restart beats a hardcoded constant.
type PolicyLoader struct {
	path    string
	mu      sync.RWMutex
	current correlate.Policy
	updates chan correlate.Policy
}

// NewPolicyLoader performs the initial load. An empty path yields the default
// policy and a loader whose Watch is a no-op.
func NewPolicyLoader(path string) (*PolicyLoader, error) {
	l := &PolicyLoader{
		path:    path,
		current: correlate.DefaultPolicy(),
		updates: make(chan correlate.Policy, 1),
	}
	if path == "" {
		return l, nil
	}
	policy, err := loadPolicy(path)
	if err != nil {
		return nil, err
	}
	l.current = policy
	return l, nil
}

// Policy returns the current (latest) policy.
func (l *PolicyLoader) Policy() correlate.Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Updates delivers hot-reloaded policies. At most one pending update is kept;
// consumers only ever care about the newest.
func (l *PolicyLoader) Updates() <-chan correlate.Policy {
	return l.updates
}

// Watch starts a background goroutine that reloads the policy whenever the
// file changes. Call the returned stop function to clean up. A reload that
// fails to parse keeps the previous policy and is ignored.
func (l *PolicyLoader) Watch() (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("policy watcher: %w", err)
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("policy watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				policy, err := loadPolicy(l.path)
				if err != nil {
					continue
				}
				l.mu.Lock()
				l.current = policy
				l.mu.Unlock()
				select {
				case l.updates <- policy:
				default:
					select {
					case <-l.updates:
					default:
					}
					l.updates <- policy
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		watcher.Close()
	}, nil
}

func loadPolicy(path string) (correlate.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return correlate.Policy{}, fmt.Errorf("read policy file %s: %w", path, err)
	}
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return correlate.Policy{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	policy := correlate.Policy{}
	if policy.GraceWindow, err = parseDuration(file.GraceWindow); err != nil {
		return correlate.Policy{}, fmt.Errorf("policy grace_window: %w", err)
	}
	if policy.PendingTimeout, err = parseDuration(file.PendingTimeout); err != nil {
		return correlate.Policy{}, fmt.Errorf("policy pending_timeout: %w", err)
	}
	if policy.IdentifierRetention, err = parseDuration(file.IdentifierRetention); err != nil {
		return correlate.Policy{}, fmt.Errorf("policy identifier_retention: %w", err)
	}
	return policy.Normalize(), nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
