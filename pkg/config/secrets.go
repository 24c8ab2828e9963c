package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/dormshare/pkg/observability"
	"gopkg.in/yaml.v3"
)

// Secrets is the content of the secrets file:
//
//	access:
//	  - <newest access secret>
//	  - <previous access secret>
//	refresh:
//	  - <refresh secret>
type Secrets struct {
	Access  []string `yaml:"access"`
	Refresh []string `yaml:"refresh"`
}

// LoadSecretsFile reads and validates a secrets file
func LoadSecretsFile(path string) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}

	var s Secrets
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse secrets file: %w", err)
	}
	if err := ValidateSecrets(s.Access, s.Refresh); err != nil {
		return nil, fmt.Errorf("invalid secrets file: %w", err)
	}
	return &s, nil
}

// DefaultReloadDelay coalesces the burst of events an editor or a secret
// volume update produces
const DefaultReloadDelay = 200 * time.Millisecond

// SecretsWatcher reloads the secrets file when it changes. Invalid content is
// logged and ignored, so the previous secrets stay active.
type SecretsWatcher struct {
	path     string
	onChange func(*Secrets)
	logger   *observability.Logger
	delay    time.Duration
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
	wg    sync.WaitGroup
}

// WatchSecrets starts watching path. The parent directory is watched so that
// atomic renames and Kubernetes secret volume swaps are seen.
func WatchSecrets(path string, onChange func(*Secrets), logger *observability.Logger) (*SecretsWatcher, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve secrets path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w := &SecretsWatcher{
		path:     abs,
		onChange: onChange,
		logger:   logger.WithField("component", "secrets_watcher").WithField("path", abs),
		delay:    DefaultReloadDelay,
		watcher:  watcher,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *SecretsWatcher) run() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("secrets watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *SecretsWatcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	// Kubernetes swaps the ..data symlink instead of touching the file
	return name == w.path || filepath.Base(name) == "..data"
}

func (w *SecretsWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.reload)
}

func (w *SecretsWatcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	secrets, err := LoadSecretsFile(w.path)
	if err != nil {
		w.logger.WithError(err).Error("secrets reload rejected, keeping current secrets")
		return
	}
	w.onChange(secrets)
	w.logger.WithFields(map[string]interface{}{
		"access_secrets":  len(secrets.Access),
		"refresh_secrets": len(secrets.Refresh),
	}).Info("secrets reloaded")
}

// Close stops watching
func (w *SecretsWatcher) Close() error {
	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		return nil
	default:
	}
	close(w.done)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
