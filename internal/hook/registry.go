package hook

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/mukha/internal/logging"
	"github.com/ayusman/mukha/internal/movement"
)

// ErrHookNotFound is returned when a requested hook does not exist.
var ErrHookNotFound = errors.New("hook not found")

const manifestFile = "hook.json"

// Registry discovers hooks below a root directory.
type Registry struct {
	dir   string
	log   logrus.FieldLogger
	hooks map[string]*Hook
	mu    sync.RWMutex
}

// NewRegistry creates a Registry rooted at dir.
func NewRegistry(dir string, log logrus.FieldLogger) *Registry {
	return &Registry{
		dir:   dir,
		log:   logging.OrDiscard(log),
		hooks: make(map[string]*Hook),
	}
}

// Discover rescans the root. A missing root yields no hooks. Directories
// without a readable manifest are skipped.
func (r *Registry) Discover() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hooks = make(map[string]*Hook)

	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())

		data, err := os.ReadFile(filepath.Join(path, manifestFile))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			r.log.WithError(err).WithField("hook", entry.Name()).Warn("Skipping unreadable hook")
			continue
		}

		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil || m.Name == "" || m.Executable == "" {
			r.log.WithField("hook", entry.Name()).Warn("Skipping hook with invalid manifest")
			continue
		}

		r.hooks[m.Name] = &Hook{
			Manifest:   m,
			Path:       path,
			Executable: filepath.Join(path, m.Executable),
		}
	}
	return nil
}

// Get returns a hook by name.
func (r *Registry) Get(name string) (*Hook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.hooks[name]
	if !ok {
		return nil, ErrHookNotFound
	}
	return h, nil
}

// List returns every discovered hook sorted by name.
func (r *Registry) List() []*Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hooks := make([]*Hook, 0, len(r.hooks))
	for _, h := range r.hooks {
		hooks = append(hooks, h)
	}
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].Manifest.Name < hooks[j].Manifest.Name })
	return hooks
}

// For returns the hooks subscribed to d.
func (r *Registry) For(d movement.Direction) []*Hook {
	var out []*Hook
	for _, h := range r.List() {
		if h.Wants(d) {
			out = append(out, h)
		}
	}
	return out
}
