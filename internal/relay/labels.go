package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	logx "relaybot/pkg/logx"
)

// LabelTable maps a channel name to a decorative label. It is never mutated
// after construction; reloads build a new table.
type LabelTable struct {
	m map[string]string
}

func NewLabelTable(m map[string]string) *LabelTable {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return &LabelTable{m: cp}
}

// Get returns the label for key, or "" when there is none.
func (t *LabelTable) Get(key string) string {
	if t == nil {
		return ""
	}
	return t.m[key]
}

func (t *LabelTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.m)
}

// LoadLabels reads a flat name -> label mapping from a JSON or YAML file.
// On any error it still returns a usable empty table.
func LoadLabels(path string) (*LabelTable, error) {
	empty := NewLabelTable(nil)
	path = strings.TrimSpace(path)
	if path == "" {
		return empty, errors.New("labels path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return empty, err
	}
	m, err := decodeLabels(path, b)
	if err != nil {
		return empty, fmt.Errorf("%s: %w", path, err)
	}
	return NewLabelTable(m), nil
}

func decodeLabels(path string, b []byte) (map[string]string, error) {
	m := map[string]string{}
	if len(bytes.TrimSpace(b)) == 0 {
		return m, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("yaml unmarshal: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("json unmarshal: %w", err)
		}
	}
	return m, nil
}

// LabelSource holds the current LabelTable and reloads it from disk.
type LabelSource struct {
	log logx.Logger

	pathMu sync.Mutex
	path   string

	cur atomic.Pointer[LabelTable]
}

// NewLabelSource loads path once. A failed load is logged and leaves an empty
// table in place; it never aborts startup.
func NewLabelSource(path string, log logx.Logger) *LabelSource {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &LabelSource{log: log, path: strings.TrimSpace(path)}
	t, err := LoadLabels(s.path)
	if err != nil {
		log.Warn("category labels unavailable; using empty table", logx.String("path", s.path), logx.Err(err))
	} else {
		log.Info("category labels loaded", logx.String("path", s.path), logx.Int("count", t.Len()))
	}
	s.cur.Store(t)
	return s
}

func (s *LabelSource) Table() *LabelTable { return s.cur.Load() }

func (s *LabelSource) Get(key string) string { return s.cur.Load().Get(key) }

func (s *LabelSource) Path() string {
	s.pathMu.Lock()
	defer s.pathMu.Unlock()
	return s.path
}

// Reload re-reads the file. On failure the previous table stays active.
func (s *LabelSource) Reload() error {
	path := s.Path()
	t, err := LoadLabels(path)
	if err != nil {
		s.log.Warn("category labels reload failed; keeping previous", logx.String("path", path), logx.Err(err))
		return err
	}
	s.cur.Store(t)
	s.log.Info("category labels reloaded", logx.String("path", path), logx.Int("count", t.Len()))
	return nil
}

// SetPath switches to a different file and reloads it. A running Watch keeps
// watching the old directory until it is restarted.
func (s *LabelSource) SetPath(path string) error {
	path = strings.TrimSpace(path)
	s.pathMu.Lock()
	same := path == s.path
	s.path = path
	s.pathMu.Unlock()
	if same {
		return nil
	}
	return s.Reload()
}

// Watch reloads the table whenever the file changes, debounced. It returns
// nil when ctx is done and an error when the watcher cannot be set up, so
// callers can run it under a restart loop.
func (s *LabelSource) Watch(ctx context.Context) error {
	path := s.Path()
	if path == "" {
		<-ctx.Done()
		return nil
	}
	dir, file := filepath.Dir(path), filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("labels watch init: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("labels watch add %s: %w", dir, err)
	}
	s.log.Debug("labels watcher started", logx.String("dir", dir), logx.String("file", file))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("labels watcher events closed")
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() { _ = s.Reload() })
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("labels watcher errors closed")
			}
			s.log.Warn("labels watch error", logx.Err(err))
		}
	}
}
