package capability

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
)

// agentsFile is the on-disk layout of an agent configuration file.
type agentsFile struct {
	Agents []AgentConfig `yaml:"agents"`
}

// ParseAgents decodes an agents YAML document. Defaults are applied and
// every entry is validated; IDs must be unique.
func ParseAgents(data []byte) ([]AgentConfig, error) {
	var f agentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents: %w", err)
	}

	seen := make(map[string]bool, len(f.Agents))
	out := make([]AgentConfig, 0, len(f.Agents))
	for i, a := range f.Agents {
		a = a.WithDefaults()
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("agent %d (%s): %w", i, a.ID, err)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("agent %d: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out, nil
}

// StaticConfigStore serves a fixed set of configurations.
type StaticConfigStore struct {
	mu     sync.RWMutex
	agents map[string]AgentConfig
}

// NewStaticConfigStore creates a store holding cfgs, with defaults applied.
func NewStaticConfigStore(cfgs ...AgentConfig) *StaticConfigStore {
	s := &StaticConfigStore{}
	s.replace(cfgs)
	return s
}

func (s *StaticConfigStore) replace(cfgs []AgentConfig) {
	agents := make(map[string]AgentConfig, len(cfgs))
	for _, c := range cfgs {
		agents[c.ID] = c.WithDefaults()
	}
	s.mu.Lock()
	s.agents = agents
	s.mu.Unlock()
}

// Get implements ConfigStore.
func (s *StaticConfigStore) Get(_ context.Context, agentID string) (AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.agents[agentID]
	if !ok {
		return AgentConfig{}, fmt.Errorf("agent %q: %w", agentID, ErrNotFound)
	}
	return c, nil
}

// List implements ConfigStore.
func (s *StaticConfigStore) List(context.Context) ([]AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.SortedFunc(maps.Values(s.agents), func(a, b AgentConfig) int {
		return cmp.Compare(a.ID, b.ID)
	}), nil
}

// FileConfigStore serves configurations from a YAML file.
type FileConfigStore struct {
	*StaticConfigStore
	path string
}

// NewFileConfigStore loads path.
func NewFileConfigStore(path string) (*FileConfigStore, error) {
	s := &FileConfigStore{StaticConfigStore: NewStaticConfigStore(), path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file. On error the previous configurations stay.
func (s *FileConfigStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read agents file: %w", err)
	}
	cfgs, err := ParseAgents(data)
	if err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	for i, c := range cfgs {
		if c.SettingsFile == "" {
			continue
		}
		path := c.SettingsFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(s.path), path)
		}
		file, err := config.FromFile(path)
		if err != nil {
			return fmt.Errorf("agent %s: %w", c.ID, err)
		}
		cfgs[i].Settings = file.With(c.Settings).Raw()
	}
	s.replace(cfgs)
	return nil
}

// CachedConfigStore caches lookups of another store for a TTL. Concurrent
// misses for the same agent share one backend call. Not-found results are
// not cached.
type CachedConfigStore struct {
	next ConfigStore
	ttl  time.Duration
	now  func() time.Time

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	cfg     AgentConfig
	expires time.Time
}

// DefaultCacheTTL is used when NewCachedConfigStore gets a non-positive TTL.
const DefaultCacheTTL = 5 * time.Minute

// NewCachedConfigStore wraps next.
func NewCachedConfigStore(next ConfigStore, ttl time.Duration) *CachedConfigStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedConfigStore{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get implements ConfigStore.
func (s *CachedConfigStore) Get(ctx context.Context, agentID string) (AgentConfig, error) {
	s.mu.RLock()
	e, ok := s.entries[agentID]
	s.mu.RUnlock()
	if ok && s.now().Before(e.expires) {
		return e.cfg, nil
	}

	v, err, _ := s.group.Do(agentID, func() (any, error) {
		cfg, err := s.next.Get(ctx, agentID)
		if err != nil {
			return AgentConfig{}, err
		}
		s.mu.Lock()
		s.entries[agentID] = cacheEntry{cfg: cfg, expires: s.now().Add(s.ttl)}
		s.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return AgentConfig{}, err
	}
	return v.(AgentConfig), nil
}

// List implements ConfigStore. It is not cached.
func (s *CachedConfigStore) List(ctx context.Context) ([]AgentConfig, error) {
	return s.next.List(ctx)
}

// Invalidate drops the cached entry for agentID, or all entries when
// agentID is empty.
func (s *CachedConfigStore) Invalidate(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agentID == "" {
		clear(s.entries)
		return
	}
	delete(s.entries, agentID)
}
