package aiproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/estrateo/estrateo/pkg/logger"
)

const (
	cacheFile = "cache.json"
	usageFile = "usage.json"
)

// Persister periodically dumps the memory cache and usage counters to disk
// and reloads them on start.
type Persister struct {
	cache    *MemoryCache
	usage    *Usage
	dir      string
	schedule string
	log      *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewPersister validates the schedule. cache may be nil when responses live
// in Redis; usage is always persisted.
func NewPersister(cache *MemoryCache, usage *Usage, dir, schedule string, log *logger.Logger) (*Persister, error) {
	if log == nil {
		log = logger.NewDefault("aiproxy-persister")
	}
	if dir == "" {
		return nil, fmt.Errorf("persister needs a data directory")
	}
	if schedule == "" {
		schedule = "@every 5m"
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid persist schedule %q: %w", schedule, err)
	}
	return &Persister{cache: cache, usage: usage, dir: dir, schedule: schedule, log: log}, nil
}

func (p *Persister) Name() string { return "aiproxy-persister" }

// Start reloads saved state and schedules periodic dumps.
func (p *Persister) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}
	if err := p.Load(); err != nil {
		p.log.WithError(err).Warn("could not reload saved proxy state")
	}
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() {
		if err := p.Save(); err != nil {
			p.log.WithError(err).Error("persist proxy state")
		}
	}); err != nil {
		return err
	}
	c.Start()
	p.cron = c
	return nil
}

// Stop halts the schedule and writes a final dump.
func (p *Persister) Stop(ctx context.Context) error {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.Save()
}

// Save writes the cache snapshot and usage counters.
func (p *Persister) Save() error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return err
	}
	if p.cache != nil {
		if err := writeJSON(filepath.Join(p.dir, cacheFile), p.cache.Snapshot()); err != nil {
			return err
		}
	}
	if p.usage != nil {
		if err := writeJSON(filepath.Join(p.dir, usageFile), p.usage.Snapshot()); err != nil {
			return err
		}
	}
	return nil
}

// Load restores whatever state files exist. Missing files are not an error.
func (p *Persister) Load() error {
	if p.cache != nil {
		var entries []CacheEntry
		found, err := readJSON(filepath.Join(p.dir, cacheFile), &entries)
		if err != nil {
			return err
		}
		if found {
			n := p.cache.Restore(entries)
			p.log.WithField("entries", n).Info("restored response cache")
		}
	}
	if p.usage != nil {
		var snap UsageSnapshot
		found, err := readJSON(filepath.Join(p.dir, usageFile), &snap)
		if err != nil {
			return err
		}
		if found {
			p.usage.Restore(snap)
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
