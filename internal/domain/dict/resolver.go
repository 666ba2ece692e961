package dict

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
)

// Item is one code/display-name pair of a dictionary field.
type Item struct {
	Value string `json:"dictItemValue"`
	Name  string `json:"dictItemName"`
}

// Field is a named dictionary (order status, order type, ...).
type Field struct {
	Field string `json:"field"`
	Items []Item `json:"dictItems"`
}

type Source interface {
	DictFields(ctx context.Context) ([]Field, error)
}

// Map resolves codes case-insensitively.
type Map map[string]string

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// NewMap keeps the first item of every code; blank names fall back to the code.
func NewMap(items []Item) Map {
	m := make(Map, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Value) == "" {
			continue
		}
		k := fold(it.Value)
		if _, ok := m[k]; ok {
			continue
		}
		name := it.Name
		if strings.TrimSpace(name) == "" {
			name = it.Value
		}
		m[k] = name
	}
	return m
}

func (m Map) Lookup(code string) (string, bool) {
	name, ok := m[fold(code)]
	return name, ok
}

// Resolver loads each dictionary once per session. Concurrent loads of the
// same domain share one backend call; failures are not memoized.
type Resolver struct {
	src Source
	log *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	maps  map[string]Map
}

func NewResolver(src Source, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Resolver{src: src, log: log, maps: map[string]Map{}}
}

// Load returns a copy of the dictionary of domain; writes to it do not reach
// the memoized one.
func (r *Resolver) Load(ctx context.Context, domain string) (Map, error) {
	m, err := r.load(ctx, domain)
	if err != nil {
		return nil, err
	}
	return maps.Clone(m), nil
}

// load returns the shared memoized map. Callers must only read it.
func (r *Resolver) load(ctx context.Context, domain string) (Map, error) {
	key := fold(domain)
	r.mu.RLock()
	m, ok := r.maps[key]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		fields, err := r.src.DictFields(ctx)
		if err != nil {
			return nil, fmt.Errorf("load dictionary %s: %w", domain, err)
		}
		var items []Item
		for _, f := range fields {
			if fold(f.Field) == key {
				items = f.Items
				break
			}
		}
		m := NewMap(items)
		r.mu.Lock()
		r.maps[key] = m
		r.mu.Unlock()
		r.log.Debug("dictionary loaded", "domain", domain, "entries", len(m))
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Map), nil
}

// Name returns the display name of code, or code itself when the dictionary
// is unavailable or has no entry.
func (r *Resolver) Name(ctx context.Context, domain, code string) string {
	m, err := r.load(ctx, domain)
	if err != nil {
		r.log.Warn("dictionary unavailable", "domain", domain, "err", err)
		return code
	}
	if name, ok := m.Lookup(code); ok {
		return name
	}
	return code
}

// Reset drops memoized dictionaries, e.g. when a new order session starts.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.maps = map[string]Map{}
	r.mu.Unlock()
}
