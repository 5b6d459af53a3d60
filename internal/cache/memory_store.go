package cache

import (
	"context"
	"sort"
	"sync"
)

func init() {
	MustRegisterDriver(Driver{
		Name:        "memory",
		Description: "process-local regions, lost on restart",
		Open: func(context.Context, Options) (Store, error) {
			return NewMemoryStore(), nil
		},
	})
}

// NewMemoryStore 返回进程内存实现，主要用于测试与临时运行。
func NewMemoryStore() Store {
	return &memoryStore{regions: make(map[string]*memoryRegion)}
}

type memoryStore struct {
	mu      sync.RWMutex
	regions map[string]*memoryRegion
	order   []string
}

type memoryRegion struct {
	entries map[string]*Response
}

func (s *memoryStore) Open(ctx context.Context, name string) (*Region, error) {
	if err := validateRegionName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[name]; !ok {
		s.regions[name] = &memoryRegion{entries: make(map[string]*Response)}
		s.order = append(s.order, name)
	}
	return NewRegion(s, name), nil
}

func (s *memoryStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *memoryStore) Remove(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[name]; !ok {
		return false, nil
	}
	delete(s.regions, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *memoryStore) Get(ctx context.Context, region, key string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[region]
	if !ok {
		return nil, ErrRegionNotFound
	}
	resp, ok := r.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return resp.Clone(), nil
}

func (s *memoryStore) Put(ctx context.Context, region, key string, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[region]
	if !ok {
		return ErrRegionNotFound
	}
	r.entries[key] = resp.Clone()
	return nil
}

func (s *memoryStore) Entries(ctx context.Context, region string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[region]
	if !ok {
		return nil, ErrRegionNotFound
	}
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memoryStore) Close() error {
	return nil
}
