package cache

import (
	"context"
	"sync"
)

type SyncMapStore[K comparable, V any] struct {
	m sync.Map
}

func NewSyncMapStore[K comparable, V any]() *SyncMapStore[K, V] {
	return &SyncMapStore[K, V]{}
}

func (s *SyncMapStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.IfNotExist {
		_, loaded := s.m.LoadOrStore(key, value)
		if loaded {
			return ErrConditionFailed
		}
		return nil
	}

	s.m.Store(key, value)
	return nil
}

func (s *SyncMapStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	value, ok := s.m.Load(key)
	if !ok {
		var zero V
		return zero, ErrKeyNotFound
	}
	return value.(V), nil
}

func (s *SyncMapStore[K, V]) Del(ctx context.Context, key K) error {
	s.m.Delete(key)
	return nil
}

func (s *SyncMapStore[K, V]) Range(ctx context.Context, fn func(key K, value V) bool) error {
	s.m.Range(func(key, value any) bool {
		return fn(key.(K), value.(V))
	})
	return nil
}

func (s *SyncMapStore[K, V]) Close() error {
	s.m.Clear()
	return nil
}
