package cache

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hatlonely/esmap/log/logger"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// Kind 缓存分类
type Kind string

const (
	KindCompiledMapping  Kind = "compiled-mapping"
	KindIdentityMember   Kind = "identity-member"
	KindIdentityMethod   Kind = "identity-method"
	KindResolvedTypeName Kind = "resolved-type-name"
	KindRoutingPath      Kind = "routing-path"
	KindParentPath       Kind = "parent-path"
	KindTypeInfo         Kind = "type-info"
	KindCodecPolicy      Kind = "codec-policy"
	KindMappingPushed    Kind = "mapping-pushed"
)

// Key 缓存键，Type 为类型本身，同名的不同类型不会共用条目；ID 用于附加区分或非类型的键
type Key struct {
	Kind Kind
	Type reflect.Type
	ID   string
}

func (k Key) String() string {
	if k.Type == nil {
		return string(k.Kind) + ":" + k.ID
	}
	s := string(k.Kind) + ":" + meta.TypeID(k.Type)
	if k.ID != "" {
		s += "@" + k.ID
	}
	return s
}

// flight singleflight 的键，带上类型地址区分同名类型
func (k Key) flight() string {
	if k.Type == nil {
		return k.String()
	}
	return fmt.Sprintf("%s#%p", k, k.Type)
}

// KeyOf 以类型构造缓存键，指针类型取元素类型
func KeyOf(kind Kind, t reflect.Type) Key {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return Key{Kind: kind, Type: t}
}

type Options struct {
	// Observable 为空时直接使用 SyncMapStore
	Observable *ObservableStoreOptions `cfg:"observable"`
}

// Cache 进程内的映射与路径缓存，只在显式 Remove 时失效
type Cache struct {
	store Store[Key, any]
	group singleflight.Group
}

func New(store Store[Key, any]) *Cache {
	if store == nil {
		store = NewSyncMapStore[Key, any]()
	}
	return &Cache{store: store}
}

// NewWithOptions 按配置构造缓存，registerer 和 l 可以为 nil
func NewWithOptions(options *Options, registerer prometheus.Registerer, l logger.Logger) (*Cache, error) {
	var store Store[Key, any] = NewSyncMapStore[Key, any]()
	if options != nil && options.Observable != nil {
		obs, err := NewObservableStore(store, options.Observable, registerer, l)
		if err != nil {
			return nil, errors.WithMessage(err, "NewObservableStore failed")
		}
		store = obs
	}
	return New(store), nil
}

func (c *Cache) Has(key Key) bool {
	_, ok := c.Get(key)
	return ok
}

// Get 未命中时返回 (nil, false)
func (c *Cache) Get(key Key) (any, bool) {
	v, err := c.store.Get(context.Background(), key)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (c *Cache) Put(key Key, value any) {
	_ = c.store.Set(context.Background(), key, value)
}

// PutIfAbsent 键不存在时写入，返回是否写入
func (c *Cache) PutIfAbsent(key Key, value any) bool {
	return c.store.Set(context.Background(), key, value, WithIfNotExist()) == nil
}

func (c *Cache) Remove(key Key) {
	_ = c.store.Del(context.Background(), key)
}

// Range 遍历缓存条目，fn 返回 false 时停止
func (c *Cache) Range(fn func(key Key, value any) bool) {
	_ = c.store.Range(context.Background(), fn)
}

func (c *Cache) Close() error {
	return c.store.Close()
}

// GetOrCompute 命中时直接返回，否则计算并写入；同一个键的并发计算会合并，错误不缓存
func GetOrCompute[V any](c *Cache, key Key, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v.(V), nil
	}

	v, err, _ := c.group.Do(key.flight(), func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			return nil, err
		}
		// 只在不存在时写入，已有的条目优先
		if !c.PutIfAbsent(key, v) {
			if cur, ok := c.Get(key); ok {
				return cur, nil
			}
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}
