package codec

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// Registry 标签中声明的编解码器名字到实现的映射
type Registry struct {
	serializers   sync.Map
	deserializers sync.Map
}

// RawCodecName 内置的原始 JSON 编解码器
const RawCodecName = "raw"

func NewRegistry() *Registry {
	r := &Registry{}
	r.MustRegister(RawCodecName, RawCodec{})
	return r
}

// isSame 同一个实现重复注册不报错，函数比较指针，其它可比较的值直接比较
func isSame(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	if va.Kind() == reflect.Func {
		return va.Pointer() == vb.Pointer()
	}
	if va.Type().Comparable() {
		return a == b
	}
	return false
}

func store(m *sync.Map, kind string, name string, impl any) error {
	if name == "" {
		return errors.Errorf("%s name cannot be empty", kind)
	}
	if existing, loaded := m.LoadOrStore(name, impl); loaded && !isSame(existing, impl) {
		return errors.Errorf("%s %q already registered with different implementation", kind, name)
	}
	return nil
}

func (r *Registry) RegisterSerializer(name string, s Serializer) error {
	return store(&r.serializers, "serializer", name, s)
}

func (r *Registry) RegisterDeserializer(name string, d Deserializer) error {
	return store(&r.deserializers, "deserializer", name, d)
}

// Register 注册实现了 Serializer 或 Deserializer 的 impl
func (r *Registry) Register(name string, impl any) error {
	s, isSerializer := impl.(Serializer)
	d, isDeserializer := impl.(Deserializer)
	if !isSerializer && !isDeserializer {
		return errors.Errorf("%T implements neither Serializer nor Deserializer", impl)
	}
	if isSerializer {
		if err := r.RegisterSerializer(name, s); err != nil {
			return err
		}
	}
	if isDeserializer {
		if err := r.RegisterDeserializer(name, d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) MustRegister(name string, impl any) {
	if err := r.Register(name, impl); err != nil {
		panic(err)
	}
}

func (r *Registry) Serializer(name string) (Serializer, bool) {
	v, ok := r.serializers.Load(name)
	if !ok {
		return nil, false
	}
	return v.(Serializer), true
}

func (r *Registry) Deserializer(name string) (Deserializer, bool) {
	v, ok := r.deserializers.Load(name)
	if !ok {
		return nil, false
	}
	return v.(Deserializer), true
}
