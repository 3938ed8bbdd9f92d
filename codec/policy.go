package codec

import (
	"reflect"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hatlonely/esmap/cache"
	"github.com/hatlonely/esmap/introspect"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
)

type Options struct {
	// DefaultInclude 成员和类型都没有声明 json_include 时的包含策略
	DefaultInclude string `cfg:"defaultInclude" def:"non_empty" validate:"omitempty,oneof=always non_null non_empty non_default"`
	// TimeZone 日期格式化使用的时区
	TimeZone string `cfg:"timeZone" def:"UTC"`
}

// MemberPolicy 成员的编解码配置
type MemberPolicy struct {
	Member *meta.Member
	Name   string

	// Serializer 为 nil 时使用默认的 JSON 编码，组件成员递归编码
	Serializer Serializer
	// NullSerializer 成员值为 nil 时使用，只有自定义的序列化器会处理 nil
	NullSerializer Serializer
	Deserializer   Deserializer
	Include        meta.JSONInclude

	// PerElement 编解码器作用于容器的每个元素而不是整个值
	PerElement bool
	// Component 需要递归编解码的元素类型
	Component reflect.Type
}

// TypePolicy 类型的编解码配置
type TypePolicy struct {
	Type         reflect.Type
	Serializer   Serializer
	Deserializer Deserializer
	Members      []*MemberPolicy
}

// Policy 按成员上的描述生成编解码配置，结果按类型缓存
type Policy struct {
	introspector   *introspect.Introspector
	cache          *cache.Cache
	registry       *Registry
	defaultInclude meta.JSONInclude
	location       *time.Location
}

func NewPolicy(in *introspect.Introspector, registry *Registry, options *Options) (*Policy, error) {
	if in == nil {
		in = introspect.New(nil)
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if options == nil {
		options = &Options{}
	}

	include := meta.IncludeNonEmpty
	if options.DefaultInclude != "" {
		var err error
		if include, err = meta.ParseJSONInclude(options.DefaultInclude); err != nil {
			return nil, errors.WithMessage(err, "invalid defaultInclude")
		}
	}
	loc := time.UTC
	if options.TimeZone != "" {
		var err error
		if loc, err = time.LoadLocation(options.TimeZone); err != nil {
			return nil, errors.Wrapf(err, "time.LoadLocation [%s] failed", options.TimeZone)
		}
	}

	return &Policy{
		introspector:   in,
		cache:          in.Cache(),
		registry:       registry,
		defaultInclude: include,
		location:       loc,
	}, nil
}

func (p *Policy) Registry() *Registry {
	return p.registry
}

// Type 返回结构体类型的编解码配置
func (p *Policy) Type(t reflect.Type) (*TypePolicy, error) {
	t = introspect.Indirect(t)
	return cache.GetOrCompute(p.cache, cache.KeyOf(cache.KindCodecPolicy, t), func() (*TypePolicy, error) {
		ti, err := p.introspector.Structure(t)
		if err != nil {
			return nil, err
		}
		tp := &TypePolicy{Type: t}
		if tp.Serializer, tp.Deserializer, err = p.typeCodec(ti); err != nil {
			return nil, err
		}

		var errs *multierror.Error
		for _, m := range ti.Members {
			mp, err := p.For(ti, m)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			tp.Members = append(tp.Members, mp)
		}
		if err := errs.ErrorOrNil(); err != nil {
			return nil, err
		}
		return tp, nil
	})
}

// Validate 解析类型所有成员的编解码器，声明冲突或名字未注册时返回错误
func (p *Policy) Validate(t reflect.Type) error {
	_, err := p.Type(t)
	return err
}

// Invalidate 删除类型的编解码配置
func (p *Policy) Invalidate(t reflect.Type) {
	p.cache.Remove(cache.KeyOf(cache.KindCodecPolicy, t))
}

// For 计算 owner 中成员 m 的编解码配置
func (p *Policy) For(owner *meta.TypeInfo, m *meta.Member) (*MemberPolicy, error) {
	where := owner.Type.Name() + "." + m.GoName
	mp := &MemberPolicy{
		Member:  m,
		Name:    m.Name(),
		Include: p.include(owner, m),
	}
	elem := introspect.ElemType(m.Type)
	container := introspect.IsContainer(m.Type)

	serName, deserName, err := declaredCodecs(m)
	if err != nil {
		return nil, errors.WithMessage(err, where)
	}
	if serName != "" {
		if mp.Serializer, err = p.serializer(where, serName); err != nil {
			return nil, err
		}
		mp.NullSerializer = mp.Serializer
	}
	if deserName != "" {
		if mp.Deserializer, err = p.deserializer(where, deserName); err != nil {
			return nil, err
		}
	}
	// 容器成员的编解码器都作用在元素上
	defer func() {
		mp.PerElement = container && (mp.Serializer != nil || mp.Deserializer != nil)
	}()
	if mp.Serializer != nil && mp.Deserializer != nil {
		return mp, nil
	}

	// 元素类型上声明的类型级编解码器
	if elem.Kind() == reflect.Struct && !introspect.IsDateType(elem) {
		ti, err := p.introspector.Structure(elem)
		if err != nil {
			return nil, errors.WithMessage(err, where)
		}
		ser, deser, err := p.typeCodec(ti)
		if err != nil {
			return nil, errors.WithMessage(err, where)
		}
		if mp.Serializer == nil && ser != nil {
			mp.Serializer, mp.NullSerializer = ser, ser
		}
		if mp.Deserializer == nil && deser != nil {
			mp.Deserializer = deser
		}
	}

	builtin, err := p.builtin(m, elem)
	if err != nil {
		return nil, errors.WithMessage(err, where)
	}
	if builtin != nil {
		if mp.Serializer == nil {
			mp.Serializer = builtin
		}
		if mp.Deserializer == nil {
			mp.Deserializer = builtin
		}
	}

	if m.Component != nil && mp.Serializer == nil && mp.Deserializer == nil && elem.Kind() == reflect.Struct {
		mp.Component = elem
	}
	return mp, nil
}

// declaredCodecs 成员上声明的编解码器名字：组件 > 字段 > 多字段
func declaredCodecs(m *meta.Member) (string, string, error) {
	switch {
	case m.Component != nil:
		return m.Component.Serializer, m.Component.Deserializer, nil
	case m.Field != nil:
		return m.Field.Serializer, m.Field.Deserializer, nil
	case m.Multi != nil:
		return m.Multi.Codecs()
	}
	return "", "", nil
}

// builtin 日期字段声明了 format 时使用日期编解码器，json 类型使用原始 JSON 编解码器
func (p *Policy) builtin(m *meta.Member, elem reflect.Type) (Codec, error) {
	var format string
	var fieldType meta.FieldType
	switch {
	case m.Field != nil:
		format, fieldType = m.Field.Format, m.Field.Type
	case m.Multi != nil:
		fieldType = m.Multi.Type
		if primary := m.Multi.Primary(); primary != nil {
			format = primary.Format
		}
	}

	switch {
	case introspect.IsDateType(elem) && format != "":
		return NewDateCodec(format, p.location)
	case fieldType == meta.TypeJSON || introspect.IsRawJSONType(elem):
		return RawCodec{}, nil
	}
	return nil, nil
}

func (p *Policy) typeCodec(ti *meta.TypeInfo) (Serializer, Deserializer, error) {
	d := ti.Descriptor
	if d == nil {
		return nil, nil, nil
	}
	var ser Serializer
	var deser Deserializer
	var err error
	if d.Serializer != "" {
		if ser, err = p.serializer(ti.Type.Name(), d.Serializer); err != nil {
			return nil, nil, err
		}
	}
	if d.Deserializer != "" {
		if deser, err = p.deserializer(ti.Type.Name(), d.Deserializer); err != nil {
			return nil, nil, err
		}
	}
	return ser, deser, nil
}

func (p *Policy) serializer(where string, name string) (Serializer, error) {
	s, ok := p.registry.Serializer(name)
	if !ok {
		return nil, errors.Wrapf(meta.ErrInvalidTag, "%s: unknown serializer %q", where, name)
	}
	return s, nil
}

func (p *Policy) deserializer(where string, name string) (Deserializer, error) {
	d, ok := p.registry.Deserializer(name)
	if !ok {
		return nil, errors.Wrapf(meta.ErrInvalidTag, "%s: unknown deserializer %q", where, name)
	}
	return d, nil
}

// include 字段 > 组件 > 多字段 > 所属类型 > 默认
func (p *Policy) include(owner *meta.TypeInfo, m *meta.Member) meta.JSONInclude {
	switch {
	case m.Field != nil && m.Field.JSONInclude != "":
		return m.Field.JSONInclude
	case m.Component != nil && m.Component.JSONInclude != "":
		return m.Component.JSONInclude
	case m.Multi != nil && m.Multi.JSONInclude != "":
		return m.Multi.JSONInclude
	case m.Multi != nil && m.Multi.Primary() != nil && m.Multi.Primary().JSONInclude != "":
		return m.Multi.Primary().JSONInclude
	case owner.Descriptor != nil && owner.Descriptor.JSONInclude != "":
		return owner.Descriptor.JSONInclude
	}
	return p.defaultInclude
}
