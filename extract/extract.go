// Package extract 从文档对象上取出 id、路由键和父文档 id
package extract

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/hatlonely/esmap/cache"
	"github.com/hatlonely/esmap/introspect"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
)

// Extractor 路径在每个类型上只解析一次
type Extractor struct {
	introspector *introspect.Introspector
	cache        *cache.Cache
}

func New(in *introspect.Introspector) *Extractor {
	if in == nil {
		in = introspect.New(nil)
	}
	return &Extractor{introspector: in, cache: in.Cache()}
}

// ID 标识成员的值，类型没有标识或值为 nil 时返回 meta.ErrMissingIdentity
func (e *Extractor) ID(v any) (any, error) {
	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return nil, errors.Wrap(meta.ErrMissingIdentity, "nil value")
	}
	m, err := e.introspector.Identity(rv.Type())
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.Wrapf(meta.ErrMissingIdentity, "%s has no identity member", meta.TypeID(rv.Type()))
	}
	val, ok := m.Value(rv)
	if ok {
		val, ok = indirect(val)
	}
	if !ok {
		return nil, errors.Wrapf(meta.ErrMissingIdentity, "%s.%s is nil", rv.Type().Name(), m.GoName)
	}
	return val.Interface(), nil
}

// IDString 标识的字符串形式
func (e *Extractor) IDString(v any) (string, error) {
	id, err := e.ID(v)
	if err != nil {
		return "", err
	}
	return Stringify(id), nil
}

// Routing 按 routing_path 取路由键，没有声明路径或路径上有 nil 时返回 false
func (e *Extractor) Routing(v any) (string, bool, error) {
	return e.extract(v, cache.KindRoutingPath, func(d *meta.TypeDescriptor) string {
		return d.RoutingPath
	})
}

// Parent 按父类型标记上的路径取父文档 id
func (e *Extractor) Parent(v any) (string, bool, error) {
	return e.extract(v, cache.KindParentPath, func(d *meta.TypeDescriptor) string {
		if !d.HasParent() {
			return ""
		}
		return d.ParentPath
	})
}

// Invalidate 删除类型的路径缓存
func (e *Extractor) Invalidate(t reflect.Type) {
	e.cache.Remove(cache.KeyOf(cache.KindRoutingPath, t))
	e.cache.Remove(cache.KeyOf(cache.KindParentPath, t))
}

func (e *Extractor) extract(v any, kind cache.Kind, path func(*meta.TypeDescriptor) string) (string, bool, error) {
	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return "", false, nil
	}
	t := rv.Type()
	p, err := cache.GetOrCompute(e.cache, cache.KeyOf(kind, t), func() (*Path, error) {
		ti, err := e.introspector.Inspect(t)
		if err != nil {
			return nil, err
		}
		return e.Resolve(t, path(ti.Descriptor))
	})
	if err != nil {
		return "", false, err
	}

	val, ok := p.Value(rv)
	if !ok {
		return "", false, nil
	}
	return Stringify(val.Interface()), true, nil
}

type step struct {
	name   string
	member *meta.Member
	index  []int
}

// Path 解析后的点分路径，空路径不产生值
type Path struct {
	raw   string
	steps []step
}

func (p *Path) String() string {
	return p.raw
}

func (p *Path) Empty() bool {
	return len(p.steps) == 0
}

// Resolve 把点分路径解析成成员序列，段名可以是 Go 字段名或文档名
func (e *Extractor) Resolve(t reflect.Type, path string) (*Path, error) {
	p := &Path{raw: path}
	if path == "" {
		return p, nil
	}
	cur := introspect.Indirect(t)
	for _, seg := range strings.Split(path, ".") {
		if cur.Kind() != reflect.Struct {
			return nil, errors.Wrapf(meta.ErrInvalidTag, "path %q: %s is not a struct", path, cur)
		}
		ti, err := e.introspector.Structure(cur)
		if err != nil {
			return nil, errors.WithMessagef(err, "path %q", path)
		}
		if m := ti.Lookup(seg); m != nil {
			p.steps = append(p.steps, step{name: seg, member: m})
			cur = introspect.Indirect(m.Type)
			continue
		}
		f, ok := cur.FieldByName(seg)
		if !ok || !f.IsExported() {
			return nil, errors.Wrapf(meta.ErrInvalidTag, "path %q: %s has no member %q", path, cur.Name(), seg)
		}
		p.steps = append(p.steps, step{name: seg, index: f.Index})
		cur = introspect.Indirect(f.Type)
	}
	return p, nil
}

// Value 沿路径取值，途经 nil 时返回 false
func (p *Path) Value(v reflect.Value) (reflect.Value, bool) {
	if p.Empty() {
		return reflect.Value{}, false
	}
	for _, s := range p.steps {
		var ok bool
		if v, ok = indirect(v); !ok {
			return reflect.Value{}, false
		}
		if s.member != nil {
			if v, ok = s.member.Value(v); !ok {
				return reflect.Value{}, false
			}
			continue
		}
		if v, ok = fieldByIndex(v, s.index); !ok {
			return reflect.Value{}, false
		}
	}
	return indirect(v)
}

func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 {
			var ok bool
			if v, ok = indirect(v); !ok {
				return reflect.Value{}, false
			}
		}
		v = v.Field(x)
	}
	return v, true
}

func indirect(v reflect.Value) (reflect.Value, bool) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

// Stringify 标识、路由键和父 id 在请求中的字符串形式
func Stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}
