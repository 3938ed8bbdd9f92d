package introspect

import (
	"reflect"
	"strings"

	"github.com/fatih/camelcase"
	"github.com/hashicorp/go-multierror"
	"github.com/hatlonely/esmap/cache"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
)

var (
	indexableType        = reflect.TypeFor[meta.Indexable]()
	parentMarkerType     = reflect.TypeFor[meta.ParentMarker]()
	accessorProviderType = reflect.TypeFor[meta.AccessorProvider]()
)

// Introspector 解析类型上的标签，结果缓存在 cache 中
type Introspector struct {
	cache *cache.Cache
}

func New(c *cache.Cache) *Introspector {
	if c == nil {
		c = cache.New(nil)
	}
	return &Introspector{cache: c}
}

func (i *Introspector) Cache() *cache.Cache {
	return i.cache
}

// Inspect 解析可索引类型，没有 Indexable 标记时返回 meta.ErrNotIndexable
func (i *Introspector) Inspect(t reflect.Type) (*meta.TypeInfo, error) {
	ti, err := i.Structure(t)
	if err != nil {
		return nil, err
	}
	if ti.Descriptor == nil {
		return nil, errors.Wrapf(meta.ErrNotIndexable, "%s", ti.ID)
	}
	return ti, nil
}

// Structure 解析任意结构体类型的成员，不要求 Indexable 标记，用于 nested/object 的元素类型
func (i *Introspector) Structure(t reflect.Type) (*meta.TypeInfo, error) {
	t = Indirect(t)
	if t.Kind() != reflect.Struct {
		return nil, errors.Wrapf(meta.ErrNotIndexable, "%s is not a struct", t)
	}
	return cache.GetOrCompute(i.cache, cache.KeyOf(cache.KindTypeInfo, t), func() (*meta.TypeInfo, error) {
		return inspect(t)
	})
}

// TypeName 文档类型名，estype 未指定名字时取 Go 类型名的 lower_snake 形式
func (i *Introspector) TypeName(t reflect.Type) (string, error) {
	t = Indirect(t)
	return cache.GetOrCompute(i.cache, cache.KeyOf(cache.KindResolvedTypeName, t), func() (string, error) {
		ti, err := i.Structure(t)
		if err != nil {
			return "", err
		}
		if ti.Descriptor != nil && ti.Descriptor.Name != "" {
			return ti.Descriptor.Name, nil
		}
		return SnakeName(t.Name()), nil
	})
}

// Identity 返回标识成员，没有时返回 nil
func (i *Introspector) Identity(t reflect.Type) (*meta.Member, error) {
	ti, err := i.Inspect(t)
	if err != nil {
		return nil, err
	}
	kind := cache.KindIdentityMember
	if ti.Identity != nil && ti.Identity.IsAccessor() {
		kind = cache.KindIdentityMethod
	}
	if v, ok := i.cache.Get(cache.KeyOf(kind, t)); ok {
		return v.(*meta.Member), nil
	}
	if ti.Identity != nil {
		i.cache.Put(cache.KeyOf(kind, t), ti.Identity)
	}
	return ti.Identity, nil
}

// Invalidate 删除类型的内省结果
func (i *Introspector) Invalidate(t reflect.Type) {
	t = Indirect(t)
	for _, kind := range []cache.Kind{cache.KindTypeInfo, cache.KindResolvedTypeName, cache.KindIdentityMember, cache.KindIdentityMethod} {
		i.cache.Remove(cache.KeyOf(kind, t))
	}
}

func Indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// SnakeName TweetComment -> tweet_comment
func SnakeName(name string) string {
	if idx := strings.IndexByte(name, '['); idx >= 0 {
		name = name[:idx]
	}
	parts := camelcase.Split(name)
	for i := range parts {
		parts[i] = strings.ToLower(parts[i])
	}
	return strings.Join(parts, "_")
}

type builder struct {
	ti   *meta.TypeInfo
	errs *multierror.Error

	parentType reflect.Type
	parentPath string
}

func inspect(t reflect.Type) (*meta.TypeInfo, error) {
	b := &builder{ti: &meta.TypeInfo{Type: t, ID: meta.TypeID(t)}}
	b.walk(t, nil, map[reflect.Type]bool{t: true})
	b.accessors(t)

	if b.ti.Descriptor != nil {
		b.ti.Descriptor.ParentType = b.parentType
		b.ti.Descriptor.ParentPath = b.parentPath
	}

	b.ti.Members = dedupe(b.ti.Members)
	for _, m := range b.ti.Members {
		if m.ID == nil {
			continue
		}
		if b.ti.Identity != nil {
			b.errs = multierror.Append(b.errs, errors.Wrapf(meta.ErrAmbiguousIdentity,
				"%s: %s and %s", b.ti.ID, b.ti.Identity.GoName, m.GoName))
			continue
		}
		b.ti.Identity = m
	}

	if err := b.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return b.ti, nil
}

// walk 按声明顺序遍历字段，未打标签的匿名结构体就地展开
func (b *builder) walk(t reflect.Type, prefix []int, visiting map[reflect.Type]bool) {
	for idx := 0; idx < t.NumField(); idx++ {
		f := t.Field(idx)
		index := append(append([]int{}, prefix...), idx)
		where := t.Name() + "." + f.Name

		if f.Type == indexableType {
			if prefix == nil {
				b.typeDescriptor(t, f)
			}
			continue
		}
		if f.Type.Implements(parentMarkerType) {
			if prefix == nil {
				b.parentType = reflect.Zero(f.Type).Interface().(meta.ParentMarker).ParentType()
				b.parentPath = f.Tag.Get(tagParent)
			}
			continue
		}

		tags, err := collectTags(f.Tag)
		if err != nil {
			b.errs = multierror.Append(b.errs, errors.WithMessage(err, where))
			continue
		}

		if f.Anonymous && tags.empty() {
			et := Indirect(f.Type)
			if et.Kind() == reflect.Struct && !visiting[et] {
				visiting[et] = true
				b.walk(et, index, visiting)
				delete(visiting, et)
			}
			continue
		}
		if !f.IsExported() || tags.empty() {
			continue
		}

		m := &meta.Member{
			GoName:   f.Name,
			Index:    index,
			Type:     f.Type,
			JSONName: jsonName(f.Tag),
		}
		skip, err := parseMember(where, tags, m)
		if err != nil {
			b.errs = multierror.Append(b.errs, err)
			continue
		}
		if !skip {
			b.ti.Members = append(b.ti.Members, m)
		}
	}
}

func (b *builder) typeDescriptor(t reflect.Type, f reflect.StructField) {
	if b.ti.Descriptor != nil {
		b.errs = multierror.Append(b.errs, errors.Wrapf(meta.ErrInvalidTag, "%s: more than one Indexable marker", t.Name()))
		return
	}
	d, err := parseTypeDescriptor(t, f.Tag.Get(tagType))
	if err != nil {
		b.errs = multierror.Append(b.errs, err)
	}
	b.ti.Descriptor = d
}

// accessors 通过 meta.AccessorProvider 声明的方法成员
func (b *builder) accessors(t reflect.Type) {
	pt := reflect.PointerTo(t)
	if !pt.Implements(accessorProviderType) {
		return
	}
	provider := reflect.New(t).Interface().(meta.AccessorProvider)
	for _, a := range provider.ESAccessors() {
		where := t.Name() + "." + a.Method + "()"
		method, ok := pt.MethodByName(a.Method)
		if !ok || method.Type.NumIn() != 1 || method.Type.NumOut() != 1 {
			b.errs = multierror.Append(b.errs, errors.Wrapf(meta.ErrInvalidTag, "%s: accessor must be a method with no arguments and one result", where))
			continue
		}
		tags, err := collectTags(a.Tag)
		if err != nil {
			b.errs = multierror.Append(b.errs, errors.WithMessage(err, where))
			continue
		}
		if tags.empty() {
			continue
		}
		m := &meta.Member{
			GoName: a.Method,
			Method: a.Method,
			Type:   method.Type.Out(0),
		}
		skip, err := parseMember(where, tags, m)
		if err != nil {
			b.errs = multierror.Append(b.errs, err)
			continue
		}
		if !skip {
			b.ti.Members = append(b.ti.Members, m)
		}
	}
}

// parseMember 解析成员上的描述标签，名字为 "-" 时跳过该成员
func parseMember(where string, tags *memberTags, m *meta.Member) (bool, error) {
	n := 0
	for _, v := range []*string{tags.field, tags.object, tags.multi} {
		if v != nil {
			n++
		}
	}
	if n > 1 {
		return false, errors.Wrapf(meta.ErrInvalidTag, "%s: %s, %s and %s are mutually exclusive", where, tagField, tagObject, tagMulti)
	}
	if tags.raw != nil && tags.field == nil {
		return false, errors.Wrapf(meta.ErrInvalidTag, "%s: %s requires %s", where, tagRaw, tagField)
	}
	if len(tags.subs) > 0 && tags.multi == nil {
		return false, errors.Wrapf(meta.ErrInvalidTag, "%s: %s requires %s", where, tagSub, tagMulti)
	}

	switch {
	case tags.field != nil:
		r := newOptionReader(where, *tags.field, true)
		if r.name == "-" {
			return true, nil
		}
		fd, err := parseFieldDescriptor(r.name, r)
		if err != nil {
			return false, err
		}
		if tags.raw != nil {
			if fd.RawMapping, err = parseRawMapping(where, *tags.raw); err != nil {
				return false, err
			}
		}
		m.Field = fd
	case tags.object != nil:
		cd, err := parseComponentDescriptor(where, *tags.object)
		if err != nil {
			return false, err
		}
		if cd.Name == "-" {
			return true, nil
		}
		m.Component = cd
	case tags.multi != nil:
		if name, _, _ := strings.Cut(*tags.multi, ","); strings.TrimSpace(name) == "-" {
			return true, nil
		}
		md, err := parseMultiFieldDescriptor(where, *tags.multi, m.Name(), tags.subs)
		if err != nil {
			return false, err
		}
		m.Multi = md
	}

	if tags.id != nil {
		id, err := parseIDDescriptor(where, *tags.id)
		if err != nil {
			return false, err
		}
		m.ID = id
	}
	return false, nil
}

func jsonName(tag reflect.StructTag) string {
	name, _, _ := strings.Cut(tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// dedupe 同名成员保留嵌套层级最浅的一个，与 Go 的字段提升规则一致
func dedupe(members []*meta.Member) []*meta.Member {
	depth := map[string]int{}
	for _, m := range members {
		d := len(m.Index)
		if old, ok := depth[m.Name()]; !ok || d < old {
			depth[m.Name()] = d
		}
	}
	var result []*meta.Member
	seen := map[string]bool{}
	for _, m := range members {
		name := m.Name()
		if len(m.Index) != depth[name] || seen[name] {
			continue
		}
		seen[name] = true
		result = append(result, m)
	}
	return result
}
