package meta

import (
	"reflect"
	"strings"
)

// Indexable 类型级标记，以 `_ meta.Indexable` 的形式声明，标签 estype 描述类型选项
type Indexable struct{}

// Parent 父类型标记，以 `_ meta.Parent[P]` 的形式声明，标签 esparent 给出父 id 的路径
type Parent[P any] struct{}

func (Parent[P]) ParentType() reflect.Type {
	return reflect.TypeFor[P]()
}

// ParentMarker 由 Parent[P] 实现
type ParentMarker interface {
	ParentType() reflect.Type
}

// RawJSON 原样嵌入文档的 JSON 片段
type RawJSON string

// Accessor 以无参方法作为文档成员，只参与序列化
type Accessor struct {
	Method string
	Tag    reflect.StructTag
}

// AccessorProvider 类型通过实现该接口声明访问器成员
type AccessorProvider interface {
	ESAccessors() []Accessor
}

// Member 文档成员，字段或访问器
type Member struct {
	GoName string
	// Index 字段在结构体中的索引路径，访问器为 nil
	Index []int
	// Method 访问器方法名，字段为空
	Method string
	Type   reflect.Type
	// JSONName json 标签中的名字，作为默认文档名
	JSONName string

	Field     *FieldDescriptor
	Component *ComponentDescriptor
	Multi     *MultiFieldDescriptor
	ID        *IDDescriptor
}

func (m *Member) IsAccessor() bool {
	return m.Method != ""
}

// IsMapped 是否携带 es/esobj/esmulti 之一
func (m *Member) IsMapped() bool {
	return m.Field != nil || m.Component != nil || m.Multi != nil
}

// Name 文档中的字段名
func (m *Member) Name() string {
	switch {
	case m.Component != nil && m.Component.Name != "":
		return m.Component.Name
	case m.Multi != nil && m.Multi.Name != "":
		return m.Multi.Name
	case m.Field != nil && m.Field.Name != "":
		return m.Field.Name
	case m.JSONName != "":
		return m.JSONName
	}
	return DefaultName(m.GoName)
}

// Value 从结构体值中取出成员的值，嵌入的指针为 nil 时返回 false
func (m *Member) Value(v reflect.Value) (reflect.Value, bool) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	if m.IsAccessor() {
		return callAccessor(v, m.Method)
	}
	for i, x := range m.Index {
		if i > 0 {
			if v.Kind() == reflect.Pointer {
				if v.IsNil() {
					return reflect.Value{}, false
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v, true
}

func callAccessor(v reflect.Value, name string) (reflect.Value, bool) {
	method := v.MethodByName(name)
	if !method.IsValid() {
		if !v.CanAddr() {
			p := reflect.New(v.Type())
			p.Elem().Set(v)
			v = p.Elem()
		}
		method = v.Addr().MethodByName(name)
	}
	if !method.IsValid() || method.Type().NumIn() != 0 || method.Type().NumOut() == 0 {
		return reflect.Value{}, false
	}
	return method.Call(nil)[0], true
}

// TypeInfo 类型内省的结果
type TypeInfo struct {
	Type       reflect.Type
	ID         string
	Descriptor *TypeDescriptor
	// Members 按声明顺序排列，嵌入结构体的成员就地展开
	Members []*Member
	// Identity 标识成员，没有时为 nil
	Identity *Member
}

// Lookup 按 Go 名字或文档名查找成员
func (ti *TypeInfo) Lookup(name string) *Member {
	for _, m := range ti.Members {
		if m.GoName == name {
			return m
		}
	}
	for _, m := range ti.Members {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

// Mapped 返回参与映射的成员
func (ti *TypeInfo) Mapped() []*Member {
	var members []*Member
	for _, m := range ti.Members {
		if m.IsMapped() {
			members = append(members, m)
		}
	}
	return members
}

// TypeID 类型标识 pkgpath.Name，用于日志和错误信息，指针取其元素类型
func TypeID(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// DefaultName Go 名字转文档名：全大写时整体小写，否则首字母小写
func DefaultName(goName string) string {
	if goName == "" {
		return ""
	}
	if strings.ToUpper(goName) == goName {
		return strings.ToLower(goName)
	}
	return strings.ToLower(goName[:1]) + goName[1:]
}
