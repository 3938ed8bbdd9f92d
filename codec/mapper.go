package codec

import (
	"bytes"
	"encoding/json"
	"reflect"
	"time"

	"github.com/hatlonely/esmap/introspect"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
)

// Mapper 按 Policy 在结构体和文档 JSON 之间转换
type Mapper struct {
	policy *Policy
}

func NewMapper(policy *Policy) *Mapper {
	return &Mapper{policy: policy}
}

func (m *Mapper) Policy() *Policy {
	return m.policy
}

// Marshal 把 v 编码成文档，访问器成员只参与编码
func (m *Mapper) Marshal(v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return []byte("null"), nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return []byte("null"), nil
	}
	if rv.Kind() != reflect.Struct {
		return marshalJSON(rv.Interface())
	}

	var buf bytes.Buffer
	if err := m.encodeStruct(&buf, rv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal 把文档解码到 v 指向的结构体，文档中多余的属性被忽略
func (m *Mapper) Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.Errorf("Unmarshal requires a non-nil pointer, got %T", v)
	}
	return m.decodeValue(data, rv.Elem())
}

func (m *Mapper) encodeStruct(buf *bytes.Buffer, rv reflect.Value) error {
	tp, err := m.policy.Type(rv.Type())
	if err != nil {
		return err
	}
	if tp.Serializer != nil {
		return write(buf, tp.Serializer, rv.Interface())
	}

	buf.WriteByte('{')
	first := true
	for _, mp := range tp.Members {
		val, ok := mp.Member.Value(rv)
		if !include(mp.Include, val, ok) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		name, _ := json.Marshal(mp.Name)
		buf.Write(name)
		buf.WriteByte(':')
		if err := m.encodeMember(buf, mp, val, ok); err != nil {
			return errors.WithMessagef(err, "%s.%s", tp.Type.Name(), mp.Member.GoName)
		}
	}
	buf.WriteByte('}')
	return nil
}

func (m *Mapper) encodeMember(buf *bytes.Buffer, mp *MemberPolicy, val reflect.Value, ok bool) error {
	if !ok {
		val = reflect.Value{}
	}
	switch {
	case mp.Serializer != nil && mp.PerElement && !isNil(val):
		return m.encodeElements(buf, val, func(elem reflect.Value) error {
			return writeValue(buf, mp.Serializer, mp.NullSerializer, elem)
		})
	case mp.Serializer != nil || isNil(val):
		return writeValue(buf, mp.Serializer, mp.NullSerializer, val)
	case mp.Component != nil:
		return m.encodeElements(buf, val, func(elem reflect.Value) error {
			elem = indirect(elem)
			switch {
			case !elem.IsValid():
				buf.WriteString("null")
				return nil
			case elem.Kind() != reflect.Struct:
				return writeJSON(buf, elem.Interface())
			}
			return m.encodeStruct(buf, elem)
		})
	}
	return writeJSON(buf, val.Interface())
}

// encodeElements 容器逐个元素编码，嵌套的容器递归展开，非容器直接编码
func (m *Mapper) encodeElements(buf *bytes.Buffer, val reflect.Value, encode func(reflect.Value) error) error {
	for val.Kind() == reflect.Pointer {
		if val.IsNil() {
			buf.WriteString("null")
			return nil
		}
		val = val.Elem()
	}
	if !introspect.IsContainer(val.Type()) {
		return encode(val)
	}
	if val.Kind() == reflect.Slice && val.IsNil() {
		buf.WriteString("null")
		return nil
	}
	buf.WriteByte('[')
	for i := 0; i < val.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := m.encodeElements(buf, val.Index(i), encode); err != nil {
			return errors.WithMessagef(err, "index %d", i)
		}
	}
	buf.WriteByte(']')
	return nil
}

func (m *Mapper) decodeValue(data []byte, target reflect.Value) error {
	if isNullJSON(data) {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	if target.Kind() == reflect.Pointer {
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		return m.decodeValue(data, target.Elem())
	}
	if target.Kind() != reflect.Struct {
		return unmarshalJSON(data, target)
	}

	tp, err := m.policy.Type(target.Type())
	if err != nil {
		return err
	}
	if tp.Deserializer != nil {
		return read(data, tp.Deserializer, target)
	}

	var props map[string]json.RawMessage
	if err := json.Unmarshal(data, &props); err != nil {
		return errors.Wrapf(err, "decode %s", tp.Type.Name())
	}
	for _, mp := range tp.Members {
		if mp.Member.IsAccessor() {
			continue
		}
		raw, ok := props[mp.Name]
		if !ok {
			continue
		}
		field, err := fieldByIndex(target, mp.Member.Index)
		if err != nil {
			return err
		}
		if err := m.decodeMember(raw, mp, field); err != nil {
			return errors.WithMessagef(err, "%s.%s", tp.Type.Name(), mp.Member.GoName)
		}
	}
	return nil
}

func (m *Mapper) decodeMember(data []byte, mp *MemberPolicy, field reflect.Value) error {
	switch {
	case mp.Deserializer != nil && mp.PerElement:
		return m.decodeElements(data, field, func(data []byte, elem reflect.Value) error {
			return read(data, mp.Deserializer, elem)
		})
	case mp.Deserializer != nil:
		return read(data, mp.Deserializer, field)
	case mp.Component != nil:
		return m.decodeElements(data, field, m.decodeValue)
	}
	return unmarshalJSON(data, field)
}

func (m *Mapper) decodeElements(data []byte, target reflect.Value, decode func([]byte, reflect.Value) error) error {
	if isNullJSON(data) {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	if target.Kind() == reflect.Pointer {
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		return m.decodeElements(data, target.Elem(), decode)
	}
	if !introspect.IsContainer(target.Type()) {
		return decode(data, target)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return errors.Wrapf(err, "decode %s", target.Type())
	}
	if target.Kind() == reflect.Slice {
		target.Set(reflect.MakeSlice(target.Type(), len(items), len(items)))
	}
	for i := 0; i < len(items) && i < target.Len(); i++ {
		if err := m.decodeElements(items[i], target.Index(i), decode); err != nil {
			return errors.WithMessagef(err, "index %d", i)
		}
	}
	return nil
}

// include 按包含策略判断成员是否写入文档
func include(policy meta.JSONInclude, val reflect.Value, ok bool) bool {
	if policy == meta.IncludeAlways {
		return true
	}
	if !ok || isNil(val) {
		return false
	}
	switch policy {
	case meta.IncludeNonEmpty:
		return !isEmpty(val)
	case meta.IncludeNonDefault:
		return !isEmpty(val) && !val.IsZero()
	}
	return true
}

type zeroer interface {
	IsZero() bool
}

func isEmpty(val reflect.Value) bool {
	switch val.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		if val.Len() == 0 {
			return true
		}
	}
	if val.Kind() == reflect.Struct && val.Type().ConvertibleTo(timeType) {
		return val.Convert(timeType).Interface().(time.Time).IsZero()
	}
	if !val.CanInterface() || val.Kind() == reflect.Pointer {
		return false
	}
	if z, ok := val.Interface().(zeroer); ok {
		return z.IsZero()
	}
	return false
}

func isNil(val reflect.Value) bool {
	if !val.IsValid() {
		return true
	}
	switch val.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return val.IsNil()
	}
	return false
}

func isNullJSON(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}

// fieldByIndex 沿索引路径取字段，途经的 nil 嵌入指针会被分配
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, error) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				if !v.CanSet() {
					return reflect.Value{}, errors.Errorf("cannot set embedded pointer %s", v.Type())
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, nil
}

func write(buf *bytes.Buffer, s Serializer, v any) error {
	data, err := s.Serialize(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

// writeValue 解引用后交给序列化器，nil 值交给 null 序列化器，没有时输出 null
func writeValue(buf *bytes.Buffer, s Serializer, null Serializer, v reflect.Value) error {
	v = indirect(v)
	if !v.IsValid() {
		if null != nil {
			return write(buf, null, nil)
		}
		buf.WriteString("null")
		return nil
	}
	if s == nil {
		return writeJSON(buf, v.Interface())
	}
	return write(buf, s, v.Interface())
}

// indirect 解开指针和接口，遇到 nil 返回无效值
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// read 用解码器的结果设置 target，指针先分配再解码到元素，结果类型不一致时尝试转换
func read(data []byte, d Deserializer, target reflect.Value) error {
	if target.Kind() == reflect.Pointer {
		if isNullJSON(data) {
			target.Set(reflect.Zero(target.Type()))
			return nil
		}
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		return read(data, d, target.Elem())
	}

	x, err := d.Deserialize(data, target.Type())
	if err != nil {
		return err
	}
	if x == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	xv := reflect.ValueOf(x)
	switch {
	case xv.Type().AssignableTo(target.Type()):
		target.Set(xv)
	case xv.Type().ConvertibleTo(target.Type()):
		target.Set(xv.Convert(target.Type()))
	default:
		return errors.Errorf("deserializer returned %s, want %s", xv.Type(), target.Type())
	}
	return nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	data, err := marshalJSON(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "json.Marshal failed")
	}
	return data, nil
}

func unmarshalJSON(data []byte, target reflect.Value) error {
	if err := json.Unmarshal(data, target.Addr().Interface()); err != nil {
		return errors.Wrap(err, "json.Unmarshal failed")
	}
	return nil
}
