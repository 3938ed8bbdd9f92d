package introspect

import (
	"encoding/json"
	"net"
	"net/netip"
	"reflect"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
)

var (
	timeType       = reflect.TypeFor[time.Time]()
	dateTimeType   = reflect.TypeFor[strfmt.DateTime]()
	dateType       = reflect.TypeFor[strfmt.Date]()
	rawJSONType    = reflect.TypeFor[meta.RawJSON]()
	rawMessageType = reflect.TypeFor[json.RawMessage]()
	ipType         = reflect.TypeFor[net.IP]()
	addrType       = reflect.TypeFor[netip.Addr]()
)

var kindTypes = map[reflect.Kind]meta.FieldType{
	reflect.String:  meta.TypeString,
	reflect.Bool:    meta.TypeBoolean,
	reflect.Int:     meta.TypeLong,
	reflect.Int64:   meta.TypeLong,
	reflect.Uint:    meta.TypeLong,
	reflect.Uint64:  meta.TypeLong,
	reflect.Uint32:  meta.TypeLong,
	reflect.Int32:   meta.TypeInteger,
	reflect.Uint16:  meta.TypeInteger,
	reflect.Int16:   meta.TypeShort,
	reflect.Uint8:   meta.TypeShort,
	reflect.Int8:    meta.TypeByte,
	reflect.Float32: meta.TypeFloat,
	reflect.Float64: meta.TypeDouble,
}

// IsDateType 是否为按日期处理的类型
func IsDateType(t reflect.Type) bool {
	t = Indirect(t)
	return t == timeType || t == dateTimeType || t == dateType
}

// IsRawJSONType 是否为原样嵌入的 JSON 片段类型
func IsRawJSONType(t reflect.Type) bool {
	t = Indirect(t)
	return t == rawJSONType || t == rawMessageType
}

// isLeaf 不再展开的类型，[]byte、net.IP 等切片类型整体作为值
func isLeaf(t reflect.Type) bool {
	if IsRawJSONType(t) || t == ipType {
		return true
	}
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

// ElemType 去掉指针，切片和数组取元素类型
func ElemType(t reflect.Type) reflect.Type {
	t = Indirect(t)
	for (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && !isLeaf(t) {
		t = Indirect(t.Elem())
	}
	return t
}

// IsContainer 是否为切片或数组，[]byte 之类的叶子类型除外
func IsContainer(t reflect.Type) bool {
	t = Indirect(t)
	return (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && !isLeaf(t)
}

// ResolveValueType 推断 auto 字段的引擎类型
func ResolveValueType(t reflect.Type) (meta.FieldType, error) {
	et := ElemType(t)
	switch {
	case IsDateType(et):
		return meta.TypeDate, nil
	case IsRawJSONType(et):
		return meta.TypeJSON, nil
	case et == ipType || et == addrType:
		return meta.TypeIP, nil
	case et.Kind() == reflect.Slice && et.Elem().Kind() == reflect.Uint8:
		return meta.TypeBinary, nil
	}
	if ft, ok := kindTypes[et.Kind()]; ok {
		return ft, nil
	}
	return meta.TypeAuto, errors.Wrapf(meta.ErrUnresolvableValueType, "%s", t)
}

// FieldType 字段描述声明的类型，auto 时按 Go 类型推断
func FieldType(fd *meta.FieldDescriptor, t reflect.Type) (meta.FieldType, error) {
	if fd != nil && fd.Type != meta.TypeAuto {
		return fd.Type, nil
	}
	return ResolveValueType(t)
}
