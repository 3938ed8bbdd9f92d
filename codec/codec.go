package codec

import "reflect"

// Serializer 把成员的值编码成 JSON，v 为 nil 时输出该成员的 null 表示
type Serializer interface {
	Serialize(v any) ([]byte, error)
}

// Deserializer 把 JSON 解码成 target 类型的值
type Deserializer interface {
	Deserialize(data []byte, target reflect.Type) (any, error)
}

// Codec 同时实现编码和解码
type Codec interface {
	Serializer
	Deserializer
}

type SerializerFunc func(v any) ([]byte, error)

func (f SerializerFunc) Serialize(v any) ([]byte, error) {
	return f(v)
}

type DeserializerFunc func(data []byte, target reflect.Type) (any, error)

func (f DeserializerFunc) Deserialize(data []byte, target reflect.Type) (any, error) {
	return f(data, target)
}
