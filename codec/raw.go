package codec

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
)

// RawCodec 字段值本身就是 JSON 文本，原样嵌入文档；解码时保存为紧凑的 JSON 文本
type RawCodec struct{}

func (RawCodec) Serialize(v any) ([]byte, error) {
	var data []byte
	switch x := v.(type) {
	case nil:
		return []byte("null"), nil
	case meta.RawJSON:
		data = []byte(x)
	case string:
		data = []byte(x)
	case json.RawMessage:
		data = x
	case []byte:
		data = x
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.String:
			data = []byte(rv.String())
		case reflect.Slice:
			if rv.Type().Elem().Kind() != reflect.Uint8 {
				return nil, errors.Errorf("raw codec does not support %T", v)
			}
			data = rv.Bytes()
		default:
			return nil, errors.Errorf("raw codec does not support %T", v)
		}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, errors.Wrap(err, "invalid raw json")
	}
	return buf.Bytes(), nil
}

func (RawCodec) Deserialize(data []byte, target reflect.Type) (any, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, errors.Wrap(err, "invalid raw json")
	}

	v := reflect.New(target).Elem()
	switch {
	case target.Kind() == reflect.String:
		v.SetString(buf.String())
	case target.Kind() == reflect.Slice && target.Elem().Kind() == reflect.Uint8:
		v.SetBytes(buf.Bytes())
	default:
		return nil, errors.Errorf("raw codec does not support %s", target)
	}
	return v.Interface(), nil
}
