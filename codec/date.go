package codec

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var timeType = reflect.TypeFor[time.Time]()

// DateCodec 按字段上声明的 format 编解码日期，支持 time.Time 以及底层类型为 time.Time 的类型
type DateCodec struct {
	Format *DateFormat
}

func NewDateCodec(pattern string, loc *time.Location) (*DateCodec, error) {
	df, err := ParseDateFormat(pattern, loc)
	if err != nil {
		return nil, err
	}
	return &DateCodec{Format: df}, nil
}

func (c *DateCodec) Serialize(v any) ([]byte, error) {
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
	if !rv.Type().ConvertibleTo(timeType) {
		return nil, errors.Errorf("date codec does not support %s", rv.Type())
	}
	t := rv.Convert(timeType).Interface().(time.Time)
	return json.Marshal(c.Format.Format(t))
}

func (c *DateCodec) Deserialize(data []byte, target reflect.Type) (any, error) {
	base := target
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if !timeType.ConvertibleTo(base) {
		return nil, errors.Errorf("date codec does not support %s", target)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return reflect.Zero(target).Interface(), nil
	}

	var t time.Time
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, errors.Wrap(err, "json.Unmarshal failed")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return reflect.Zero(target).Interface(), nil
		}
		var err error
		if t, err = c.Format.Parse(s); err != nil {
			return nil, err
		}
	} else {
		var millis int64
		if err := json.Unmarshal(data, &millis); err != nil {
			return nil, errors.Wrapf(err, "date value %s is neither string nor epoch millis", data)
		}
		t = time.UnixMilli(millis).In(c.Format.location)
	}

	v := reflect.ValueOf(t).Convert(base)
	for rt := target; rt.Kind() == reflect.Pointer; rt = rt.Elem() {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		v = p
	}
	return v.Interface(), nil
}
