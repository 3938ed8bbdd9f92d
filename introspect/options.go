package introspect

import (
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
)

const listSeparator = ";"

// optionReader 读取 "name,k=v,flag" 形式的标签值，错误累积到 err 中
type optionReader struct {
	where  string
	name   string
	values map[string]string
	order  []string
	used   map[string]bool
	err    *multierror.Error
}

// newOptionReader withName 为 true 时第一段是名字
func newOptionReader(where string, value string, withName bool) *optionReader {
	r := &optionReader{
		where:  where,
		values: map[string]string{},
		used:   map[string]bool{},
	}

	parts := strings.Split(value, ",")
	if withName {
		r.name = strings.TrimSpace(parts[0])
		parts = parts[1:]
	}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok {
			val = "true"
		}
		if _, exists := r.values[key]; exists {
			r.fail(key, "duplicate option")
			continue
		}
		r.values[key] = strings.TrimSpace(val)
		r.order = append(r.order, key)
	}
	return r
}

func (r *optionReader) fail(key string, format string, args ...any) {
	err := errors.Wrapf(meta.ErrInvalidTag, "%s: option %q: "+format, append([]any{r.where, key}, args...)...)
	r.err = multierror.Append(r.err, err)
}

func (r *optionReader) lookup(key string) (string, bool) {
	v, ok := r.values[key]
	if ok {
		r.used[key] = true
	}
	return v, ok
}

func (r *optionReader) String(key string) string {
	v, _ := r.lookup(key)
	return v
}

// Flag 未设置时为 false
func (r *optionReader) Flag(key string) bool {
	b := r.Bool(key)
	return b != nil && *b
}

func (r *optionReader) Bool(key string) *bool {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, "invalid bool %q", v)
		return nil
	}
	return &b
}

func (r *optionReader) Int(key string) *int {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, "invalid int %q", v)
		return nil
	}
	return &n
}

func (r *optionReader) Float(key string) *float64 {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, "invalid float %q", v)
		return nil
	}
	return &f
}

func (r *optionReader) List(key string) []string {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return nil
	}
	var list []string
	for _, item := range strings.Split(v, listSeparator) {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

// Err 返回累积的错误，未识别的选项也视为错误
func (r *optionReader) Err() error {
	for _, key := range r.order {
		if !r.used[key] {
			r.fail(key, "unknown option")
		}
	}
	return r.err.ErrorOrNil()
}

func readEnum[T ~string](r *optionReader, key string, parse func(string) (T, error)) T {
	var zero T
	v, ok := r.lookup(key)
	if !ok {
		return zero
	}
	e, err := parse(v)
	if err != nil {
		r.fail(key, "%v", err)
		return zero
	}
	return e
}
