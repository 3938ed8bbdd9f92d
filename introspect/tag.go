package introspect

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
)

const (
	tagType   = "estype"
	tagParent = "esparent"
	tagField  = "es"
	tagRaw    = "esraw"
	tagObject = "esobj"
	tagMulti  = "esmulti"
	tagSub    = "esfield"
	tagID     = "esid"
)

type tagEntry struct {
	key   string
	value string
}

// lexTag 按出现顺序列出标签中所有 key:"value"，允许同一个 key 出现多次
func lexTag(tag reflect.StructTag) ([]tagEntry, error) {
	var entries []tagEntry
	s := string(tag)
	for s != "" {
		i := 0
		for i < len(s) && s[i] == ' ' {
			i++
		}
		s = s[i:]
		if s == "" {
			break
		}

		i = 0
		for i < len(s) && s[i] > ' ' && s[i] != ':' && s[i] != '"' && s[i] != 0x7f {
			i++
		}
		if i == 0 || i+1 >= len(s) || s[i] != ':' || s[i+1] != '"' {
			return nil, errors.Wrapf(meta.ErrInvalidTag, "malformed struct tag %q", string(tag))
		}
		key := s[:i]
		s = s[i+1:]

		i = 1
		for i < len(s) && s[i] != '"' {
			if s[i] == '\\' {
				i++
			}
			i++
		}
		if i >= len(s) {
			return nil, errors.Wrapf(meta.ErrInvalidTag, "unterminated value for key %q", key)
		}
		value, err := strconv.Unquote(s[:i+1])
		if err != nil {
			return nil, errors.Wrapf(meta.ErrInvalidTag, "bad quoted value for key %q", key)
		}
		s = s[i+1:]
		entries = append(entries, tagEntry{key: key, value: value})
	}
	return entries, nil
}

// memberTags 一个成员上与映射相关的标签
type memberTags struct {
	field  *string
	raw    *string
	object *string
	multi  *string
	id     *string
	// subs 多字段的子字段，name 为空表示与多字段同名
	subs []subTag
}

type subTag struct {
	name    string
	options string
}

func (mt *memberTags) empty() bool {
	return mt.field == nil && mt.raw == nil && mt.object == nil && mt.multi == nil && mt.id == nil && len(mt.subs) == 0
}

func collectTags(tag reflect.StructTag) (*memberTags, error) {
	entries, err := lexTag(tag)
	if err != nil {
		return nil, err
	}

	mt := &memberTags{}
	single := func(dst **string, e tagEntry) error {
		if *dst != nil {
			return errors.Wrapf(meta.ErrInvalidTag, "duplicate tag %q", e.key)
		}
		v := e.value
		*dst = &v
		return nil
	}
	for _, e := range entries {
		switch {
		case e.key == tagField:
			err = single(&mt.field, e)
		case e.key == tagRaw:
			err = single(&mt.raw, e)
		case e.key == tagObject:
			err = single(&mt.object, e)
		case e.key == tagMulti:
			err = single(&mt.multi, e)
		case e.key == tagID:
			err = single(&mt.id, e)
		case e.key == tagSub:
			mt.subs = append(mt.subs, subTag{options: e.value})
		case strings.HasPrefix(e.key, tagSub+"."):
			mt.subs = append(mt.subs, subTag{name: strings.TrimPrefix(e.key, tagSub+"."), options: e.value})
		}
		if err != nil {
			return nil, err
		}
	}
	return mt, nil
}
