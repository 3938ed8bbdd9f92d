package mapping

import "github.com/hatlonely/esmap/meta"

func setString(m Document, key string, v string) {
	if v != "" {
		m[key] = v
	}
}

func setEnum[T ~string](m Document, key string, v T) {
	if v != "" {
		m[key] = string(v)
	}
}

func setBool(m Document, key string, v *bool) {
	if v != nil {
		m[key] = *v
	}
}

// setFalse 引擎默认为 true 的选项，只在显式关闭时输出
func setFalse(m Document, key string, v *bool) {
	if v != nil && !*v {
		m[key] = false
	}
}

// setYesNo store 类选项输出 "yes"/"no"
func setYesNo(m Document, key string, v *bool) {
	if v == nil {
		return
	}
	if *v {
		m[key] = "yes"
	} else {
		m[key] = "no"
	}
}

func setInt(m Document, key string, v *int) {
	if v != nil {
		m[key] = *v
	}
}

func setFloat(m Document, key string, v *float64) {
	if v != nil {
		m[key] = *v
	}
}

func setList(m Document, key string, v []string) {
	if len(v) > 0 {
		m[key] = append([]string(nil), v...)
	}
}

func setBlock(m Document, key string, block Document) {
	if len(block) > 0 {
		m[key] = block
	}
}

func setIncludeInAll(m Document, v meta.IncludeInAll) {
	if v != "" {
		m["include_in_all"] = v == meta.IncludeInAllTrue
	}
}

// cloneDocument 深拷贝，避免调用方修改缓存中的文档
func cloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Document:
		return cloneDocument(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	case []string:
		return append([]string(nil), x...)
	}
	return v
}
