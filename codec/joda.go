package codec

import (
	"strconv"
	"strings"
	"time"

	"github.com/hatlonely/esmap/introspect"
	"github.com/pkg/errors"
	"github.com/vjeantet/jodaTime"
)

// namedFormats 引擎内置的日期格式名，对应 time 包的 layout，零时区打印为 Z
var namedFormats = map[string]string{
	"basic_date":                        "20060102",
	"basic_date_time":                   "20060102T150405.000Z0700",
	"basic_date_time_no_millis":         "20060102T150405Z0700",
	"basic_ordinal_date":                "2006002",
	"basic_ordinal_date_time":           "2006002T150405.000Z0700",
	"basic_ordinal_date_time_no_millis": "2006002T150405Z0700",
	"basic_time":                        "150405.000Z0700",
	"basic_time_no_millis":              "150405Z0700",
	"basic_t_time":                      "T150405.000Z0700",
	"basic_t_time_no_millis":            "T150405Z0700",
	"date":                              "2006-01-02",
	"date_hour":                         "2006-01-02T15",
	"date_hour_minute":                  "2006-01-02T15:04",
	"date_hour_minute_second":           "2006-01-02T15:04:05",
	"date_hour_minute_second_fraction":  "2006-01-02T15:04:05.000",
	"date_hour_minute_second_millis":    "2006-01-02T15:04:05.000",
	"date_time":                         "2006-01-02T15:04:05.000Z07:00",
	"date_time_no_millis":               "2006-01-02T15:04:05Z07:00",
	"hour":                              "15",
	"hour_minute":                       "15:04",
	"hour_minute_second":                "15:04:05",
	"hour_minute_second_fraction":       "15:04:05.000",
	"hour_minute_second_millis":         "15:04:05.000",
	"ordinal_date":                      "2006-002",
	"ordinal_date_time":                 "2006-002T15:04:05.000Z07:00",
	"ordinal_date_time_no_millis":       "2006-002T15:04:05Z07:00",
	"time":                              "15:04:05.000Z07:00",
	"time_no_millis":                    "15:04:05Z07:00",
	"t_time":                            "T15:04:05.000Z07:00",
	"t_time_no_millis":                  "T15:04:05Z07:00",
	"year":                              "2006",
	"year_month":                        "2006-01",
	"year_month_day":                    "2006-01-02",
}

// optionalTimeLayouts date_optional_time 按顺序尝试的解析格式，打印用第一个
var optionalTimeLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02",
	"2006-01",
	"2006",
}

// dateElement epoch、layouts 和 joda 只会设置其中一个
type dateElement struct {
	epoch   time.Duration
	layouts []string
	joda    string
	zoned   bool
}

func (e *dateElement) format(t time.Time) string {
	switch {
	case e.epoch != 0:
		return strconv.FormatInt(t.UnixNano()/int64(e.epoch), 10)
	case e.joda != "":
		return jodaTime.Format(e.joda, t)
	}
	return t.Format(e.layouts[0])
}

func (e *dateElement) parse(s string, loc *time.Location) (time.Time, error) {
	if e.epoch != 0 {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(0, n*int64(e.epoch)).In(loc), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "parse epoch %q", s)
		}
		return time.Unix(0, int64(f*float64(e.epoch))).In(loc), nil
	}
	if e.joda != "" {
		t, err := jodaTime.Parse(e.joda, s)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "jodaTime.Parse %q", e.joda)
		}
		if e.zoned {
			return t, nil
		}
		// 模式里没有时区时按配置的时区解释
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
	}
	var err error
	for _, layout := range e.layouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// DateFormat 由 `||` 分隔的多个格式组成，打印用第一个，解析依次尝试
type DateFormat struct {
	pattern  string
	location *time.Location
	elements []*dateElement
}

// ParseDateFormat 解析日期格式，loc 为 nil 时使用 UTC
func ParseDateFormat(pattern string, loc *time.Location) (*DateFormat, error) {
	if loc == nil {
		loc = time.UTC
	}
	df := &DateFormat{pattern: pattern, location: loc}
	for _, p := range strings.Split(pattern, "||") {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, errors.Errorf("date format %q: empty element", pattern)
		}
		e, err := parseDateElement(p)
		if err != nil {
			return nil, errors.WithMessagef(err, "date format %q", pattern)
		}
		df.elements = append(df.elements, e)
	}
	return df, nil
}

func parseDateElement(p string) (*dateElement, error) {
	name := p
	if !strings.Contains(p, "_") {
		name = introspect.SnakeName(p)
	}
	switch name {
	case "epoch_millis":
		return &dateElement{epoch: time.Millisecond}, nil
	case "epoch_second":
		return &dateElement{epoch: time.Second}, nil
	case "date_optional_time", "strict_date_optional_time":
		return &dateElement{layouts: optionalTimeLayouts}, nil
	}
	if layout, ok := namedFormats[strings.TrimPrefix(name, "strict_")]; ok {
		return &dateElement{layouts: []string{layout}}, nil
	}
	zoned, err := checkJoda(p)
	if err != nil {
		return nil, err
	}
	return &dateElement{joda: p, zoned: zoned}, nil
}

func (f *DateFormat) Pattern() string {
	return f.pattern
}

func (f *DateFormat) Format(t time.Time) string {
	return f.elements[0].format(t.In(f.location))
}

func (f *DateFormat) Parse(s string) (time.Time, error) {
	var err error
	for _, e := range f.elements {
		var t time.Time
		if t, err = e.parse(s, f.location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Wrapf(err, "parse %q with %q", s, f.pattern)
}

// jodaLetters 支持的 Joda 模式字母
const jodaLetters = "GCYxyMdDEeHkhKmsSaZz"

// checkJoda 检查引号是否闭合以及模式字母是否支持，返回模式是否带时区
func checkJoda(pattern string) (bool, error) {
	zoned := false
	quoted := false
	for _, c := range pattern {
		switch {
		case c == '\'':
			quoted = !quoted
		case quoted:
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z':
			if !strings.ContainsRune(jodaLetters, c) {
				return false, errors.Errorf("pattern %q: unsupported letter %q", pattern, c)
			}
			if c == 'Z' || c == 'z' {
				zoned = true
			}
		}
	}
	if quoted {
		return false, errors.Errorf("pattern %q: unterminated quote", pattern)
	}
	return zoned, nil
}
