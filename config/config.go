// Package config 从 yaml/json/toml 文件加载选项结构体，补全 def 默认值并按 validate 标签校验
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Format 配置文件格式
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatOf 按文件扩展名推断格式
func FormatOf(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", errors.Errorf("unsupported config file [%s]", filename)
}

// Load 读取配置文件并填充 v，v 必须是结构体指针
func Load(filename string, v any) error {
	format, err := FormatOf(filename)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "os.ReadFile [%s] failed", filename)
	}
	return Decode(data, format, v)
}

// Decode 解析 data，转换到 v，再设置默认值并校验
func Decode(data []byte, format Format, v any) error {
	var raw map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return errors.Wrap(err, "yaml.Unmarshal failed")
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return errors.Wrap(err, "json.Unmarshal failed")
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return errors.Wrap(err, "toml.Unmarshal failed")
		}
	default:
		return errors.Errorf("unsupported format [%s]", format)
	}

	if err := ConvertTo(raw, v); err != nil {
		return err
	}
	if err := SetDefaults(v); err != nil {
		return errors.WithMessage(err, "SetDefaults failed")
	}
	if err := Validate(v); err != nil {
		return errors.WithMessage(err, "Validate failed")
	}
	return nil
}

// ConvertTo 把解析后的通用结构转换到 v，字段名取 cfg 标签
func ConvertTo(raw any, v any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "cfg",
		Result:           v,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return errors.Wrap(err, "mapstructure.NewDecoder failed")
	}
	if err := decoder.Decode(raw); err != nil {
		return errors.Wrap(err, "mapstructure decode failed")
	}
	return nil
}
