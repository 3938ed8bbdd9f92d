// Package esmap 根据结构体标签生成 Elasticsearch 映射，并完成对象与文档之间的编解码
package esmap

import (
	"reflect"

	"github.com/hatlonely/esmap/cache"
	"github.com/hatlonely/esmap/codec"
	"github.com/hatlonely/esmap/config"
	"github.com/hatlonely/esmap/extract"
	"github.com/hatlonely/esmap/indexer"
	"github.com/hatlonely/esmap/introspect"
	"github.com/hatlonely/esmap/log"
	"github.com/hatlonely/esmap/log/logger"
	"github.com/hatlonely/esmap/mapping"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type Options struct {
	Cache  *cache.Options `cfg:"cache"`
	Codec  codec.Options  `cfg:"codec"`
	Logger *log.Options   `cfg:"logger"`
	// Indexer 为空时不创建 Elasticsearch 客户端
	Indexer *indexer.Options `cfg:"indexer"`
}

// ESMap 共享同一个缓存的各个组件
type ESMap struct {
	cache        *cache.Cache
	introspector *introspect.Introspector
	compiler     *mapping.Compiler
	registry     *codec.Registry
	policy       *codec.Policy
	mapper       *codec.Mapper
	extractor    *extract.Extractor
	indexer      *indexer.Indexer
	logger       logger.Logger
}

// Load 从配置文件读取 Options
func Load(filename string) (*Options, error) {
	var options Options
	if err := config.Load(filename, &options); err != nil {
		return nil, errors.WithMessage(err, "config.Load failed")
	}
	return &options, nil
}

// New options 可以为 nil，registerer 为 nil 时指标注册到默认 registry
func New(options *Options, registerer prometheus.Registerer) (*ESMap, error) {
	if options == nil {
		options = &Options{}
	}
	if err := config.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(err, "config.SetDefaults failed")
	}
	if err := config.Validate(options); err != nil {
		return nil, errors.WithMessage(err, "config.Validate failed")
	}

	l, err := log.New(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "log.New failed")
	}

	c, err := cache.NewWithOptions(options.Cache, registerer, l)
	if err != nil {
		return nil, errors.WithMessage(err, "cache.NewWithOptions failed")
	}
	in := introspect.New(c)
	registry := codec.NewRegistry()
	policy, err := codec.NewPolicy(in, registry, &options.Codec)
	if err != nil {
		return nil, errors.WithMessage(err, "codec.NewPolicy failed")
	}

	m := &ESMap{
		cache:        c,
		introspector: in,
		compiler:     mapping.New(in, l).WithCodecValidator(policy),
		registry:     registry,
		policy:       policy,
		mapper:       codec.NewMapper(policy),
		extractor:    extract.New(in),
		logger:       l,
	}

	if options.Indexer != nil {
		m.indexer, err = indexer.NewWithOptions(options.Indexer, m.compiler, m.mapper, m.extractor, l)
		if err != nil {
			return nil, errors.WithMessage(err, "indexer.NewWithOptions failed")
		}
	}

	return m, nil
}

func (m *ESMap) Cache() *cache.Cache                    { return m.cache }
func (m *ESMap) Introspector() *introspect.Introspector { return m.introspector }
func (m *ESMap) Compiler() *mapping.Compiler            { return m.compiler }
func (m *ESMap) Registry() *codec.Registry              { return m.registry }
func (m *ESMap) Policy() *codec.Policy                  { return m.policy }
func (m *ESMap) Mapper() *codec.Mapper                  { return m.mapper }
func (m *ESMap) Extractor() *extract.Extractor          { return m.extractor }
func (m *ESMap) Logger() logger.Logger                  { return m.logger }

// Indexer 没有配置 indexer 时返回 nil
func (m *ESMap) Indexer() *indexer.Indexer {
	return m.indexer
}

// Register 注册序列化器或反序列化器，需要在第一次编解码对应类型前完成
func (m *ESMap) Register(name string, impl any) error {
	return m.registry.Register(name, impl)
}

// Mapping 返回 {typeName: body} 形式的映射
func (m *ESMap) Mapping(t reflect.Type) (mapping.Document, error) {
	return m.compiler.CompileWrapped(t)
}

func (m *ESMap) MappingJSON(t reflect.Type) ([]byte, error) {
	return m.compiler.JSON(t)
}

func (m *ESMap) Marshal(v any) ([]byte, error) {
	return m.mapper.Marshal(v)
}

func (m *ESMap) Unmarshal(data []byte, v any) error {
	return m.mapper.Unmarshal(data, v)
}

// Invalidate 清除类型的所有缓存
func (m *ESMap) Invalidate(t reflect.Type) {
	m.compiler.Invalidate(t)
	m.policy.Invalidate(t)
	m.extractor.Invalidate(t)
	m.introspector.Invalidate(t)
}

func (m *ESMap) Close() error {
	return m.cache.Close()
}
