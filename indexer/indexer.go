// Package indexer 把编译好的映射和编码后的文档写入 Elasticsearch
//
// 编译出的映射是 1.x/2.x 的写法（string 类型、_all、_parent 等），8.x 集群会拒绝其中的顶层元数据，
// 设置 Options.DropLegacyMetadata 后 PutMapping 会去掉这些元数据，字段级选项原样发送。
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/hatlonely/esmap/cache"
	"github.com/hatlonely/esmap/codec"
	"github.com/hatlonely/esmap/extract"
	"github.com/hatlonely/esmap/introspect"
	"github.com/hatlonely/esmap/log"
	"github.com/hatlonely/esmap/log/logger"
	"github.com/hatlonely/esmap/mapping"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound 文档或索引不存在
var ErrNotFound = errors.New("not found")

// Options Elasticsearch 连接选项
type Options struct {
	Addresses  []string      `cfg:"addresses" def:"http://localhost:9200" validate:"min=1,dive,url"`
	Username   string        `cfg:"username"`
	Password   string        `cfg:"password"`
	APIKey     string        `cfg:"apiKey"`
	Index      string        `cfg:"index" validate:"required"`
	Timeout    time.Duration `cfg:"timeout" def:"30s"`
	MaxRetries int           `cfg:"maxRetries" def:"3"`
	// Refresh 写操作的 refresh 参数，为空时使用服务端默认
	Refresh string `cfg:"refresh" validate:"omitempty,oneof=true false wait_for"`
	// DropLegacyMetadata PutMapping 时去掉新版本集群不接受的顶层元数据
	DropLegacyMetadata bool `cfg:"dropLegacyMetadata"`

	// Transport 为空时使用 http.Transport，测试时可以替换
	Transport http.RoundTripper `cfg:"-"`
}

// Indexer 一个 Indexer 对应一个索引
type Indexer struct {
	client       *elasticsearch.Client
	index        string
	refresh      string
	dropLegacy   bool
	introspector *introspect.Introspector
	compiler     *mapping.Compiler
	mapper       *codec.Mapper
	extractor    *extract.Extractor
	cache        *cache.Cache
	logger       logger.Logger
	tracer       trace.Tracer
}

// NewWithOptions compiler、mapper、extractor 应共享同一个 Introspector
func NewWithOptions(options *Options, compiler *mapping.Compiler, mapper *codec.Mapper, extractor *extract.Extractor, l logger.Logger) (*Indexer, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	if options.Index == "" {
		return nil, errors.New("index cannot be empty")
	}
	if compiler == nil || mapper == nil || extractor == nil {
		return nil, errors.New("compiler, mapper and extractor are required")
	}
	if l == nil {
		l = log.Default()
	}

	transport := options.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: options.Timeout,
		}
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  options.Addresses,
		Username:   options.Username,
		Password:   options.Password,
		APIKey:     options.APIKey,
		Transport:  transport,
		MaxRetries: options.MaxRetries,
	})
	if err != nil {
		return nil, errors.Wrap(err, "elasticsearch.NewClient failed")
	}

	in := compiler.Introspector()
	return &Indexer{
		client:       client,
		index:        options.Index,
		refresh:      options.Refresh,
		dropLegacy:   options.DropLegacyMetadata,
		introspector: in,
		compiler:     compiler,
		mapper:       mapper,
		extractor:    extractor,
		cache:        in.Cache(),
		logger:       l.WithGroup("indexer"),
		tracer:       otel.Tracer("esmap.indexer"),
	}, nil
}

func (ix *Indexer) IndexName() string {
	return ix.index
}

func (ix *Indexer) Client() *elasticsearch.Client {
	return ix.client
}

// observe 为每个请求创建 span 并记录调试日志
func (ix *Indexer) observe(ctx context.Context, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	start := time.Now()
	attrs = append([]attribute.KeyValue{
		attribute.String("db.system", "elasticsearch"),
		attribute.String("index", ix.index),
	}, attrs...)
	ctx, span := ix.tracer.Start(ctx, "indexer."+operation, trace.WithAttributes(attrs...))
	defer span.End()

	err := fn(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if !ix.logger.Enabled(ctx, slog.LevelDebug) {
		return err
	}

	args := []any{"operation", operation, "index", ix.index, "duration_ms", time.Since(start).Milliseconds()}
	for _, attr := range attrs[2:] {
		args = append(args, string(attr.Key), attr.Value.Emit())
	}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	ix.logger.DebugContext(ctx, "request completed", args...)
	return err
}

// do 执行请求，返回错误状态时把响应体带到错误里；404 返回 ErrNotFound
func (ix *Indexer) do(ctx context.Context, req esapi.Request, out any) error {
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return errors.Wrap(err, "elasticsearch request failed")
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		body, _ := io.ReadAll(res.Body)
		return errors.Wrapf(ErrNotFound, "%s", bytes.TrimSpace(body))
	}
	if res.IsError() {
		return errors.Errorf("elasticsearch error: %s", res.String())
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response failed")
	}
	return nil
}

// Ping 检查集群是否可用
func (ix *Indexer) Ping(ctx context.Context) error {
	return ix.observe(ctx, "ping", nil, func(ctx context.Context) error {
		return ix.do(ctx, esapi.InfoRequest{}, nil)
	})
}

func (ix *Indexer) IndexExists(ctx context.Context) (bool, error) {
	var exists bool
	err := ix.observe(ctx, "indexExists", nil, func(ctx context.Context) error {
		err := ix.do(ctx, esapi.IndicesExistsRequest{Index: []string{ix.index}}, nil)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		exists = err == nil
		return err
	})
	return exists, err
}

// CreateIndex settings 可以为 nil
func (ix *Indexer) CreateIndex(ctx context.Context, settings map[string]any) error {
	return ix.observe(ctx, "createIndex", nil, func(ctx context.Context) error {
		req := esapi.IndicesCreateRequest{Index: ix.index}
		if settings != nil {
			body, err := json.Marshal(map[string]any{"settings": settings})
			if err != nil {
				return errors.Wrap(err, "json.Marshal failed")
			}
			req.Body = bytes.NewReader(body)
		}
		return ix.do(ctx, req, nil)
	})
}

// DeleteIndex 索引不存在时不报错，同时清除所有类型的已推送标记
func (ix *Indexer) DeleteIndex(ctx context.Context) error {
	return ix.observe(ctx, "deleteIndex", nil, func(ctx context.Context) error {
		err := ix.do(ctx, esapi.IndicesDeleteRequest{Index: []string{ix.index}}, nil)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		ix.forgetPushed()
		return nil
	})
}

func (ix *Indexer) RefreshIndex(ctx context.Context) error {
	return ix.observe(ctx, "refreshIndex", nil, func(ctx context.Context) error {
		return ix.do(ctx, esapi.IndicesRefreshRequest{Index: []string{ix.index}}, nil)
	})
}

func (ix *Indexer) typeAttrs(t reflect.Type) ([]attribute.KeyValue, string, error) {
	name, err := ix.introspector.TypeName(t)
	if err != nil {
		return nil, "", err
	}
	return []attribute.KeyValue{attribute.String("type", name)}, name, nil
}

// legacyMetadata 8.x 集群不再接受的顶层映射元数据
var legacyMetadata = []string{
	"_all", "_parent", "_timestamp", "_ttl", "_size", "_boost", "_analyzer",
	"_index", "_id", "_type", "index_analyzer", "search_analyzer",
}

// PutMapping 编译类型的映射并写入索引
func (ix *Indexer) PutMapping(ctx context.Context, t reflect.Type) error {
	t = introspect.Indirect(t)
	attrs, _, err := ix.typeAttrs(t)
	if err != nil {
		return err
	}
	return ix.observe(ctx, "putMapping", attrs, func(ctx context.Context) error {
		body, err := ix.compiler.Compile(t)
		if err != nil {
			return err
		}
		if ix.dropLegacy {
			for _, k := range legacyMetadata {
				delete(body, k)
			}
		}
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "json.Marshal failed")
		}
		if err := ix.do(ctx, esapi.IndicesPutMappingRequest{Index: []string{ix.index}, Body: bytes.NewReader(buf)}, nil); err != nil {
			return err
		}
		ix.cache.Put(ix.pushedKey(t), true)
		return nil
	})
}

// GetMapping 读取索引上的映射
func (ix *Indexer) GetMapping(ctx context.Context, t reflect.Type) (mapping.Document, error) {
	attrs, _, err := ix.typeAttrs(t)
	if err != nil {
		return nil, err
	}
	var doc mapping.Document
	err = ix.observe(ctx, "getMapping", attrs, func(ctx context.Context) error {
		var res map[string]struct {
			Mappings mapping.Document `json:"mappings"`
		}
		if err := ix.do(ctx, esapi.IndicesGetMappingRequest{Index: []string{ix.index}}, &res); err != nil {
			return err
		}
		for _, v := range res {
			doc = v.Mappings
			return nil
		}
		return errors.Wrapf(ErrNotFound, "no mapping for index %s", ix.index)
	})
	return doc, err
}

// DeleteMapping 映射无法单独删除，删除索引并清除类型的映射缓存
func (ix *Indexer) DeleteMapping(ctx context.Context, t reflect.Type) error {
	t = introspect.Indirect(t)
	attrs, _, err := ix.typeAttrs(t)
	if err != nil {
		return err
	}
	return ix.observe(ctx, "deleteMapping", attrs, func(ctx context.Context) error {
		exists := true
		err := ix.do(ctx, esapi.IndicesExistsRequest{Index: []string{ix.index}}, nil)
		if errors.Is(err, ErrNotFound) {
			exists = false
		} else if err != nil {
			return err
		}
		if exists {
			err := ix.do(ctx, esapi.IndicesDeleteRequest{Index: []string{ix.index}}, nil)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		ix.compiler.Invalidate(t)
		ix.cache.Remove(ix.pushedKey(t))
		return nil
	})
}

// ensureMapping 每个类型只推送一次映射
func (ix *Indexer) ensureMapping(ctx context.Context, t reflect.Type) error {
	if ix.cache.Has(ix.pushedKey(t)) {
		return nil
	}
	return ix.PutMapping(ctx, t)
}

// pushedKey 同一类型推送到不同索引各自记录
func (ix *Indexer) pushedKey(t reflect.Type) cache.Key {
	key := cache.KeyOf(cache.KindMappingPushed, t)
	key.ID = ix.index
	return key
}

func (ix *Indexer) forgetPushed() {
	var keys []cache.Key
	ix.cache.Range(func(key cache.Key, _ any) bool {
		if key.Kind == cache.KindMappingPushed && key.ID == ix.index {
			keys = append(keys, key)
		}
		return true
	})
	for _, key := range keys {
		ix.cache.Remove(key)
	}
}
