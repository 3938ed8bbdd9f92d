package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/hatlonely/esmap/introspect"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// Op 批量操作类型
type Op string

const (
	OpIndex  Op = "index"
	OpDelete Op = "delete"
)

// Action 批量操作中的一项
type Action struct {
	Op  Op
	Doc any
}

func IndexAction(v any) Action {
	return Action{Op: OpIndex, Doc: v}
}

func DeleteAction(v any) Action {
	return Action{Op: OpDelete, Doc: v}
}

type IndexResult struct {
	ID      string `json:"_id"`
	Version int64  `json:"_version"`
	Result  string `json:"result"`
}

type BulkItem struct {
	Op     Op
	ID     string
	Status int
	Error  string
}

type BulkResult struct {
	Took   int64
	Errors bool
	Items  []BulkItem
}

// Failed 返回失败的条目
func (r *BulkResult) Failed() []BulkItem {
	var items []BulkItem
	for _, item := range r.Items {
		if item.Error != "" || item.Status >= 300 {
			items = append(items, item)
		}
	}
	return items
}

// document 写请求需要的 id 和路由
type document struct {
	t        reflect.Type
	typeName string
	id       string
	routing  string
}

// resolve 取出 id 和路由键，没有路由路径时用父文档 id 作为路由
func (ix *Indexer) resolve(v any) (*document, error) {
	if v == nil {
		return nil, errors.Wrap(meta.ErrMissingIdentity, "nil document")
	}
	t := introspect.Indirect(reflect.TypeOf(v))
	name, err := ix.introspector.TypeName(t)
	if err != nil {
		return nil, err
	}
	id, err := ix.extractor.IDString(v)
	if err != nil {
		return nil, err
	}
	routing, ok, err := ix.extractor.Routing(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		if routing, _, err = ix.extractor.Parent(v); err != nil {
			return nil, err
		}
	}
	return &document{t: t, typeName: name, id: id, routing: routing}, nil
}

func (d *document) attrs() []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("type", d.typeName), attribute.String("id", d.id)}
	if d.routing != "" {
		attrs = append(attrs, attribute.String("routing", d.routing))
	}
	return attrs
}

// Index 写入文档，第一次写入某个类型时先推送映射
func (ix *Indexer) Index(ctx context.Context, v any) (*IndexResult, error) {
	d, err := ix.resolve(v)
	if err != nil {
		return nil, err
	}
	if err := ix.ensureMapping(ctx, d.t); err != nil {
		return nil, errors.WithMessage(err, "put mapping failed")
	}

	var result IndexResult
	err = ix.observe(ctx, "index", d.attrs(), func(ctx context.Context) error {
		body, err := ix.mapper.Marshal(v)
		if err != nil {
			return err
		}
		return ix.do(ctx, esapi.IndexRequest{
			Index:      ix.index,
			DocumentID: d.id,
			Body:       bytes.NewReader(body),
			Routing:    d.routing,
			Refresh:    ix.refresh,
		}, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Delete 删除文档，文档不存在时返回 ErrNotFound
func (ix *Indexer) Delete(ctx context.Context, v any) error {
	d, err := ix.resolve(v)
	if err != nil {
		return err
	}
	return ix.observe(ctx, "delete", d.attrs(), func(ctx context.Context) error {
		return ix.do(ctx, esapi.DeleteRequest{
			Index:      ix.index,
			DocumentID: d.id,
			Routing:    d.routing,
			Refresh:    ix.refresh,
		}, nil)
	})
}

// Get 按 id 读取文档并解码到 dst，文档不存在时返回 ErrNotFound
func (ix *Indexer) Get(ctx context.Context, id string, dst any, routing string) error {
	attrs := []attribute.KeyValue{attribute.String("id", id)}
	if routing != "" {
		attrs = append(attrs, attribute.String("routing", routing))
	}
	return ix.observe(ctx, "get", attrs, func(ctx context.Context) error {
		var res struct {
			Found  bool            `json:"found"`
			Source json.RawMessage `json:"_source"`
		}
		if err := ix.do(ctx, esapi.GetRequest{Index: ix.index, DocumentID: id, Routing: routing}, &res); err != nil {
			return err
		}
		if !res.Found {
			return errors.Wrapf(ErrNotFound, "document %s", id)
		}
		return ix.mapper.Unmarshal(res.Source, dst)
	})
}

// Bulk 批量写入和删除，单项失败记录在结果中
func (ix *Indexer) Bulk(ctx context.Context, actions ...Action) (*BulkResult, error) {
	if len(actions) == 0 {
		return &BulkResult{}, nil
	}

	var buf bytes.Buffer
	for i, action := range actions {
		d, err := ix.resolve(action.Doc)
		if err != nil {
			return nil, errors.WithMessagef(err, "action %d", i)
		}
		header := map[string]any{"_index": ix.index, "_id": d.id}
		if d.routing != "" {
			header["routing"] = d.routing
		}
		line, err := json.Marshal(map[Op]any{action.Op: header})
		if err != nil {
			return nil, errors.Wrap(err, "json.Marshal failed")
		}
		buf.Write(line)
		buf.WriteByte('\n')

		switch action.Op {
		case OpIndex:
			if err := ix.ensureMapping(ctx, d.t); err != nil {
				return nil, errors.WithMessage(err, "put mapping failed")
			}
			body, err := ix.mapper.Marshal(action.Doc)
			if err != nil {
				return nil, errors.WithMessagef(err, "action %d", i)
			}
			buf.Write(body)
			buf.WriteByte('\n')
		case OpDelete:
		default:
			return nil, errors.Errorf("action %d: unsupported op %q", i, action.Op)
		}
	}

	result := &BulkResult{}
	err := ix.observe(ctx, "bulk", []attribute.KeyValue{attribute.Int("actions", len(actions))}, func(ctx context.Context) error {
		var res struct {
			Took   int64                     `json:"took"`
			Errors bool                      `json:"errors"`
			Items  []map[Op]bulkResponseItem `json:"items"`
		}
		if err := ix.do(ctx, esapi.BulkRequest{Body: bytes.NewReader(buf.Bytes()), Refresh: ix.refresh}, &res); err != nil {
			return err
		}
		result.Took, result.Errors = res.Took, res.Errors
		for _, item := range res.Items {
			for op, r := range item {
				bi := BulkItem{Op: op, ID: r.ID, Status: r.Status}
				if len(r.Error) > 0 && string(r.Error) != "null" {
					bi.Error = string(r.Error)
				}
				result.Items = append(result.Items, bi)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type bulkResponseItem struct {
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}

// Search 执行查询，命中的文档解码后追加到 dst 指向的切片，返回命中总数
func (ix *Indexer) Search(ctx context.Context, body map[string]any, dst any) (int64, error) {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Slice {
		return 0, errors.Errorf("dst must be a pointer to slice, got %T", dst)
	}
	slice := rv.Elem()
	elemType := slice.Type().Elem()

	var total int64
	err := ix.observe(ctx, "search", nil, func(ctx context.Context) error {
		req := esapi.SearchRequest{Index: []string{ix.index}}
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return errors.Wrap(err, "json.Marshal failed")
			}
			req.Body = bytes.NewReader(buf)
		}
		var res struct {
			Hits struct {
				Total struct {
					Value int64 `json:"value"`
				} `json:"total"`
				Hits []struct {
					ID     string          `json:"_id"`
					Source json.RawMessage `json:"_source"`
				} `json:"hits"`
			} `json:"hits"`
		}
		if err := ix.do(ctx, req, &res); err != nil {
			return err
		}
		total = res.Hits.Total.Value
		for _, hit := range res.Hits.Hits {
			elem := reflect.New(elemType)
			if err := ix.mapper.Unmarshal(hit.Source, elem.Interface()); err != nil {
				return errors.WithMessagef(err, "decode hit %s", hit.ID)
			}
			slice.Set(reflect.Append(slice, elem.Elem()))
		}
		return nil
	})
	return total, err
}

// Count query 为 nil 时统计全部文档
func (ix *Indexer) Count(ctx context.Context, query map[string]any) (int64, error) {
	var count int64
	err := ix.observe(ctx, "count", nil, func(ctx context.Context) error {
		req := esapi.CountRequest{Index: []string{ix.index}}
		if query != nil {
			buf, err := json.Marshal(map[string]any{"query": query})
			if err != nil {
				return errors.Wrap(err, "json.Marshal failed")
			}
			req.Body = bytes.NewReader(buf)
		}
		var res struct {
			Count int64 `json:"count"`
		}
		if err := ix.do(ctx, req, &res); err != nil {
			return err
		}
		count = res.Count
		return nil
	})
	return count, err
}
