package mapping

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/hatlonely/esmap/cache"
	"github.com/hatlonely/esmap/codec"
	"github.com/hatlonely/esmap/internal/testmodel"
	"github.com/hatlonely/esmap/introspect"
	"github.com/hatlonely/esmap/log/logger"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Author struct {
	Name string `es:"name,index=not_analyzed"`
}

type Article struct {
	_ meta.Indexable `estype:"article"`

	ID     int64   `es:"id" esid:""`
	Title  string  `es:"title,index=analyzed"`
	Author *Author `esobj:"user"`
}

type NestedArticle struct {
	_ meta.Indexable `estype:"article"`

	ID     int64   `es:"id" esid:""`
	Author *Author `esobj:"user,nested"`
}

type Opaque struct {
	Blob map[string]any
}

type Partial struct {
	_ meta.Indexable `estype:""`

	ID      string       `esid:"store,index=no"`
	Payload meta.RawJSON `es:"payload"`
	Extra   Opaque       `es:"extra"`
	Raw     string       `es:"raw,index=no,store" esraw:"{\"type\":\"string\",\"index\":\"not_analyzed\",\"fields\":{\"raw\":{\"type\":\"string\"}}}"`
	Tags    []string     `esmulti:"tags,path=just_name" esfield:"index=analyzed,similarity=BM25" esfield.sort:"index=not_analyzed,similarity=default" esfield.count:"type=token_count,analyzer=standard"`
}

type Metadata struct {
	_ meta.Indexable `estype:"meta,index_analyzer=ik,date_formats=yyyy-MM-dd;dd/MM/yyyy,date_detection=false,type_store,type_index=no,source_enabled=false,source_compress=true,source_compress_threshold=200b,source_includes=a.*;b,source_excludes=c,all_store=true,all_term_vector=with_offsets,all_analyzer=whitespace,analyzer_path=lang,boost_name=my_boost,boost_null_value=1.5,routing_store=false,routing_index=not_analyzed,routing_required=true,routing_path=user.name,index_enabled=true,size_store=true,ttl_enabled=true,ttl_store=false,ttl_default=1d"`

	ID       string  `es:"id,type=string,index=not_analyzed" esid:"index=not_analyzed"`
	Location string  `es:"location,type=geo_point,lat_lon,geohash=true,geohash_precision=12,validate=false,normalize=true"`
	Shape    string  `es:"shape,type=geo_shape,tree=quadtree,precision=1m,tree_levels=20,distance_error_pct=0.025"`
	Score    float32 `es:"score,boost=2,null_value=0,coerce=true,ignore_malformed=true,precision_step=4,doc_values"`
	Body     string  `es:"body,norms_enabled=false,norms_loading=lazy,index_options=offsets,term_vector=with_positions_offsets,include_in_all=false,ignore_above=256,position_offset_gap=100,postings_format=pulsing,index_name=content"`
	Author   Author  `esobj:"author,dynamic=strict,enabled=false,path=full,include_in_all=true"`
}

type Node struct {
	Name     string  `es:"name"`
	Children []*Node `esobj:"children"`
}

type Tree struct {
	_ meta.Indexable `estype:""`

	ID   string `esid:""`
	Root Node   `esobj:"root"`
}

type Anonymous struct {
	_ meta.Indexable `estype:""`

	Title string `es:"title"`
}

type TwoIDs struct {
	_ meta.Indexable `estype:""`

	ID    string `es:"id" esid:""`
	Alias string `es:"alias" esid:""`
}

type Clashing struct {
	_ meta.Indexable `estype:""`

	ID    string `es:"id" esid:""`
	Title string `esmulti:"title" esfield:"serializer=upper" esfield.raw:"serializer=lower"`
}

type Unregistered struct {
	_ meta.Indexable `estype:""`

	ID    string `es:"id" esid:""`
	Title string `es:"title,serializer=missing"`
}

type Badge struct {
	Label string `es:"label,deserializer=missing"`
}

type Holder struct {
	_ meta.Indexable `estype:""`

	ID     string  `es:"id" esid:""`
	Badges []Badge `esobj:"badges"`
}

func newCompiler() (*Compiler, *bytes.Buffer) {
	var buf bytes.Buffer
	l, _ := logger.NewSLogWithOptions(&logger.SLogOptions{Level: "warn", Format: "json", Writer: &buf})
	return New(introspect.New(cache.New(nil)), l), &buf
}

func TestCompileGolden(t *testing.T) {
	c, _ := newCompiler()

	buf, err := c.JSON(reflect.TypeFor[testmodel.Tweet]())
	require.NoError(t, err)
	assert.JSONEq(t, testmodel.TweetMapping, string(buf))

	buf, err = c.JSON(reflect.TypeFor[*testmodel.TweetComment]())
	require.NoError(t, err)
	assert.JSONEq(t, testmodel.TweetCommentMapping, string(buf))
}

func TestCompileEndToEnd(t *testing.T) {
	c, _ := newCompiler()

	doc, err := c.CompileWrapped(reflect.TypeFor[Article]())
	require.NoError(t, err)
	buf, _ := json.Marshal(doc)
	assert.JSONEq(t, `{
		"article": {
			"_id": {"path": "id"},
			"properties": {
				"id": {"type": "long"},
				"title": {"type": "string", "index": "analyzed"},
				"user": {"type": "object", "properties": {"name": {"type": "string", "index": "not_analyzed"}}}
			}
		}
	}`, string(buf))
}

func TestCompileTypeMetadata(t *testing.T) {
	c, _ := newCompiler()

	doc, err := c.Compile(reflect.TypeFor[Metadata]())
	require.NoError(t, err)
	delete(doc, "properties")
	buf, _ := json.Marshal(doc)
	assert.JSONEq(t, `{
		"index_analyzer": "ik",
		"dynamic_date_formats": ["yyyy-MM-dd", "dd/MM/yyyy"],
		"date_detection": false,
		"_id": {"index": "not_analyzed", "path": "id"},
		"_type": {"store": "yes", "index": "no"},
		"_source": {"enabled": false, "compress": true, "compress_threshold": "200b", "includes": ["a.*", "b"], "excludes": ["c"]},
		"_all": {"store": "yes", "term_vector": "with_offsets", "analyzer": "whitespace"},
		"_analyzer": {"path": "lang"},
		"_boost": {"name": "my_boost", "null_value": 1.5},
		"_routing": {"store": "no", "index": "not_analyzed", "required": true, "path": "user.name"},
		"_index": {"enabled": true},
		"_size": {"store": "yes"},
		"_ttl": {"enabled": true, "store": "no", "default": "1d"}
	}`, string(buf))

	doc, err = c.Compile(reflect.TypeFor[Metadata]())
	require.NoError(t, err)
	buf, _ = json.Marshal(doc["properties"])
	assert.JSONEq(t, `{
		"id": {"type": "string", "index": "not_analyzed"},
		"location": {"type": "geo_point", "lat_lon": true, "geohash": true, "geohash_precision": 12, "validate": false},
		"shape": {"type": "geo_shape", "tree": "quadtree", "precision": "1m", "tree_levels": 20, "distance_error_pct": 0.025},
		"score": {"type": "float", "boost": 2, "null_value": "0", "ignore_malformed": true, "precision_step": 4, "doc_values": true},
		"body": {
			"type": "string",
			"norms": {"enabled": false, "loading": "lazy"},
			"index_options": "offsets",
			"term_vector": "with_positions_offsets",
			"include_in_all": false,
			"ignore_above": 256,
			"position_offset_gap": 100,
			"postings_format": "pulsing",
			"index_name": "content"
		},
		"author": {
			"type": "object",
			"dynamic": "strict",
			"enabled": false,
			"path": "full",
			"include_in_all": true,
			"properties": {"name": {"type": "string", "index": "not_analyzed"}}
		}
	}`, string(buf))
}

func TestCompile(t *testing.T) {
	Convey("测试 Compile 方法", t, func() {
		c, logs := newCompiler()

		Convey("nested 与 object 只有 type 不同", func() {
			object, err := c.Compile(reflect.TypeFor[Article]())
			So(err, ShouldBeNil)
			nested, err := c.Compile(reflect.TypeFor[NestedArticle]())
			So(err, ShouldBeNil)

			objectUser := object["properties"].(Document)["user"].(Document)
			nestedUser := nested["properties"].(Document)["user"].(Document)
			So(objectUser["type"], ShouldEqual, "object")
			So(nestedUser["type"], ShouldEqual, "nested")
			delete(objectUser, "type")
			delete(nestedUser, "type")
			So(objectUser, ShouldResemble, nestedUser)
		})

		Convey("原始映射、无法推断的类型和多字段", func() {
			doc, err := c.Compile(reflect.TypeFor[Partial]())
			So(err, ShouldBeNil)

			So(doc["_id"], ShouldResemble, Document{"index": "no", "store": "yes"})

			properties := doc["properties"].(Document)
			So(properties, ShouldNotContainKey, "payload")
			So(properties, ShouldNotContainKey, "extra")
			So(logs.String(), ShouldContainSubstring, "payload")
			So(logs.String(), ShouldContainSubstring, "extra")

			So(properties["raw"], ShouldResemble, Document{
				"type":   "string",
				"index":  "not_analyzed",
				"fields": map[string]any{"raw": map[string]any{"type": "string"}},
			})

			tags := properties["tags"].(Document)
			So(tags["type"], ShouldEqual, "string")
			So(tags["path"], ShouldEqual, "just_name")
			So(tags["index"], ShouldEqual, "analyzed")
			So(tags["similarity"], ShouldEqual, "BM25")
			fields := tags["fields"].(Document)
			So(len(fields), ShouldEqual, 2)
			So(fields["sort"], ShouldResemble, Document{"type": "string", "index": "not_analyzed", "similarity": "default"})
			So(fields["count"], ShouldResemble, Document{"type": "token_count", "analyzer": "standard"})
		})

		Convey("声明错误", func() {
			_, err := c.Compile(reflect.TypeFor[Author]())
			So(errors.Is(err, meta.ErrNotIndexable), ShouldBeTrue)

			_, err = c.Compile(reflect.TypeFor[Anonymous]())
			So(errors.Is(err, meta.ErrMissingIdentity), ShouldBeTrue)
			So(c.cache.Has(cache.KeyOf(cache.KindCompiledMapping, reflect.TypeFor[Anonymous]())), ShouldBeFalse)

			_, err = c.Compile(reflect.TypeFor[TwoIDs]())
			So(errors.Is(err, meta.ErrAmbiguousIdentity), ShouldBeTrue)

			_, err = c.Compile(reflect.TypeFor[Tree]())
			So(errors.Is(err, meta.ErrInvalidTag), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "recursive")
		})

		Convey("编解码器声明错误在编译时返回", func() {
			_, err := c.Compile(reflect.TypeFor[Clashing]())
			So(errors.Is(err, meta.ErrConflictingCodec), ShouldBeTrue)

			// 没有校验器时不检查名字是否注册
			_, err = c.Compile(reflect.TypeFor[Unregistered]())
			So(err, ShouldBeNil)

			in := introspect.New(cache.New(nil))
			policy, err := codec.NewPolicy(in, codec.NewRegistry(), nil)
			So(err, ShouldBeNil)
			checked := New(in, nil).WithCodecValidator(policy)

			_, err = checked.Compile(reflect.TypeFor[Unregistered]())
			So(errors.Is(err, meta.ErrInvalidTag), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "missing")

			_, err = checked.Compile(reflect.TypeFor[Holder]())
			So(errors.Is(err, meta.ErrInvalidTag), ShouldBeTrue)

			_, err = checked.Compile(reflect.TypeFor[Article]())
			So(err, ShouldBeNil)
		})

		Convey("缓存与失效", func() {
			typ := reflect.TypeFor[testmodel.Tweet]()
			var wg sync.WaitGroup
			docs := make([]Document, 8)
			for i := range docs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					docs[i], _ = c.Compile(typ)
				}(i)
			}
			wg.Wait()

			cached, ok := c.cache.Get(cache.KeyOf(cache.KindCompiledMapping, typ))
			So(ok, ShouldBeTrue)
			for _, doc := range docs {
				So(doc, ShouldResemble, cached)
			}

			c.Invalidate(typ)
			So(c.cache.Has(cache.KeyOf(cache.KindCompiledMapping, typ)), ShouldBeFalse)

			fresh, err := New(introspect.New(cache.New(nil)), nil).Compile(typ)
			So(err, ShouldBeNil)
			again, err := c.Compile(typ)
			So(err, ShouldBeNil)
			So(again, ShouldResemble, fresh)
		})

		Convey("同名的不同类型不共享映射", func() {
			first := func() reflect.Type {
				type Doc struct {
					_ meta.Indexable `estype:"doc"`

					ID string `es:"id" esid:""`
					A  int    `es:"a"`
				}
				return reflect.TypeFor[Doc]()
			}()
			second := func() reflect.Type {
				type Doc struct {
					_ meta.Indexable `estype:"doc"`

					ID string `es:"id" esid:""`
					B  bool   `es:"b"`
				}
				return reflect.TypeFor[Doc]()
			}()
			So(meta.TypeID(first), ShouldEqual, meta.TypeID(second))

			a, err := c.Compile(first)
			So(err, ShouldBeNil)
			b, err := c.Compile(second)
			So(err, ShouldBeNil)
			So(a["properties"], ShouldContainKey, "a")
			So(a["properties"], ShouldNotContainKey, "b")
			So(b["properties"], ShouldContainKey, "b")
			So(b["properties"], ShouldNotContainKey, "a")
		})

		Convey("返回的文档可以修改", func() {
			doc, _ := c.Compile(reflect.TypeFor[Article]())
			doc["properties"].(Document)["id"].(Document)["type"] = "keyword"
			again, _ := c.Compile(reflect.TypeFor[Article]())
			So(again["properties"].(Document)["id"].(Document)["type"], ShouldEqual, "long")
		})

		Convey("JSON 以类型名为根", func() {
			buf, err := c.JSON(reflect.TypeFor[Article]())
			So(err, ShouldBeNil)
			So(strings.HasPrefix(string(buf), `{"article":`), ShouldBeTrue)
		})
	})
}
