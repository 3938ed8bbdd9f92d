package esmap

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hatlonely/esmap/cache"
	"github.com/hatlonely/esmap/codec"
	"github.com/hatlonely/esmap/internal/testmodel"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func writeFile(t *testing.T, name string, content string) string {
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
	return filename
}

func TestNew(t *testing.T) {
	Convey("测试默认配置", t, func() {
		m, err := New(nil, nil)
		So(err, ShouldBeNil)
		defer m.Close()

		So(m.Indexer(), ShouldBeNil)
		So(m.Compiler().Introspector(), ShouldEqual, m.Introspector())
		So(m.Introspector().Cache(), ShouldEqual, m.Cache())
		So(m.Policy().Registry(), ShouldEqual, m.Registry())

		So(m.Register("image", testmodel.ImageSerializer{}), ShouldBeNil)

		buf, err := m.MappingJSON(reflect.TypeOf(testmodel.Tweet{}))
		So(err, ShouldBeNil)
		assert.JSONEq(t, testmodel.TweetMapping, string(buf))

		doc, err := m.Mapping(reflect.TypeOf(&testmodel.TweetComment{}))
		So(err, ShouldBeNil)
		So(doc, ShouldContainKey, "tweet_comment")

		tweet := &testmodel.Tweet{ID: 1, TweetDate: time.Date(2014, 1, 2, 0, 0, 0, 0, time.UTC)}
		buf, err = m.Marshal(tweet)
		So(err, ShouldBeNil)
		assert.JSONEq(t, `{"id":1,"tweetDate":"20140102","image":"NULLSTR","tweetDatetime":"2014/01/02 00:00:00"}`, string(buf))

		var decoded testmodel.Tweet
		So(m.Unmarshal(buf, &decoded), ShouldBeNil)
		So(decoded.ID, ShouldEqual, 1)
		So(decoded.TweetDate.Equal(tweet.TweetDate), ShouldBeTrue)

		id, err := m.Extractor().ID(tweet)
		So(err, ShouldBeNil)
		So(id, ShouldEqual, int64(1))

		Convey("清除类型缓存", func() {
			tweetType := reflect.TypeOf(testmodel.Tweet{})
			So(m.Cache().Has(cache.KeyOf(cache.KindCompiledMapping, tweetType)), ShouldBeTrue)
			So(m.Cache().Has(cache.KeyOf(cache.KindCodecPolicy, tweetType)), ShouldBeTrue)
			m.Invalidate(tweetType)
			So(m.Cache().Has(cache.KeyOf(cache.KindCompiledMapping, tweetType)), ShouldBeFalse)
			So(m.Cache().Has(cache.KeyOf(cache.KindCodecPolicy, tweetType)), ShouldBeFalse)
			So(m.Cache().Has(cache.KeyOf(cache.KindTypeInfo, tweetType)), ShouldBeFalse)
		})
	})

	Convey("测试非法配置", t, func() {
		_, err := New(&Options{Indexer: nil, Codec: codecOptions("sometimes", "")}, nil)
		So(err, ShouldNotBeNil)

		_, err = New(&Options{Codec: codecOptions("", "Nowhere/City")}, nil)
		So(err, ShouldNotBeNil)
	})

	Convey("测试声明错误", t, func() {
		m, err := New(nil, nil)
		So(err, ShouldBeNil)

		type NotIndexable struct {
			Name string `es:"name"`
		}
		_, err = m.Mapping(reflect.TypeOf(NotIndexable{}))
		So(errors.Is(err, meta.ErrNotIndexable), ShouldBeTrue)

		// 序列化器在编译映射时就要注册
		type Photo struct {
			_ meta.Indexable `estype:"photo"`

			ID  string  `es:"id" esid:""`
			URL *string `es:"url,serializer=image"`
		}
		_, err = m.Mapping(reflect.TypeOf(Photo{}))
		So(errors.Is(err, meta.ErrInvalidTag), ShouldBeTrue)
		So(m.Cache().Has(cache.KeyOf(cache.KindCompiledMapping, reflect.TypeOf(Photo{}))), ShouldBeFalse)

		So(m.Register("image", testmodel.ImageSerializer{}), ShouldBeNil)
		_, err = m.Mapping(reflect.TypeOf(Photo{}))
		So(err, ShouldBeNil)
	})
}

func TestLoad(t *testing.T) {
	Convey("测试从配置文件创建", t, func() {
		filename := writeFile(t, "esmap.yaml", `
cache:
  observable:
    name: esmap_test_cache
codec:
  defaultInclude: always
  timeZone: Asia/Shanghai
logger:
  level: debug
  target: discard
indexer:
  addresses:
    - http://es.example.com:9200
  index: tweets
  refresh: wait_for
`)
		options, err := Load(filename)
		So(err, ShouldBeNil)
		So(options.Codec.DefaultInclude, ShouldEqual, "always")
		So(options.Cache.Observable.Name, ShouldEqual, "esmap_test_cache")
		So(options.Cache.Observable.EnableMetrics, ShouldBeTrue)
		So(options.Indexer.Index, ShouldEqual, "tweets")
		So(options.Indexer.Timeout, ShouldEqual, 30*time.Second)
		So(options.Indexer.MaxRetries, ShouldEqual, 3)
		So(options.Logger.Format, ShouldEqual, "text")

		var paths []string
		options.Indexer.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
			paths = append(paths, req.Method+" "+req.URL.Path)
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"X-Elastic-Product": []string{"Elasticsearch"}},
				Body:       io.NopCloser(strings.NewReader(`{"_id":"7","result":"created"}`)),
				Request:    req,
			}, nil
		})

		registry := prometheus.NewRegistry()
		m, err := New(options, registry)
		So(err, ShouldBeNil)
		So(m.Indexer(), ShouldNotBeNil)
		So(m.Indexer().IndexName(), ShouldEqual, "tweets")

		_, err = m.Indexer().Index(context.Background(), &testmodel.TweetComment{ID: 7, TweetID: 1})
		So(err, ShouldBeNil)
		So(paths, ShouldResemble, []string{"PUT /tweets/_mapping", "PUT /tweets/_doc/7"})

		families, err := registry.Gather()
		So(err, ShouldBeNil)
		var names []string
		for _, family := range families {
			names = append(names, family.GetName())
		}
		So(names, ShouldContain, "esmap_test_cache_operations_total")

		Convey("defaultInclude=always 时输出空值", func() {
			buf, err := m.Marshal(&testmodel.TweetComment{ID: 7})
			So(err, ShouldBeNil)
			assert.JSONEq(t, `{"id":7,"tweetId":0,"comment":""}`, string(buf))
		})
	})

	Convey("测试配置文件校验失败", t, func() {
		filename := writeFile(t, "esmap.json", `{"indexer": {"addresses": ["http://localhost:9200"]}}`)
		_, err := Load(filename)
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "Index")
	})
}

func codecOptions(include string, timeZone string) codec.Options {
	return codec.Options{DefaultInclude: include, TimeZone: timeZone}
}
