package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/hatlonely/esmap/cache"
	"github.com/hatlonely/esmap/internal/testmodel"
	"github.com/hatlonely/esmap/introspect"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Event struct {
	_ meta.Indexable `estype:"event"`

	ID      string           `es:"id" esid:""`
	Payload meta.RawJSON     `es:"payload"`
	Body    string           `es:"body,type=json"`
	Extra   json.RawMessage  `es:"extra"`
	At      *strfmt.DateTime `es:"at,format=date_time_no_millis"`
	Day     strfmt.Date      `es:"day,format=date"`
	Plain   time.Time        `es:"plain"`
	Count   int              `es:"count,json_include=non_default"`
	Note    string           `es:"note,json_include=non_null"`
	Tags    []string         `es:"tags,json_include=always"`
}

type moneyCodec struct{}

func (moneyCodec) Serialize(v any) ([]byte, error) {
	m := v.(MoneyValue)
	return json.Marshal(float64(m.Cents) / 100)
}

func (moneyCodec) Deserialize(data []byte, target reflect.Type) (any, error) {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return MoneyValue{Cents: int64(f*100 + 0.5)}, nil
}

type MoneyValue struct {
	_ meta.Indexable `estype:"money,serializer=money,deserializer=money"`

	Cents int64 `es:"cents"`
}

type Order struct {
	_ meta.Indexable `estype:"order,json_include=always"`

	ID     int64        `es:"id" esid:""`
	Price  MoneyValue   `esobj:"price"`
	Prices []MoneyValue `esobj:"prices"`
	Lines  []*Line      `esobj:"lines,nested"`
	Memo   string       `es:"memo"`
}

type Line struct {
	SKU      string    `es:"sku"`
	Quantity int       `es:"quantity"`
	Shipped  time.Time `es:"shipped,format=yyyy-MM-dd"`
	Children []*Line   `esobj:"children"`
}

type Conflict struct {
	_ meta.Indexable `estype:""`

	Title string `esmulti:"title" esfield:"serializer=upper" esfield.raw:"serializer=raw"`
}

type Agreeing struct {
	_ meta.Indexable `estype:""`

	Title string `esmulti:"title" esfield:"serializer=upper" esfield.raw:"index=not_analyzed,serializer=upper"`
}

type Unknown struct {
	_ meta.Indexable `estype:""`

	Title string `es:"title,serializer=nope"`
}

type Schedule struct {
	_ meta.Indexable `estype:""`

	ID    string      `es:"id" esid:""`
	Dates []time.Time `es:"dates,format=yyyy,serializer=kind"`
	Plain []time.Time `es:"plain,serializer=kind"`
}

// kindCodec 输出值的运行时类型
type kindCodec struct{}

func (kindCodec) Serialize(v any) ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%T", v))
}

type upperCodec struct{}

func (upperCodec) Serialize(v any) ([]byte, error) {
	if v == nil {
		return []byte(`""`), nil
	}
	return json.Marshal(strings.ToUpper(v.(string)))
}

func newMapper(t *testing.T, options *Options) *Mapper {
	registry := NewRegistry()
	registry.MustRegister("image", testmodel.ImageSerializer{})
	registry.MustRegister("money", moneyCodec{})
	registry.MustRegister("upper", upperCodec{})
	registry.MustRegister("kind", kindCodec{})
	policy, err := NewPolicy(introspect.New(cache.New(nil)), registry, options)
	require.NoError(t, err)
	return NewMapper(policy)
}

func TestMapperTweet(t *testing.T) {
	Convey("测试 Tweet 的编解码", t, func() {
		m := newMapper(t, nil)

		tweet := &testmodel.Tweet{
			ID:           1,
			User:         &testmodel.User{UserName: "kzwang", Description: "desc"},
			TweetString:  "hello",
			TweetDate:    time.Date(2014, 1, 2, 0, 0, 0, 0, time.UTC),
			URLs:         []string{"http://a.com"},
			SpecialDates: []time.Time{time.Date(2014, 1, 2, 3, 4, 5, 0, time.UTC)},
		}

		Convey("空值使用自定义序列化器，空集合省略", func() {
			buf, err := m.Marshal(tweet)
			So(err, ShouldBeNil)
			assert.JSONEq(t, `{
				"id": 1,
				"user": {"userName": "kzwang", "description": "desc"},
				"tweetString": "hello",
				"tweetDate": "20140102",
				"image": "NULLSTR",
				"urls": ["http://a.com"],
				"specialDates": ["20140102T030405Z"],
				"tweetDatetime": "2014/01/02 00:00:00"
			}`, string(buf))
		})

		Convey("自定义序列化器", func() {
			image := "aabbccdd"
			tweet.Image = &image
			buf, err := m.Marshal(tweet)
			So(err, ShouldBeNil)
			var doc map[string]any
			So(json.Unmarshal(buf, &doc), ShouldBeNil)
			So(doc["image"], ShouldEqual, "BBCCDD")
		})

		Convey("往返", func() {
			flagged := true
			tweet.Flagged = &flagged
			tweet.MentionedUserList = []*testmodel.User{{UserName: "a"}, nil}
			buf, err := m.Marshal(tweet)
			So(err, ShouldBeNil)

			var out testmodel.Tweet
			So(m.Unmarshal(buf, &out), ShouldBeNil)
			So(out.ID, ShouldEqual, 1)
			So(out.User, ShouldResemble, tweet.User)
			So(out.TweetString, ShouldEqual, "hello")
			So(out.TweetDate.Equal(tweet.TweetDate), ShouldBeTrue)
			So(*out.Image, ShouldEqual, "NULLSTR")
			So(out.URLs, ShouldResemble, tweet.URLs)
			So(*out.Flagged, ShouldBeTrue)
			So(out.MentionedUserList, ShouldHaveLength, 2)
			So(out.MentionedUserList[0].UserName, ShouldEqual, "a")
			So(out.MentionedUserList[1], ShouldBeNil)
			So(out.SpecialDates, ShouldHaveLength, 1)
			So(out.SpecialDates[0].Equal(tweet.SpecialDates[0]), ShouldBeTrue)
		})

		Convey("忽略未知属性，日期按任一格式解析", func() {
			var out testmodel.Tweet
			err := m.Unmarshal([]byte(`{"id": 2, "unknown": {"x": 1}, "tweetDate": "2014/01/02", "tweetDatetime": "garbage"}`), &out)
			So(err, ShouldBeNil)
			So(out.ID, ShouldEqual, 2)
			So(out.TweetDate.Equal(time.Date(2014, 1, 2, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
		})

		Convey("日期格式不匹配", func() {
			var out testmodel.Tweet
			err := m.Unmarshal([]byte(`{"tweetDate": "2014-01-02"}`), &out)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "Tweet.TweetDate")
		})

		Convey("nil 和非指针", func() {
			buf, err := m.Marshal((*testmodel.Tweet)(nil))
			So(err, ShouldBeNil)
			So(string(buf), ShouldEqual, "null")
			So(m.Unmarshal([]byte(`{}`), testmodel.Tweet{}), ShouldNotBeNil)
		})
	})
}

func TestMapperInclusionAndRaw(t *testing.T) {
	Convey("测试包含策略与原始 JSON", t, func() {
		m := newMapper(t, nil)

		Convey("零值", func() {
			buf, err := m.Marshal(Event{})
			So(err, ShouldBeNil)
			assert.JSONEq(t, `{"note": "", "tags": null}`, string(buf))
		})

		Convey("原始 JSON 原样嵌入并压缩", func() {
			at := strfmt.DateTime(time.Date(2014, 1, 2, 3, 4, 5, 0, time.UTC))
			e := Event{
				ID:      "e1",
				Payload: `{ "a" : [1, 2] }`,
				Body:    `{"b": true}`,
				Extra:   json.RawMessage(`[ 1 ]`),
				At:      &at,
				Day:     strfmt.Date(time.Date(2014, 1, 2, 0, 0, 0, 0, time.UTC)),
				Plain:   time.Date(2014, 1, 2, 0, 0, 0, 0, time.UTC),
				Count:   3,
				Note:    "n",
				Tags:    []string{},
			}
			buf, err := m.Marshal(e)
			So(err, ShouldBeNil)
			assert.JSONEq(t, `{
				"id": "e1",
				"payload": {"a": [1, 2]},
				"body": {"b": true},
				"extra": [1],
				"at": "2014-01-02T03:04:05Z",
				"day": "2014-01-02",
				"plain": "2014-01-02T00:00:00Z",
				"count": 3,
				"note": "n",
				"tags": []
			}`, string(buf))
			So(string(buf), ShouldContainSubstring, `"payload":{"a":[1,2]}`)

			var out Event
			So(m.Unmarshal(buf, &out), ShouldBeNil)
			So(out.Payload, ShouldEqual, meta.RawJSON(`{"a":[1,2]}`))
			So(out.Body, ShouldEqual, `{"b":true}`)
			So(string(out.Extra), ShouldEqual, `[1]`)
			So(time.Time(*out.At).Equal(time.Time(at)), ShouldBeTrue)
			So(time.Time(out.Day).Equal(time.Time(e.Day)), ShouldBeTrue)
			So(out.Plain.Equal(e.Plain), ShouldBeTrue)
			So(out.Tags, ShouldResemble, []string{})
		})

		Convey("默认包含策略可配置", func() {
			m := newMapper(t, &Options{DefaultInclude: "always"})
			buf, err := m.Marshal(Event{})
			So(err, ShouldBeNil)
			var doc map[string]any
			So(json.Unmarshal(buf, &doc), ShouldBeNil)
			So(doc, ShouldContainKey, "id")
			So(doc["payload"], ShouldBeNil)
			So(doc, ShouldNotContainKey, "count")
		})

		Convey("非法的原始 JSON", func() {
			_, err := m.Marshal(Event{Payload: "{"})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestMapperTypeCodecAndComponents(t *testing.T) {
	Convey("测试类型级编解码器和组件", t, func() {
		m := newMapper(t, nil)

		order := &Order{
			ID:     7,
			Price:  MoneyValue{Cents: 1250},
			Prices: []MoneyValue{{Cents: 1}, {Cents: 200}},
			Lines: []*Line{{
				SKU:      "a",
				Quantity: 2,
				Shipped:  time.Date(2014, 1, 2, 0, 0, 0, 0, time.UTC),
				Children: []*Line{{SKU: "b"}},
			}},
		}
		buf, err := m.Marshal(order)
		So(err, ShouldBeNil)
		assert.JSONEq(t, `{
			"id": 7,
			"price": 12.5,
			"prices": [0.01, 2],
			"lines": [{"sku": "a", "quantity": 2, "shipped": "2014-01-02", "children": [{"sku": "b", "quantity": 0}]}],
			"memo": ""
		}`, string(buf))

		var out Order
		So(m.Unmarshal(buf, &out), ShouldBeNil)
		So(out.Price.Cents, ShouldEqual, 1250)
		So(out.Prices, ShouldHaveLength, 2)
		So(out.Prices[1].Cents, ShouldEqual, 200)
		So(out.Lines[0].Shipped.Equal(order.Lines[0].Shipped), ShouldBeTrue)
		So(out.Lines[0].Children[0].SKU, ShouldEqual, "b")

		Convey("顶层类型级编解码器", func() {
			buf, err := m.Marshal(MoneyValue{Cents: 99})
			So(err, ShouldBeNil)
			So(string(buf), ShouldEqual, "0.99")
		})
	})
}

func TestPolicy(t *testing.T) {
	Convey("测试 Policy", t, func() {
		m := newMapper(t, nil)
		p := m.Policy()

		Convey("多字段的序列化器冲突", func() {
			_, err := p.Type(reflect.TypeFor[Conflict]())
			So(errors.Is(err, meta.ErrConflictingCodec), ShouldBeTrue)
		})

		Convey("多字段的序列化器一致", func() {
			tp, err := p.Type(reflect.TypeFor[Agreeing]())
			So(err, ShouldBeNil)
			So(tp.Members[0].Serializer, ShouldEqual, upperCodec{})
			So(tp.Members[0].NullSerializer, ShouldEqual, upperCodec{})
		})

		Convey("容器成员的序列化器作用在元素上", func() {
			tp, err := p.Type(reflect.TypeFor[Schedule]())
			So(err, ShouldBeNil)
			So(tp.Members[1].PerElement, ShouldBeTrue)
			So(tp.Members[2].PerElement, ShouldBeTrue)

			day := time.Date(2014, 1, 2, 0, 0, 0, 0, time.UTC)
			buf, err := m.Marshal(&Schedule{ID: "s", Dates: []time.Time{day, day}, Plain: []time.Time{day, day}})
			So(err, ShouldBeNil)
			assert.JSONEq(t, `{"id":"s","dates":["time.Time","time.Time"],"plain":["time.Time","time.Time"]}`, string(buf))

			var decoded Schedule
			So(m.Unmarshal([]byte(`{"id":"s","dates":["2014","2015"]}`), &decoded), ShouldBeNil)
			So(decoded.Dates[1].Year(), ShouldEqual, 2015)
		})

		Convey("未注册的序列化器", func() {
			_, err := p.Type(reflect.TypeFor[Unknown]())
			So(errors.Is(err, meta.ErrInvalidTag), ShouldBeTrue)
		})

		Convey("成员配置", func() {
			tp, err := p.Type(reflect.TypeFor[testmodel.Tweet]())
			So(err, ShouldBeNil)
			byName := map[string]*MemberPolicy{}
			for _, mp := range tp.Members {
				byName[mp.Name] = mp
			}
			So(byName["image"].Include, ShouldEqual, meta.IncludeAlways)
			So(byName["id"].Include, ShouldEqual, meta.IncludeNonEmpty)
			So(byName["tweetDate"].Serializer, ShouldHaveSameTypeAs, &DateCodec{})
			So(byName["tweetDate"].PerElement, ShouldBeFalse)
			So(byName["specialDates"].PerElement, ShouldBeTrue)
			So(byName["user"].Component, ShouldEqual, reflect.TypeFor[testmodel.User]())
			So(byName["urls"].Serializer, ShouldBeNil)

			same, err := p.Type(reflect.TypeFor[*testmodel.Tweet]())
			So(err, ShouldBeNil)
			So(same, ShouldEqual, tp)
		})

		Convey("非法的选项", func() {
			_, err := NewPolicy(nil, nil, &Options{DefaultInclude: "sometimes"})
			So(err, ShouldNotBeNil)
			_, err = NewPolicy(nil, nil, &Options{TimeZone: "Mars/Olympus"})
			So(err, ShouldNotBeNil)
		})
	})
}
