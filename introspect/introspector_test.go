package introspect

import (
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/hatlonely/esmap/cache"
	"github.com/hatlonely/esmap/internal/testmodel"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type plainStruct struct {
	Name string `es:"name"`
}

type twoIDs struct {
	_ meta.Indexable `estype:"two_ids"`

	A string `es:"a" esid:""`
	B string `es:"b" esid:""`
}

type noID struct {
	_ meta.Indexable `estype:""`

	A string `es:"a"`
}

type Base struct {
	ID      string    `es:"id" esid:""`
	Created time.Time `es:"created"`
}

type derived struct {
	_ meta.Indexable `estype:"derived"`
	Base

	Title   string `es:"title"`
	Ignored string
	Skipped string `es:"-"`
	secret  string `es:"secret"`
}

type badOptions struct {
	_ meta.Indexable `estype:"bad,source_enabled=maybe"`

	A string `es:"a,index=sometimes"`
	B string `es:"b,unknown_option=1"`
}

type dupSiblings struct {
	_ meta.Indexable `estype:""`

	A string `esmulti:"a" esfield.x:"index=analyzed" esfield.x:"index=no"`
}

type twoUnnamed struct {
	_ meta.Indexable `estype:""`

	A string `esmulti:"a" esfield:"index=analyzed" esfield:"index=no"`
}

type unnamedAndNamed struct {
	_ meta.Indexable `estype:""`

	A string `esmulti:"a" esfield:"index=analyzed" esfield.a:"index=no"`
}

type rawField struct {
	_ meta.Indexable `estype:""`

	Payload meta.RawJSON `es:"payload,index=no" esraw:"{\"type\":\"object\",\"enabled\":false}"`
}

type rawOnly struct {
	_ meta.Indexable `estype:""`

	Payload meta.RawJSON `esraw:"{\"type\":\"object\"}"`
}

func TestInspect(t *testing.T) {
	Convey("测试 Inspect 方法", t, func() {
		in := New(cache.New(nil))

		Convey("没有 Indexable 标记", func() {
			_, err := in.Inspect(reflect.TypeFor[plainStruct]())
			So(errors.Is(err, meta.ErrNotIndexable), ShouldBeTrue)

			ti, err := in.Structure(reflect.TypeFor[plainStruct]())
			So(err, ShouldBeNil)
			So(ti.Descriptor, ShouldBeNil)
			So(len(ti.Members), ShouldEqual, 1)
		})

		Convey("多个标识成员", func() {
			_, err := in.Inspect(reflect.TypeFor[twoIDs]())
			So(errors.Is(err, meta.ErrAmbiguousIdentity), ShouldBeTrue)
		})

		Convey("没有标识成员不是错误", func() {
			ti, err := in.Inspect(reflect.TypeFor[noID]())
			So(err, ShouldBeNil)
			So(ti.Identity, ShouldBeNil)

			id, err := in.Identity(reflect.TypeFor[noID]())
			So(err, ShouldBeNil)
			So(id, ShouldBeNil)
		})

		Convey("嵌入结构体的成员按声明顺序展开", func() {
			ti, err := in.Inspect(reflect.TypeFor[*derived]())
			So(err, ShouldBeNil)
			So(ti.Descriptor.Name, ShouldEqual, "derived")

			var names []string
			for _, m := range ti.Members {
				names = append(names, m.Name())
			}
			So(names, ShouldResemble, []string{"id", "created", "title"})
			So(ti.Identity.GoName, ShouldEqual, "ID")
			So(ti.Identity.Index, ShouldResemble, []int{1, 0})
		})

		Convey("非法选项的错误全部返回", func() {
			_, err := in.Inspect(reflect.TypeFor[badOptions]())
			So(errors.Is(err, meta.ErrInvalidTag), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "source_enabled")
			So(err.Error(), ShouldContainSubstring, "sometimes")
			So(err.Error(), ShouldContainSubstring, "unknown_option")
		})

		Convey("多字段子字段重名", func() {
			for _, typ := range []reflect.Type{
				reflect.TypeFor[dupSiblings](),
				reflect.TypeFor[twoUnnamed](),
				reflect.TypeFor[unnamedAndNamed](),
			} {
				_, err := in.Inspect(typ)
				So(errors.Is(err, meta.ErrDuplicateMultiFieldName), ShouldBeTrue)
			}
		})

		Convey("原始映射", func() {
			ti, err := in.Inspect(reflect.TypeFor[rawField]())
			So(err, ShouldBeNil)
			So(ti.Members[0].Field.RawMapping, ShouldEqual, `{"type":"object","enabled":false}`)
			So(ti.Members[0].Field.Index, ShouldEqual, meta.IndexNo)
		})

		Convey("只有 esraw 没有 es", func() {
			_, err := in.Inspect(reflect.TypeFor[rawOnly]())
			So(errors.Is(err, meta.ErrInvalidTag), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "esraw requires es")
		})

		Convey("Tweet 类型", func() {
			ti, err := in.Inspect(reflect.TypeFor[testmodel.Tweet]())
			So(err, ShouldBeNil)

			d := ti.Descriptor
			So(d.Name, ShouldEqual, "tweetIndex")
			So(*d.NumericDetection, ShouldBeTrue)
			So(*d.AllEnabled, ShouldBeFalse)
			So(d.TimestampFormat, ShouldEqual, "yyyy/MM/dd HH:mm:ss")
			So(d.HasParent(), ShouldBeFalse)

			So(ti.Identity.GoName, ShouldEqual, "ID")
			So(ti.Identity.ID.Index, ShouldEqual, meta.IndexNotAnalyzed)

			ts := ti.Lookup("tweetString")
			So(ts, ShouldNotBeNil)
			So(*ts.Field.Store, ShouldBeTrue)
			So(*ts.Field.Coerce, ShouldBeFalse)
			So(ts.Field.CopyTo, ShouldResemble, []string{"image"})
			So(*ts.Field.FieldData.FilterFrequencyMinSegmentSize, ShouldEqual, 500)

			accessor := ti.Lookup("tweetDatetime")
			So(accessor, ShouldNotBeNil)
			So(accessor.IsAccessor(), ShouldBeTrue)
			So(accessor.Type, ShouldEqual, reflect.TypeFor[time.Time]())

			users := ti.Lookup("MentionedUserList")
			So(users.Name(), ShouldEqual, "mentionedUsers")
			So(users.Component, ShouldNotBeNil)
		})

		Convey("多字段的主字段", func() {
			ti, err := in.Structure(reflect.TypeFor[testmodel.User]())
			So(err, ShouldBeNil)
			multi := ti.Lookup("description").Multi
			So(multi.Primary().Index, ShouldEqual, meta.IndexAnalyzed)
			So(len(multi.Fields), ShouldEqual, 2)
			So(multi.Fields[1].Name, ShouldEqual, "untouched")
		})

		Convey("父类型", func() {
			ti, err := in.Inspect(reflect.TypeFor[testmodel.TweetComment]())
			So(err, ShouldBeNil)
			So(ti.Descriptor.HasParent(), ShouldBeTrue)
			So(ti.Descriptor.ParentType, ShouldEqual, reflect.TypeFor[testmodel.Tweet]())
			So(ti.Descriptor.ParentPath, ShouldEqual, "tweetId")
		})

		Convey("结果被缓存", func() {
			typ := reflect.TypeFor[testmodel.Tweet]()
			a, _ := in.Inspect(typ)
			So(in.Cache().Has(cache.KeyOf(cache.KindTypeInfo, typ)), ShouldBeTrue)
			b, _ := in.Inspect(typ)
			So(a, ShouldEqual, b)

			in.Invalidate(typ)
			So(in.Cache().Has(cache.KeyOf(cache.KindTypeInfo, typ)), ShouldBeFalse)
		})
	})
}

func TestTypeName(t *testing.T) {
	Convey("测试 TypeName 方法", t, func() {
		in := New(nil)

		name, err := in.TypeName(reflect.TypeFor[testmodel.Tweet]())
		So(err, ShouldBeNil)
		So(name, ShouldEqual, "tweetIndex")

		name, err = in.TypeName(reflect.TypeFor[*testmodel.TweetComment]())
		So(err, ShouldBeNil)
		So(name, ShouldEqual, "tweet_comment")
		So(in.Cache().Has(cache.KeyOf(cache.KindResolvedTypeName, reflect.TypeFor[testmodel.TweetComment]())), ShouldBeTrue)

		So(SnakeName("HTTPRequestLog"), ShouldEqual, "http_request_log")
	})
}

func TestResolveValueType(t *testing.T) {
	Convey("测试 ResolveValueType 方法", t, func() {
		cases := []struct {
			typ      reflect.Type
			expected meta.FieldType
		}{
			{reflect.TypeFor[string](), meta.TypeString},
			{reflect.TypeFor[*string](), meta.TypeString},
			{reflect.TypeFor[[]string](), meta.TypeString},
			{reflect.TypeFor[int64](), meta.TypeLong},
			{reflect.TypeFor[int32](), meta.TypeInteger},
			{reflect.TypeFor[int16](), meta.TypeShort},
			{reflect.TypeFor[int8](), meta.TypeByte},
			{reflect.TypeFor[float32](), meta.TypeFloat},
			{reflect.TypeFor[[]float64](), meta.TypeDouble},
			{reflect.TypeFor[bool](), meta.TypeBoolean},
			{reflect.TypeFor[time.Time](), meta.TypeDate},
			{reflect.TypeFor[[]*time.Time](), meta.TypeDate},
			{reflect.TypeFor[strfmt.DateTime](), meta.TypeDate},
			{reflect.TypeFor[strfmt.Date](), meta.TypeDate},
			{reflect.TypeFor[[]byte](), meta.TypeBinary},
			{reflect.TypeFor[net.IP](), meta.TypeIP},
			{reflect.TypeFor[meta.RawJSON](), meta.TypeJSON},
		}
		for _, c := range cases {
			ft, err := ResolveValueType(c.typ)
			So(err, ShouldBeNil)
			So(ft, ShouldEqual, c.expected)
		}

		_, err := ResolveValueType(reflect.TypeFor[testmodel.User]())
		So(errors.Is(err, meta.ErrUnresolvableValueType), ShouldBeTrue)
		_, err = ResolveValueType(reflect.TypeFor[map[string]int]())
		So(errors.Is(err, meta.ErrUnresolvableValueType), ShouldBeTrue)
	})
}
