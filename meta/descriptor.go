package meta

import (
	"reflect"

	"github.com/pkg/errors"
)

// TypeDescriptor 类型级描述，来自 `_ meta.Indexable` 标记字段的 estype 标签
type TypeDescriptor struct {
	Name string

	IndexAnalyzer      string
	SearchAnalyzer     string
	DynamicDateFormats []string
	DateDetection      *bool
	NumericDetection   *bool

	TypeStore *bool
	TypeIndex Index

	SourceEnabled           *bool
	SourceCompress          *bool
	SourceCompressThreshold string
	SourceIncludes          []string
	SourceExcludes          []string

	AllEnabled        *bool
	AllStore          *bool
	AllTermVector     TermVector
	AllAnalyzer       string
	AllIndexAnalyzer  string
	AllSearchAnalyzer string

	AnalyzerPath   string
	BoostName      string
	BoostNullValue *float64

	RoutingStore    *bool
	RoutingIndex    Index
	RoutingRequired *bool
	RoutingPath     string

	IndexEnabled *bool

	SizeEnabled *bool
	SizeStore   *bool

	TimestampEnabled *bool
	TimestampStore   *bool
	TimestampIndex   Index
	TimestampPath    string
	TimestampFormat  string

	TTLEnabled *bool
	TTLStore   *bool
	TTLIndex   Index
	TTLDefault string

	// ParentType 父类型，为 nil 或 ParentPath 为空时父子关系不生效
	ParentType reflect.Type
	ParentPath string

	Serializer   string
	Deserializer string
	JSONInclude  JSONInclude
}

// HasParent 父子关系是否生效
func (d *TypeDescriptor) HasParent() bool {
	return d.ParentType != nil && d.ParentPath != ""
}

type GeoPointOptions struct {
	LatLon           *bool
	GeoHash          *bool
	GeoHashPrecision *int
	GeoHashPrefix    *bool
	Validate         *bool
	ValidateLat      *bool
	ValidateLon      *bool
	Normalize        *bool
	NormalizeLat     *bool
	NormalizeLon     *bool
}

type GeoShapeOptions struct {
	Tree             GeoShapeTree
	Precision        string
	TreeLevels       *int
	DistanceErrorPct *float64
}

type FieldDataOptions struct {
	Format                        FieldDataFormat
	Loading                       FieldDataLoading
	FilterFrequencyMin            *float64
	FilterFrequencyMax            *float64
	FilterFrequencyMinSegmentSize *int
	FilterRegexPattern            string
}

// FieldDescriptor 字段描述，来自 es 标签或多字段的 esfield 标签
type FieldDescriptor struct {
	Name string
	Type FieldType

	IndexName       string
	Store           *bool
	Index           Index
	DocValues       *bool
	DocValuesFormat DocValuesFormat
	TermVector      TermVector
	Boost           *float64
	NullValue       string
	NormsEnabled    NormsEnabled
	NormsLoading    NormsLoading
	IndexOptions    IndexOptions

	Analyzer       string
	IndexAnalyzer  string
	SearchAnalyzer string
	IncludeInAll   IncludeInAll

	IgnoreAbove       *int
	PositionOffsetGap *int
	PrecisionStep     *int
	IgnoreMalformed   *bool
	Coerce            *bool
	PostingsFormat    PostingsFormat
	Similarity        Similarity
	Format            string
	CopyTo            []string

	GeoPoint  GeoPointOptions
	GeoShape  GeoShapeOptions
	FieldData FieldDataOptions

	// RawMapping 非空时直接作为字段映射，忽略其它选项
	RawMapping string

	Serializer   string
	Deserializer string
	JSONInclude  JSONInclude
}

// ComponentDescriptor nested/object 成员描述
type ComponentDescriptor struct {
	Name         string
	Nested       bool
	Dynamic      Dynamic
	Enabled      *bool
	Path         PathMode
	IncludeInAll IncludeInAll

	Serializer   string
	Deserializer string
	JSONInclude  JSONInclude
}

// MultiFieldDescriptor 多字段描述，Fields 中名字与 Name 相同的为主字段
type MultiFieldDescriptor struct {
	Name   string
	Type   FieldType
	Path   PathMode
	Fields []*FieldDescriptor

	JSONInclude JSONInclude
}

// Primary 返回主字段，没有时返回 nil
func (d *MultiFieldDescriptor) Primary() *FieldDescriptor {
	for _, f := range d.Fields {
		if f.Name == d.Name {
			return f
		}
	}
	return nil
}

// Codecs 子字段共享同一个值，声明的编解码器必须一致，未声明的子字段不参与比较
func (d *MultiFieldDescriptor) Codecs() (string, string, error) {
	var ser, deser string
	for _, f := range d.Fields {
		if f.Serializer != "" {
			if ser != "" && ser != f.Serializer {
				return "", "", errors.Wrapf(ErrConflictingCodec, "serializer %q and %q", ser, f.Serializer)
			}
			ser = f.Serializer
		}
		if f.Deserializer != "" {
			if deser != "" && deser != f.Deserializer {
				return "", "", errors.Wrapf(ErrConflictingCodec, "deserializer %q and %q", deser, f.Deserializer)
			}
			deser = f.Deserializer
		}
	}
	return ser, deser, nil
}

// IDDescriptor 标识成员描述
type IDDescriptor struct {
	Store *bool
	Index Index
}
