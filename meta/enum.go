package meta

import (
	"strings"

	"github.com/pkg/errors"
)

// FieldType 字段类型，空值表示 auto，由 Go 类型推断
type FieldType string

const (
	TypeAuto       FieldType = ""
	TypeString     FieldType = "string"
	TypeInteger    FieldType = "integer"
	TypeLong       FieldType = "long"
	TypeFloat      FieldType = "float"
	TypeDouble     FieldType = "double"
	TypeBoolean    FieldType = "boolean"
	TypeShort      FieldType = "short"
	TypeByte       FieldType = "byte"
	TypeDate       FieldType = "date"
	TypeAttachment FieldType = "attachment"
	TypeIP         FieldType = "ip"
	TypeGeoPoint   FieldType = "geo_point"
	TypeGeoShape   FieldType = "geo_shape"
	TypeTokenCount FieldType = "token_count"
	TypeBinary     FieldType = "binary"
	// TypeJSON 原始 JSON 片段，没有对应的引擎类型
	TypeJSON FieldType = "json"
)

var fieldTypes = []FieldType{
	TypeString, TypeInteger, TypeLong, TypeFloat, TypeDouble, TypeBoolean, TypeShort, TypeByte,
	TypeDate, TypeAttachment, TypeIP, TypeGeoPoint, TypeGeoShape, TypeTokenCount, TypeBinary, TypeJSON,
}

// ParseFieldType 解析字段类型，"auto" 和空字符串都返回 TypeAuto
func ParseFieldType(s string) (FieldType, error) {
	if s == "" || strings.EqualFold(s, "auto") {
		return TypeAuto, nil
	}
	return parseEnum(s, fieldTypes...)
}

type Index string

const (
	IndexAnalyzed    Index = "analyzed"
	IndexNotAnalyzed Index = "not_analyzed"
	IndexNo          Index = "no"
)

func ParseIndex(s string) (Index, error) {
	return parseEnum(s, IndexAnalyzed, IndexNotAnalyzed, IndexNo)
}

type TermVector string

const (
	TermVectorNo                   TermVector = "no"
	TermVectorYes                  TermVector = "yes"
	TermVectorWithOffsets          TermVector = "with_offsets"
	TermVectorWithPositions        TermVector = "with_positions"
	TermVectorWithPositionsOffsets TermVector = "with_positions_offsets"
)

func ParseTermVector(s string) (TermVector, error) {
	return parseEnum(s, TermVectorNo, TermVectorYes, TermVectorWithOffsets, TermVectorWithPositions, TermVectorWithPositionsOffsets)
}

type NormsEnabled string

const (
	NormsEnabledTrue  NormsEnabled = "true"
	NormsEnabledFalse NormsEnabled = "false"
)

func ParseNormsEnabled(s string) (NormsEnabled, error) {
	return parseEnum(s, NormsEnabledTrue, NormsEnabledFalse)
}

type NormsLoading string

const (
	NormsLoadingEager NormsLoading = "eager"
	NormsLoadingLazy  NormsLoading = "lazy"
)

func ParseNormsLoading(s string) (NormsLoading, error) {
	return parseEnum(s, NormsLoadingEager, NormsLoadingLazy)
}

type IndexOptions string

const (
	IndexOptionsDocs      IndexOptions = "docs"
	IndexOptionsFreqs     IndexOptions = "freqs"
	IndexOptionsPositions IndexOptions = "positions"
	IndexOptionsOffsets   IndexOptions = "offsets"
)

func ParseIndexOptions(s string) (IndexOptions, error) {
	return parseEnum(s, IndexOptionsDocs, IndexOptionsFreqs, IndexOptionsPositions, IndexOptionsOffsets)
}

type IncludeInAll string

const (
	IncludeInAllTrue  IncludeInAll = "true"
	IncludeInAllFalse IncludeInAll = "false"
)

func ParseIncludeInAll(s string) (IncludeInAll, error) {
	return parseEnum(s, IncludeInAllTrue, IncludeInAllFalse)
}

// Similarity 相似度算法，BM25 保持引擎识别的大写形式
type Similarity string

const (
	SimilarityDefault Similarity = "default"
	SimilarityBM25    Similarity = "BM25"
)

func ParseSimilarity(s string) (Similarity, error) {
	return parseEnum(s, SimilarityDefault, SimilarityBM25)
}

type PostingsFormat string

const (
	PostingsFormatDirect       PostingsFormat = "direct"
	PostingsFormatMemory       PostingsFormat = "memory"
	PostingsFormatPulsing      PostingsFormat = "pulsing"
	PostingsFormatBloomDefault PostingsFormat = "bloom_default"
	PostingsFormatBloomPulsing PostingsFormat = "bloom_pulsing"
	PostingsFormatDefault      PostingsFormat = "default"
)

func ParsePostingsFormat(s string) (PostingsFormat, error) {
	return parseEnum(s, PostingsFormatDirect, PostingsFormatMemory, PostingsFormatPulsing,
		PostingsFormatBloomDefault, PostingsFormatBloomPulsing, PostingsFormatDefault)
}

type DocValuesFormat string

const (
	DocValuesFormatMemory  DocValuesFormat = "memory"
	DocValuesFormatDisk    DocValuesFormat = "disk"
	DocValuesFormatDefault DocValuesFormat = "default"
)

func ParseDocValuesFormat(s string) (DocValuesFormat, error) {
	return parseEnum(s, DocValuesFormatMemory, DocValuesFormatDisk, DocValuesFormatDefault)
}

type GeoShapeTree string

const (
	GeoShapeTreeGeohash  GeoShapeTree = "geohash"
	GeoShapeTreeQuadtree GeoShapeTree = "quadtree"
)

func ParseGeoShapeTree(s string) (GeoShapeTree, error) {
	return parseEnum(s, GeoShapeTreeGeohash, GeoShapeTreeQuadtree)
}

type FieldDataFormat string

const (
	FieldDataFormatPagedBytes FieldDataFormat = "paged_bytes"
	FieldDataFormatFST        FieldDataFormat = "fst"
	FieldDataFormatDocValues  FieldDataFormat = "doc_values"
	FieldDataFormatArray      FieldDataFormat = "array"
	FieldDataFormatDisabled   FieldDataFormat = "disabled"
	FieldDataFormatCompressed FieldDataFormat = "compressed"
)

func ParseFieldDataFormat(s string) (FieldDataFormat, error) {
	return parseEnum(s, FieldDataFormatPagedBytes, FieldDataFormatFST, FieldDataFormatDocValues,
		FieldDataFormatArray, FieldDataFormatDisabled, FieldDataFormatCompressed)
}

type FieldDataLoading string

const (
	FieldDataLoadingLazy  FieldDataLoading = "lazy"
	FieldDataLoadingEager FieldDataLoading = "eager"
)

func ParseFieldDataLoading(s string) (FieldDataLoading, error) {
	return parseEnum(s, FieldDataLoadingLazy, FieldDataLoadingEager)
}

type Dynamic string

const (
	DynamicTrue   Dynamic = "true"
	DynamicFalse  Dynamic = "false"
	DynamicStrict Dynamic = "strict"
)

func ParseDynamic(s string) (Dynamic, error) {
	return parseEnum(s, DynamicTrue, DynamicFalse, DynamicStrict)
}

// PathMode object 与 multi-field 的 path 选项
type PathMode string

const (
	PathJustName PathMode = "just_name"
	PathFull     PathMode = "full"
)

func ParsePathMode(s string) (PathMode, error) {
	return parseEnum(s, PathJustName, PathFull)
}

// JSONInclude 序列化时的字段包含策略
type JSONInclude string

const (
	IncludeAlways     JSONInclude = "always"
	IncludeNonNull    JSONInclude = "non_null"
	IncludeNonEmpty   JSONInclude = "non_empty"
	IncludeNonDefault JSONInclude = "non_default"
)

func ParseJSONInclude(s string) (JSONInclude, error) {
	return parseEnum(s, IncludeAlways, IncludeNonNull, IncludeNonEmpty, IncludeNonDefault)
}

// parseEnum 大小写不敏感地匹配枚举值，返回规范写法
func parseEnum[T ~string](s string, allowed ...T) (T, error) {
	for _, v := range allowed {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	var zero T
	return zero, errors.Wrapf(ErrInvalidTag, "unknown value %q, expected one of %v", s, allowed)
}
