package mapping

import (
	"encoding/json"
	"reflect"

	"github.com/hatlonely/esmap/cache"
	"github.com/hatlonely/esmap/introspect"
	"github.com/hatlonely/esmap/log"
	"github.com/hatlonely/esmap/log/logger"
	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
)

// Document 映射文档，值为标量、[]string、[]any 或嵌套的 Document
type Document = map[string]any

// CodecValidator 编译时检查类型声明的序列化器和反序列化器
type CodecValidator interface {
	Validate(t reflect.Type) error
}

// Compiler 把类型上的描述编译成引擎的映射文档
type Compiler struct {
	introspector *introspect.Introspector
	cache        *cache.Cache
	logger       logger.Logger
	codecs       CodecValidator
}

func New(in *introspect.Introspector, l logger.Logger) *Compiler {
	if in == nil {
		in = introspect.New(nil)
	}
	if l == nil {
		l = log.Default()
	}
	return &Compiler{
		introspector: in,
		cache:        in.Cache(),
		logger:       l.WithGroup("mapping"),
	}
}

// WithCodecValidator 设置后编译失败的条件包括编解码器冲突和未注册的名字，需要在第一次编译前调用
func (c *Compiler) WithCodecValidator(v CodecValidator) *Compiler {
	c.codecs = v
	return c
}

func (c *Compiler) Introspector() *introspect.Introspector {
	return c.introspector
}

// Compile 返回类型的映射主体，包含类型级元数据和 properties，结果会被缓存
func (c *Compiler) Compile(t reflect.Type) (Document, error) {
	t = introspect.Indirect(t)
	doc, err := cache.GetOrCompute(c.cache, cache.KeyOf(cache.KindCompiledMapping, t), func() (Document, error) {
		return c.compile(t)
	})
	if err != nil {
		return nil, err
	}
	return cloneDocument(doc), nil
}

// CompileWrapped 返回 {typeName: body}
func (c *Compiler) CompileWrapped(t reflect.Type) (Document, error) {
	name, err := c.introspector.TypeName(t)
	if err != nil {
		return nil, err
	}
	body, err := c.Compile(t)
	if err != nil {
		return nil, err
	}
	return Document{name: body}, nil
}

func (c *Compiler) JSON(t reflect.Type) ([]byte, error) {
	doc, err := c.CompileWrapped(t)
	if err != nil {
		return nil, err
	}
	buf, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "json.Marshal failed")
	}
	return buf, nil
}

// Invalidate 删除缓存的映射，下次 Compile 时重新计算
func (c *Compiler) Invalidate(t reflect.Type) {
	c.cache.Remove(cache.KeyOf(cache.KindCompiledMapping, t))
}

func (c *Compiler) compile(t reflect.Type) (Document, error) {
	ti, err := c.introspector.Inspect(t)
	if err != nil {
		return nil, err
	}
	// 可索引类型必须有且只有一个标识成员
	if ti.Identity == nil {
		return nil, errors.Wrapf(meta.ErrMissingIdentity, "%s", ti.ID)
	}
	if err := c.validateCodecs(t); err != nil {
		return nil, err
	}

	doc, err := c.typeMapping(ti)
	if err != nil {
		return nil, err
	}
	properties, err := c.properties(ti, map[reflect.Type]bool{t: true})
	if err != nil {
		return nil, err
	}
	doc["properties"] = properties
	return doc, nil
}

func (c *Compiler) properties(ti *meta.TypeInfo, visiting map[reflect.Type]bool) (Document, error) {
	properties := Document{}
	for _, m := range ti.Mapped() {
		var (
			fieldMap Document
			err      error
		)
		switch {
		case m.Field != nil:
			fieldMap, err = c.fieldMapping(m.Field, m.Type, "")
		case m.Component != nil:
			fieldMap, err = c.componentMapping(m, visiting)
		case m.Multi != nil:
			fieldMap, err = c.multiFieldMapping(m)
		}
		if errors.Is(err, meta.ErrUnresolvableValueType) {
			c.logger.Warn("unable to resolve field type, field omitted", "type", ti.ID, "field", m.Name(), "error", err.Error())
			continue
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "%s.%s", ti.ID, m.GoName)
		}
		if fieldMap != nil {
			properties[m.Name()] = fieldMap
		}
	}
	return properties, nil
}

// fieldMapping 原始映射优先；auto 类型按 Go 类型推断，fallback 非空时优先使用
// 原始 JSON 类型没有对应的引擎类型，返回 nil 并记录告警
func (c *Compiler) fieldMapping(fd *meta.FieldDescriptor, t reflect.Type, fallback meta.FieldType) (Document, error) {
	if fd.RawMapping != "" {
		var raw Document
		if err := json.Unmarshal([]byte(fd.RawMapping), &raw); err != nil {
			return nil, errors.Wrapf(meta.ErrInvalidTag, "raw mapping: %v", err)
		}
		return raw, nil
	}

	ft := fd.Type
	if ft == meta.TypeAuto {
		ft = fallback
	}
	if ft == meta.TypeAuto {
		var err error
		if ft, err = introspect.ResolveValueType(t); err != nil {
			return nil, err
		}
	}
	if ft == meta.TypeJSON {
		c.logger.Warn("no mapping for json field, declare esraw if needed", "field", fd.Name)
		return nil, nil
	}

	m := Document{"type": string(ft)}
	setEnum(m, "index", fd.Index)
	setBool(m, "doc_values", fd.DocValues)
	setEnum(m, "doc_values_format", fd.DocValuesFormat)
	setString(m, "index_name", fd.IndexName)
	setEnum(m, "term_vector", fd.TermVector)
	setYesNo(m, "store", fd.Store)
	setFloat(m, "boost", fd.Boost)
	setString(m, "null_value", fd.NullValue)

	norms := Document{}
	if fd.NormsEnabled != "" {
		norms["enabled"] = fd.NormsEnabled == meta.NormsEnabledTrue
	}
	setEnum(norms, "loading", fd.NormsLoading)
	setBlock(m, "norms", norms)

	setEnum(m, "index_options", fd.IndexOptions)
	setString(m, "analyzer", fd.Analyzer)
	setString(m, "index_analyzer", fd.IndexAnalyzer)
	setString(m, "search_analyzer", fd.SearchAnalyzer)
	setIncludeInAll(m, fd.IncludeInAll)
	setInt(m, "ignore_above", fd.IgnoreAbove)
	setInt(m, "position_offset_gap", fd.PositionOffsetGap)
	setInt(m, "precision_step", fd.PrecisionStep)
	setBool(m, "ignore_malformed", fd.IgnoreMalformed)
	setFalse(m, "coerce", fd.Coerce)
	setEnum(m, "postings_format", fd.PostingsFormat)
	setEnum(m, "similarity", fd.Similarity)
	setString(m, "format", fd.Format)
	setList(m, "copy_to", fd.CopyTo)

	geo := fd.GeoPoint
	setBool(m, "lat_lon", geo.LatLon)
	setBool(m, "geohash", geo.GeoHash)
	setInt(m, "geohash_precision", geo.GeoHashPrecision)
	setBool(m, "geohash_prefix", geo.GeoHashPrefix)
	setFalse(m, "validate", geo.Validate)
	setFalse(m, "validate_lat", geo.ValidateLat)
	setFalse(m, "validate_lon", geo.ValidateLon)
	setFalse(m, "normalize", geo.Normalize)
	setFalse(m, "normalize_lat", geo.NormalizeLat)
	setFalse(m, "normalize_lon", geo.NormalizeLon)

	shape := fd.GeoShape
	setEnum(m, "tree", shape.Tree)
	setString(m, "precision", shape.Precision)
	setInt(m, "tree_levels", shape.TreeLevels)
	setFloat(m, "distance_error_pct", shape.DistanceErrorPct)

	setBlock(m, "fielddata", fieldDataMapping(&fd.FieldData))
	return m, nil
}

func fieldDataMapping(fd *meta.FieldDataOptions) Document {
	m := Document{}
	setEnum(m, "format", fd.Format)
	setEnum(m, "loading", fd.Loading)

	frequency := Document{}
	setFloat(frequency, "min", fd.FilterFrequencyMin)
	setFloat(frequency, "max", fd.FilterFrequencyMax)
	setInt(frequency, "min_segment_size", fd.FilterFrequencyMinSegmentSize)
	regex := Document{}
	setString(regex, "pattern", fd.FilterRegexPattern)

	filter := Document{}
	setBlock(filter, "frequency", frequency)
	setBlock(filter, "regex", regex)
	setBlock(m, "filter", filter)
	return m
}

func (c *Compiler) componentMapping(m *meta.Member, visiting map[reflect.Type]bool) (Document, error) {
	et := introspect.ElemType(m.Type)
	if visiting[et] {
		return nil, errors.Wrapf(meta.ErrInvalidTag, "recursive component %s", et)
	}
	ti, err := c.introspector.Structure(et)
	if err != nil {
		return nil, err
	}
	if err := c.validateCodecs(et); err != nil {
		return nil, err
	}

	visiting[et] = true
	properties, err := c.properties(ti, visiting)
	delete(visiting, et)
	if err != nil {
		return nil, err
	}

	cd := m.Component
	doc := Document{"properties": properties, "type": "object"}
	if cd.Nested {
		doc["type"] = "nested"
	}
	setEnum(doc, "dynamic", cd.Dynamic)
	setFalse(doc, "enabled", cd.Enabled)
	setEnum(doc, "path", cd.Path)
	setIncludeInAll(doc, cd.IncludeInAll)
	return doc, nil
}

func (c *Compiler) validateCodecs(t reflect.Type) error {
	if c.codecs == nil {
		return nil
	}
	if err := c.codecs.Validate(t); err != nil {
		return errors.WithMessagef(err, "codec of %s", meta.TypeID(t))
	}
	return nil
}

// multiFieldMapping 主字段的选项合并到顶层，其它子字段放在 fields 下
func (c *Compiler) multiFieldMapping(m *meta.Member) (Document, error) {
	md := m.Multi
	ft := md.Type
	if ft == meta.TypeAuto {
		var err error
		if ft, err = introspect.ResolveValueType(m.Type); err != nil {
			return nil, err
		}
	}

	doc := Document{"type": string(ft)}
	setEnum(doc, "path", md.Path)

	fields := Document{}
	for _, fd := range md.Fields {
		fieldMap, err := c.fieldMapping(fd, m.Type, ft)
		if err != nil {
			return nil, err
		}
		if fieldMap == nil {
			continue
		}
		if fd.Name != md.Name {
			if _, ok := fields[fd.Name]; ok {
				return nil, errors.Wrapf(meta.ErrDuplicateMultiFieldName, "%s", fd.Name)
			}
			fields[fd.Name] = fieldMap
			continue
		}
		for k, v := range fieldMap {
			doc[k] = v
		}
	}
	doc["fields"] = fields
	return doc, nil
}

// typeMapping 类型级元数据，每个块只在有选项时输出
func (c *Compiler) typeMapping(ti *meta.TypeInfo) (Document, error) {
	d := ti.Descriptor
	doc := Document{}

	setString(doc, "index_analyzer", d.IndexAnalyzer)
	setString(doc, "search_analyzer", d.SearchAnalyzer)
	setList(doc, "dynamic_date_formats", d.DynamicDateFormats)
	setBool(doc, "date_detection", d.DateDetection)
	setBool(doc, "numeric_detection", d.NumericDetection)

	if d.HasParent() {
		parentName, err := c.introspector.TypeName(d.ParentType)
		if err != nil {
			return nil, errors.WithMessage(err, "parent type")
		}
		doc["_parent"] = Document{"type": parentName}
	}

	if id := ti.Identity; id != nil {
		idMap := Document{}
		setEnum(idMap, "index", id.ID.Index)
		setYesNo(idMap, "store", id.ID.Store)
		if id.Field != nil || id.Multi != nil {
			idMap["path"] = id.Name()
		}
		setBlock(doc, "_id", idMap)
	}

	typeMap := Document{}
	setYesNo(typeMap, "store", d.TypeStore)
	setEnum(typeMap, "index", d.TypeIndex)
	setBlock(doc, "_type", typeMap)

	source := Document{}
	setFalse(source, "enabled", d.SourceEnabled)
	setBool(source, "compress", d.SourceCompress)
	setString(source, "compress_threshold", d.SourceCompressThreshold)
	setList(source, "includes", d.SourceIncludes)
	setList(source, "excludes", d.SourceExcludes)
	setBlock(doc, "_source", source)

	all := Document{}
	setFalse(all, "enabled", d.AllEnabled)
	setYesNo(all, "store", d.AllStore)
	setEnum(all, "term_vector", d.AllTermVector)
	setString(all, "analyzer", d.AllAnalyzer)
	setString(all, "index_analyzer", d.AllIndexAnalyzer)
	setString(all, "search_analyzer", d.AllSearchAnalyzer)
	setBlock(doc, "_all", all)

	analyzer := Document{}
	setString(analyzer, "path", d.AnalyzerPath)
	setBlock(doc, "_analyzer", analyzer)

	boost := Document{}
	setString(boost, "name", d.BoostName)
	setFloat(boost, "null_value", d.BoostNullValue)
	setBlock(doc, "_boost", boost)

	routing := Document{}
	if d.RoutingStore != nil && !*d.RoutingStore {
		routing["store"] = "no"
	}
	setEnum(routing, "index", d.RoutingIndex)
	setBool(routing, "required", d.RoutingRequired)
	setString(routing, "path", d.RoutingPath)
	setBlock(doc, "_routing", routing)

	index := Document{}
	setBool(index, "enabled", d.IndexEnabled)
	setBlock(doc, "_index", index)

	size := Document{}
	setBool(size, "enabled", d.SizeEnabled)
	setYesNo(size, "store", d.SizeStore)
	setBlock(doc, "_size", size)

	timestamp := Document{}
	setBool(timestamp, "enabled", d.TimestampEnabled)
	setYesNo(timestamp, "store", d.TimestampStore)
	setEnum(timestamp, "index", d.TimestampIndex)
	setString(timestamp, "path", d.TimestampPath)
	setString(timestamp, "format", d.TimestampFormat)
	setBlock(doc, "_timestamp", timestamp)

	ttl := Document{}
	setBool(ttl, "enabled", d.TTLEnabled)
	if d.TTLStore != nil && !*d.TTLStore {
		ttl["store"] = "no"
	}
	setEnum(ttl, "index", d.TTLIndex)
	setString(ttl, "default", d.TTLDefault)
	setBlock(doc, "_ttl", ttl)

	return doc, nil
}
