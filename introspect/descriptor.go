package introspect

import (
	"encoding/json"
	"reflect"

	"github.com/hatlonely/esmap/meta"
	"github.com/pkg/errors"
)

func parseTypeDescriptor(t reflect.Type, value string) (*meta.TypeDescriptor, error) {
	r := newOptionReader(t.Name()+"."+tagType, value, true)
	d := &meta.TypeDescriptor{
		Name:                    r.name,
		IndexAnalyzer:           r.String("index_analyzer"),
		SearchAnalyzer:          r.String("search_analyzer"),
		DynamicDateFormats:      r.List("date_formats"),
		DateDetection:           r.Bool("date_detection"),
		NumericDetection:        r.Bool("numeric_detection"),
		TypeStore:               r.Bool("type_store"),
		TypeIndex:               readEnum(r, "type_index", meta.ParseIndex),
		SourceEnabled:           r.Bool("source_enabled"),
		SourceCompress:          r.Bool("source_compress"),
		SourceCompressThreshold: r.String("source_compress_threshold"),
		SourceIncludes:          r.List("source_includes"),
		SourceExcludes:          r.List("source_excludes"),
		AllEnabled:              r.Bool("all_enabled"),
		AllStore:                r.Bool("all_store"),
		AllTermVector:           readEnum(r, "all_term_vector", meta.ParseTermVector),
		AllAnalyzer:             r.String("all_analyzer"),
		AllIndexAnalyzer:        r.String("all_index_analyzer"),
		AllSearchAnalyzer:       r.String("all_search_analyzer"),
		AnalyzerPath:            r.String("analyzer_path"),
		BoostName:               r.String("boost_name"),
		BoostNullValue:          r.Float("boost_null_value"),
		RoutingStore:            r.Bool("routing_store"),
		RoutingIndex:            readEnum(r, "routing_index", meta.ParseIndex),
		RoutingRequired:         r.Bool("routing_required"),
		RoutingPath:             r.String("routing_path"),
		IndexEnabled:            r.Bool("index_enabled"),
		SizeEnabled:             r.Bool("size_enabled"),
		SizeStore:               r.Bool("size_store"),
		TimestampEnabled:        r.Bool("timestamp_enabled"),
		TimestampStore:          r.Bool("timestamp_store"),
		TimestampIndex:          readEnum(r, "timestamp_index", meta.ParseIndex),
		TimestampPath:           r.String("timestamp_path"),
		TimestampFormat:         r.String("timestamp_format"),
		TTLEnabled:              r.Bool("ttl_enabled"),
		TTLStore:                r.Bool("ttl_store"),
		TTLIndex:                readEnum(r, "ttl_index", meta.ParseIndex),
		TTLDefault:              r.String("ttl_default"),
		Serializer:              r.String("serializer"),
		Deserializer:            r.String("deserializer"),
		JSONInclude:             readEnum(r, "json_include", meta.ParseJSONInclude),
	}
	return d, r.Err()
}

func parseFieldDescriptor(name string, r *optionReader) (*meta.FieldDescriptor, error) {
	d := &meta.FieldDescriptor{
		Name:              name,
		Type:              readEnum(r, "type", meta.ParseFieldType),
		IndexName:         r.String("index_name"),
		Store:             r.Bool("store"),
		Index:             readEnum(r, "index", meta.ParseIndex),
		DocValues:         r.Bool("doc_values"),
		DocValuesFormat:   readEnum(r, "doc_values_format", meta.ParseDocValuesFormat),
		TermVector:        readEnum(r, "term_vector", meta.ParseTermVector),
		Boost:             r.Float("boost"),
		NullValue:         r.String("null_value"),
		NormsEnabled:      readEnum(r, "norms_enabled", meta.ParseNormsEnabled),
		NormsLoading:      readEnum(r, "norms_loading", meta.ParseNormsLoading),
		IndexOptions:      readEnum(r, "index_options", meta.ParseIndexOptions),
		Analyzer:          r.String("analyzer"),
		IndexAnalyzer:     r.String("index_analyzer"),
		SearchAnalyzer:    r.String("search_analyzer"),
		IncludeInAll:      readEnum(r, "include_in_all", meta.ParseIncludeInAll),
		IgnoreAbove:       r.Int("ignore_above"),
		PositionOffsetGap: r.Int("position_offset_gap"),
		PrecisionStep:     r.Int("precision_step"),
		IgnoreMalformed:   r.Bool("ignore_malformed"),
		Coerce:            r.Bool("coerce"),
		PostingsFormat:    readEnum(r, "postings_format", meta.ParsePostingsFormat),
		Similarity:        readEnum(r, "similarity", meta.ParseSimilarity),
		Format:            r.String("format"),
		CopyTo:            r.List("copy_to"),
		GeoPoint: meta.GeoPointOptions{
			LatLon:           r.Bool("lat_lon"),
			GeoHash:          r.Bool("geohash"),
			GeoHashPrecision: r.Int("geohash_precision"),
			GeoHashPrefix:    r.Bool("geohash_prefix"),
			Validate:         r.Bool("validate"),
			ValidateLat:      r.Bool("validate_lat"),
			ValidateLon:      r.Bool("validate_lon"),
			Normalize:        r.Bool("normalize"),
			NormalizeLat:     r.Bool("normalize_lat"),
			NormalizeLon:     r.Bool("normalize_lon"),
		},
		GeoShape: meta.GeoShapeOptions{
			Tree:             readEnum(r, "tree", meta.ParseGeoShapeTree),
			Precision:        r.String("precision"),
			TreeLevels:       r.Int("tree_levels"),
			DistanceErrorPct: r.Float("distance_error_pct"),
		},
		FieldData: meta.FieldDataOptions{
			Format:                        readEnum(r, "fielddata_format", meta.ParseFieldDataFormat),
			Loading:                       readEnum(r, "fielddata_loading", meta.ParseFieldDataLoading),
			FilterFrequencyMin:            r.Float("fielddata_filter_frequency_min"),
			FilterFrequencyMax:            r.Float("fielddata_filter_frequency_max"),
			FilterFrequencyMinSegmentSize: r.Int("fielddata_filter_frequency_min_segment_size"),
			FilterRegexPattern:            r.String("fielddata_filter_regex_pattern"),
		},
		Serializer:   r.String("serializer"),
		Deserializer: r.String("deserializer"),
		JSONInclude:  readEnum(r, "json_include", meta.ParseJSONInclude),
	}
	return d, r.Err()
}

// parseRawMapping 校验原始映射必须是 JSON 对象
func parseRawMapping(where string, raw string) (string, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return "", errors.Wrapf(meta.ErrInvalidTag, "%s: raw mapping is not a json object: %v", where, err)
	}
	return raw, nil
}

func parseComponentDescriptor(where string, value string) (*meta.ComponentDescriptor, error) {
	r := newOptionReader(where, value, true)
	d := &meta.ComponentDescriptor{
		Name:         r.name,
		Nested:       r.Flag("nested"),
		Dynamic:      readEnum(r, "dynamic", meta.ParseDynamic),
		Enabled:      r.Bool("enabled"),
		Path:         readEnum(r, "path", meta.ParsePathMode),
		IncludeInAll: readEnum(r, "include_in_all", meta.ParseIncludeInAll),
		Serializer:   r.String("serializer"),
		Deserializer: r.String("deserializer"),
		JSONInclude:  readEnum(r, "json_include", meta.ParseJSONInclude),
	}
	return d, r.Err()
}

// parseMultiFieldDescriptor 空名字的子字段取多字段的名字，且最多出现一次
func parseMultiFieldDescriptor(where string, value string, defaultName string, subs []subTag) (*meta.MultiFieldDescriptor, error) {
	r := newOptionReader(where, value, true)
	d := &meta.MultiFieldDescriptor{
		Name:        r.name,
		Type:        readEnum(r, "type", meta.ParseFieldType),
		Path:        readEnum(r, "path", meta.ParsePathMode),
		JSONInclude: readEnum(r, "json_include", meta.ParseJSONInclude),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if d.Name == "" {
		d.Name = defaultName
	}
	if len(subs) == 0 {
		return nil, errors.Wrapf(meta.ErrInvalidTag, "%s: multi-field requires at least one %s tag", where, tagSub)
	}

	seen := map[string]bool{}
	emptyNameProcessed := false
	for _, sub := range subs {
		name := sub.name
		if name == "" {
			if emptyNameProcessed {
				return nil, errors.Wrapf(meta.ErrDuplicateMultiFieldName, "%s: more than one unnamed sub-field", where)
			}
			emptyNameProcessed = true
			name = d.Name
		}
		if seen[name] {
			return nil, errors.Wrapf(meta.ErrDuplicateMultiFieldName, "%s: sub-field %q", where, name)
		}
		seen[name] = true

		fd, err := parseFieldDescriptor(name, newOptionReader(where+"."+name, sub.options, false))
		if err != nil {
			return nil, err
		}
		d.Fields = append(d.Fields, fd)
	}
	if _, _, err := d.Codecs(); err != nil {
		return nil, errors.WithMessage(err, where)
	}
	return d, nil
}

func parseIDDescriptor(where string, value string) (*meta.IDDescriptor, error) {
	r := newOptionReader(where, value, false)
	d := &meta.IDDescriptor{
		Store: r.Bool("store"),
		Index: readEnum(r, "index", meta.ParseIndex),
	}
	return d, r.Err()
}
