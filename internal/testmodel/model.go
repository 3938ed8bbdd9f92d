// Package testmodel 测试用的文档类型
package testmodel

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hatlonely/esmap/meta"
)

type User struct {
	UserName    string `es:"userName,index=not_analyzed"`
	Description string `esmulti:"description" esfield:"index=analyzed" esfield.untouched:"index=not_analyzed"`
}

type Tweet struct {
	_ meta.Indexable `estype:"tweetIndex,numeric_detection=true,all_enabled=false,size_enabled=true,timestamp_enabled=true,timestamp_path=tweetDatetime,timestamp_format=yyyy/MM/dd HH:mm:ss"`

	ID                int64       `es:"id" esid:"index=not_analyzed"`
	User              *User       `esobj:"user"`
	TweetString       string      `es:"tweetString,store,coerce=false,copy_to=image,fielddata_format=fst,fielddata_loading=eager,fielddata_filter_regex_pattern=*,fielddata_filter_frequency_min=0.001,fielddata_filter_frequency_max=0.1,fielddata_filter_frequency_min_segment_size=500"`
	TweetDate         time.Time   `es:"tweetDate,format=basic_date||yyyy/MM/dd"`
	Image             *string     `es:"image,serializer=image,json_include=always,doc_values_format=disk"`
	URLs              []string    `es:"urls,analyzer=standard"`
	MentionedUserList []*User     `esobj:"mentionedUsers"`
	Flagged           *bool       `es:"flagged"`
	SpecialDates      []time.Time `es:"specialDates,format=basic_date_time_no_millis"`
}

func (t *Tweet) TweetDatetime() time.Time {
	return t.TweetDate
}

func (*Tweet) ESAccessors() []meta.Accessor {
	return []meta.Accessor{
		{Method: "TweetDatetime", Tag: `es:"tweetDatetime,format=yyyy/MM/dd HH:mm:ss"`},
	}
}

type TweetComment struct {
	_ meta.Indexable     `estype:""`
	_ meta.Parent[Tweet] `esparent:"tweetId"`

	ID      int64  `es:"id" esid:""`
	TweetID int64  `es:"tweetId"`
	Comment string `es:"comment"`
}

// ImageSerializer 转大写并去掉所有的 A，nil 输出 "NULLSTR"
type ImageSerializer struct{}

func (ImageSerializer) Serialize(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return []byte(`"NULLSTR"`), nil
	}
	return json.Marshal(strings.ReplaceAll(strings.ToUpper(s), "A", ""))
}

// TweetMapping Tweet 编译后的映射
const TweetMapping = `{
  "tweetIndex": {
    "numeric_detection": true,
    "_id": {"index": "not_analyzed", "path": "id"},
    "_all": {"enabled": false},
    "_size": {"enabled": true},
    "_timestamp": {"enabled": true, "path": "tweetDatetime", "format": "yyyy/MM/dd HH:mm:ss"},
    "properties": {
      "id": {"type": "long"},
      "user": {
        "type": "object",
        "properties": {
          "userName": {"type": "string", "index": "not_analyzed"},
          "description": {
            "type": "string",
            "index": "analyzed",
            "fields": {"untouched": {"type": "string", "index": "not_analyzed"}}
          }
        }
      },
      "tweetString": {
        "type": "string",
        "store": "yes",
        "coerce": false,
        "copy_to": ["image"],
        "fielddata": {
          "format": "fst",
          "loading": "eager",
          "filter": {
            "frequency": {"min": 0.001, "max": 0.1, "min_segment_size": 500},
            "regex": {"pattern": "*"}
          }
        }
      },
      "tweetDate": {"type": "date", "format": "basic_date||yyyy/MM/dd"},
      "image": {"type": "string", "doc_values_format": "disk"},
      "urls": {"type": "string", "analyzer": "standard"},
      "mentionedUsers": {
        "type": "object",
        "properties": {
          "userName": {"type": "string", "index": "not_analyzed"},
          "description": {
            "type": "string",
            "index": "analyzed",
            "fields": {"untouched": {"type": "string", "index": "not_analyzed"}}
          }
        }
      },
      "flagged": {"type": "boolean"},
      "specialDates": {"type": "date", "format": "basic_date_time_no_millis"},
      "tweetDatetime": {"type": "date", "format": "yyyy/MM/dd HH:mm:ss"}
    }
  }
}`

// TweetCommentMapping TweetComment 编译后的映射
const TweetCommentMapping = `{
  "tweet_comment": {
    "_parent": {"type": "tweetIndex"},
    "_id": {"path": "id"},
    "properties": {
      "id": {"type": "long"},
      "tweetId": {"type": "long"},
      "comment": {"type": "string"}
    }
  }
}`
