package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"gorm.io/gorm/schema"
)

// TagsSerializerName 是标签列使用的 gorm serializer 名称。
const TagsSerializerName = "tagjson"

func init() {
	schema.RegisterSerializer(TagsSerializerName, TagsSerializer{})
}

// TagsSerializer 以 JSON 文本保存字段，但不转义 &、<、>，
// 使数据库中的文本与标签原文一致，LIKE 过滤可以直接命中。
type TagsSerializer struct{}

// Scan 从数据库值还原字段，兼容旧的转义写法。
func (TagsSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	fieldValue := reflect.New(field.FieldType)
	if dbValue != nil {
		var raw []byte
		switch v := dbValue.(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			return fmt.Errorf("unsupported tags value %T", dbValue)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, fieldValue.Interface()); err != nil {
				return fmt.Errorf("decode tags: %w", err)
			}
		}
	}
	field.ReflectValueOf(ctx, dst).Set(fieldValue.Elem())
	return nil
}

// Value 编码字段。
func (TagsSerializer) Value(_ context.Context, _ *schema.Field, _ reflect.Value, fieldValue interface{}) (interface{}, error) {
	return EncodeTagsJSON(fieldValue)
}

// EncodeTagsJSON 以不转义 HTML 字符的方式编码 JSON。
func EncodeTagsJSON(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
