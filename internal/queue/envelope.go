package queue

import (
	"fmt"

	"group_buy/internal/mirror"

	"github.com/tidwall/gjson"
)

// ValidateEnvelope 做最小字段校验，防止转发进程把脏消息写到镜像。
func ValidateEnvelope(value []byte) error {
	if !gjson.ValidBytes(value) {
		return fmt.Errorf("envelope is not valid json")
	}
	parsed := gjson.ParseBytes(value)
	if !parsed.IsObject() {
		return fmt.Errorf("envelope must be a json object")
	}
	typ := parsed.Get("type").String()
	if typ == "" {
		return fmt.Errorf("type is required")
	}
	if !mirror.EventType(typ).Known() {
		return fmt.Errorf("unknown type %q", typ)
	}
	if parsed.Get("created_at").String() == "" {
		return fmt.Errorf("created_at is required")
	}
	return nil
}
