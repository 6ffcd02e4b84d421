package cache

import (
	"encoding/json"
	"time"
)

// Metadata 记录条目的生成与过期时间，随数据一起落盘。
// 不变量: ExpiresAt == CreatedAt + ttl。
type Metadata struct {
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Count      int       `json:"count"`
	TTLSeconds float64   `json:"ttl_seconds"`
}

// envelope 是当前的落盘格式；旧格式是不带元数据的裸 JSON 负载。
type envelope struct {
	Data     json.RawMessage `json:"data"`
	Metadata *Metadata       `json:"metadata"`
}

// decodeEnvelope 解析落盘内容，兼容两种编码：带 {data, metadata} 的
// 信封，以及直接存放负载的旧格式（此时 Metadata 为 nil）。
func decodeEnvelope(raw []byte) (json.RawMessage, *Metadata) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Metadata != nil && env.Data != nil {
		return env.Data, env.Metadata
	}
	return json.RawMessage(raw), nil
}
