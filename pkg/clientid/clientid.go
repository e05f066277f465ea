package clientid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Unknown 是无法确定调用方地址时使用的身份
const Unknown = "unknown"

// FromHeaders 从代理头中提取调用方身份。
// 优先 X-Forwarded-For，其次 X-Real-IP，取第一个逗号分隔的值；地址不做校验。
func FromHeaders(header func(string) string) string {
	raw := header("X-Forwarded-For")
	if raw == "" {
		raw = header("X-Real-IP")
	}

	first, _, _ := strings.Cut(raw, ",")
	if ip := strings.TrimSpace(first); ip != "" {
		return ip
	}
	return Unknown
}

// Hash 返回身份的SHA-256十六进制摘要（固定64字符）。任何持久化都只使用摘要，不使用原始地址。
func Hash(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}
