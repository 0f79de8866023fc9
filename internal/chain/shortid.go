package chain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const maxClientOrderIDLen = 32

// ShortClientOrderID 生成 ≤32 字符的客户端订单号
// 形如 T0ARCUSD_3f2a…，前缀可读，余位用摘要保证唯一
func ShortClientOrderID(sigID, psym string, idx int, now time.Time) string {
	prefix := fmt.Sprintf("T%d%s_", idx, sanitizeSymbol(psym, 6))
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|TP|%d|%d", sigID, psym, idx, now.UnixMilli())))
	digest := hex.EncodeToString(h[:])
	room := maxClientOrderIDLen - len(prefix)
	if room < 0 {
		room = 0
		prefix = prefix[:maxClientOrderIDLen]
	}
	if room > len(digest) {
		room = len(digest)
	}
	return prefix + digest[:room]
}

// sanitizeSymbol 只保留字母数字并截断
func sanitizeSymbol(s string, n int) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= n {
			break
		}
	}
	return b.String()
}
