package platform

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxUsernameLen 是平台侧用户名的长度上限。
const MaxUsernameLen = 30

// GenerateUsername 由姓名派生平台用户名：转小写、去除非法字符、截断到
// 上限；与已有用户名冲突时追加递增序号，必要时收缩主干为序号腾位。
// taken 报告某个候选是否已被占用。
func GenerateUsername(firstName, lastName string, taken func(string) bool) string {
	base := sanitizeUsername(firstName) + "." + sanitizeUsername(lastName)
	base = strings.Trim(base, ".")
	if base == "" {
		base = "user"
	}
	if len(base) > MaxUsernameLen {
		base = strings.Trim(base[:MaxUsernameLen], ".")
	}

	if taken == nil || !taken(base) {
		return base
	}

	for n := 2; ; n++ {
		suffix := fmt.Sprintf("%d", n)
		trunk := base
		if len(trunk)+len(suffix) > MaxUsernameLen {
			trunk = strings.Trim(trunk[:MaxUsernameLen-len(suffix)], ".")
		}
		candidate := trunk + suffix
		if !taken(candidate) {
			return candidate
		}
	}
}

func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '_', r == '.':
			b.WriteRune('.')
		}
	}
	return strings.Trim(b.String(), ".")
}
