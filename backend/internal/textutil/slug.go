package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	disallowed = regexp.MustCompile(`[^a-z0-9\s_-]`)
	separators = regexp.MustCompile(`[\s_-]+`)
)

// Slugify 把房间名规整成统一形式：
// 去掉重音符号 -> 小写 -> 只保留字母数字/空白/下划线/连字符 -> 连续分隔符折叠成下划线。
// 结果再次 Slugify 不变，返回给客户端的房间名可以直接用于后续查找。
func Slugify(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, text)
	if err != nil {
		stripped = text
	}
	stripped = strings.ToLower(stripped)
	stripped = disallowed.ReplaceAllString(stripped, "")
	stripped = separators.ReplaceAllString(stripped, "_")
	return strings.Trim(stripped, "_")
}
