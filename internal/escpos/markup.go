package escpos

import "strings"

// Substitution passes, applied in order. Each pass only introduces control
// bytes, which never form a tag recognised by a later pass.
var (
	alignPass = strings.NewReplacer(
		TagCenter, string(AlignCenter),
		TagLeft, string(AlignLeft),
	)
	boldPass = strings.NewReplacer(
		TagBoldOpen, string(BoldOn),
		TagBoldClose, string(BoldOff),
	)
)

// Encode converts markup into a framed ESC/POS buffer:
//
//	ESC @ | body | GS V 0
//
// Encode never fails. Anything that is not one of the six recognised tags,
// including malformed or unknown tags, is copied through as UTF-8 text.
func Encode(markup string) []byte {
	body := alignPass.Replace(markup)
	body = replaceFoldASCII(body, TagFontBig, string(SizeDouble))
	body = strings.ReplaceAll(body, TagFontClose, string(SizeNormal))
	body = boldPass.Replace(body)

	buf := make([]byte, 0, len(Initialize)+len(body)+len(PartialCut))
	buf = append(buf, Initialize...)
	buf = append(buf, body...)
	buf = append(buf, PartialCut...)
	return buf
}

// replaceFoldASCII replaces every occurrence of old in s, matching ASCII
// letters in either case. old must be ASCII; a non-ASCII rune in s never
// matches.
func replaceFoldASCII(s, old, repl string) string {
	var b strings.Builder
	last := 0
	for i := 0; i+len(old) <= len(s); {
		if !equalFoldASCII(s[i:i+len(old)], old) {
			i++
			continue
		}
		b.WriteString(s[last:i])
		b.WriteString(repl)
		i += len(old)
		last = i
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

func equalFoldASCII(a, b string) bool {
	for i := 0; i < len(a); i++ {
		if lowerASCII(a[i]) != lowerASCII(b[i]) {
			return false
		}
	}
	return true
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
