package fingerprint

import "strings"

// FeedCode canonicalizes a taxonomy code such as " cs.DS " to "cs.DS". Codes are
// case sensitive upstream, so no case folding is applied.
func FeedCode(raw string) string {
	return strings.TrimSpace(raw)
}

// ParentCode returns the archive part of a dotted subject code ("cs" for "cs.DS"),
// or "" for top-level codes such as "hep-th".
func ParentCode(code string) string {
	code = FeedCode(code)
	dot := strings.IndexByte(code, '.')
	if dot <= 0 {
		return ""
	}
	return code[:dot]
}
