// Package fingerprint derives dedup identities for entities the archive does not
// identify itself: authors (hashed from their name attributes) and feeds
// (canonical taxonomy codes).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Size is the length of an author fingerprint in hex characters.
const Size = sha256.Size * 2

// AuthorFields are the raw author attributes as delivered by the feed. A nil field
// is absent, which fingerprints differently from an empty string.
type AuthorFields struct {
	Forenames   *string
	Keyname     *string
	Suffix      *string
	Affiliation *string
}

// Author hashes the four fields in the fixed order forenames, keyname, suffix,
// affiliation. Present values are rendered as quoted literals and absent values as
// nil, so the concatenation is unambiguous. Changing the order or the absent
// representation invalidates every stored fingerprint.
func Author(f AuthorFields) string {
	var b strings.Builder
	for _, value := range []*string{f.Forenames, f.Keyname, f.Suffix, f.Affiliation} {
		b.WriteString(literal(value))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// SearchTerm builds the lookup key used by archive-style author search, e.g.
// "Kane_D" for keyname "Kane" and forenames "Daniel M.".
func SearchTerm(f AuthorFields) string {
	term := foldASCII(strings.ReplaceAll(deref(f.Keyname), "-", "_"))
	if f.Forenames != nil {
		if initial := firstInitial(*f.Forenames); initial != "" {
			term += "_" + initial
		}
	}
	return term
}

// FullName joins forenames, keyname and suffix for display.
func FullName(f AuthorFields) string {
	parts := make([]string, 0, 3)
	for _, value := range []*string{f.Forenames, f.Keyname, f.Suffix} {
		if trimmed := strings.TrimSpace(deref(value)); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

func literal(value *string) string {
	if value == nil {
		return "nil"
	}
	return strconv.Quote(*value)
}

// foldASCII decomposes to NFKD and drops everything outside ASCII, so combining
// marks disappear and letters without a decomposition are removed entirely.
func foldASCII(value string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))
	folded, _, err := transform.String(t, value)
	if err != nil {
		return value
	}
	return folded
}

func firstInitial(forenames string) string {
	tokens := strings.Fields(forenames)
	if len(tokens) == 0 {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(tokens[0])
	if r == utf8.RuneError {
		return ""
	}
	return string(r)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
