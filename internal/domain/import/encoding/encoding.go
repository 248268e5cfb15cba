// Package encoding resolves the character encoding of uploaded statement
// files. Japanese card and bank exports are usually Shift_JIS, sometimes
// EUC-JP, and increasingly UTF-8 with or without a BOM.
package encoding

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	xencoding "golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	UTF8     = "UTF-8"
	ShiftJIS = "Shift_JIS"
	EUCJP    = "EUC-JP"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Result is the decoded text plus how it was obtained.
type Result struct {
	Text     string
	Encoding string
	// Hint is the statistical detector's best guess. It is informational
	// only and never decides the encoding.
	Hint string
	// Confident is false when no candidate produced Japanese text and the
	// bytes were decoded as lossy UTF-8.
	Confident bool
}

type candidate struct {
	name   string
	enc    xencoding.Encoding
	legacy bool
}

// Tried in order; the first one whose output contains Japanese script wins.
var candidates = []candidate{
	{name: ShiftJIS, enc: japanese.ShiftJIS, legacy: true},
	{name: UTF8, enc: xunicode.UTF8},
	{name: EUCJP, enc: japanese.EUCJP, legacy: true},
}

// Decode converts raw file bytes to text. It never fails: when nothing fits,
// the bytes are decoded as UTF-8 with invalid sequences replaced by U+FFFD.
func Decode(data []byte) Result {
	if bytes.HasPrefix(data, utf8BOM) {
		text, err := decodeWith(xunicode.UTF8BOM, data)
		if err == nil {
			return Result{Text: text, Encoding: UTF8, Hint: UTF8, Confident: true}
		}
	}

	hint := Sniff(data)
	multibyteUTF8 := isMultibyteUTF8(data)

	for _, c := range candidates {
		// Well-formed multi-byte UTF-8 is never reinterpreted as a legacy
		// double-byte encoding.
		if c.legacy && multibyteUTF8 {
			continue
		}
		text, err := decodeWith(c.enc, data)
		if err != nil || strings.ContainsRune(text, utf8.RuneError) {
			continue
		}
		if HasJapanese(text) {
			return Result{Text: text, Encoding: c.name, Hint: hint, Confident: true}
		}
	}

	return Result{Text: strings.ToValidUTF8(string(data), "\uFFFD"), Encoding: UTF8, Hint: hint}
}

// Sniff returns the statistical detector's best charset guess, or "".
func Sniff(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	res, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || res == nil {
		return ""
	}
	return res.Charset
}

// HasJapanese reports whether s contains Hiragana, Katakana or CJK
// ideographs.
func HasJapanese(s string) bool {
	for _, r := range s {
		switch {
		case r >= 0x3040 && r <= 0x309F:
			return true
		case r >= 0x30A0 && r <= 0x30FF:
			return true
		case r >= 0x4E00 && r <= 0x9FFF:
			return true
		}
	}
	return false
}

func decodeWith(enc xencoding.Encoding, data []byte) (string, error) {
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func isMultibyteUTF8(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, b := range data {
		if b > unicode.MaxASCII {
			return true
		}
	}
	return false
}
