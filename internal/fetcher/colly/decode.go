package collyfetcher

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// charsetAliases maps accepted labels to a canonical name.
var charsetAliases = map[string]string{
	"utf-8":      "utf-8",
	"utf8":       "utf-8",
	"ascii":      "ascii",
	"us-ascii":   "ascii",
	"latin-1":    "latin-1",
	"latin1":     "latin-1",
	"iso-8859-1": "latin-1",
	"iso8859-1":  "latin-1",
	"utf-16":     "utf-16",
	"utf16":      "utf-16",
}

// decodeBody turns raw bytes into text. It never fails: when the declared
// charset is unknown or does not fit the bytes it falls back to strict
// utf-8, then latin-1, then lossy utf-16.
func decodeBody(body []byte, declared string) string {
	if len(body) == 0 {
		return ""
	}
	if canonical, ok := charsetAliases[strings.ToLower(strings.TrimSpace(declared))]; ok {
		if text, ok := decodeStrict(body, canonical); ok {
			return text
		}
	}
	if utf8.Valid(body) {
		return string(body)
	}
	if text, err := charmap.ISO8859_1.NewDecoder().Bytes(body); err == nil {
		return string(text)
	}
	return decodeLossy(body, utf16Encoding())
}

func decodeStrict(body []byte, canonical string) (string, bool) {
	switch canonical {
	case "utf-8":
		if !utf8.Valid(body) {
			return "", false
		}
		return string(body), true
	case "ascii":
		for _, b := range body {
			if b >= utf8.RuneSelf {
				return "", false
			}
		}
		return string(body), true
	case "latin-1":
		text, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
		if err != nil {
			return "", false
		}
		return string(text), true
	case "utf-16":
		if len(body)%2 != 0 {
			return "", false
		}
		text, err := utf16Encoding().NewDecoder().Bytes(body)
		if err != nil || bytes.ContainsRune(text, utf8.RuneError) {
			return "", false
		}
		return string(text), true
	default:
		return "", false
	}
}

func decodeLossy(body []byte, enc encoding.Encoding) string {
	text, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return strings.ToValidUTF8(string(body), "�")
	}
	return string(text)
}

// utf16Encoding honors a BOM and assumes big endian without one.
func utf16Encoding() encoding.Encoding {
	return unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
}
