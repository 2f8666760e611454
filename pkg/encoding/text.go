// Package encoding provides text encoding utilities for DMI metadata and
// search keys.
package encoding

import (
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// DecodeText converts metadata chunk bytes to a UTF-8 string.
//
// BYOND writes UTF-8 into the chunk, but the PNG text chunks are nominally
// Latin-1 and older tools produce that. Bytes that are not valid UTF-8 are
// therefore decoded as Latin-1.
func DecodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return Latin1ToUTF8(data)
}

// Latin1ToUTF8 converts ISO 8859-1 encoded bytes to a UTF-8 string.
// Returns the original bytes as a string if conversion fails.
func Latin1ToUTF8(data []byte) string {
	result, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return string(data)
	}
	return string(result)
}

// FoldKey returns the case-folded form of s used for case-insensitive
// matching of file and state names.
func FoldKey(s string) string {
	return cases.Fold().String(s)
}
