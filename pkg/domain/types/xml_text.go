package types

import (
	"fmt"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
)

// ErrInvalidXMLText is returned for text that cannot be carried by an XML 1.0 document unchanged
var ErrInvalidXMLText = goerr.New("text cannot be represented in XML")

// IsXMLChar reports whether r is in the XML 1.0 Char production
func IsXMLChar(r rune) bool {
	switch {
	case r == 0x09 || r == 0x0A || r == 0x0D:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	}
	return false
}

// CheckXMLText fails when s is not valid UTF-8 or contains a character XML does not allow
func CheckXMLText(s string) error {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return goerr.Wrap(ErrInvalidXMLText, "invalid UTF-8 sequence", goerr.V("offset", i))
		}
		if !IsXMLChar(r) {
			return goerr.Wrap(ErrInvalidXMLText, fmt.Sprintf("character %U is not allowed", r), goerr.V("offset", i))
		}
		i += size
	}
	return nil
}
