package recorder

import (
	"unicode/utf16"

	"provenance/internal/provenance"
)

// DeletedText returns the text removed by deleting length UTF-16 code units
// at position from before. When the span is not inside before, the removed
// text cannot be recovered and a "[N chars]" placeholder is returned instead.
func DeletedText(before string, position, length int) string {
	if length <= 0 {
		return ""
	}
	units := utf16.Encode([]rune(before))
	if position < 0 || position+length > len(units) {
		return provenance.DeletePlaceholder(length)
	}
	return string(utf16.Decode(units[position : position+length]))
}
