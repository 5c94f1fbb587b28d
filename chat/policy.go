package chat

import (
	"strings"
	"unicode/utf8"
)

// minGroundedRunes is the shortest grounded answer, after trimming, that is
// taken at face value.
const minGroundedRunes = 10

const refusalMarker = "I don't know"

// AcceptGrounded reports whether a context-grounded answer should be returned
// as is. It rejects answers that contain the exact, case-sensitive phrase
// "I don't know" anywhere, and answers shorter than ten runes once
// surrounding whitespace is removed. Anything else is accepted.
func AcceptGrounded(text string) bool {
	if strings.Contains(text, refusalMarker) {
		return false
	}
	return utf8.RuneCountInString(strings.TrimSpace(text)) >= minGroundedRunes
}
