package textutil

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeText strips markup from user-supplied free text, normalizes it to
// NFC, and trims surrounding whitespace. Used for notes, addresses, and
// product names arriving over the wire.
func SanitizeText(value string) string {
	cleaned := policy().Sanitize(value)
	cleaned = norm.NFC.String(cleaned)
	return strings.TrimSpace(cleaned)
}

// SanitizeOptional is SanitizeText for values where empty means absent.
func SanitizeOptional(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return SanitizeText(value)
}
