package textutil

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var freeTextPolicy = bluemonday.StrictPolicy()

// CleanFreeText prepares user-supplied free text for storage: markup is
// stripped, the result is NFC-normalised, and surrounding whitespace removed.
func CleanFreeText(value string) string {
	cleaned := freeTextPolicy.Sanitize(value)
	cleaned = norm.NFC.String(cleaned)
	return strings.TrimSpace(cleaned)
}
