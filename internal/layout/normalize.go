package layout

import "strings"

// ocrConfusions maps glyphs Tesseract commonly misreads on small UI text.
// Applied in order; '@' is dropped so handle markers must be checked on raw text.
var ocrConfusions = strings.NewReplacer(
	"0", "o",
	"1", "l",
	"|", "l",
	"@", "",
)

// Normalize canonicalizes an OCR word for keyword matching.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(strings.ToLower(ocrConfusions.Replace(text)))
}
