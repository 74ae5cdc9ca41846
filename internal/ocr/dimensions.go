package ocr

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/adverant/nexus/followverify-worker/internal/layout"
)

// DimensionsFromImage reads the pixel size from the image header without
// decoding pixel data. Unknown formats fall back to layout.DefaultDimensions.
func DimensionsFromImage(data []byte) (layout.Dimensions, bool) {
	if len(data) == 0 {
		return layout.DefaultDimensions, false
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return layout.DefaultDimensions, false
	}

	dims := layout.Dimensions{Width: cfg.Width, Height: cfg.Height}
	if !dims.Valid() {
		return layout.DefaultDimensions, false
	}
	return dims, true
}
