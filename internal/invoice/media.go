package invoice

import (
	"fmt"
	"mime"
	"strings"
)

// Media types accepted for extraction
const (
	MediaTypePDF  = "application/pdf"
	MediaTypePNG  = "image/png"
	MediaTypeJPEG = "image/jpeg"
	MediaTypeWebP = "image/webp"
	MediaTypeHEIC = "image/heic"
	MediaTypeHEIF = "image/heif"
)

var supportedMediaTypes = map[string]bool{
	MediaTypePDF:  true,
	MediaTypePNG:  true,
	MediaTypeJPEG: true,
	MediaTypeWebP: true,
	MediaTypeHEIC: true,
	MediaTypeHEIF: true,
}

// aliases seen from browsers and phones
var mediaTypeAliases = map[string]string{
	"image/jpg":           MediaTypeJPEG,
	"image/pjpeg":         MediaTypeJPEG,
	"application/x-pdf":   MediaTypePDF,
	"image/heic-sequence": MediaTypeHEIC,
	"image/heif-sequence": MediaTypeHEIF,
}

// NormalizeMediaType lower-cases a declared media type, strips parameters and
// resolves common aliases
func NormalizeMediaType(declared string) string {
	mt := strings.ToLower(strings.TrimSpace(declared))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if alias, ok := mediaTypeAliases[mt]; ok {
		return alias
	}
	return mt
}

// CheckMediaType normalizes the declared media type and returns it if it is on
// the allow-list, or an UnsupportedMediaType error otherwise
func CheckMediaType(declared string) (string, error) {
	mt := NormalizeMediaType(declared)
	if !supportedMediaTypes[mt] {
		return "", NewError(KindUnsupportedMediaType, fmt.Errorf("%q is not one of PDF, PNG, JPEG, WebP, HEIC, HEIF", declared))
	}
	return mt, nil
}

// IsImage reports whether a normalized media type is a raster image
func IsImage(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}
