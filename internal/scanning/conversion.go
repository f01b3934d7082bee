package scanning

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/zombor/invoice-extract/internal/invoice"
)

// pdfToPNG renders the first page of a PDF as PNG
func pdfToPNG(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Invoices sent to a single call are read from the first page only
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	return encodePNG(img)
}

// heicToPNG decodes a HEIC/HEIF image and re-encodes it as PNG
func heicToPNG(data []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC/HEIF brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// imageForVision returns image bytes a vision model that only takes raster images
// can read. The first page of a PDF is rendered to PNG and HEIC/HEIF is converted
// to PNG. PNG, JPEG and WebP pass through unchanged. A document whose bytes do not
// match its media type fails with UnsupportedMediaType.
func imageForVision(doc Document) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch {
	case doc.MediaType == invoice.MediaTypePDF:
		data, err = pdfToPNG(doc.Data)
	case doc.MediaType == invoice.MediaTypeHEIC || doc.MediaType == invoice.MediaTypeHEIF || isHEICFormat(doc.Data):
		data, err = heicToPNG(doc.Data)
	case invoice.IsImage(doc.MediaType):
		return doc.Data, nil
	default:
		err = fmt.Errorf("cannot convert %s to an image", doc.MediaType)
	}

	if err != nil {
		return nil, invoice.NewError(invoice.KindUnsupportedMediaType, err)
	}
	return data, nil
}
