// Package imageproc normalizes receipt photos: PDFs, HEIC captures and the
// standard web formats are decoded, downscaled and re-encoded as PNG for
// the vision model or JPEG for storage.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// DefaultMaxDimension bounds the longest edge of processed images. Phone
// cameras produce far more pixels than text extraction needs.
const DefaultMaxDimension = 2000

// ErrUnsupportedImage is matched by every error caused by input that cannot
// be decoded as a receipt image
var ErrUnsupportedImage = errors.New("unsupported image")

// NormalizeContentType lowercases and trims a MIME type, defaulting to JPEG.
func NormalizeContentType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

// ContentTypeFromFilename guesses a MIME type from a file extension.
func ContentTypeFromFilename(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// ToPNG converts data to PNG, downscaling to maxDim when it is positive.
// PNG input that already fits is returned unchanged.
func ToPNG(data []byte, contentType string, maxDim int) ([]byte, error) {
	mimeType := NormalizeContentType(contentType)
	if mimeType == "image/png" && !IsHEIC(data) {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err == nil && fits(cfg.Width, cfg.Height, maxDim) {
			return data, nil
		}
	}

	img, err := decode(data, mimeType)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resize(img, maxDim), imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// ToJPEG converts data to JPEG, downscaling to maxDim when it is positive.
func ToJPEG(data []byte, contentType string, maxDim int) ([]byte, error) {
	img, err := decode(data, NormalizeContentType(contentType))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resize(img, maxDim), imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// IsHEIC checks the ISO-BMFF ftyp box for a HEIC/HEIF brand.
func IsHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

func decode(data []byte, mimeType string) (image.Image, error) {
	switch {
	case mimeType == "application/pdf":
		return pdfFirstPage(data)
	case IsHEIC(data) || isHEICMimeType(mimeType):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding HEIC/HEIF image: %w", ErrUnsupportedImage, err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF", ErrUnsupportedImage)
		}
		return nil, fmt.Errorf("%w: decoding image: %w", ErrUnsupportedImage, err)
	}
	return img, nil
}

// pdfFirstPage renders the first page; receipts are almost always one page.
func pdfFirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: opening PDF: %w", ErrUnsupportedImage, err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("%w: rendering PDF page: %w", ErrUnsupportedImage, err)
	}
	return img, nil
}

func resize(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	if fits(b.Dx(), b.Dy(), maxDim) {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

func fits(width, height, maxDim int) bool {
	return maxDim <= 0 || (width <= maxDim && height <= maxDim)
}
