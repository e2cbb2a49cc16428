// Package source resolves review subjects into reviewable content and the
// identifiers used to cache their reviews.
package source

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image input errors. Both are caller-input errors and are reported before
// any model call is made.
var (
	ErrUnsupportedImage = errors.New("unsupported image encoding")
	ErrEmptyImage       = errors.New("empty image")
	ErrCorruptImage     = errors.New("corrupt image")
)

// maxImagePixels caps the decoded size; a small compressed file can claim
// enormous dimensions.
const maxImagePixels = 50_000_000

var imageMIMETypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// ResolvedImage is a validated image ready to send to a model.
type ResolvedImage struct {
	Data     []byte
	Format   string
	MIMEType string
	// Hash is the lowercase hex sha256 of Data.
	Hash   string
	Width  int
	Height int
}

// ImageResolver validates image bytes and computes their content hash.
type ImageResolver struct{}

// Resolve checks that data fully decodes as a supported image, so truncated
// uploads fail here rather than at the model. filename is optional; when
// present its extension must also be a supported one.
func (ImageResolver) Resolve(data []byte, filename string) (ResolvedImage, error) {
	if len(data) == 0 {
		return ResolvedImage{}, ErrEmptyImage
	}
	if err := ValidateImageFilename(filename); err != nil {
		return ResolvedImage{}, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ResolvedImage{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	mime, ok := imageMIMETypes[format]
	if !ok {
		return ResolvedImage{}, fmt.Errorf("%w: %s", ErrUnsupportedImage, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxImagePixels {
		return ResolvedImage{}, fmt.Errorf("%w: %dx%d pixels", ErrCorruptImage, cfg.Width, cfg.Height)
	}
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return ResolvedImage{}, fmt.Errorf("%w: %v", ErrCorruptImage, err)
	}

	return ResolvedImage{
		Data:     data,
		Format:   format,
		MIMEType: mime,
		Hash:     ContentHash(data),
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// ContentHash returns the hex sha256 digest of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateImageFilename rejects file names whose extension is not a
// supported image type. An empty name is accepted.
func ValidateImageFilename(name string) error {
	if name == "" {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !imageExtensions[ext] {
		return fmt.Errorf("%w: file extension %q", ErrUnsupportedImage, ext)
	}
	return nil
}

// DecodeImageInput accepts base64 text, optionally as a data URL
// ("data:image/png;base64,...").
func DecodeImageInput(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 || !strings.Contains(s[:comma], ";base64") {
			return nil, fmt.Errorf("%w: malformed data URL", ErrUnsupportedImage)
		}
		s = s[comma+1:]
	}
	if s == "" {
		return nil, ErrEmptyImage
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid base64", ErrUnsupportedImage)
}
