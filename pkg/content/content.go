// Package content defines the content parts a query is made of and loads
// local image attachments.
package content

import (
	"encoding/base64"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/germanamz/consult/pkg/failure"
)

// Part is a piece of content within a user message.
type Part interface {
	PartKind() string
}

// Text is a plain text content part.
type Text struct {
	Text string
}

func (t Text) PartKind() string { return "text" }

// Image is an image content part embedded as raw bytes.
type Image struct {
	Path      string
	Data      []byte
	MediaType string
}

func (i Image) PartKind() string { return "image" }

// Base64 returns the image bytes in standard base64 encoding.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURI returns the image as a data: URI.
func (i Image) DataURI() string {
	return "data:" + i.MediaType + ";base64," + i.Base64()
}

// FallbackMediaType is used when the image bytes are not recognised as an
// image format.
const FallbackMediaType = "image/jpeg"

// LoadImage reads the whole file at path. A missing file is an ImageNotFound
// failure; any other read error is an ImageReadError. Both are fatal.
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided input, read-only
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Image{}, failure.Wrap(failure.ImageNotFound, err, "%s", path)
		}
		return Image{}, failure.Wrap(failure.ImageReadError, err, "%s", path)
	}

	return Image{Path: path, Data: data, MediaType: DetectMediaType(data)}, nil
}

// DetectMediaType sniffs the image format from data.
func DetectMediaType(data []byte) string {
	mt := http.DetectContentType(data)
	if !strings.HasPrefix(mt, "image/") {
		return FallbackMediaType
	}
	return mt
}

// Parts builds the parts of a user message: the prompt text followed by the
// image, if any.
func Parts(prompt string, img *Image) []Part {
	parts := []Part{Text{Text: prompt}}
	if img != nil {
		parts = append(parts, *img)
	}
	return parts
}
