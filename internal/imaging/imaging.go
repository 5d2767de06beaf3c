// Package imaging prepares item photos for storage.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"

	"github.com/erazemk/lostfound/internal/model"
)

// MaxUploadBytes is the largest photo accepted before processing.
const MaxUploadBytes = 5 << 20

// MaxDimension is the maximum width or height of a stored photo.
const MaxDimension = 1024

// JPEGQuality is the compression quality of stored photos.
const JPEGQuality = 85

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Photo is a processed item photo, always JPEG.
type Photo struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

func invalid(format string, args ...any) error {
	return &model.ValidationError{Field: "image", Message: fmt.Sprintf(format, args...)}
}

// Process sniffs the uploaded bytes, rejects anything but JPEG and PNG,
// shrinks the photo to fit MaxDimension and re-encodes it as JPEG.
// Rejected input is reported as a *model.ValidationError.
func Process(r io.Reader) (*Photo, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading photo: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, invalid("photo must be at most %d MB", MaxUploadBytes>>20)
	}

	detected := http.DetectContentType(data)
	if !allowedMIME[detected] {
		return nil, invalid("unsupported photo format %s, use JPEG or PNG", detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, invalid("photo could not be decoded")
	}
	img = fit(img, MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding photo: %w", err)
	}

	b := img.Bounds()
	return &Photo{Data: buf.Bytes(), MIME: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

// fit scales img down, preserving aspect ratio, so neither side exceeds limit.
func fit(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= limit && h <= limit {
		return img
	}

	if w > h {
		w, h = limit, h*limit/w
	} else {
		w, h = w*limit/h, limit
	}
	w, h = max(w, 1), max(h, 1)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
