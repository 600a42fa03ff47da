package media

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/pbaille/postkeep/internal/domain"
)

// minDataURILength rejects truncated payloads.
const minDataURILength = 50

var acceptedPrefixes = []string{
	"data:image/jpeg;base64,",
	"data:image/png;base64,",
	"data:image/webp;base64,",
	"data:image/gif;base64,",
}

// ValidDataURI reports whether s looks like a complete inline image of an
// accepted type.
func ValidDataURI(s string) bool {
	if len(s) < minDataURILength {
		return false
	}
	for _, p := range acceptedPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// MimeType returns the type declared by a data URI.
func MimeType(dataURI string) string {
	rest, ok := strings.CutPrefix(dataURI, "data:")
	if !ok {
		return ""
	}
	t, _, _ := strings.Cut(rest, ";")
	return t
}

// CompressOptions bound the re-encoded image.
type CompressOptions struct {
	MaxSide int
	Quality int
}

// DefaultCompress keeps images readable on a dashboard card.
var DefaultCompress = CompressOptions{MaxSide: 1280, Quality: 80}

// Compress downsizes an inline image and re-encodes it as JPEG. Animated
// GIFs are returned untouched, and so is any image the re-encode would
// make larger.
func Compress(dataURI string, opts CompressOptions) (string, error) {
	if !ValidDataURI(dataURI) {
		return "", eris.New("invalid data URI")
	}
	if MimeType(dataURI) == "image/gif" {
		return dataURI, nil
	}

	_, payload, _ := strings.Cut(dataURI, ",")
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", eris.Wrap(err, "decode base64")
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", eris.Wrap(err, "decode image")
	}

	b := src.Bounds()
	w, h := scaled(b.Dx(), b.Dy(), opts.MaxSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return "", eris.Wrap(err, "encode jpeg")
	}
	out := EncodeDataURI("image/jpeg", buf.Bytes())
	if len(out) >= len(dataURI) {
		return dataURI, nil
	}
	return out, nil
}

func scaled(w, h, maxSide int) (int, int) {
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return w, h
	}
	if w >= h {
		return maxSide, max(1, h*maxSide/w)
	}
	return max(1, w*maxSide/h), maxSide
}

// Prepare keeps the images that carry a valid payload and compresses them.
// An image that fails to compress keeps its original payload.
func Prepare(images []domain.MediaImage, opts CompressOptions) []domain.MediaImage {
	var out []domain.MediaImage
	for _, img := range images {
		if !ValidDataURI(img.DataURI) {
			continue
		}
		if c, err := Compress(img.DataURI, opts); err == nil {
			img.DataURI = c
		}
		img.MimeType = MimeType(img.DataURI)
		out = append(out, img)
	}
	return out
}
