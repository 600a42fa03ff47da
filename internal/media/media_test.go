package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pbaille/postkeep/internal/domain"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8((x + y) * 3), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestValidDataURI(t *testing.T) {
	long := strings.Repeat("A", 60)
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"jpeg", "data:image/jpeg;base64," + long, true},
		{"png", "data:image/png;base64," + long, true},
		{"webp", "data:image/webp;base64," + long, true},
		{"gif", "data:image/gif;base64," + long, true},
		{"svg", "data:image/svg+xml;base64," + long, false},
		{"truncated", "data:image/png;base64,AAAA", false},
		{"html", "data:text/html;base64," + long, false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidDataURI(tt.in); got != tt.want {
				t.Errorf("ValidDataURI = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompressDownscales(t *testing.T) {
	src := EncodeDataURI("image/png", pngBytes(t, 400, 200))

	out, err := Compress(src, CompressOptions{MaxSide: 100, Quality: 80})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if MimeType(out) != "image/jpeg" {
		t.Fatalf("mime = %q", MimeType(out))
	}

	_, payload, _ := strings.Cut(out, ",")
	raw, _ := base64.StdEncoding.DecodeString(payload)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("size = %dx%d, want 100x50", b.Dx(), b.Dy())
	}
}

func TestCompressKeepsGIF(t *testing.T) {
	gif := "data:image/gif;base64," + strings.Repeat("R0lGODlh", 10)
	out, err := Compress(gif, DefaultCompress)
	if err != nil || out != gif {
		t.Errorf("gif changed: %v", err)
	}
}

func TestCompressRejectsGarbage(t *testing.T) {
	if _, err := Compress("data:image/png;base64,"+strings.Repeat("A", 80), DefaultCompress); err == nil {
		t.Error("expected decode error")
	}
}

func TestPrepare(t *testing.T) {
	good := EncodeDataURI("image/png", pngBytes(t, 64, 64))
	images := []domain.MediaImage{
		{URL: "a", DataURI: good},
		{URL: "b"},
		{URL: "c", DataURI: "data:image/png;base64,short"},
	}
	out := Prepare(images, DefaultCompress)
	if len(out) != 1 || out[0].URL != "a" {
		t.Fatalf("Prepare = %+v", out)
	}
	if out[0].MimeType == "" || !ValidDataURI(out[0].DataURI) {
		t.Errorf("image = %+v", out[0])
	}
}

func TestScaled(t *testing.T) {
	tests := []struct{ w, h, max, ww, wh int }{
		{2000, 1000, 1280, 1280, 640},
		{1000, 2000, 1280, 640, 1280},
		{800, 600, 1280, 800, 600},
		{5000, 1, 1280, 1280, 1},
	}
	for _, tt := range tests {
		w, h := scaled(tt.w, tt.h, tt.max)
		if w != tt.ww || h != tt.wh {
			t.Errorf("scaled(%d,%d) = %d,%d want %d,%d", tt.w, tt.h, w, h, tt.ww, tt.wh)
		}
	}
}

func TestHTTPGetter(t *testing.T) {
	body := pngBytes(t, 10, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(body)
		case "/sniff":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewHTTPGetter(5 * time.Second)
	ctx := context.Background()

	got, err := g.Get(ctx, srv.URL+"/ok.png")
	if err != nil || !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("Get = %.40q, %v", got, err)
	}
	if got, err := g.Get(ctx, srv.URL+"/sniff"); err != nil || MimeType(got) != "image/png" {
		t.Errorf("sniffed = %.40q, %v", got, err)
	}
	if _, err := g.Get(ctx, srv.URL+"/missing"); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := g.Get(ctx, "ftp://example.com/x.png"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

type stubGetter struct {
	calls []time.Time
	data  map[string]string
}

func (s *stubGetter) Get(_ context.Context, u string) (string, error) {
	s.calls = append(s.calls, time.Now())
	if d, ok := s.data[u]; ok {
		return d, nil
	}
	return "", errors.New("not cached")
}

func TestFetchSequence(t *testing.T) {
	valid := "data:image/png;base64," + strings.Repeat("A", 60)
	g := &stubGetter{data: map[string]string{"a": valid, "c": "data:image/png;base64,AA"}}
	refs := []domain.MediaRef{{URL: "a", AltText: "first"}, {URL: "b"}, {URL: "c"}}

	out := FetchSequence(context.Background(), g, refs, Jitter{Min: 5 * time.Millisecond, Max: 10 * time.Millisecond})
	if len(out) != 3 {
		t.Fatalf("got %d results", len(out))
	}
	if out[0].DataURI != valid || out[0].AltText != "first" || out[0].MimeType != "image/png" {
		t.Errorf("first = %+v", out[0])
	}
	if out[1].DataURI != "" || out[2].DataURI != "" {
		t.Errorf("failed or invalid downloads kept payloads: %+v", out[1:])
	}
	for i := 1; i < len(g.calls); i++ {
		if gap := g.calls[i].Sub(g.calls[i-1]); gap < 5*time.Millisecond {
			t.Errorf("gap %d = %v, want at least the jitter minimum", i, gap)
		}
	}
}

func TestFetchSequenceCancelled(t *testing.T) {
	g := &stubGetter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := FetchSequence(ctx, g, []domain.MediaRef{{URL: "a"}, {URL: "b"}}, DefaultJitter)
	if len(out) != 1 {
		t.Errorf("got %d results after cancel, want 1", len(out))
	}
}
