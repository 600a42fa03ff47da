package media

import (
	"context"
	"encoding/base64"
	"io"
	"math/rand/v2"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pbaille/postkeep/internal/domain"
)

// maxImageBytes caps a single download.
const maxImageBytes = 5 * 1024 * 1024

// Getter retrieves one image and returns it as a data URI.
type Getter interface {
	Get(ctx context.Context, rawURL string) (string, error)
}

// HTTPGetter fetches images directly over HTTP. It does not share the
// page's cache or session, so it is the less reliable path.
type HTTPGetter struct {
	client    *http.Client
	userAgent string
}

// NewHTTPGetter creates a getter with the given request timeout
func NewHTTPGetter(timeout time.Duration) *HTTPGetter {
	return &HTTPGetter{
		client:    &http.Client{Timeout: timeout},
		userAgent: "postkeep/1.0 (media)",
	}
}

// Get downloads rawURL and inlines it
func (g *HTTPGetter) Get(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "invalid URL")
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", eris.Errorf("unsupported scheme: %s", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", eris.Wrap(err, "read body")
	}
	if len(body) == 0 {
		return "", eris.New("empty body")
	}

	mimeType := contentType(resp.Header.Get("Content-Type"), body)
	return EncodeDataURI(mimeType, body), nil
}

// contentType prefers the declared image type and sniffs otherwise.
func contentType(header string, body []byte) string {
	if t, _, err := mime.ParseMediaType(header); err == nil && strings.HasPrefix(t, "image/") {
		return t
	}
	return http.DetectContentType(body)
}

// EncodeDataURI renders raw bytes as a base64 data URI
func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Jitter bounds the random pause between two downloads.
type Jitter struct {
	Min, Max time.Duration
}

// DefaultJitter spaces requests the way a person scrolling would.
var DefaultJitter = Jitter{Min: 200 * time.Millisecond, Max: 500 * time.Millisecond}

func (j Jitter) next() time.Duration {
	if j.Max <= j.Min {
		return j.Min
	}
	return j.Min + rand.N(j.Max-j.Min)
}

// FetchSequence downloads refs one at a time, pausing between requests.
// Failed downloads come back with an empty DataURI so callers keep the
// positions of the original list. A cancelled context stops the sequence.
func FetchSequence(ctx context.Context, g Getter, refs []domain.MediaRef, j Jitter) []domain.MediaImage {
	out := make([]domain.MediaImage, 0, len(refs))
	for i, ref := range refs {
		img := domain.MediaImage{URL: ref.URL, AltText: ref.AltText}
		if data, err := g.Get(ctx, ref.URL); err == nil && ValidDataURI(data) {
			img.DataURI = data
			img.MimeType = MimeType(data)
		}
		out = append(out, img)

		if i == len(refs)-1 {
			break
		}
		if err := Sleep(ctx, j.next()); err != nil {
			break
		}
	}
	return out
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// InitialDelay is a single random pause taken before a pipeline starts.
func InitialDelay(ctx context.Context, j Jitter) error {
	return Sleep(ctx, j.next())
}
