package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrTooLarge is returned when the body exceeds the configured limit.
	ErrTooLarge = errors.New("attachment too large")
	// ErrNotImage is returned for attachments whose content type is not image/*.
	ErrNotImage = errors.New("attachment is not an image")
)

// Fetcher downloads Discord attachments.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func New(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// CheckContentType rejects anything Discord did not label as an image. An
// empty content type is let through; the decoder decides.
func CheckContentType(contentType string) error {
	if contentType == "" {
		return nil
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return fmt.Errorf("%w: %s", ErrNotImage, contentType)
	}
	return nil
}

// Fetch GETs url and returns the body.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET attachment: unexpected status %s", resp.Status)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	r := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		r = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, f.maxBytes)
	}
	return data, nil
}
