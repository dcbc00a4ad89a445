// Package retrieve produces tile payloads for elevation models. A model is
// wired to one retrieval strategy at construction, either a remote coverage
// service reached over HTTP or a local raster server synthesizing tiles from
// on-disk data; both hand out Retriever values behind the same contract.
package retrieve

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Timeouts of the blocking HTTP fetch path.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

// Retriever fetches one tile payload. Implementations are single-shot values
// created per tile.
type Retriever interface {
	Retrieve(ctx context.Context) ([]byte, error)
}

// Error is a failed tile retrieval. It is retryable in the tiled composition
// path and fatal for the single-tile coverage path.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieve %s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPRetriever downloads one resource with a bounded connect and read
// timeout. Failures, including coverage-service exception documents served
// with a success status, surface as *Error.
type HTTPRetriever struct {
	URL            string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	client *http.Client
}

// NewHTTPRetriever builds a retriever with the default timeouts.
func NewHTTPRetriever(url string) *HTTPRetriever {
	return &HTTPRetriever{
		URL:            url,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
	}
}

func (r *HTTPRetriever) httpClient() *http.Client {
	if r.client == nil {
		dialer := &net.Dialer{Timeout: r.ConnectTimeout}
		r.client = &http.Client{
			Transport: &http.Transport{DialContext: dialer.DialContext},
		}
	}
	return r.client
}

// Retrieve performs the download. The read timeout caps the whole exchange.
func (r *HTTPRetriever) Retrieve(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.ReadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, &Error{Source: r.URL, Err: err}
	}

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return nil, &Error{Source: r.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Source: r.URL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	// a text or xml body on a raster request is a service exception report
	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/") || strings.Contains(contentType, "xml") {
		return nil, &Error{Source: r.URL, Err: fmt.Errorf("service answered with a %s document", contentType)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Source: r.URL, Err: err}
	}
	return data, nil
}
