// Package fetch retrieves dataset documents relative to an endpoint.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher returns the raw bytes of a document relative to an endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// StatusError reports a non-200 HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// HTTPFetcher fetches documents from an HTTP endpoint.
type HTTPFetcher struct {
	endpoint string
	client   *http.Client
}

// NewHTTPFetcher creates a fetcher for endpoint. A nil client uses a
// client with a 30 second timeout.
func NewHTTPFetcher(endpoint string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   client,
	}
}

// Fetch GETs <endpoint>/<name>.
func (f *HTTPFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	url := f.endpoint + "/" + strings.TrimPrefix(name, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return data, nil
}

// DirFetcher reads documents from a local dataset directory.
type DirFetcher struct {
	root string
}

// NewDirFetcher creates a fetcher rooted at dir.
func NewDirFetcher(dir string) *DirFetcher {
	return &DirFetcher{root: dir}
}

// Fetch reads <root>/<name>. Names escaping the root are rejected.
func (f *DirFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := path.Clean("/" + name)
	if strings.Contains(name, "..") {
		return nil, fmt.Errorf("invalid document name %q", name)
	}
	return os.ReadFile(filepath.Join(f.root, filepath.FromSlash(clean)))
}

var (
	_ Fetcher = (*HTTPFetcher)(nil)
	_ Fetcher = (*DirFetcher)(nil)
)
