package loader

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Fetcher opens artifact files by slash-separated name. size is -1 when unknown.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (rc io.ReadCloser, size int64, err error)
}

// NewFetcher returns an HTTP fetcher for http(s) bases and a directory fetcher otherwise.
func NewFetcher(base string) (Fetcher, error) {
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		u, err := url.Parse(base)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid model base %q", base)
		}
		return &HTTPFetcher{Base: u, Client: http.DefaultClient}, nil
	}
	return DirFetcher(base), nil
}

// DirFetcher reads artifacts from a local directory.
type DirFetcher string

// Fetch implements Fetcher.
func (d DirFetcher) Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(string(d), filepath.FromSlash(name)))
	if err != nil {
		return nil, 0, err
	}
	size := int64(-1)
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return f, size, nil
}

// HTTPFetcher downloads artifacts relative to a base URL.
type HTTPFetcher struct {
	Base   *url.URL
	Client *http.Client
}

// Fetch implements Fetcher.
func (h *HTTPFetcher) Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	u := *h.Base
	u.Path = path.Join(u.Path, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, errors.Errorf("GET %s: %s", u.String(), resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}
