package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params is a parsed list request. Cursor is zero on the first page.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options set per-endpoint limits. Zero values fall back to the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) bounds() (fallback, limit int) {
	limit = o.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}
	fallback = min(o.DefaultPageSize, limit)
	if fallback <= 0 {
		fallback = min(DefaultPageSize, limit)
	}
	return fallback, limit
}

// FromRequest reads pageSize and pageToken from the query string of r.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil || r.URL == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse validates pageSize and decodes pageToken. Sizes above the maximum are clamped
// rather than rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	fallback, limit := opts.bounds()
	out := Params{PageSize: fallback}

	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidPageSize, raw)
		case n < 1:
			return Params{}, fmt.Errorf("%w: must be at least 1", ErrInvalidPageSize)
		}
		out.PageSize = min(n, limit)
	}

	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		out.PageToken, out.Cursor = token, cursor
	}
	return out, nil
}

// NormalizePageSize applies the package defaults to a size passed into a repository.
func NormalizePageSize(size int) int {
	if size < 1 {
		return DefaultPageSize
	}
	return min(size, DefaultMaxPageSize)
}
