package cache

import (
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies a cached registry response.
type CacheKey struct {
	// URL is the request URL without query string.
	URL string

	// Query holds the request query parameters.
	Query url.Values
}

// NewKey builds a key for a GET of rawURL with query.
func NewKey(rawURL string, query url.Values) CacheKey {
	return CacheKey{URL: rawURL, Query: query}
}

// String generates a deterministic cache key string.
// Format: mit:url:param1=val1:param2=val2
//
// Example:
//
//	mit:https://registry.example/mit:rows=100:sort=number asc:start=200
func (k CacheKey) String() string {
	parts := []string{"mit"}

	if u := strings.TrimRight(k.URL, "/"); u != "" {
		parts = append(parts, u)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := append([]string(nil), k.Query[name]...)
			sort.Strings(values)
			parts = append(parts, name+"="+strings.Join(values, ","))
		}
	}

	return strings.Join(parts, ":")
}
