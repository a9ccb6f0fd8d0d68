package crawler

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Regions maps a region code to the storefront base URL.
type Regions map[string]string

// Region is a resolved entry of the region table.
type Region struct {
	Code    string
	BaseURL *url.URL
	Site    string
}

// DefaultRegions returns the built-in storefront table.
func DefaultRegions() Regions {
	return Regions{
		"eg": "https://www.amazon.eg",
		"sa": "https://www.amazon.sa",
		"us": "https://www.amazon.com",
		"jp": "https://www.amazon.co.jp",
		"de": "https://www.amazon.de",
		"ca": "https://www.amazon.ca",
		"uk": "https://www.amazon.co.uk",
		"au": "https://www.amazon.com.au",
		"ae": "https://www.amazon.ae",
		"in": "https://www.amazon.in",
	}
}

// Lookup resolves a region code case-insensitively.
func (r Regions) Lookup(code string) (Region, error) {
	key := strings.ToLower(strings.TrimSpace(code))
	raw, ok := r[key]
	if !ok || key == "" {
		return Region{}, fmt.Errorf("%w: %q", ErrUnsupportedRegion, code)
	}
	base, err := parseBaseURL(raw)
	if err != nil {
		return Region{}, fmt.Errorf("region %q: %w", key, err)
	}
	return Region{
		Code:    key,
		BaseURL: base,
		Site:    "amazon_" + key,
	}, nil
}

// Codes returns the configured region codes in sorted order.
func (r Regions) Codes() []string {
	codes := make([]string, 0, len(r))
	for code := range r {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Validate checks that every entry is an absolute http(s) URL.
func (r Regions) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("regions must not be empty")
	}
	for _, code := range r.Codes() {
		if _, err := parseBaseURL(r[code]); err != nil {
			return fmt.Errorf("region %q: %w", code, err)
		}
	}
	return nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute http(s)", raw)
	}
	return u, nil
}
