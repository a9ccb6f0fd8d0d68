package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Www.Amazon.com/s?k=phones", "www.amazon.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchTotal == nil || productsTotal == nil || httpRequestsTotal == nil || rateLimitDelaySeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetchAndProduct(t *testing.T) {
	ObserveFetch("https://fetch-test.example/dp/1", "blocked", 0)
	ObserveFetch("https://fetch-test.example/dp/2", "success", 128)

	if val := testutil.ToFloat64(fetchTotal.WithLabelValues("fetch-test.example", "blocked")); val != 1 {
		t.Errorf("expected one blocked fetch, got %f", val)
	}
	if val := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("fetch-test.example")); val != 128 {
		t.Errorf("expected 128 bytes, got %f", val)
	}

	ObserveProduct("amazon_test", "extracted")
	ObserveListingPage("amazon_test", false)
	if val := testutil.ToFloat64(productsTotal.WithLabelValues("amazon_test", "extracted")); val != 1 {
		t.Errorf("expected one extracted product, got %f", val)
	}
	if val := testutil.ToFloat64(listingPagesTotal.WithLabelValues("amazon_test", "empty")); val != 1 {
		t.Errorf("expected one empty listing page, got %f", val)
	}

	ObserveRateLimitDelay("limit-test.example", 250*time.Millisecond)
	if val := testutil.CollectAndCount(rateLimitDelaySeconds); val <= 0 {
		t.Errorf("expected rate limit histogram to be observed, got %d", val)
	}
}

func TestActiveWorkersGauge(t *testing.T) {
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val < 1 {
		t.Errorf("expected at least one active worker, got %f", val)
	}
	DecActiveWorkers()
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://www.amazon.co.jp", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
