package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveLink(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://www.amazon.com")
	require.NoError(t, err)

	testCases := []struct {
		name string
		href string
		want string
		ok   bool
	}{
		{"relative path", "/Acme-Phone/dp/B01?ref=sr_1", "https://www.amazon.com/Acme-Phone/dp/B01?ref=sr_1", true},
		{"absolute", "HTTPS://WWW.Amazon.com:443/dp/B02#reviews", "https://www.amazon.com/dp/B02", true},
		{"empty", "  ", "", false},
		{"javascript", "javascript:void(0)", "", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveLink(base, tc.href)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLAndHost(t *testing.T) {
	t.Parallel()

	got, err := NormalizeURL("HTTP://Example.COM:80/a#frag")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/a", got)

	_, err = NormalizeURL("http://%")
	require.Error(t, err)

	require.Equal(t, "example.com", HostOf("https://Example.com/x"))
	require.Equal(t, "unknown", HostOf("not a url"))
}
