package collyfetcher

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// declaredCharsetHeader carries the charset the server declared so the body
// reaches us undecoded and our own fallback chain picks the encoding.
const declaredCharsetHeader = "X-Declared-Charset"

// charsetPreservingTransport moves the charset parameter out of Content-Type.
// Colly would otherwise transcode the body itself and fail on bad labels.
type charsetPreservingTransport struct {
	base http.RoundTripper
}

func (t *charsetPreservingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		return resp, nil
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		if cs := rawCharset(contentType); cs != "" {
			resp.Header.Set(declaredCharsetHeader, cs)
			resp.Header.Set("Content-Type", strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
		}
		return resp, nil
	}
	cs, ok := params["charset"]
	if !ok {
		return resp, nil
	}
	delete(params, "charset")
	resp.Header.Set(declaredCharsetHeader, cs)
	resp.Header.Set("Content-Type", mime.FormatMediaType(mediaType, params))
	return resp, nil
}

// rawCharset pulls a charset out of a header mime cannot parse.
func rawCharset(contentType string) string {
	for _, part := range strings.Split(contentType, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if found && strings.EqualFold(strings.TrimSpace(key), "charset") {
			return strings.Trim(strings.TrimSpace(value), `"'`)
		}
	}
	return ""
}
