package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const missingParamsMessage = "Please pass both start_url and region in the request body"

// flexibleInt accepts a JSON number or a numeric string.
type flexibleInt int

func (f *flexibleInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		data = []byte(strings.TrimSpace(s))
		if len(data) == 0 {
			*f = 0
			return nil
		}
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("expected integer, got %s", data)
	}
	*f = flexibleInt(n)
	return nil
}

type jobRequest struct {
	StartURL         string            `json:"start_url"`
	Region           string            `json:"region"`
	MaxPages         flexibleInt       `json:"max_pages"`
	ConcurrencyLimit flexibleInt       `json:"concurrency_limit"`
	BudgetSeconds    flexibleInt       `json:"budget_seconds"`
	Tags             map[string]string `json:"tags"`
}

type standardJobRequest struct {
	Name string `json:"name"`
}

type submitResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
	ResultURL string `json:"result_url"`
}

// fillFromQuery copies query parameters into fields the body left empty.
func (r *jobRequest) fillFromQuery(q url.Values) error {
	if r.StartURL == "" {
		r.StartURL = q.Get("start_url")
	}
	if r.Region == "" {
		r.Region = q.Get("region")
	}
	for name, dst := range map[string]*flexibleInt{
		"max_pages":         &r.MaxPages,
		"concurrency_limit": &r.ConcurrencyLimit,
		"budget_seconds":    &r.BudgetSeconds,
	} {
		raw := strings.TrimSpace(q.Get(name))
		if *dst != 0 || raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s must be an integer", name)
		}
		*dst = flexibleInt(n)
	}
	return nil
}

func validateStartURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("start_url must be an absolute http(s) URL")
	}
	return nil
}
