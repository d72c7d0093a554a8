// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"ipintel/pkg/model"
)

// maxBodySize bounds a POST body. 100 addresses fit comfortably.
const maxBodySize = 1 << 20

// Accepted spellings, checked in order. The first present alias wins
// within one source; values from the request body always beat values
// from the query string. Key aliases match case-insensitively.
var (
	keyAliases   = []string{"apiKey", "api_key", "key"}
	queryAliases = []string{"asn", "as", "ip", "q", "query"}
)

var asnQueryRe = regexp.MustCompile(`(?i)^as(\d+)$`)

// params carries everything extracted from one lookup request.
type params struct {
	query    string
	queryVia string // alias the query arrived under
	apiKey   string

	bulk   []string
	isBulk bool
}

// asn interprets the query as an autonomous-system number: either
// "AS15169" in any case, or bare digits under the asn/as aliases.
func (p *params) asn() (uint32, bool) {
	if m := asnQueryRe.FindStringSubmatch(p.query); m != nil {
		n, err := strconv.ParseUint(m[1], 10, 32)
		return uint32(n), err == nil
	}
	if p.queryVia == "asn" || p.queryVia == "as" {
		n, err := strconv.ParseUint(p.query, 10, 32)
		return uint32(n), err == nil
	}
	return 0, false
}

// parseParams merges the POST body over the query string. A present but
// malformed body is a hard error; it never falls back to the URL.
func parseParams(r *http.Request) (*params, *model.APIError) {
	p := &params{}

	if r.Method == http.MethodPost {
		if apiErr := p.readBody(r); apiErr != nil {
			return nil, apiErr
		}
	}

	q := r.URL.Query()
	if p.apiKey == "" {
		p.apiKey = keyParam(q)
	}
	if p.query == "" && !p.isBulk {
		p.query, p.queryVia = queryParam(q)
	}
	return p, nil
}

// keyParam scans values for the api key aliases, matching parameter
// names case-insensitively.
func keyParam(values url.Values) string {
	for _, alias := range keyAliases {
		for name, vals := range values {
			if !strings.EqualFold(name, alias) || len(vals) == 0 {
				continue
			}
			if v := strings.TrimSpace(vals[0]); v != "" {
				return v
			}
		}
	}
	return ""
}

func queryParam(values url.Values) (query, via string) {
	for _, alias := range queryAliases {
		if v := strings.TrimSpace(values.Get(alias)); v != "" {
			return v, alias
		}
	}
	return "", ""
}

func (p *params) readBody(r *http.Request) *model.APIError {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil || len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		return p.readJSONBody(body)
	}

	// Form-encoded bodies carry the same aliases as the query string.
	// A present but unparseable body is a hard error; the URL query
	// never stands in for it.
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return &model.APIError{
			Error: "request body is not valid form data",
			Code:  model.CodeInvalidIPOrASN,
		}
	}
	p.apiKey = keyParam(form)
	p.query, p.queryVia = queryParam(form)
	return nil
}

func (p *params) readJSONBody(body []byte) *model.APIError {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return &model.APIError{
			Error: "request body is not valid JSON",
			Code:  model.CodeInvalidBulkInputNotArray,
		}
	}

	switch v := raw.(type) {
	case []any:
		if len(v) == 0 {
			return &model.APIError{
				Error: "bulk input array is empty",
				Code:  model.CodeInvalidBulkInputEmpty,
			}
		}
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return &model.APIError{
					Error: "bulk input entries must be strings",
					Code:  model.CodeInvalidBulkInputNotArray,
				}
			}
			p.bulk = append(p.bulk, s)
		}
		p.isBulk = true
		return nil

	case map[string]any:
		if ips, ok := v["ips"].([]any); ok {
			for _, item := range ips {
				if s, isStr := item.(string); isStr {
					p.bulk = append(p.bulk, s)
				}
			}
			p.isBulk = true
			if len(p.bulk) == 0 {
				return &model.APIError{
					Error: "bulk input array is empty",
					Code:  model.CodeInvalidBulkInputEmpty,
				}
			}
			return nil
		}
	keys:
		for _, alias := range keyAliases {
			for name, val := range v {
				s, isStr := val.(string)
				if isStr && strings.EqualFold(name, alias) && strings.TrimSpace(s) != "" {
					p.apiKey = strings.TrimSpace(s)
					break keys
				}
			}
		}
		for _, alias := range queryAliases {
			if s, ok := v[alias].(string); ok && strings.TrimSpace(s) != "" {
				p.query = strings.TrimSpace(s)
				p.queryVia = alias
				break
			}
		}
		return nil

	default:
		return &model.APIError{
			Error: "bulk input must be a JSON array of addresses",
			Code:  model.CodeInvalidBulkInputNotArray,
		}
	}
}

