// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package pipeline

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed countries.json
var countriesJSON []byte

// countryInfo supplements a geoname record with static per-country
// metadata keyed by ISO 3166-1 alpha-2 code.
type countryInfo struct {
	Continent     string `json:"continent"`
	ContinentCode string `json:"continent_code"`
	CallingCode   string `json:"calling_code"`
	Currency      string `json:"currency"`
	IsEU          bool   `json:"is_eu"`
}

func loadCountries() (map[string]countryInfo, error) {
	out := make(map[string]countryInfo)
	if err := json.Unmarshal(countriesJSON, &out); err != nil {
		return nil, fmt.Errorf("failed to parse embedded country table: %w", err)
	}
	return out, nil
}
