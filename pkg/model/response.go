// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package model

// Datacenter describes the hosting provider owning the matched network.
type Datacenter struct {
	Datacenter string `json:"datacenter"`
	Domain     string `json:"domain,omitempty"`
	Region     string `json:"region,omitempty"`
	Network    string `json:"network,omitempty"`
}

// Company describes the organization selected by the company
// precedence ladder.
type Company struct {
	Name        string  `json:"name"`
	Domain      string  `json:"domain,omitempty"`
	Type        string  `json:"type,omitempty"`
	Network     string  `json:"network,omitempty"`
	AbuserScore float64 `json:"abuser_score,omitempty"`
}

// Abuse carries the abuse contact of the selected company.
type Abuse struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ASNInfo is the ASN block of a lookup response, and doubles as the
// whole response body for direct ASN queries.
type ASNInfo struct {
	ASN     uint32  `json:"asn"`
	Org     string  `json:"org,omitempty"`
	Descr   string  `json:"descr,omitempty"`
	Country string  `json:"country,omitempty"`
	Type    string  `json:"type,omitempty"`
	Domain  string  `json:"domain,omitempty"`
	Created string  `json:"created,omitempty"`
	Updated string  `json:"updated,omitempty"`
	RIR     string  `json:"rir,omitempty"`
	Route   string  `json:"route,omitempty"`
	Active  bool    `json:"active"`
	Abuser  float64 `json:"abuser_score,omitempty"`
}

// Location is the geolocation block, including the time fields that are
// recomputed after a cache hit so cached entries stay fresh.
type Location struct {
	Continent     string  `json:"continent,omitempty"`
	ContinentCode string  `json:"continent_code,omitempty"`
	Country       string  `json:"country,omitempty"`
	CountryCode   string  `json:"country_code,omitempty"`
	State         string  `json:"state,omitempty"`
	City          string  `json:"city,omitempty"`
	Zip           string  `json:"zip,omitempty"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Timezone      string  `json:"timezone,omitempty"`
	LocalTime     string  `json:"local_time,omitempty"`
	UnixTime      int64   `json:"unix_time,omitempty"`
	IsDST         bool    `json:"is_dst"`
	CallingCode   string  `json:"calling_code,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	IsEU          bool    `json:"is_eu"`
}

// Response is the unified lookup result. Field order is fixed; the JSON
// encoder emits keys in declaration order and every formatter follows it.
type Response struct {
	IP           string      `json:"ip"`
	RIR          string      `json:"rir,omitempty"`
	IsBogon      bool        `json:"is_bogon"`
	IsMobile     bool        `json:"is_mobile"`
	IsSatellite  bool        `json:"is_satellite"`
	IsCrawler    bool        `json:"is_crawler"`
	Crawler      string      `json:"crawler,omitempty"`
	IsDatacenter bool        `json:"is_datacenter"`
	IsTor        bool        `json:"is_tor"`
	IsProxy      bool        `json:"is_proxy"`
	IsVPN        bool        `json:"is_vpn"`
	IsAbuser     bool        `json:"is_abuser"`
	Datacenter   *Datacenter `json:"datacenter,omitempty"`
	Company      *Company    `json:"company,omitempty"`
	Abuse        *Abuse      `json:"abuse,omitempty"`
	ASN          *ASNInfo    `json:"asn,omitempty"`
	Location     *Location   `json:"location,omitempty"`
	ElapsedMS    float64     `json:"elapsed_ms"`
}
