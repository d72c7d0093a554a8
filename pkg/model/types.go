// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package model

import "time"

// ASNMeta is the metadata record attached to an autonomous system,
// resolved from the metastore after the ASN index matched.
type ASNMeta struct {
	ASN     uint32  `json:"asn" msgpack:"asn"`
	Org     string  `json:"org" msgpack:"org"`
	Descr   string  `json:"descr,omitempty" msgpack:"descr"`
	Country string  `json:"country,omitempty" msgpack:"country"`
	RIR     string  `json:"rir,omitempty" msgpack:"rir"`
	Type    string  `json:"type,omitempty" msgpack:"type"`
	Domain  string  `json:"domain,omitempty" msgpack:"domain"`
	Created string  `json:"created,omitempty" msgpack:"created"`
	Updated string  `json:"updated,omitempty" msgpack:"updated"`
	Active  bool    `json:"active" msgpack:"active"`
	Abuser  float64 `json:"abuser_score,omitempty" msgpack:"abuser_score"`
}

// GeonameRecord resolves a geoname id from the geolocation index to a place.
type GeonameRecord struct {
	ID          uint32  `json:"id" msgpack:"id"`
	Country     string  `json:"country" msgpack:"country"`
	CountryCode string  `json:"country_code" msgpack:"country_code"`
	State       string  `json:"state,omitempty" msgpack:"state"`
	City        string  `json:"city,omitempty" msgpack:"city"`
	Zip         string  `json:"zip,omitempty" msgpack:"zip"`
	Lat         float64 `json:"latitude" msgpack:"latitude"`
	Lon         float64 `json:"longitude" msgpack:"longitude"`
}

// DatacenterPayload is stored in the datacenter index.
type DatacenterPayload struct {
	Name   string `json:"datacenter"`
	Domain string `json:"domain,omitempty"`
	Region string `json:"region,omitempty"`
}

// CompanyPayload is stored in the company/WHOIS index. One entry per
// registered network; the pipeline picks among overlapping entries by
// a fixed precedence ladder.
type CompanyPayload struct {
	Name        string  `json:"name"`
	Domain      string  `json:"domain,omitempty"`
	Type        string  `json:"type,omitempty"` // isp/business/hosting/education/government/banking
	RegistryTag string  `json:"registry,omitempty"`
	RIR         string  `json:"rir,omitempty"`
	AbuserScore float64 `json:"abuser_score,omitempty"`
	AbuseEmail  string  `json:"abuse_email,omitempty"`
	AbusePhone  string  `json:"abuse_phone,omitempty"`
	AbuseName   string  `json:"abuse_name,omitempty"`
	LastResort  bool    `json:"last_resort,omitempty"`
}

// VPNPayload is stored in the VPN index. Interpolated entries come from
// range widening between two confirmed exit nodes rather than a named list.
type VPNPayload struct {
	Service      string `json:"service,omitempty"`
	Interpolated bool   `json:"interpolated,omitempty"`
}

// KeyStatus is the admission status of an API key, as reported by the
// central usage service.
type KeyStatus string

const (
	KeyAllowed    KeyStatus = "ALLOWED"
	KeyOverQuota  KeyStatus = "OVER_QUOTA"
	KeyNotAllowed KeyStatus = "NOT_ALLOWED"
)

// UsageReport is the payload a worker POSTs to the central usage service.
type UsageReport struct {
	InstanceID string            `json:"instance_id"`
	SentAt     time.Time         `json:"sent_at"`
	Counters   map[string]uint64 `json:"counters"`
}

// UsageReply is the central usage service's answer to a UsageReport.
type UsageReply struct {
	Keys map[string]KeyStatus `json:"keys"`
}
