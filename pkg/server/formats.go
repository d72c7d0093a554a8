// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package server

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"

	"ipintel/pkg/model"
)

// Output formats, selected by path.
const (
	formatJSON = "json"
	formatTOON = "toon"
	formatText = "txt"
	formatCSV  = "csv"
	formatHTML = "html"
)

// entry is one rendered field. The tree preserves the response's fixed
// field order for every non-JSON format.
type entry struct {
	key      string
	value    string
	children []entry
}

func leaf(key, value string) entry { return entry{key: key, value: value} }

func boolLeaf(key string, v bool) entry { return leaf(key, strconv.FormatBool(v)) }

func floatLeaf(key string, v float64) entry {
	return leaf(key, strconv.FormatFloat(v, 'f', -1, 64))
}

// responseEntries flattens a response into ordered entries, mirroring
// the JSON field order and its omitempty behavior.
func responseEntries(r *model.Response) []entry {
	out := []entry{leaf("ip", r.IP)}
	if r.RIR != "" {
		out = append(out, leaf("rir", r.RIR))
	}
	out = append(out,
		boolLeaf("is_bogon", r.IsBogon),
		boolLeaf("is_mobile", r.IsMobile),
		boolLeaf("is_satellite", r.IsSatellite),
		boolLeaf("is_crawler", r.IsCrawler),
	)
	if r.Crawler != "" {
		out = append(out, leaf("crawler", r.Crawler))
	}
	out = append(out,
		boolLeaf("is_datacenter", r.IsDatacenter),
		boolLeaf("is_tor", r.IsTor),
		boolLeaf("is_proxy", r.IsProxy),
		boolLeaf("is_vpn", r.IsVPN),
		boolLeaf("is_abuser", r.IsAbuser),
	)

	if d := r.Datacenter; d != nil {
		out = append(out, entry{key: "datacenter", children: compact(
			leaf("datacenter", d.Datacenter),
			leaf("domain", d.Domain),
			leaf("region", d.Region),
			leaf("network", d.Network),
		)})
	}
	if c := r.Company; c != nil {
		children := compact(
			leaf("name", c.Name),
			leaf("domain", c.Domain),
			leaf("type", c.Type),
			leaf("network", c.Network),
		)
		if c.AbuserScore != 0 {
			children = append(children, floatLeaf("abuser_score", c.AbuserScore))
		}
		out = append(out, entry{key: "company", children: children})
	}
	if a := r.Abuse; a != nil {
		out = append(out, entry{key: "abuse", children: compact(
			leaf("name", a.Name),
			leaf("email", a.Email),
			leaf("phone", a.Phone),
		)})
	}
	if asn := r.ASN; asn != nil {
		out = append(out, entry{key: "asn", children: asnEntries(asn)})
	}
	if l := r.Location; l != nil {
		children := compact(
			leaf("continent", l.Continent),
			leaf("continent_code", l.ContinentCode),
			leaf("country", l.Country),
			leaf("country_code", l.CountryCode),
			leaf("state", l.State),
			leaf("city", l.City),
			leaf("zip", l.Zip),
		)
		children = append(children,
			floatLeaf("latitude", l.Latitude),
			floatLeaf("longitude", l.Longitude),
		)
		children = append(children, compact(
			leaf("timezone", l.Timezone),
			leaf("local_time", l.LocalTime),
		)...)
		if l.UnixTime != 0 {
			children = append(children, leaf("unix_time", strconv.FormatInt(l.UnixTime, 10)))
		}
		children = append(children, boolLeaf("is_dst", l.IsDST))
		children = append(children, compact(
			leaf("calling_code", l.CallingCode),
			leaf("currency", l.Currency),
		)...)
		children = append(children, boolLeaf("is_eu", l.IsEU))
		out = append(out, entry{key: "location", children: children})
	}

	out = append(out, floatLeaf("elapsed_ms", r.ElapsedMS))
	return out
}

func asnEntries(asn *model.ASNInfo) []entry {
	children := []entry{leaf("asn", strconv.FormatUint(uint64(asn.ASN), 10))}
	children = append(children, compact(
		leaf("org", asn.Org),
		leaf("descr", asn.Descr),
		leaf("country", asn.Country),
		leaf("type", asn.Type),
		leaf("domain", asn.Domain),
		leaf("created", asn.Created),
		leaf("updated", asn.Updated),
		leaf("rir", asn.RIR),
		leaf("route", asn.Route),
	)...)
	children = append(children, boolLeaf("active", asn.Active))
	if asn.Abuser != 0 {
		children = append(children, floatLeaf("abuser_score", asn.Abuser))
	}
	return children
}

// compact drops empty-valued leaves, the omitempty analog.
func compact(entries ...entry) []entry {
	out := entries[:0]
	for _, e := range entries {
		if e.value != "" || len(e.children) > 0 {
			out = append(out, e)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, apiErr *model.APIError) {
	writeJSON(w, status, apiErr)
}

func renderEntries(w http.ResponseWriter, format string, entries []entry) {
	switch format {
	case formatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		writeFlat(w, "", entries, ": ", "\n")
	case formatTOON:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		writeTOON(w, entries, 0)
	case formatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		writeCSV(w, entries)
	case formatHTML:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		writeHTML(w, entries)
	}
}

// writeFlat emits dotted "key: value" lines in order.
func writeFlat(w http.ResponseWriter, prefix string, entries []entry, sep, eol string) {
	for _, e := range entries {
		key := e.key
		if prefix != "" {
			key = prefix + "." + e.key
		}
		if len(e.children) > 0 {
			writeFlat(w, key, e.children, sep, eol)
			continue
		}
		fmt.Fprintf(w, "%s%s%s%s", key, sep, e.value, eol)
	}
}

// writeTOON emits an indented block per nested object.
func writeTOON(w http.ResponseWriter, entries []entry, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, e := range entries {
		if len(e.children) > 0 {
			fmt.Fprintf(w, "%s%s:\n", indent, e.key)
			writeTOON(w, e.children, depth+1)
			continue
		}
		fmt.Fprintf(w, "%s%s: %s\n", indent, e.key, e.value)
	}
}

func writeCSV(w http.ResponseWriter, entries []entry) {
	var keys, values []string
	var walk func(prefix string, es []entry)
	walk = func(prefix string, es []entry) {
		for _, e := range es {
			key := e.key
			if prefix != "" {
				key = prefix + "." + e.key
			}
			if len(e.children) > 0 {
				walk(key, e.children)
				continue
			}
			keys = append(keys, key)
			values = append(values, e.value)
		}
	}
	walk("", entries)

	cw := csv.NewWriter(w)
	cw.Write(keys)
	cw.Write(values)
	cw.Flush()
}

func writeHTML(w http.ResponseWriter, entries []entry) {
	fmt.Fprint(w, "<!DOCTYPE html><html><body><table>\n")
	var walk func(prefix string, es []entry)
	walk = func(prefix string, es []entry) {
		for _, e := range es {
			key := e.key
			if prefix != "" {
				key = prefix + "." + e.key
			}
			if len(e.children) > 0 {
				walk(key, e.children)
				continue
			}
			fmt.Fprintf(w, "<tr><td>%s</td><td>%s</td></tr>\n",
				html.EscapeString(key), html.EscapeString(e.value))
		}
	}
	walk("", entries)
	fmt.Fprint(w, "</table></body></html>\n")
}
