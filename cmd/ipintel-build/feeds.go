// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"ipintel/pkg/fnle"
	"ipintel/pkg/model"
)

// eachLine streams a feed file line by line, skipping blanks and
// comments.
func eachLine(path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open feed %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	return scanner.Err()
}

// ingestASNFile reads "network,asn" lines.
func (b *builder) ingestASNFile(path string) error {
	return eachLine(path, func(line string) error {
		network, asnStr, ok := strings.Cut(line, ",")
		if !ok {
			return fmt.Errorf("expected network,asn")
		}
		asn, err := strconv.ParseUint(strings.TrimSpace(asnStr), 10, 32)
		if err != nil {
			return fmt.Errorf("bad asn %q: %w", asnStr, err)
		}
		return tolerate(b.eng.ASN.Add(strings.TrimSpace(network), uint32(asn)))
	})
}

type companyLine struct {
	Network string `json:"network"`
	model.CompanyPayload
}

func (b *builder) ingestCompanyFile(path string) error {
	return eachLine(path, func(line string) error {
		var rec companyLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("bad company record: %w", err)
		}
		return tolerate(b.eng.Company.Add(rec.Network, rec.CompanyPayload))
	})
}

type datacenterLine struct {
	Network string `json:"network"`
	model.DatacenterPayload
}

func (b *builder) ingestDatacenterFile(path string) error {
	return eachLine(path, func(line string) error {
		var rec datacenterLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("bad datacenter record: %w", err)
		}
		return tolerate(b.eng.Datacenter.Add(rec.Network, rec.DatacenterPayload))
	})
}

// ingestCrawlerFile reads "network,name" lines.
func (b *builder) ingestCrawlerFile(path string) error {
	return eachLine(path, func(line string) error {
		network, name, ok := strings.Cut(line, ",")
		if !ok {
			return fmt.Errorf("expected network,name")
		}
		return tolerate(b.eng.Crawler.Add(strings.TrimSpace(network), strings.TrimSpace(name)))
	})
}

type vpnLine struct {
	Network string `json:"network"`
	model.VPNPayload
}

func (b *builder) ingestVPNFile(path string) error {
	return eachLine(path, func(line string) error {
		var rec vpnLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("bad vpn record: %w", err)
		}
		return tolerate(b.eng.VPN.Add(rec.Network, rec.VPNPayload))
	})
}

// ingestGeoFile reads "network,geonameId" lines.
func (b *builder) ingestGeoFile(path string) error {
	return eachLine(path, func(line string) error {
		network, idStr, ok := strings.Cut(line, ",")
		if !ok {
			return fmt.Errorf("expected network,geonameId")
		}
		id, err := strconv.ParseUint(strings.TrimSpace(idStr), 10, 32)
		if err != nil {
			return fmt.Errorf("bad geoname id %q: %w", idStr, err)
		}
		return tolerate(b.eng.Geo.Add(strings.TrimSpace(network), uint32(id)))
	})
}

// ingestList reads one network per line into a labelled boolean set.
func (b *builder) ingestList(eng *fnle.Engine[string], path, label string) error {
	n := 0
	err := eachLine(path, func(line string) error {
		n++
		return tolerate(eng.Add(line, label))
	})
	if err == nil {
		log.Printf("INFO: %s feed: %d entries", label, n)
	}
	return err
}

// tolerate swallows the add-time rejections the engine counts itself;
// real feeds always contain a few oversize or duplicate entries.
func tolerate(err error) error {
	if err == nil || errors.Is(err, fnle.ErrOversizeRange) || errors.Is(err, fnle.ErrDuplicateRange) {
		return nil
	}
	return err
}
