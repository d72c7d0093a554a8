// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// ipintel-lookup queries the index snapshots directly, without a
// running server. Useful for spot checks and batch scripts.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"ipintel/pkg/logging"
	"ipintel/pkg/metastore"
	"ipintel/pkg/model"
	"ipintel/pkg/pipeline"
)

const version = "1.0.0"

func main() {
	dataDir := flag.String("data-dir", "./data", "Directory holding index snapshots")
	metaDB := flag.String("meta-db", "", "Path to the LevelDB metastore (optional)")
	jsonOutput := flag.Bool("json", true, "Output as JSON")
	noTZ := flag.Bool("no-tz", false, "Skip timezone resolution (faster startup)")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ipintel-lookup version %s\n", version)
		return
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: ipintel-lookup [options] <ip-address>...\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ipintel-lookup 8.8.8.8\n")
		fmt.Fprintf(os.Stderr, "  ipintel-lookup --data-dir=/var/lib/ipintel 2001:4860:4860::8888\n")
		os.Exit(1)
	}

	var store *metastore.Store
	if *metaDB != "" {
		var err error
		store, err = metastore.Open(*metaDB)
		if err != nil {
			log.Fatalf("ERROR: Failed to open metastore: %v", err)
		}
		defer store.Close()
	}

	eng := pipeline.NewEngines()
	if _, err := eng.LoadAll(*dataDir); err != nil {
		log.Fatalf("ERROR: Failed to load snapshots: %v", err)
	}

	pipe, err := pipeline.New(eng, pipeline.Options{
		Meta:            store,
		Log:             logging.New(),
		DisableTimezone: *noTZ,
	})
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	exitCode := 0
	for _, query := range flag.Args() {
		resp, err := pipe.Lookup(query)
		if err != nil {
			exitCode = 1
			if errors.Is(err, model.ErrInvalidIP) {
				fmt.Fprintf(os.Stderr, "ERROR: %s: not a valid IP address\n", query)
				continue
			}
			log.Fatalf("ERROR: Lookup failed: %v", err)
		}
		if *jsonOutput {
			data, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				log.Fatalf("ERROR: Failed to marshal JSON: %v", err)
			}
			fmt.Println(string(data))
		} else {
			printHumanReadable(resp)
		}
	}
	os.Exit(exitCode)
}

func printHumanReadable(r *model.Response) {
	fmt.Printf("IP Address:         %s\n", r.IP)
	if r.RIR != "" {
		fmt.Printf("RIR:                %s\n", r.RIR)
	}
	if r.IsBogon {
		fmt.Printf("Bogon:              yes\n")
		fmt.Printf("Elapsed:            %.3f ms\n", r.ElapsedMS)
		return
	}
	if r.Company != nil {
		fmt.Printf("Company:            %s\n", r.Company.Name)
	}
	if r.ASN != nil {
		fmt.Printf("ASN:                AS%d (%s)\n", r.ASN.ASN, r.ASN.Org)
	}
	if r.Datacenter != nil {
		fmt.Printf("Datacenter:         %s\n", r.Datacenter.Datacenter)
	}
	if r.Crawler != "" {
		fmt.Printf("Crawler:            %s\n", r.Crawler)
	}
	flags := []struct {
		set  bool
		name string
	}{
		{r.IsMobile, "mobile"}, {r.IsSatellite, "satellite"},
		{r.IsTor, "tor"}, {r.IsProxy, "proxy"},
		{r.IsVPN, "vpn"}, {r.IsAbuser, "abuser"},
	}
	for _, f := range flags {
		if f.set {
			fmt.Printf("Flag:               %s\n", f.name)
		}
	}
	if loc := r.Location; loc != nil {
		fmt.Printf("Country:            %s\n", loc.Country)
		if loc.State != "" {
			fmt.Printf("State:              %s\n", loc.State)
		}
		if loc.City != "" {
			fmt.Printf("City:               %s\n", loc.City)
		}
		if loc.Latitude != 0 || loc.Longitude != 0 {
			fmt.Printf("Location:           %.4f, %.4f\n", loc.Latitude, loc.Longitude)
		}
		if loc.Timezone != "" {
			fmt.Printf("Timezone:           %s (%s)\n", loc.Timezone, loc.LocalTime)
		}
	}
	fmt.Printf("Elapsed:            %.3f ms\n", r.ElapsedMS)
}
