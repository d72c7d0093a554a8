// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// ipintel-build compiles the source feeds and MaxMind databases into
// the binary index snapshots and the metastore the server loads.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
)

const version = "1.2.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "build":
		buildCmd()
	case "verify":
		verifyCmd()
	case "stats":
		statsCmd()
	case "version":
		fmt.Printf("ipintel-build version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`ipintel-build - Build the lookup index snapshots from source feeds

Usage:
  ipintel-build build [options]      Build the snapshots and metastore
  ipintel-build verify [options]     Verify snapshots load cleanly
  ipintel-build stats [options]      Show snapshot and metastore statistics
  ipintel-build version              Show version
  ipintel-build help                 Show this help

Build Options:
  --data-dir string       Output directory for index snapshots (default: ./data)
  --meta-db string        Path to the LevelDB metastore (default: ./metadb)
  --mmdb-asn string       Path to MaxMind GeoLite2-ASN.mmdb
  --mmdb-city string      Path to MaxMind GeoLite2-City.mmdb
  --asn-file string       ASN feed: "network,asn" per line (overrides --mmdb-asn ranges)
  --company-file string   Company feed, JSONL with a "network" field
  --datacenter-file string  Datacenter feed, JSONL with a "network" field
  --crawler-file string   Crawler feed: "network,name" per line
  --vpn-file string       VPN feed, JSONL with a "network" field
  --tor-file string       Tor exit list, one network per line
  --proxy-file string     Proxy list, one network per line
  --abuser-file string    Abuser list, one network per line
  --mobile-file string    Mobile carrier ranges, one network per line
  --satellite-file string Satellite provider ranges, one network per line
  --geo-file string       Geolocation feed: "network,geonameId" per line
  --workers int           Concurrent feed readers (default: 8)
  --pprof string          Enable pprof HTTP server (e.g. localhost:6060)

Examples:
  ipintel-build build --mmdb-asn=GeoLite2-ASN.mmdb --mmdb-city=GeoLite2-City.mmdb \
    --company-file=whois.jsonl --tor-file=tor-exits.txt --data-dir=./data

  ipintel-build verify --data-dir=./data
  ipintel-build stats --data-dir=./data --meta-db=./metadb`)
}

func buildCmd() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	cfg := &buildConfig{}

	fs.StringVar(&cfg.DataDir, "data-dir", "./data", "output directory for index snapshots")
	fs.StringVar(&cfg.MetaDB, "meta-db", "./metadb", "path to the LevelDB metastore")
	fs.StringVar(&cfg.MMDBASN, "mmdb-asn", "", "path to GeoLite2-ASN.mmdb")
	fs.StringVar(&cfg.MMDBCity, "mmdb-city", "", "path to GeoLite2-City.mmdb")
	fs.StringVar(&cfg.ASNFile, "asn-file", "", "ASN feed file")
	fs.StringVar(&cfg.CompanyFile, "company-file", "", "company feed file")
	fs.StringVar(&cfg.DatacenterFile, "datacenter-file", "", "datacenter feed file")
	fs.StringVar(&cfg.CrawlerFile, "crawler-file", "", "crawler feed file")
	fs.StringVar(&cfg.VPNFile, "vpn-file", "", "VPN feed file")
	fs.StringVar(&cfg.TorFile, "tor-file", "", "tor exit list")
	fs.StringVar(&cfg.ProxyFile, "proxy-file", "", "proxy list")
	fs.StringVar(&cfg.AbuserFile, "abuser-file", "", "abuser list")
	fs.StringVar(&cfg.MobileFile, "mobile-file", "", "mobile carrier ranges")
	fs.StringVar(&cfg.SatelliteFile, "satellite-file", "", "satellite provider ranges")
	fs.StringVar(&cfg.GeoFile, "geo-file", "", "geolocation feed file")
	fs.IntVar(&cfg.Workers, "workers", 8, "concurrent feed readers")
	pprofAddr := fs.String("pprof", "", "enable pprof HTTP server on address")
	fs.Parse(os.Args[2:])

	if *pprofAddr != "" {
		go func() {
			log.Printf("INFO: pprof listening on http://%s/debug/pprof/", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				log.Printf("WARN: pprof server failed: %v", err)
			}
		}()
	}

	if cfg.empty() {
		log.Fatal("ERROR: no input given; pass at least one feed file or mmdb")
	}

	b, err := newBuilder(cfg)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	defer b.Close()

	if err := b.Build(context.Background()); err != nil {
		log.Fatalf("ERROR: build failed: %v", err)
	}
	log.Println("INFO: build completed successfully")
}

func verifyCmd() {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dataDir := fs.String("data-dir", "./data", "directory holding index snapshots")
	fs.Parse(os.Args[2:])

	if err := runVerify(*dataDir); err != nil {
		log.Fatalf("ERROR: verification failed: %v", err)
	}
	log.Println("INFO: verification completed successfully")
}

func statsCmd() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dataDir := fs.String("data-dir", "./data", "directory holding index snapshots")
	metaDB := fs.String("meta-db", "", "path to the LevelDB metastore")
	fs.Parse(os.Args[2:])

	if err := runStats(*dataDir, *metaDB); err != nil {
		log.Fatalf("ERROR: stats failed: %v", err)
	}
}
