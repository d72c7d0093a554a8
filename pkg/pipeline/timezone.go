// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package pipeline

import (
	"fmt"
	"time"
	// The server runs in minimal containers without /usr/share/zoneinfo.
	_ "time/tzdata"

	"github.com/ringsaturn/tzf"

	"ipintel/pkg/model"
)

// tzResolver maps coordinates to an IANA timezone and fills in the
// wall-clock fields of a location block.
type tzResolver struct {
	finder tzf.F
}

func newTZResolver() (*tzResolver, error) {
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize timezone finder: %w", err)
	}
	return &tzResolver{finder: finder}, nil
}

// fill computes timezone, local time, unix time and DST status for the
// location at the given instant. Unknown coordinates leave the fields
// empty.
func (r *tzResolver) fill(loc *model.Location, now time.Time) {
	name := r.finder.GetTimezoneName(loc.Longitude, loc.Latitude)
	if name == "" {
		return
	}
	loc.Timezone = name

	zone, err := time.LoadLocation(name)
	if err != nil {
		return
	}
	local := now.In(zone)
	loc.LocalTime = local.Format("2006-01-02T15:04:05-07:00")
	loc.UnixTime = now.Unix()
	loc.IsDST = isDST(local, zone)
}

// isDST compares the current UTC offset against the year's standard
// offset. The standard offset is the smaller of the January and July
// offsets, which holds in both hemispheres.
func isDST(t time.Time, zone *time.Location) bool {
	_, cur := t.Zone()
	_, jan := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, zone).Zone()
	_, jul := time.Date(t.Year(), time.July, 1, 0, 0, 0, 0, zone).Zone()
	std := jan
	if jul < std {
		std = jul
	}
	return cur > std
}
