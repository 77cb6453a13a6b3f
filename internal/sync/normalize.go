// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package sync

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/stationops/fieldsync/internal/models"
)

// Vendor payload normalizers. Each is a pure function from a raw vendor
// body to a canonical Reading; any malformed input (bad JSON, missing
// required field, unparsable timestamp) yields "no reading" rather than
// an error. The caller counts that as a skip.

// vendorTimeLayouts lists the timestamp formats vendors actually emit.
var vendorTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseVendorTime parses a vendor timestamp. Layouts without a zone are
// interpreted in local time, matching the vendors' regional clocks.
func parseVendorTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range vendorTimeLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// crowdPayload is the crowd counter vendor response shape.
type crowdPayload struct {
	Time  string `json:"time"`
	Enter *int64 `json:"enter"`
	Exit  *int64 `json:"exit"`
}

// NormalizeCrowd maps a crowd counter response to a canonical reading.
// Enter/exit are the vendor's cumulative day totals; the adapter derives
// the incremental deltas afterwards.
func NormalizeCrowd(serial string, body []byte) (*models.Reading, bool) {
	var p crowdPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, false
	}
	observedAt, ok := parseVendorTime(p.Time)
	if !ok || p.Enter == nil || p.Exit == nil {
		return nil, false
	}
	return &models.Reading{
		Family:     models.FamilyCrowd,
		Serial:     serial,
		ObservedAt: observedAt,
		EnterTotal: p.Enter,
		ExitTotal:  p.Exit,
	}, true
}

// parkingPayload is the parking gateway vendor response shape.
type parkingPayload struct {
	Time  string `json:"time"`
	Free  *int64 `json:"free"`
	Total *int64 `json:"total"`
}

// NormalizeParking maps a parking gateway response to a canonical
// reading. Total is optional in the payload; when absent the adapter
// falls back to the device's configured space count.
func NormalizeParking(serial string, body []byte) (*models.Reading, bool) {
	var p parkingPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, false
	}
	observedAt, ok := parseVendorTime(p.Time)
	if !ok || p.Free == nil {
		return nil, false
	}
	return &models.Reading{
		Family:      models.FamilyParking,
		Serial:      serial,
		ObservedAt:  observedAt,
		SpacesFree:  p.Free,
		SpacesTotal: p.Total,
	}, true
}

// trafficFlow is one vehicle-class flow inside a sensor-pair entry.
type trafficFlow struct {
	VehicleType string   `json:"vehicleType"`
	SpeedKPH    *float64 `json:"speed"`
	Count       *int64   `json:"count"`
	TravelTimeS *int64   `json:"travelTime"`
}

// trafficPair is one paired-sensor entry in a city batch response.
type trafficPair struct {
	PairID          string        `json:"pairId"`
	DataCollectTime string        `json:"dataCollectTime"`
	Flows           []trafficFlow `json:"flows"`
}

// trafficBatch is the open-data response for one city.
type trafficBatch struct {
	Pairs []trafficPair `json:"pairs"`
}

// ParseTrafficBatch decodes a city batch response into its sensor-pair
// entries. A malformed body yields no entries.
func ParseTrafficBatch(body []byte) ([]trafficPair, bool) {
	var b trafficBatch
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, false
	}
	return b.Pairs, true
}

// NormalizeTrafficPair selects the flow entry matching vehicleClass from
// one sensor-pair entry. Entries for other classes are discarded; no
// matching class, a missing speed, or a malformed collect time all
// yield "no reading".
func NormalizeTrafficPair(serial string, pair trafficPair, vehicleClass string) (*models.Reading, bool) {
	observedAt, ok := parseVendorTime(pair.DataCollectTime)
	if !ok {
		return nil, false
	}
	for _, flow := range pair.Flows {
		if flow.VehicleType != vehicleClass {
			continue
		}
		if flow.SpeedKPH == nil {
			return nil, false
		}
		return &models.Reading{
			Family:       models.FamilyTraffic,
			Serial:       serial,
			ObservedAt:   observedAt,
			AvgSpeedKPH:  flow.SpeedKPH,
			VehicleCount: flow.Count,
			TravelTimeS:  flow.TravelTimeS,
		}, true
	}
	return nil, false
}
