// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package sync

import (
	"testing"
)

func TestNormalizeCrowd(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{
			name: "valid payload",
			body: `{"time":"2026-03-10 08:00:00","enter":520,"exit":480}`,
			ok:   true,
		},
		{
			name: "rfc3339 timestamp",
			body: `{"time":"2026-03-10T08:00:00+08:00","enter":1,"exit":2}`,
			ok:   true,
		},
		{
			name: "malformed json",
			body: `{"time":`,
			ok:   false,
		},
		{
			name: "malformed timestamp",
			body: `{"time":"not-a-time","enter":1,"exit":2}`,
			ok:   false,
		},
		{
			name: "missing enter",
			body: `{"time":"2026-03-10 08:00:00","exit":480}`,
			ok:   false,
		},
		{
			name: "empty body",
			body: ``,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := NormalizeCrowd("C-001", []byte(tt.body))
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if !ok {
				return
			}
			if r.Serial != "C-001" {
				t.Errorf("unexpected serial %q", r.Serial)
			}
			if r.EnterTotal == nil || r.ExitTotal == nil {
				t.Error("expected enter/exit totals to be set")
			}
		})
	}
}

func TestNormalizeParking(t *testing.T) {
	r, ok := NormalizeParking("P-001", []byte(`{"time":"2026-03-10 08:00:00","free":12}`))
	if !ok {
		t.Fatal("expected a reading")
	}
	if r.SpacesFree == nil || *r.SpacesFree != 12 {
		t.Errorf("unexpected free spaces: %v", r.SpacesFree)
	}
	if r.SpacesTotal != nil {
		t.Errorf("expected absent total to stay nil, got %v", *r.SpacesTotal)
	}

	if _, ok := NormalizeParking("P-001", []byte(`{"time":"2026-03-10 08:00:00"}`)); ok {
		t.Error("expected missing free count to yield no reading")
	}
}

func TestNormalizeTrafficPair(t *testing.T) {
	body := `{
		"pairs": [
			{
				"pairId": "PAIR-1",
				"dataCollectTime": "2026-03-10 08:05:00",
				"flows": [
					{"vehicleType": "41", "speed": 70.0, "count": 3, "travelTime": 150},
					{"vehicleType": "31", "speed": 88.5, "count": 42, "travelTime": 120}
				]
			},
			{
				"pairId": "PAIR-2",
				"dataCollectTime": "bogus",
				"flows": [{"vehicleType": "31", "speed": 60.0, "count": 1, "travelTime": 90}]
			},
			{
				"pairId": "PAIR-3",
				"dataCollectTime": "2026-03-10 08:05:00",
				"flows": [{"vehicleType": "41", "speed": 60.0, "count": 1, "travelTime": 90}]
			}
		]
	}`

	pairs, ok := ParseTrafficBatch([]byte(body))
	if !ok {
		t.Fatal("expected batch to parse")
	}
	if len(pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(pairs))
	}

	// Passenger-car flow is selected, the truck flow discarded.
	r, ok := NormalizeTrafficPair("T-001", pairs[0], "31")
	if !ok {
		t.Fatal("expected a reading for PAIR-1")
	}
	if r.AvgSpeedKPH == nil || *r.AvgSpeedKPH != 88.5 {
		t.Errorf("unexpected speed: %v", r.AvgSpeedKPH)
	}
	if r.VehicleCount == nil || *r.VehicleCount != 42 {
		t.Errorf("unexpected count: %v", r.VehicleCount)
	}

	// Malformed collect time yields no reading.
	if _, ok := NormalizeTrafficPair("T-002", pairs[1], "31"); ok {
		t.Error("expected malformed timestamp to yield no reading")
	}

	// No entry for the target class yields no reading.
	if _, ok := NormalizeTrafficPair("T-003", pairs[2], "31"); ok {
		t.Error("expected missing vehicle class to yield no reading")
	}

	if _, ok := ParseTrafficBatch([]byte(`{`)); ok {
		t.Error("expected malformed batch to fail parsing")
	}
}
