// FieldSync - Field Device Telemetry Synchronization Engine
// Copyright 2026 StationOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stationops/fieldsync

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/stationops/fieldsync/internal/models"
)

// Key prefixes for BadgerDB storage.
//
// Reading keys embed the observation time as a zero-padded unix-nano so
// lexicographic key order equals observation order; the last reading for
// a device is one reverse seek under its prefix.
const (
	deviceKeyPrefix    = "device:"     // device:<family>:<serial>
	stationKeyPrefix   = "station:"    // station:<id>
	readingKeyPrefix   = "reading:"    // reading:<family>:<serial>:<unixnano19>
	latestKeyPrefix    = "latest:"     // latest:<family>:<serial>
	statusLogKeyPrefix = "status_log:" // status_log:<unixnano19>:<family>:<serial>
	idSequenceKey      = "seq:row_id"
)

// Badger is the embedded durable Repository backed by BadgerDB.
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenBadger opens (or creates) the BadgerDB store at path.
func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Badger's own logs are noise next to ours

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	seq, err := db.GetSequence([]byte(idSequenceKey), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open row id sequence: %w", err)
	}

	return &Badger{db: db, seq: seq}, nil
}

// openBadgerInMemory opens an ephemeral store for tests.
func openBadgerInMemory() (*Badger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	seq, err := db.GetSequence([]byte(idSequenceKey), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open row id sequence: %w", err)
	}
	return &Badger{db: db, seq: seq}, nil
}

func (b *Badger) nextID() (int64, error) {
	id, err := b.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next row id: %w", err)
	}
	return int64(id) + 1, nil // sequence starts at 0, row ids at 1
}

func nanoKey(t time.Time) string {
	return fmt.Sprintf("%019d", t.UnixNano())
}

func badgerDeviceKey(family models.Family, serial string) []byte {
	return []byte(deviceKeyPrefix + string(family) + ":" + serial)
}

func badgerLatestKey(family models.Family, serial string) []byte {
	return []byte(latestKeyPrefix + string(family) + ":" + serial)
}

func readingPrefix(family models.Family, serial string) []byte {
	return []byte(readingKeyPrefix + string(family) + ":" + serial + ":")
}

// putJSON stores v marshaled as JSON under key.
func (b *Badger) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// getJSON loads key into v. Returns ErrNotFound when absent.
func (b *Badger) getJSON(key []byte, v any) error {
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// PutCrowdDevice stores a crowd device. Device inventory is owned by the
// external provisioning surface; this is its write path into the store.
func (b *Badger) PutCrowdDevice(d *models.CrowdDevice) error {
	return b.putJSON(badgerDeviceKey(models.FamilyCrowd, d.Serial), d)
}

// PutParkingDevice stores a parking device.
func (b *Badger) PutParkingDevice(d *models.ParkingDevice) error {
	return b.putJSON(badgerDeviceKey(models.FamilyParking, d.Serial), d)
}

// PutTrafficDevice stores a traffic device.
func (b *Badger) PutTrafficDevice(d *models.TrafficDevice) error {
	return b.putJSON(badgerDeviceKey(models.FamilyTraffic, d.Serial), d)
}

// PutStation stores a station.
func (b *Badger) PutStation(s *models.Station) error {
	return b.putJSON([]byte(stationKeyPrefix+strconv.FormatInt(s.ID, 10)), s)
}

// listDevices scans one family's device records, handing each raw value
// to decode.
func (b *Badger) listDevices(family models.Family, decode func(val []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(deviceKeyPrefix + string(family) + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(decode); err != nil {
				return err
			}
		}
		return nil
	})
}

// CrowdDevices implements Repository.
func (b *Badger) CrowdDevices(_ context.Context) ([]*models.CrowdDevice, error) {
	var out []*models.CrowdDevice
	err := b.listDevices(models.FamilyCrowd, func(val []byte) error {
		var d models.CrowdDevice
		if err := json.Unmarshal(val, &d); err != nil {
			return err
		}
		out = append(out, &d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list crowd devices: %w", err)
	}
	return out, nil
}

// ParkingDevices implements Repository.
func (b *Badger) ParkingDevices(_ context.Context) ([]*models.ParkingDevice, error) {
	var out []*models.ParkingDevice
	err := b.listDevices(models.FamilyParking, func(val []byte) error {
		var d models.ParkingDevice
		if err := json.Unmarshal(val, &d); err != nil {
			return err
		}
		out = append(out, &d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list parking devices: %w", err)
	}
	return out, nil
}

// TrafficDevices implements Repository.
func (b *Badger) TrafficDevices(_ context.Context) ([]*models.TrafficDevice, error) {
	var out []*models.TrafficDevice
	err := b.listDevices(models.FamilyTraffic, func(val []byte) error {
		var d models.TrafficDevice
		if err := json.Unmarshal(val, &d); err != nil {
			return err
		}
		out = append(out, &d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list traffic devices: %w", err)
	}
	return out, nil
}

// DevicesWithOnlineState implements Repository.
func (b *Badger) DevicesWithOnlineState(ctx context.Context, family models.Family) ([]models.HasOnlineState, error) {
	switch family {
	case models.FamilyCrowd:
		devs, err := b.CrowdDevices(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]models.HasOnlineState, len(devs))
		for i, d := range devs {
			out[i] = d
		}
		return out, nil
	case models.FamilyParking:
		devs, err := b.ParkingDevices(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]models.HasOnlineState, len(devs))
		for i, d := range devs {
			out[i] = d
		}
		return out, nil
	case models.FamilyTraffic:
		devs, err := b.TrafficDevices(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]models.HasOnlineState, len(devs))
		for i, d := range devs {
			out[i] = d
		}
		return out, nil
	}
	return nil, fmt.Errorf("store: unknown family %q", family)
}

// UpdateDeviceStatus implements Repository.
func (b *Badger) UpdateDeviceStatus(_ context.Context, family models.Family, serial string, status models.DeviceStatus, at time.Time) error {
	key := badgerDeviceKey(family, serial)
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("store: device %s/%s: %w", family, serial, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get device: %w", err)
		}

		apply := func(base *models.DeviceBase) {
			base.Status = status
			if status == models.StatusOnline {
				base.LastOnline = at
			}
			base.UpdatedAt = at
		}

		var data []byte
		switch family {
		case models.FamilyCrowd:
			var d models.CrowdDevice
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &d) }); err != nil {
				return fmt.Errorf("unmarshal device: %w", err)
			}
			apply(&d.DeviceBase)
			data, err = json.Marshal(&d)
		case models.FamilyParking:
			var d models.ParkingDevice
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &d) }); err != nil {
				return fmt.Errorf("unmarshal device: %w", err)
			}
			apply(&d.DeviceBase)
			data, err = json.Marshal(&d)
		case models.FamilyTraffic:
			var d models.TrafficDevice
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &d) }); err != nil {
				return fmt.Errorf("unmarshal device: %w", err)
			}
			apply(&d.DeviceBase)
			data, err = json.Marshal(&d)
		default:
			return fmt.Errorf("store: unknown family %q", family)
		}
		if err != nil {
			return fmt.Errorf("marshal device: %w", err)
		}
		return txn.Set(key, data)
	})
}

// Station implements Repository.
func (b *Badger) Station(_ context.Context, id int64) (*models.Station, error) {
	var s models.Station
	err := b.getJSON([]byte(stationKeyPrefix+strconv.FormatInt(id, 10)), &s)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("store: station %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// LastReading implements Repository. Returns (nil, nil) when the device
// has no readings yet.
func (b *Badger) LastReading(_ context.Context, family models.Family, serial string) (*models.Reading, error) {
	var r *models.Reading
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := readingPrefix(family, serial)
		// Reverse seek lands on the highest key under the prefix.
		seek := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		var reading models.Reading
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &reading) }); err != nil {
			return err
		}
		r = &reading
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("last reading %s/%s: %w", family, serial, err)
	}
	return r, nil
}

// InsertReading implements Repository.
func (b *Badger) InsertReading(_ context.Context, r *models.Reading) error {
	id, err := b.nextID()
	if err != nil {
		return err
	}
	cp := *r
	cp.ID = id
	key := append(readingPrefix(r.Family, r.Serial), nanoKey(r.ObservedAt)...)
	if err := b.putJSON(key, &cp); err != nil {
		return fmt.Errorf("insert reading %s/%s: %w", r.Family, r.Serial, err)
	}
	return nil
}

// UpsertLatest implements Repository.
func (b *Badger) UpsertLatest(_ context.Context, r *models.Reading) error {
	if err := b.putJSON(badgerLatestKey(r.Family, r.Serial), r); err != nil {
		return fmt.Errorf("upsert latest %s/%s: %w", r.Family, r.Serial, err)
	}
	return nil
}

// LatestReading implements Repository. Returns (nil, nil) when the
// device has no latest row.
func (b *Badger) LatestReading(_ context.Context, family models.Family, serial string) (*models.Reading, error) {
	var r models.Reading
	err := b.getJSON(badgerLatestKey(family, serial), &r)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// AppendStatusLog implements Repository.
func (b *Badger) AppendStatusLog(_ context.Context, e *models.StatusLogEntry) error {
	id, err := b.nextID()
	if err != nil {
		return err
	}
	cp := *e
	cp.ID = id
	key := []byte(statusLogKeyPrefix + nanoKey(e.At) + ":" + string(e.Family) + ":" + e.Serial)
	if err := b.putJSON(key, &cp); err != nil {
		return fmt.Errorf("append status log: %w", err)
	}
	return nil
}

// PruneReadingsBefore implements Repository. Collects expired keys in a
// read pass, then deletes in batches to stay under Badger's transaction
// size limit.
func (b *Badger) PruneReadingsBefore(_ context.Context, family models.Family, cutoff time.Time) (int, error) {
	prefix := []byte(readingKeyPrefix + string(family) + ":")
	keys, err := b.collectKeysBefore(prefix, cutoff, func(val []byte) (time.Time, error) {
		var r models.Reading
		if err := json.Unmarshal(val, &r); err != nil {
			return time.Time{}, err
		}
		return r.ObservedAt, nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan readings: %w", err)
	}
	if err := b.deleteKeys(keys); err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	return len(keys), nil
}

// PruneStatusLogBefore implements Repository.
func (b *Badger) PruneStatusLogBefore(_ context.Context, cutoff time.Time) (int, error) {
	keys, err := b.collectKeysBefore([]byte(statusLogKeyPrefix), cutoff, func(val []byte) (time.Time, error) {
		var e models.StatusLogEntry
		if err := json.Unmarshal(val, &e); err != nil {
			return time.Time{}, err
		}
		return e.At, nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan status log: %w", err)
	}
	if err := b.deleteKeys(keys); err != nil {
		return 0, fmt.Errorf("prune status log: %w", err)
	}
	return len(keys), nil
}

func (b *Badger) collectKeysBefore(prefix []byte, cutoff time.Time, at func(val []byte) (time.Time, error)) ([][]byte, error) {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var ts time.Time
			err := item.Value(func(val []byte) error {
				var verr error
				ts, verr = at(val)
				return verr
			})
			if err != nil {
				continue // undecodable rows are skipped, not fatal
			}
			if ts.Before(cutoff) {
				keys = append(keys, item.KeyCopy(nil))
			}
		}
		return nil
	})
	return keys, err
}

func (b *Badger) deleteKeys(keys [][]byte) error {
	const batchSize = 1000
	for start := 0; start < len(keys); start += batchSize {
		end := start + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		err := b.db.Update(func(txn *badger.Txn) error {
			for _, key := range keys[start:end] {
				if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Close implements Repository.
func (b *Badger) Close() error {
	if err := b.seq.Release(); err != nil {
		return fmt.Errorf("release row id sequence: %w", err)
	}
	return b.db.Close()
}
