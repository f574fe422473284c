// Package persist mirrors the in-memory ledger into a bbolt file so the
// working set survives daemon restarts. Every mutation flushes the whole
// snapshot; the dataset is user-scaled, so a full rewrite stays cheap.
package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/driftwatch/driftwatch/internal/ledger"
)

var _bucket = []byte("ledger")

// Per-entity key scheme. One key per unresolved domain, one per resolved
// domain (grouping all its records), one per known server.
const (
	_prefixUnresolved = "domain:unresolved:"
	_prefixResolved   = "domain:resolved:"
	_prefixServer     = "server:"
)

// Whole-collection keys written by early builds. Read only when no
// per-entity key exists, deleted on every save (one-way migration).
const (
	_legacyUnresolved = "unresolvedDomains"
	_legacyServers    = "knownServers"
	_legacyResolved   = "resolvedDomains"
)

// Saver is the engine-facing side of the adapter.
type Saver interface {
	Save(snap ledger.Snapshot) error
}

var _ Saver = (*Store)(nil)

// Store is the bbolt-backed persistence adapter.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database file, creating parent directories
// as needed. The file is locked for the lifetime of the Store.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening storage at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(_bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// serverValue is the stored form of a known server; its name lives in
// the key.
type serverValue struct {
	IP string `json:"ip"`
}

// recordValue is one element of a resolved domain's stored array; the
// domain lives in the key.
type recordValue struct {
	IP         string `json:"ip"`
	ServerName string `json:"serverName,omitempty"`
	ResolvedAt string `json:"resolvedAt"`
	Timestamp  int64  `json:"timestamp"`
}

// Save rewrites the bucket from the snapshot in a single transaction:
// delete every per-entity and legacy key, then write the current state.
func (s *Store) Save(snap ledger.Snapshot) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(_bucket)

		for _, prefix := range []string{_prefixUnresolved, _prefixResolved, _prefixServer} {
			if err := deletePrefixed(bucket, []byte(prefix)); err != nil {
				return fmt.Errorf("clearing %q keys: %w", prefix, err)
			}
		}
		for _, key := range []string{_legacyUnresolved, _legacyServers, _legacyResolved} {
			if err := bucket.Delete([]byte(key)); err != nil {
				return fmt.Errorf("clearing legacy key %q: %w", key, err)
			}
		}

		for _, domain := range snap.Unresolved {
			if err := bucket.Put([]byte(_prefixUnresolved+domain), []byte("1")); err != nil {
				return fmt.Errorf("writing unresolved %q: %w", domain, err)
			}
		}

		for _, srv := range snap.Servers {
			buf, err := json.Marshal(serverValue{IP: srv.IP})
			if err != nil {
				return fmt.Errorf("encoding server %q: %w", srv.Name, err)
			}
			if err := bucket.Put([]byte(_prefixServer+srv.Name), buf); err != nil {
				return fmt.Errorf("writing server %q: %w", srv.Name, err)
			}
		}

		byDomain := make(map[string][]recordValue)
		var domains []string
		for _, rec := range snap.Records {
			if _, seen := byDomain[rec.Domain]; !seen {
				domains = append(domains, rec.Domain)
			}
			byDomain[rec.Domain] = append(byDomain[rec.Domain], recordValue{
				IP:         rec.IP,
				ServerName: rec.ServerName,
				ResolvedAt: rec.ResolvedAt,
				Timestamp:  rec.Timestamp,
			})
		}
		for _, domain := range domains {
			buf, err := json.Marshal(byDomain[domain])
			if err != nil {
				return fmt.Errorf("encoding records for %q: %w", domain, err)
			}
			if err := bucket.Put([]byte(_prefixResolved+domain), buf); err != nil {
				return fmt.Errorf("writing records for %q: %w", domain, err)
			}
		}

		return nil
	})
}

// Load reads the bucket back into a snapshot. Falls back to the legacy
// whole-collection keys when no per-entity key exists at all.
func (s *Store) Load() (ledger.Snapshot, error) {
	var (
		snap      ledger.Snapshot
		perEntity bool
	)

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(_bucket)
		c := bucket.Cursor()

		for key, value := c.First(); key != nil; key, value = c.Next() {
			k := string(key)
			switch {
			case strings.HasPrefix(k, _prefixUnresolved):
				perEntity = true
				snap.Unresolved = append(snap.Unresolved, strings.TrimPrefix(k, _prefixUnresolved))

			case strings.HasPrefix(k, _prefixResolved):
				perEntity = true
				domain := strings.TrimPrefix(k, _prefixResolved)
				var vals []recordValue
				if err := json.Unmarshal(value, &vals); err != nil {
					return fmt.Errorf("decoding records for %q: %w", domain, err)
				}
				for _, v := range vals {
					snap.Records = append(snap.Records, ledger.Record{
						Domain:     domain,
						IP:         v.IP,
						ServerName: v.ServerName,
						ResolvedAt: v.ResolvedAt,
						Timestamp:  v.Timestamp,
					})
				}

			case strings.HasPrefix(k, _prefixServer):
				perEntity = true
				name := strings.TrimPrefix(k, _prefixServer)
				var v serverValue
				if err := json.Unmarshal(value, &v); err != nil {
					return fmt.Errorf("decoding server %q: %w", name, err)
				}
				snap.Servers = append(snap.Servers, ledger.KnownServer{Name: name, IP: v.IP})
			}
		}

		if perEntity {
			return nil
		}
		return loadLegacy(bucket, &snap)
	})
	if err != nil {
		return ledger.Snapshot{}, err
	}

	return snap, nil
}

// loadLegacy decodes the whole-collection keys from early builds.
func loadLegacy(bucket *bbolt.Bucket, snap *ledger.Snapshot) error {
	if value := bucket.Get([]byte(_legacyUnresolved)); value != nil {
		if err := json.Unmarshal(value, &snap.Unresolved); err != nil {
			return fmt.Errorf("decoding legacy unresolved domains: %w", err)
		}
	}
	if value := bucket.Get([]byte(_legacyServers)); value != nil {
		if err := json.Unmarshal(value, &snap.Servers); err != nil {
			return fmt.Errorf("decoding legacy known servers: %w", err)
		}
	}
	if value := bucket.Get([]byte(_legacyResolved)); value != nil {
		if err := json.Unmarshal(value, &snap.Records); err != nil {
			return fmt.Errorf("decoding legacy resolved records: %w", err)
		}
	}
	return nil
}

// deletePrefixed removes every key in the bucket carrying the prefix.
// Keys are collected before deleting: bbolt cursors skip entries when
// the tree is mutated mid-iteration.
func deletePrefixed(bucket *bbolt.Bucket, prefix []byte) error {
	var keys [][]byte

	c := bucket.Cursor()
	for key, _ := c.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, _ = c.Next() {
		keys = append(keys, append([]byte(nil), key...))
	}

	for _, key := range keys {
		if err := bucket.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
