package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/stretchr/testify/suite"

	"github.com/driftwatch/driftwatch/internal/ledger"
)

type BoltTestSuite struct {
	suite.Suite
	tmpDir string
	store  *Store
}

func (s *BoltTestSuite) SetupTest() {
	var err error
	s.tmpDir, err = os.MkdirTemp("", "persist-test-*")
	s.Require().NoError(err)

	s.store, err = Open(filepath.Join(s.tmpDir, "state.db"))
	s.Require().NoError(err)
}

func (s *BoltTestSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
	if s.tmpDir != "" {
		os.RemoveAll(s.tmpDir)
	}
}

func (s *BoltTestSuite) TestOpenCreatesParentDirs() {
	path := filepath.Join(s.tmpDir, "nested", "deeper", "state.db")

	store, err := Open(path)
	s.Require().NoError(err)
	defer store.Close()

	_, err = os.Stat(path)
	s.NoError(err)
}

func (s *BoltTestSuite) TestSaveLoadRoundTrip() {
	snap := ledger.Snapshot{
		Unresolved: []string{"pending-a.io", "pending-b.io"},
		Servers: []ledger.KnownServer{
			{Name: "web1", IP: "1.2.3.4"},
			{Name: "web2", IP: "5.6.7.8"},
		},
		Records: []ledger.Record{
			{Domain: "a.com", IP: "1.2.3.4", ServerName: "web1", ResolvedAt: "2025-01-02 15:04:05", Timestamp: 1735830245000},
			{Domain: "a.com", IP: "9.9.9.9", ResolvedAt: "2025-01-02 15:04:05", Timestamp: 1735830245000},
			{Domain: "b.com", IP: "5.6.7.8", ServerName: "web2", ResolvedAt: "2025-01-03 08:00:00", Timestamp: 1735891200000},
		},
	}

	s.Require().NoError(s.store.Save(snap))

	loaded, err := s.store.Load()
	s.Require().NoError(err)

	s.Equal(snap.Unresolved, loaded.Unresolved)
	s.Equal(snap.Servers, loaded.Servers)
	s.Equal(snap.Records, loaded.Records)
}

func (s *BoltTestSuite) TestSaveRewritesEverything() {
	first := ledger.Snapshot{
		Unresolved: []string{"old.io"},
		Servers:    []ledger.KnownServer{{Name: "gone", IP: "1.1.1.1"}},
		Records: []ledger.Record{
			{Domain: "old.com", IP: "1.1.1.1", ResolvedAt: "2025-01-02 15:04:05", Timestamp: 1735830245000},
		},
	}
	s.Require().NoError(s.store.Save(first))

	second := ledger.Snapshot{
		Unresolved: []string{"new.io"},
	}
	s.Require().NoError(s.store.Save(second))

	loaded, err := s.store.Load()
	s.Require().NoError(err)

	s.Equal([]string{"new.io"}, loaded.Unresolved)
	s.Empty(loaded.Servers)
	s.Empty(loaded.Records)
}

func (s *BoltTestSuite) TestServersReloadInNameOrder() {
	snap := ledger.Snapshot{
		Servers: []ledger.KnownServer{
			{Name: "zulu", IP: "9.9.9.9"},
			{Name: "alpha", IP: "1.1.1.1"},
		},
	}
	s.Require().NoError(s.store.Save(snap))

	loaded, err := s.store.Load()
	s.Require().NoError(err)

	s.Require().Len(loaded.Servers, 2)
	s.Equal("alpha", loaded.Servers[0].Name)
	s.Equal("zulu", loaded.Servers[1].Name)
}

func (s *BoltTestSuite) TestLoadEmptyDatabase() {
	loaded, err := s.store.Load()
	s.Require().NoError(err)

	s.Empty(loaded.Unresolved)
	s.Empty(loaded.Servers)
	s.Empty(loaded.Records)
}

func (s *BoltTestSuite) putRaw(key string, value []byte) {
	err := s.store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(_bucket).Put([]byte(key), value)
	})
	s.Require().NoError(err)
}

func (s *BoltTestSuite) getRaw(key string) []byte {
	var out []byte
	err := s.store.db.View(func(tx *bbolt.Tx) error {
		if value := tx.Bucket(_bucket).Get([]byte(key)); value != nil {
			out = append([]byte(nil), value...)
		}
		return nil
	})
	s.Require().NoError(err)
	return out
}

func (s *BoltTestSuite) TestLoadLegacyKeys() {
	unresolved, err := json.Marshal([]string{"legacy.io"})
	s.Require().NoError(err)
	servers, err := json.Marshal([]ledger.KnownServer{{Name: "web1", IP: "1.2.3.4"}})
	s.Require().NoError(err)
	records, err := json.Marshal([]ledger.Record{
		{Domain: "legacy.com", IP: "1.2.3.4", ServerName: "web1", ResolvedAt: "2024-11-20 10:00:00", Timestamp: 1732096800000},
	})
	s.Require().NoError(err)

	s.putRaw(_legacyUnresolved, unresolved)
	s.putRaw(_legacyServers, servers)
	s.putRaw(_legacyResolved, records)

	loaded, err := s.store.Load()
	s.Require().NoError(err)

	s.Equal([]string{"legacy.io"}, loaded.Unresolved)
	s.Require().Len(loaded.Servers, 1)
	s.Equal("web1", loaded.Servers[0].Name)
	s.Require().Len(loaded.Records, 1)
	s.Equal("legacy.com", loaded.Records[0].Domain)
}

func (s *BoltTestSuite) TestPerEntityKeysShadowLegacy() {
	legacy, err := json.Marshal([]string{"legacy.io"})
	s.Require().NoError(err)
	s.putRaw(_legacyUnresolved, legacy)
	s.putRaw(_prefixUnresolved+"fresh.io", []byte("1"))

	loaded, err := s.store.Load()
	s.Require().NoError(err)

	s.Equal([]string{"fresh.io"}, loaded.Unresolved)
}

func (s *BoltTestSuite) TestSaveDeletesLegacyKeys() {
	legacy, err := json.Marshal([]string{"legacy.io"})
	s.Require().NoError(err)
	s.putRaw(_legacyUnresolved, legacy)

	s.Require().NoError(s.store.Save(ledger.Snapshot{Unresolved: []string{"fresh.io"}}))

	s.Nil(s.getRaw(_legacyUnresolved))
	s.NotNil(s.getRaw(_prefixUnresolved + "fresh.io"))
}

func TestBoltTestSuite(t *testing.T) {
	suite.Run(t, new(BoltTestSuite))
}
