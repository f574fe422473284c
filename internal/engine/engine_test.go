package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/driftwatch/driftwatch/internal/ledger"
	"github.com/driftwatch/driftwatch/internal/notify"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, domain string) ([]string, error) {
	args := m.Called(ctx, domain)
	if ips := args.Get(0); ips != nil {
		return ips.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

type saverStub struct {
	mu    sync.Mutex
	saves int
	last  ledger.Snapshot
	err   error
}

func (s *saverStub) Save(snap ledger.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = snap
	return s.err
}

func (s *saverStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *saverStub) lastSnapshot() ledger.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type EngineTestSuite struct {
	suite.Suite
	store  *ledger.Store
	res    *mockResolver
	saver  *saverStub
	center *notify.Center
	engine *Engine
}

func (s *EngineTestSuite) SetupTest() {
	s.store = ledger.NewStore()
	s.res = new(mockResolver)
	s.saver = new(saverStub)
	s.center = notify.NewCenter()
	s.engine = New(s.store, s.res, s.saver, s.center)
}

func (s *EngineTestSuite) notificationsOfType(t notify.Type) []notify.Notification {
	var out []notify.Notification
	for _, n := range s.engine.Notifications() {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

func (s *EngineTestSuite) TestAddDomains() {
	testCases := []struct {
		name         string
		raw          string
		wantAdded    []string
		wantWarnings int
		wantSaves    int
		wantNotified int
	}{
		{
			name:      "fresh batch",
			raw:       "b.com,a.com",
			wantAdded: []string{"b.com", "a.com"},
			wantSaves: 1,
		},
		{
			name:         "duplicate inside one batch",
			raw:          "a.com, b.com, a.com",
			wantAdded:    []string{"a.com", "b.com"},
			wantWarnings: 1,
			wantSaves:    1,
			wantNotified: 1,
		},
		{
			name: "blank input",
			raw:  " , ,",
		},
		{
			name: "empty string",
			raw:  "",
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.SetupTest() // Reset engine for each test case.

			added, warnings := s.engine.AddDomains(tc.raw)

			s.Equal(tc.wantAdded, added)
			s.Len(warnings, tc.wantWarnings)
			s.Equal(tc.wantSaves, s.saver.count())
			s.Len(s.notificationsOfType(notify.Warning), tc.wantNotified)
		})
	}
}

func (s *EngineTestSuite) TestAddDomainsAggregatesWarnings() {
	s.engine.AddDomains("a.com")

	_, warnings := s.engine.AddDomains("a.com, a.com")
	s.Len(warnings, 2)

	// Both duplicates collapse into one notification.
	notified := s.notificationsOfType(notify.Warning)
	s.Require().Len(notified, 1)
	s.Contains(notified[0].Message, "a.com")
	s.Contains(notified[0].Message, "; ")
}

func (s *EngineTestSuite) TestAddDomainsDuplicateOfResolved() {
	s.store.ApplyResolution("done.com", []ledger.Record{
		ledger.NewRecord("done.com", "1.2.3.4", "", time.Now()),
	})

	added, warnings := s.engine.AddDomains("done.com")

	s.Empty(added)
	s.Require().Len(warnings, 1)
	s.Contains(warnings[0], "already resolved")
	s.Empty(s.engine.Snapshot().Unresolved)
}

func (s *EngineTestSuite) TestAddKnownServer() {
	testCases := []struct {
		name         string
		serverName   string
		ip           string
		pre          func()
		want         bool
		wantWarnings int
	}{
		{
			name:       "valid server",
			serverName: "web1",
			ip:         "1.2.3.4",
			want:       true,
		},
		{
			name:       "blank name skipped silently",
			serverName: "  ",
			ip:         "1.2.3.4",
		},
		{
			name:       "blank ip skipped silently",
			serverName: "web1",
			ip:         "",
		},
		{
			name:       "duplicate name warned",
			serverName: "web1",
			ip:         "9.9.9.9",
			pre: func() {
				s.engine.AddKnownServer("web1", "1.2.3.4")
			},
			wantWarnings: 1,
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.SetupTest()
			if tc.pre != nil {
				tc.pre()
			}

			got := s.engine.AddKnownServer(tc.serverName, tc.ip)

			s.Equal(tc.want, got)
			s.Len(s.notificationsOfType(notify.Warning), tc.wantWarnings)
		})
	}
}

func (s *EngineTestSuite) TestResolveAllMatchesKnownServers() {
	s.engine.AddKnownServer("web1", "1.2.3.4")
	s.engine.AddDomains("example.com")
	s.res.On("Resolve", mock.Anything, "example.com").
		Return([]string{"1.2.3.4", "9.9.9.9"}, nil)

	done, failed, err := s.engine.ResolveAll(context.Background())

	s.Require().NoError(err)
	s.Equal([]string{"example.com"}, done)
	s.Empty(failed)

	snap := s.engine.Snapshot()
	s.Empty(snap.Unresolved, "resolved domain must leave the queue")
	s.Require().Len(snap.Records, 2)
	s.Equal("web1", snap.Records[0].ServerName)
	s.Equal("", snap.Records[1].ServerName)

	infos := s.notificationsOfType(notify.Info)
	s.Require().Len(infos, 1)
	s.Contains(infos[0].Message, "web1 (1.2.3.4)")

	// The flush after resolution mirrors the new records.
	s.Len(s.saver.lastSnapshot().Records, 2)
}

func (s *EngineTestSuite) TestResolveAllPartialFailure() {
	s.engine.AddDomains("good.com,bad.com")
	s.res.On("Resolve", mock.Anything, "good.com").Return([]string{"1.1.1.1"}, nil)
	s.res.On("Resolve", mock.Anything, "bad.com").Return(nil, errors.New("network down"))

	done, failed, err := s.engine.ResolveAll(context.Background())

	s.Require().NoError(err)
	s.Equal([]string{"good.com"}, done)
	s.Equal([]string{"bad.com"}, failed)

	snap := s.engine.Snapshot()
	s.Equal([]string{"bad.com"}, snap.Unresolved, "failed domain stays queued")
	s.Require().Len(snap.Records, 1)
	s.Equal("good.com", snap.Records[0].Domain)

	// Failures are logged, never notified.
	s.Empty(s.notificationsOfType(notify.Error))
	s.Empty(s.notificationsOfType(notify.Warning))
}

func (s *EngineTestSuite) TestDomainNeverInBothSets() {
	s.engine.AddDomains("a.com")
	s.res.On("Resolve", mock.Anything, "a.com").Return([]string{"1.1.1.1"}, nil)

	_, _, err := s.engine.ResolveAll(context.Background())
	s.Require().NoError(err)

	snap := s.engine.Snapshot()
	s.NotContains(snap.Unresolved, "a.com")
	s.Require().Len(snap.Records, 1)

	// Re-queueing the resolved domain is rejected.
	added, warnings := s.engine.AddDomains("a.com")
	s.Empty(added)
	s.Len(warnings, 1)
}

func (s *EngineTestSuite) TestRetryDetectsDrift() {
	s.engine.AddDomains("example.com")
	s.res.On("Resolve", mock.Anything, "example.com").
		Return([]string{"1.2.3.4"}, nil).Once()
	s.res.On("Resolve", mock.Anything, "example.com").
		Return([]string{"5.6.7.8"}, nil).Once()

	_, _, err := s.engine.ResolveAll(context.Background())
	s.Require().NoError(err)

	s.Require().NoError(s.engine.Resolve(context.Background(), "example.com"))

	snap := s.engine.Snapshot()
	s.Require().Len(snap.Records, 1, "old record replaced, not appended")
	s.Equal("5.6.7.8", snap.Records[0].IP)

	warnings := s.notificationsOfType(notify.Warning)
	s.Require().Len(warnings, 1, "exactly one drift notification")
	s.Contains(warnings[0].Message, "unmatched (1.2.3.4)")
	s.Contains(warnings[0].Message, "unmatched (5.6.7.8)")
}

func (s *EngineTestSuite) TestRetrySameAddressesStaysQuiet() {
	s.engine.AddDomains("steady.com")
	s.res.On("Resolve", mock.Anything, "steady.com").
		Return([]string{"1.1.1.1", "2.2.2.2"}, nil).Once()
	// Same address set in a different answer order.
	s.res.On("Resolve", mock.Anything, "steady.com").
		Return([]string{"2.2.2.2", "1.1.1.1"}, nil).Once()

	_, _, err := s.engine.ResolveAll(context.Background())
	s.Require().NoError(err)

	done, failed, err := s.engine.RetryAll(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{"steady.com"}, done)
	s.Empty(failed)

	s.Empty(s.notificationsOfType(notify.Warning))
	// Records were still replaced with the fresh answer order.
	snap := s.engine.Snapshot()
	s.Require().Len(snap.Records, 2)
	s.Equal("2.2.2.2", snap.Records[0].IP)
}

func (s *EngineTestSuite) TestResolveUntrackedDomain() {
	err := s.engine.Resolve(context.Background(), "ghost.com")

	s.ErrorIs(err, ErrNotTracked)
	s.res.AssertNotCalled(s.T(), "Resolve", mock.Anything, mock.Anything)
}

func (s *EngineTestSuite) TestResolutionFailureKeepsStateUntouched() {
	s.engine.AddDomains("flaky.com")
	savesAfterAdd := s.saver.count()
	s.res.On("Resolve", mock.Anything, "flaky.com").Return(nil, errors.New("timeout"))

	err := s.engine.Resolve(context.Background(), "flaky.com")

	s.Error(err)
	s.Equal([]string{"flaky.com"}, s.engine.Snapshot().Unresolved)
	s.Equal(savesAfterAdd, s.saver.count(), "no flush on failed resolution")
	s.Empty(s.engine.Notifications())
}

func (s *EngineTestSuite) TestSingleFlightGuard() {
	started := make(chan struct{})
	release := make(chan struct{})
	s.res.On("Resolve", mock.Anything, "slow.com").
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return([]string{"1.1.1.1"}, nil)

	s.engine.AddDomains("slow.com")

	errCh := make(chan error, 1)
	go func() {
		_, _, err := s.engine.ResolveAll(context.Background())
		errCh <- err
	}()
	<-started

	// Every resolution entry point shares the guard.
	_, _, err := s.engine.ResolveAll(context.Background())
	s.ErrorIs(err, ErrResolveInFlight)
	_, _, err = s.engine.RetryAll(context.Background())
	s.ErrorIs(err, ErrResolveInFlight)
	err = s.engine.Resolve(context.Background(), "slow.com")
	s.ErrorIs(err, ErrResolveInFlight)

	close(release)
	s.NoError(<-errCh)

	// Guard released once the pass is over.
	_, _, err = s.engine.ResolveAll(context.Background())
	s.NoError(err)
}

func (s *EngineTestSuite) TestRetryAllPausesBetweenLookups() {
	s.store.ApplyResolution("a.com", []ledger.Record{ledger.NewRecord("a.com", "1.1.1.1", "", time.Now())})
	s.store.ApplyResolution("b.com", []ledger.Record{ledger.NewRecord("b.com", "2.2.2.2", "", time.Now())})
	s.res.On("Resolve", mock.Anything, mock.Anything).Return([]string{"3.3.3.3"}, nil)

	start := time.Now()
	done, _, err := s.engine.RetryAll(context.Background())
	elapsed := time.Since(start)

	s.Require().NoError(err)
	s.Len(done, 2)
	s.GreaterOrEqual(elapsed, _retryPause, "one pause between two lookups")
	s.Less(elapsed, time.Second)
}

func (s *EngineTestSuite) TestRecentlyRetried() {
	s.engine.AddDomains("fresh.com")
	s.res.On("Resolve", mock.Anything, "fresh.com").Return([]string{"1.1.1.1"}, nil)

	s.Require().NoError(s.engine.Resolve(context.Background(), "fresh.com"))
	s.Equal([]string{"fresh.com"}, s.engine.RecentlyRetried())

	// Expired marks are swept on read.
	s.engine.retriedMu.Lock()
	s.engine.retried["fresh.com"] = time.Now().Add(-time.Second)
	s.engine.retriedMu.Unlock()

	s.Empty(s.engine.RecentlyRetried())
	s.Empty(s.engine.retried)
}

func (s *EngineTestSuite) TestRemoveAllUnmatched() {
	now := time.Now()
	s.store.ApplyResolution("a.com", []ledger.Record{ledger.NewRecord("a.com", "1.1.1.1", "", now)})
	s.store.ApplyResolution("b.com", []ledger.Record{ledger.NewRecord("b.com", "2.2.2.2", "web1", now)})

	removed := s.engine.RemoveAllUnmatched()

	s.Equal(1, removed)
	snap := s.engine.Snapshot()
	s.Require().Len(snap.Records, 1)
	s.Equal("b.com", snap.Records[0].Domain)
	s.Equal(1, s.saver.count())

	// Nothing left to prune: no extra flush.
	s.Equal(0, s.engine.RemoveAllUnmatched())
	s.Equal(1, s.saver.count())
}

func (s *EngineTestSuite) TestPositionalRemovalErrors() {
	_, err := s.engine.RemoveKnownServer(0)
	s.ErrorIs(err, ledger.ErrIndexOutOfRange)

	_, err = s.engine.RemoveRecord(3)
	s.ErrorIs(err, ledger.ErrIndexOutOfRange)

	s.Equal(0, s.saver.count())
}

func (s *EngineTestSuite) TestRemoveDomain() {
	s.engine.AddDomains("a.com")

	s.True(s.engine.RemoveDomain("a.com"))
	s.False(s.engine.RemoveDomain("a.com"))
	s.Empty(s.engine.Snapshot().Unresolved)
}

func (s *EngineTestSuite) TestPersistenceFailureIsNotFatal() {
	s.saver.err = errors.New("disk full")

	added, _ := s.engine.AddDomains("a.com")

	s.Equal([]string{"a.com"}, added)
	s.Equal([]string{"a.com"}, s.engine.Snapshot().Unresolved)
}

func (s *EngineTestSuite) TestGroups() {
	s.engine.AddKnownServer("web1", "1.2.3.4")
	now := time.Now()
	s.store.ApplyResolution("a.com", []ledger.Record{ledger.NewRecord("a.com", "1.2.3.4", "web1", now)})
	s.store.ApplyResolution("b.com", []ledger.Record{ledger.NewRecord("b.com", "9.9.9.9", "", now)})

	groups := s.engine.Groups()

	s.Require().Len(groups, 2)
	s.Equal("web1", groups[0].Server)
	s.Empty(groups[1].Server)
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
