package socket_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/driftwatch/driftwatch/internal/socket"
)

type SocketTestSuite struct {
	suite.Suite
	path string
}

// stubFinder answers Alive with a canned value so tests control what
// Dial believes about the daemon process.
type stubFinder struct {
	alive bool
}

func (f *stubFinder) Alive(_ string) bool {
	return f.alive
}

func (s *SocketTestSuite) SetupTest() {
	s.path = filepath.Join(s.T().TempDir(), "driftwatchd.sock")
}

func (s *SocketTestSuite) newSocket(f socket.Finder, window, interval time.Duration) *socket.Socket {
	return socket.New(s.path,
		socket.WithFinder(f),
		socket.WithDialWindow(window, interval),
	)
}

func (s *SocketTestSuite) TestListenClaimsPath() {
	ln, err := socket.New(s.path).Listen()
	s.Require().NoError(err)
	defer ln.Close()

	fi, err := os.Stat(s.path)
	s.Require().NoError(err)
	s.Equal(os.ModeSocket, fi.Mode()&os.ModeSocket)
}

func (s *SocketTestSuite) TestListenAppliesMode() {
	ln, err := socket.New(s.path, socket.WithMode(0o600)).Listen()
	s.Require().NoError(err)
	defer ln.Close()

	fi, err := os.Stat(s.path)
	s.Require().NoError(err)
	s.Equal(os.FileMode(0o600), fi.Mode().Perm())
}

func (s *SocketTestSuite) TestListenCreatesDirectory() {
	s.path = filepath.Join(s.T().TempDir(), "run", "driftwatch", "driftwatchd.sock")

	ln, err := socket.New(s.path).Listen()
	s.Require().NoError(err)
	defer ln.Close()
}

func (s *SocketTestSuite) TestListenReportsBlockedDirectory() {
	// Occupy the would-be socket directory with a regular file.
	s.path = filepath.Join(s.T().TempDir(), "run", "driftwatchd.sock")
	s.Require().NoError(os.WriteFile(filepath.Dir(s.path), []byte("in the way"), 0o644))

	_, err := socket.New(s.path).Listen()
	s.Require().Error(err)
	s.Contains(err.Error(), "creating socket directory")
}

func (s *SocketTestSuite) TestListenRemovesStaleSocket() {
	// A leftover file nothing answers on stands in for the socket a
	// crashed daemon left behind.
	s.Require().NoError(os.WriteFile(s.path, nil, 0o600))

	ln, err := socket.New(s.path).Listen()
	s.Require().NoError(err)
	defer ln.Close()
}

func (s *SocketTestSuite) TestListenRefusesLiveSocket() {
	ln, err := net.Listen("unix", s.path)
	s.Require().NoError(err)
	defer ln.Close()

	_, err = socket.New(s.path).Listen()
	s.Require().ErrorIs(err, socket.ErrAddressInUse)
}

func (s *SocketTestSuite) TestDialConnects() {
	sock := s.newSocket(&stubFinder{alive: true}, time.Second, 25*time.Millisecond)

	ln, err := sock.Listen()
	s.Require().NoError(err)
	defer ln.Close()
	go acceptOne(ln)

	conn, err := sock.Dial(context.Background())
	s.Require().NoError(err)
	s.NoError(conn.Close())
}

func (s *SocketTestSuite) TestDialWaitsForStartingDaemon() {
	sock := s.newSocket(&stubFinder{alive: true}, 2*time.Second, 25*time.Millisecond)

	started := make(chan net.Listener, 1)
	go func() {
		time.Sleep(200 * time.Millisecond)
		ln, err := sock.Listen()
		if err != nil {
			close(started)
			return
		}
		started <- ln
		acceptOne(ln)
	}()

	begin := time.Now()
	conn, err := sock.Dial(context.Background())
	s.Require().NoError(err)
	s.NoError(conn.Close())
	s.GreaterOrEqual(time.Since(begin), 200*time.Millisecond)

	if ln := <-started; ln != nil {
		ln.Close()
	}
}

func (s *SocketTestSuite) TestDialFailsFastWithoutDaemon() {
	sock := s.newSocket(&stubFinder{alive: false}, 5*time.Second, 100*time.Millisecond)

	begin := time.Now()
	_, err := sock.Dial(context.Background())
	s.Require().ErrorIs(err, socket.ErrNotRunning)
	s.Less(time.Since(begin), time.Second, "no visible process should mean no retry loop")
}

func (s *SocketTestSuite) TestDialGivesUpAfterWindow() {
	sock := s.newSocket(&stubFinder{alive: true}, 300*time.Millisecond, 50*time.Millisecond)

	begin := time.Now()
	_, err := sock.Dial(context.Background())
	s.Require().ErrorIs(err, socket.ErrNotRunning)
	s.GreaterOrEqual(time.Since(begin), 300*time.Millisecond)
}

func (s *SocketTestSuite) TestDialHonorsContext() {
	sock := s.newSocket(&stubFinder{alive: true}, 5*time.Second, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sock.Dial(ctx)
	s.Require().ErrorIs(err, context.Canceled)
}

func (s *SocketTestSuite) TestPackageHelpers() {
	ln, err := socket.Listen(s.path)
	s.Require().NoError(err)
	defer ln.Close()
	go acceptOne(ln)

	conn, err := socket.Dial(context.Background(), s.path)
	s.Require().NoError(err)
	s.NoError(conn.Close())
}

func acceptOne(ln net.Listener) {
	if conn, err := ln.Accept(); err == nil {
		conn.Close()
	}
}

func TestSocketSuite(t *testing.T) {
	suite.Run(t, new(SocketTestSuite))
}
