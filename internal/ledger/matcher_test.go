package ledger

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type MatcherTestSuite struct {
	suite.Suite
	servers []KnownServer
}

func (s *MatcherTestSuite) SetupTest() {
	s.servers = []KnownServer{
		{Name: "web1", IP: "1.2.3.4"},
		{Name: "web2", IP: "5.6.7.8"},
		{Name: "web1-alias", IP: "1.2.3.4"},
	}
}

func (s *MatcherTestSuite) TestMatch() {
	testCases := []struct {
		name      string
		ip        string
		wantName  string
		wantFound bool
	}{
		{
			name:      "exact match",
			ip:        "5.6.7.8",
			wantName:  "web2",
			wantFound: true,
		},
		{
			name:      "first entry wins on shared ip",
			ip:        "1.2.3.4",
			wantName:  "web1",
			wantFound: true,
		},
		{
			name: "no match",
			ip:   "9.9.9.9",
		},
		{
			name: "no normalization of equivalent forms",
			ip:   "01.2.3.4",
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			name, found := Match(tc.ip, s.servers)
			s.Equal(tc.wantName, name)
			s.Equal(tc.wantFound, found)
		})
	}
}

func (s *MatcherTestSuite) TestMatchEmptyTable() {
	name, found := Match("1.2.3.4", nil)
	s.Empty(name)
	s.False(found)
}

func TestMatcherTestSuite(t *testing.T) {
	suite.Run(t, new(MatcherTestSuite))
}
