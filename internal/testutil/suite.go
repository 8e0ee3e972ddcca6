// Package testutil holds shared test scaffolding.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lukaszraczylo/oidcsession/internal/testutil/fixtures"
	"github.com/lukaszraczylo/oidcsession/internal/testutil/mocks"
	"github.com/lukaszraczylo/oidcsession/internal/testutil/servers"
)

// TestSessionSecret is a valid session secret for tests.
const TestSessionSecret = "0123456789abcdef0123456789abcdef"

// TestClientID is the client the fake realm issues tokens to.
const TestClientID = "web"

// KeycloakSuite starts a fake realm for every test and mints tokens it
// accepts.
type KeycloakSuite struct {
	suite.Suite

	Realm string

	Keycloak *servers.Keycloak
	Tokens   *fixtures.TokenFixture

	ExchangerMock   *mocks.Exchanger
	RevocationsMock *mocks.RevocationStore
}

// SetupTest starts a fresh realm and fresh mocks.
func (s *KeycloakSuite) SetupTest() {
	if s.Realm == "" {
		s.Realm = "acme"
	}
	s.Keycloak = servers.NewKeycloak(s.Realm)
	s.Tokens = fixtures.MustTokenFixture(s.T(), s.Keycloak.Issuer(), TestClientID)
	s.ExchangerMock = new(mocks.Exchanger)
	s.RevocationsMock = new(mocks.RevocationStore)
}

// TearDownTest stops the realm.
func (s *KeycloakSuite) TearDownTest() {
	if s.Keycloak != nil {
		s.Keycloak.Close()
	}
}

// AccessToken mints an hour-long access token carrying grants.
func (s *KeycloakSuite) AccessToken(g fixtures.Grants) string {
	tok, err := s.Tokens.AccessToken(g, time.Hour)
	s.Require().NoError(err)
	return tok
}

// Do serves req on h and returns the recorded response.
func (s *KeycloakSuite) Do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// AssertMocksCalled verifies every mock expectation was met.
func (s *KeycloakSuite) AssertMocksCalled() {
	s.ExchangerMock.AssertExpectations(s.T())
	s.RevocationsMock.AssertExpectations(s.T())
}

// RunSuite runs a test suite.
func RunSuite(t *testing.T, s suite.TestingSuite) {
	suite.Run(t, s)
}
