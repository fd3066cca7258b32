//go:generate go run github.com/srgg/testify/depend/cmd/dependgen

package security

import (
	"testing"

	"github.com/srgg/testify/depend"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blectl/internal/testutils"
)

// BondLifecycleTestSuite walks one peer through pairing, reconnecting and forgetting. The
// steps share a controller and bond store, so each builds on the state the previous one left.
type BondLifecycleTestSuite struct {
	suite.Suite
	rec   *eventRecorder
	bonds *MemoryBondStore
	c     *Controller
}

func (s *BondLifecycleTestSuite) SetupSuite() {
	s.rec = &eventRecorder{}
	s.bonds = NewMemoryBondStore()
	c, err := NewController(ModeSecure, s.rec.listeners(), s.bonds, testutils.NewTestHelper(s.T()).Logger)
	s.Require().NoError(err)
	s.c = c
}

func (s *BondLifecycleTestSuite) TestPairing() {
	// GOAL: a secure pairing bonds the peer and persists the bond
	//
	// TEST SCENARIO: connect → security request → pass key → success → Bonded, bond stored

	s.c.Connected(peer)
	s.Require().True(s.c.SecurityRequest(peer))
	s.c.PassKeyNotify(peer, 424242)
	s.c.AuthenticationComplete(peer, true)

	s.Require().Equal(StateBonded, s.c.State(peer))
	s.Assert().Equal([]string{"passkey:424242", "auth:true"}, s.rec.events)
	s.Assert().True(s.bonds.Has(normalizePeer(peer)))
}

// @dependsOn TestPairing
func (s *BondLifecycleTestSuite) TestBondSurvivesReconnect() {
	// GOAL: a bonded peer reconnects straight into Bonded without new pairing events
	//
	// TEST SCENARIO: disconnect → reconnect → Bonded, no events raised

	s.c.Disconnected(peer)
	s.Assert().Equal(StateIdle, s.c.State(peer))

	s.c.Connected(peer)
	s.Assert().Equal(StateBonded, s.c.State(peer))
	s.Assert().True(s.c.Authorized(peer))
	s.Assert().Len(s.rec.events, 2)
}

// @dependsOn TestBondSurvivesReconnect
func (s *BondLifecycleTestSuite) TestClearPairings() {
	// GOAL: clearing pairings makes the next connection pair again
	//
	// TEST SCENARIO: clear → reconnect → Idle, unauthorized, no pairings listed

	s.Require().NoError(s.c.ClearPairings())
	s.c.Disconnected(peer)
	s.c.Connected(peer)

	s.Assert().Equal(StateIdle, s.c.State(peer))
	s.Assert().False(s.c.Authorized(peer))
	s.Assert().Empty(s.c.Pairings())
}

func TestBondLifecycleTestSuite(t *testing.T) {
	depend.RunSuite(t, new(BondLifecycleTestSuite))
}
