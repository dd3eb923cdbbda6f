package game

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Web-Am/buzzer/domain"
)

func players(pairs ...any) map[string]domain.SessionPlayer {
	out := map[string]domain.SessionPlayer{}
	for i := 0; i < len(pairs); i += 2 {
		name := pairs[i].(string)
		points := pairs[i+1].(int)
		out[name] = domain.SessionPlayer{Name: name, TempPoints: points}
	}
	return out
}

func TestStartSessionTransform(t *testing.T) {
	s := startSession(domain.Session{MaxPoints: 10}, "who deserves a point?", 30000, 1000)

	assert.True(t, s.Active)
	assert.Equal(t, "who deserves a point?", s.Question)
	assert.Equal(t, int64(31000), s.ExpiresAt)
	assert.Equal(t, int64(30000), s.DurationMs)
	assert.Equal(t, 10, s.MaxPoints, "max points survives restarts")
	assert.Empty(t, s.LastBidder)
}

func TestApplyPress(t *testing.T) {
	p := domain.SessionPlayer{Name: "marco", TempPoints: 0}

	p = applyPress(p, 3)
	p = applyPress(p, 3)
	assert.Equal(t, 2, p.TempPoints)

	p = applyPress(p, 3)
	p = applyPress(p, 3)
	assert.Equal(t, 3, p.TempPoints, "capped at session max")

	uncapped := applyPress(domain.SessionPlayer{TempPoints: 99}, 0)
	assert.Equal(t, 100, uncapped.TempPoints, "zero max means no cap")
}

func TestDeactivateSession(t *testing.T) {
	active := domain.Session{Active: true, ExpiresAt: 5000}

	idle, err := deactivateSession(active)
	assert.NoError(t, err)
	assert.False(t, idle.Active)
	assert.Zero(t, idle.ExpiresAt)

	_, err = deactivateSession(idle)
	assert.ErrorIs(t, err, ErrAlreadyFinished, "only the first resolver wins")
}

func TestSessionWinner(t *testing.T) {
	type testCase struct {
		description    string
		players        map[string]domain.SessionPlayer
		expectedWinner string
		expectedPoints int
		expectedOk     bool
	}

	testCases := []testCase{
		{"clear winner", players("anna", 4, "luca", 2, "gaia", 0), "anna", 4, true},
		{"tie at the top", players("anna", 3, "luca", 3, "gaia", 1), "", 0, false},
		{"nobody pressed", players("anna", 0, "luca", 0), "", 0, false},
		{"no players", players(), "", 0, false},
		{"single presser", players("anna", 1), "anna", 1, true},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			winner, points, ok := sessionWinner(tc.players)
			assert.Equal(t, tc.expectedOk, ok)
			assert.Equal(t, tc.expectedWinner, winner)
			assert.Equal(t, tc.expectedPoints, points)
		})
	}
}

func TestAppendVictory(t *testing.T) {
	p := domain.SessionPlayer{Name: "anna"}
	v := domain.Victory{Target: "who deserves a point?", PointsUsed: 4}

	p = appendVictory(p, v)
	assert.Len(t, p.Victories, 1)

	p = appendVictory(p, v)
	assert.Len(t, p.Victories, 1, "identical trailing victory is a redundant delivery")

	p = appendVictory(p, domain.Victory{Target: "who deserves a point?", PointsUsed: 2})
	assert.Len(t, p.Victories, 2, "different points is a new victory")

	p = appendVictory(p, v)
	assert.Len(t, p.Victories, 3, "dedup only inspects the last entry")
}
