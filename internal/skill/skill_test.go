package skill

import (
	"math/rand"
	"testing"

	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/stretchr/testify/assert"
)

func TestTypeFor(t *testing.T) {
	cases := []struct {
		teams, size int
		want        GameType
	}{
		{2, 1, GameDuel},
		{4, 1, GameFFA},
		{2, 4, GameTeam},
		{3, 2, GameTeamFFA},
		{1, 8, GameTeam},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TypeFor(tc.teams, tc.size), "%dx%d", tc.teams, tc.size)
	}
}

func TestFromRank_Clamps(t *testing.T) {
	assert.Equal(t, 10.0, FromRank(-3).Value)
	assert.Equal(t, 38.0, FromRank(99).Value)
	s := FromRank(3)
	assert.Equal(t, 20.0, s.Value)
	assert.Equal(t, roster.OriginRank, s.Origin)
	assert.Equal(t, DefaultSigma, s.Sigma)
}

func TestDegrade(t *testing.T) {
	s := FromRank(2)
	assert.Equal(t, roster.OriginRatedDegraded, Degrade(s, roster.OriginRated).Origin)
	assert.Equal(t, roster.OriginPluginDegraded, Degrade(s, roster.OriginPlugin).Origin)
	assert.Equal(t, s.Value, Degrade(s, roster.OriginRated).Value)
}

func TestForBot(t *testing.T) {
	assert.Equal(t, 25.0, ForBot(BotSkillRank, 4, nil).Value)

	a := ForBot(BotSkillRandom, 0, rand.New(rand.NewSource(5)))
	b := ForBot(BotSkillRandom, 0, rand.New(rand.NewSource(5)))
	assert.Equal(t, a, b, "seeded draws are reproducible")
	assert.GreaterOrEqual(t, a.Value, 10.0)
	assert.LessOrEqual(t, a.Value, 38.0)
}

func TestCache(t *testing.T) {
	c := NewCache()
	c.Put(GameTeam, "1", FromRank(1))
	c.Put(GameDuel, "1", FromRank(2))
	c.Put(GameTeam, "2", FromRank(3))

	s, ok := c.Get(GameDuel, "1")
	assert.True(t, ok)
	assert.Equal(t, 16.0, s.Value)

	c.Invalidate("1")
	_, ok = c.Get(GameTeam, "1")
	assert.False(t, ok)
	_, ok = c.Get(GameTeam, "2")
	assert.True(t, ok)

	c.Reset()
	_, ok = c.Get(GameTeam, "2")
	assert.False(t, ok)
}
