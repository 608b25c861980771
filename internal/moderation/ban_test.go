package moderation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

func TestBan_Matches(t *testing.T) {
	alice := Identity{Name: "Alice", AccountID: "42", IP: "10.0.0.7", Skill: 25}
	cases := []struct {
		name string
		ban  Ban
		want bool
	}{
		{name: "account", ban: Ban{AccountID: "42"}, want: true},
		{name: "other account", ban: Ban{AccountID: "43"}, want: false},
		{name: "name is case insensitive", ban: Ban{Name: "alice"}, want: true},
		{name: "ip prefix", ban: Ban{IP: "10.0.*"}, want: true},
		{name: "ip exact mismatch", ban: Ban{IP: "10.0.0.8"}, want: false},
		{name: "all fields must match", ban: Ban{Name: "alice", AccountID: "7"}, want: false},
		{name: "skill in range", ban: Ban{SkillRange: true, SkillMin: 20, SkillMax: 30}, want: true},
		{name: "skill out of range", ban: Ban{SkillRange: true, SkillMin: 30, SkillMax: 40}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.ban.Matches(alice))
		})
	}
}

func TestPolicy_Evaluate(t *testing.T) {
	p := NewPolicy(nil)
	_, err := p.Add(Ban{Name: "spammer"}, now)
	require.NoError(t, err)
	_, err = p.Add(Ban{Name: "newbie", Type: BanSpectator}, now)
	require.NoError(t, err)
	_, err = p.Add(Ban{Name: "old", ExpiresAt: now.Add(-time.Minute)}, now)
	require.NoError(t, err)

	assert.Equal(t, Kick, p.Evaluate(Identity{Name: "spammer"}, now).Disposition)
	assert.Equal(t, ForceSpectate, p.Evaluate(Identity{Name: "newbie"}, now).Disposition)
	assert.Equal(t, Allow, p.Evaluate(Identity{Name: "old"}, now).Disposition, "expired bans are ignored")
	assert.Equal(t, Allow, p.Evaluate(Identity{Name: "bob"}, now).Disposition)

	d := p.Evaluate(Identity{Name: "spammer"}, now)
	require.NotNil(t, d.Ban)
	assert.NotEmpty(t, d.Ban.ID)
	assert.Equal(t, BanFull, d.Ban.Type)
}

func TestPolicy_FullBanBeatsSpectatorBan(t *testing.T) {
	p := NewPolicy([]Ban{
		{ID: "1", AccountID: "9", Type: BanSpectator},
		{ID: "2", IP: "1.2.3.4", Type: BanFull},
	})
	d := p.Evaluate(Identity{AccountID: "9", IP: "1.2.3.4"}, now)
	assert.Equal(t, Kick, d.Disposition)
	assert.Equal(t, "2", d.Ban.ID)
}

func TestPolicy_RejectsEmptyFilter(t *testing.T) {
	_, err := NewPolicy(nil).Add(Ban{Reason: "everyone"}, now)
	assert.ErrorIs(t, err, ErrEmptyFilter)
}

func TestPolicy_DecayGames(t *testing.T) {
	p := NewPolicy([]Ban{
		{ID: "a", Name: "a", RemainingGames: 1},
		{ID: "b", Name: "b", RemainingGames: 3},
		{ID: "c", Name: "c"},
	})

	done := p.DecayGames()
	require.Len(t, done, 1)
	assert.Equal(t, "a", done[0].ID)

	list := p.List()
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].RemainingGames)
	assert.Zero(t, list[1].RemainingGames, "time bans are not game-counted")
}

func TestPolicy_PruneAndRemove(t *testing.T) {
	p := NewPolicy([]Ban{
		{ID: "a", Name: "a", ExpiresAt: now.Add(time.Hour)},
		{ID: "b", Name: "b", ExpiresAt: now.Add(-time.Hour)},
		{ID: "c", AccountID: "77"},
	})

	expired := p.Prune(now)
	require.Len(t, expired, 1)
	assert.Equal(t, "b", expired[0].ID)

	removed, err := p.Remove(Identity{AccountID: "77"})
	require.NoError(t, err)
	assert.Equal(t, "c", removed[0].ID)

	_, err = p.Remove(Identity{Name: "nobody"})
	assert.ErrorIs(t, err, ErrUnknownBan)
	assert.Len(t, p.List(), 1)
}

func TestBan_Describe(t *testing.T) {
	assert.Equal(t, "banned (spam) permanently", Ban{Reason: "spam"}.Describe(now))
	assert.Equal(t, "forced to spectate for 2 more games", Ban{Type: BanSpectator, RemainingGames: 2}.Describe(now))
	assert.Equal(t, "banned, expires 3 hours from now", Ban{ExpiresAt: now.Add(3 * time.Hour)}.Describe(now))
}
