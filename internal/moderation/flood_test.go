package moderation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floodConfig() FloodConfig {
	return FloodConfig{
		Rules: map[FloodClass]FloodRule{
			FloodChat: {Max: 3, Window: 5 * time.Second},
		},
		KicksBeforeBan: 1,
		KickMemory:     time.Hour,
		BanDuration:    30 * time.Minute,
	}
}

func TestFloodGuard_WindowSlides(t *testing.T) {
	g := NewFloodGuard(floodConfig())
	for i := 0; i < 3; i++ {
		assert.Equal(t, FloodNone, g.Record("bob", FloodChat, now.Add(time.Duration(i)*time.Second)))
	}
	// the first event left the window
	assert.Equal(t, FloodNone, g.Record("bob", FloodChat, now.Add(5*time.Second)))
	assert.Equal(t, FloodKick, g.Record("bob", FloodChat, now.Add(5*time.Second)))
}

func TestFloodGuard_EscalatesToBan(t *testing.T) {
	g := NewFloodGuard(floodConfig())
	burst := func(at time.Time) FloodAction {
		var last FloodAction
		for i := 0; i < 4; i++ {
			last = g.Record("bob", FloodChat, at)
		}
		return last
	}

	assert.Equal(t, FloodKick, burst(now))
	assert.Equal(t, FloodBan, burst(now.Add(10*time.Minute)))
	assert.Equal(t, FloodKick, burst(now.Add(20*time.Minute)), "ban resets the kick history")

	ban := g.TempBan(Identity{Name: "bob", AccountID: "5"}, now)
	assert.Equal(t, now.Add(30*time.Minute), ban.ExpiresAt)
	assert.Equal(t, "5", ban.AccountID)
}

func TestFloodGuard_KicksAreForgottenAfterMemory(t *testing.T) {
	g := NewFloodGuard(floodConfig())
	for i := 0; i < 4; i++ {
		g.Record("bob", FloodChat, now)
	}
	var last FloodAction
	for i := 0; i < 4; i++ {
		last = g.Record("bob", FloodChat, now.Add(2*time.Hour))
	}
	assert.Equal(t, FloodKick, last)
}

func TestFloodGuard_UnconfiguredClassIsIgnored(t *testing.T) {
	g := NewFloodGuard(floodConfig())
	for i := 0; i < 100; i++ {
		require.Equal(t, FloodNone, g.Record("bob", FloodStatus, now))
	}
	assert.Zero(t, g.Tracked())
}

func TestFloodGuard_Prune(t *testing.T) {
	g := NewFloodGuard(floodConfig())
	g.Record("bob", FloodChat, now)
	g.Record("carol", FloodChat, now.Add(time.Hour))
	require.Equal(t, 2, g.Tracked())

	dropped := g.Prune(now.Add(time.Hour))
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, g.Tracked())
}
