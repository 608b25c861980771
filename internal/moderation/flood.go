package moderation

import (
	"time"
)

type FloodClass string

const (
	FloodChat    FloodClass = "chat"
	FloodStatus  FloodClass = "status"
	FloodCommand FloodClass = "command"
	FloodJoin    FloodClass = "join"
)

type FloodRule struct {
	Max    int
	Window time.Duration
}

type FloodConfig struct {
	Rules map[FloodClass]FloodRule
	// KicksBeforeBan flood kicks within KickMemory turn the next one into a
	// temporary ban of BanDuration.
	KicksBeforeBan int
	KickMemory     time.Duration
	BanDuration    time.Duration
}

type FloodAction string

const (
	FloodNone FloodAction = ""
	FloodKick FloodAction = "kick"
	FloodBan  FloodAction = "ban"
)

type floodKey struct {
	who   string
	class FloodClass
}

// FloodGuard keeps a sliding window of event times per participant and class.
// Not safe for concurrent use.
type FloodGuard struct {
	cfg    FloodConfig
	events map[floodKey][]time.Time
	kicks  map[string][]time.Time
}

func NewFloodGuard(cfg FloodConfig) *FloodGuard {
	if cfg.KickMemory <= 0 {
		cfg.KickMemory = time.Hour
	}
	return &FloodGuard{
		cfg:    cfg,
		events: make(map[floodKey][]time.Time),
		kicks:  make(map[string][]time.Time),
	}
}

// Record counts one event and returns the consequence, if any. The window of
// a punished participant is reset.
func (g *FloodGuard) Record(who string, class FloodClass, now time.Time) FloodAction {
	rule, ok := g.cfg.Rules[class]
	if !ok || rule.Max <= 0 {
		return FloodNone
	}
	k := floodKey{who: who, class: class}
	times := append(trim(g.events[k], now.Add(-rule.Window)), now)
	if len(times) <= rule.Max {
		g.events[k] = times
		return FloodNone
	}
	delete(g.events, k)

	kicks := append(trim(g.kicks[who], now.Add(-g.cfg.KickMemory)), now)
	g.kicks[who] = kicks
	if g.cfg.KicksBeforeBan > 0 && len(kicks) > g.cfg.KicksBeforeBan {
		delete(g.kicks, who)
		return FloodBan
	}
	return FloodKick
}

// TempBan builds the ban issued on FloodBan.
func (g *FloodGuard) TempBan(id Identity, now time.Time) Ban {
	return Ban{
		AccountID: id.AccountID,
		Name:      id.Name,
		Type:      BanFull,
		Reason:    "flood",
		ExpiresAt: now.Add(g.cfg.BanDuration),
	}
}

// Prune forgets windows that have fully elapsed. Run hourly.
func (g *FloodGuard) Prune(now time.Time) int {
	dropped := 0
	for k, times := range g.events {
		if rest := trim(times, now.Add(-g.cfg.Rules[k.class].Window)); len(rest) == 0 {
			delete(g.events, k)
			dropped++
		} else {
			g.events[k] = rest
		}
	}
	for who, times := range g.kicks {
		if rest := trim(times, now.Add(-g.cfg.KickMemory)); len(rest) == 0 {
			delete(g.kicks, who)
		} else {
			g.kicks[who] = rest
		}
	}
	return dropped
}

// Tracked is the number of live counters.
func (g *FloodGuard) Tracked() int { return len(g.events) }

// trim drops times at or before cutoff; times are ascending.
func trim(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append([]time.Time(nil), times[i:]...)
}
