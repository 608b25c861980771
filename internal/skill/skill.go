package skill

import (
	"context"
	"errors"
	"math/rand"

	"github.com/DoyleJ11/autohost/internal/roster"
)

var ErrUnavailable = errors.New("skill service unavailable")

type GameType string

const (
	GameDuel    GameType = "Duel"
	GameFFA     GameType = "FFA"
	GameTeam    GameType = "Team"
	GameTeamFFA GameType = "TeamFFA"
)

// TypeFor classifies a battle structure the way rating services do.
func TypeFor(nbTeams, teamSize int) GameType {
	switch {
	case nbTeams == 2 && teamSize == 1:
		return GameDuel
	case teamSize <= 1:
		return GameFFA
	case nbTeams <= 2:
		return GameTeam
	default:
		return GameTeamFFA
	}
}

// Result is what a rating service answers for one account.
type Result struct {
	Value float64
	Sigma float64
	Class string
}

// Provider looks up rated skill. Implementations may block; the orchestrator
// always calls them off the event loop with a deadline.
type Provider interface {
	RequestSkill(ctx context.Context, accountID string, gameType GameType) (Result, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, accountID string, gameType GameType) (Result, error)

func (f ProviderFunc) RequestSkill(ctx context.Context, accountID string, gameType GameType) (Result, error) {
	return f(ctx, accountID, gameType)
}

// rankSkills maps lobby ranks (0-7) to a default skill value.
var rankSkills = []float64{10, 13, 16, 20, 25, 30, 35, 38}

// DefaultSigma is the uncertainty given to skills not backed by a rating.
const DefaultSigma = 8.33

// FromRank is the synchronous fallback used before (or instead of) a rated lookup.
func FromRank(rank int) roster.Skill {
	if rank < 0 {
		rank = 0
	}
	if rank >= len(rankSkills) {
		rank = len(rankSkills) - 1
	}
	return roster.Skill{
		Value:      rankSkills[rank],
		Sigma:      DefaultSigma,
		Origin:     roster.OriginRank,
		Rank:       rank,
		RankOrigin: "lobby",
	}
}

// Degrade keeps the current value but marks it as a failed lookup of origin.
func Degrade(s roster.Skill, origin roster.SkillOrigin) roster.Skill {
	switch origin {
	case roster.OriginPlugin:
		s.Origin = roster.OriginPluginDegraded
	default:
		s.Origin = roster.OriginRatedDegraded
	}
	return s
}

type BotMode string

const (
	BotSkillRank   BotMode = "rank"
	BotSkillRandom BotMode = "random"
)

// ForBot derives a bot's skill. Random mode draws uniformly over the rank
// table span from rng so it stays reproducible under a fixed seed.
func ForBot(mode BotMode, rank int, rng *rand.Rand) roster.Skill {
	if mode == BotSkillRandom && rng != nil {
		lo, hi := rankSkills[0], rankSkills[len(rankSkills)-1]
		s := FromRank(rank)
		s.Value = lo + rng.Float64()*(hi-lo)
		s.RankOrigin = "random"
		return s
	}
	s := FromRank(rank)
	s.RankOrigin = "bot"
	return s
}
