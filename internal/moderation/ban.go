// Package moderation decides who may enter the room and who gets thrown out.
//
// The Policy works on an in-memory ban list and never does I/O; persistence
// is handled by a Store fed through a Syncer so the orchestrator loop never
// blocks on the database.
package moderation

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

var ErrEmptyFilter = errors.New("ban filter matches everyone")
var ErrUnknownBan = errors.New("no matching ban")

type Disposition string

const (
	Allow         Disposition = "allow"
	ForceSpectate Disposition = "forceSpectate"
	Kick          Disposition = "kick"
)

type BanType string

const (
	BanFull      BanType = "full"
	BanSpectator BanType = "spectator"
)

// Identity is what the room knows about a participant at admission time.
// Skill is a snapshot and may be stale.
type Identity struct {
	Name      string
	AccountID string
	IP        string
	Skill     float64
}

type Ban struct {
	ID        string
	AccountID string
	Name      string
	IP        string
	Type      BanType
	Reason    string
	CreatedAt time.Time
	// ExpiresAt zero means no time limit.
	ExpiresAt time.Time
	// RemainingGames > 0 makes the ban last that many more games.
	RemainingGames int
	SkillRange     bool
	SkillMin       float64
	SkillMax       float64
}

// Matches reports whether every filter field set on the ban matches id.
func (b Ban) Matches(id Identity) bool {
	if b.AccountID != "" && b.AccountID != id.AccountID {
		return false
	}
	if b.Name != "" && !strings.EqualFold(b.Name, id.Name) {
		return false
	}
	if b.IP != "" && !matchIP(b.IP, id.IP) {
		return false
	}
	if b.SkillRange && (id.Skill < b.SkillMin || id.Skill > b.SkillMax) {
		return false
	}
	return true
}

// matchIP accepts an exact address or a prefix ending with '*'.
func matchIP(pattern, ip string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(ip, prefix)
	}
	return pattern == ip
}

func (b Ban) empty() bool {
	return b.AccountID == "" && b.Name == "" && b.IP == "" && !b.SkillRange
}

func (b Ban) Active(now time.Time) bool {
	return b.ExpiresAt.IsZero() || now.Before(b.ExpiresAt)
}

// Describe renders the ban for chat, e.g. "banned (spam), expires 2 hours from now".
func (b Ban) Describe(now time.Time) string {
	verb := "banned"
	if b.Type == BanSpectator {
		verb = "forced to spectate"
	}
	if b.Reason != "" {
		verb += " (" + b.Reason + ")"
	}
	switch {
	case b.RemainingGames > 0:
		return fmt.Sprintf("%s for %d more %s", verb, b.RemainingGames, plural(b.RemainingGames, "game", "games"))
	case !b.ExpiresAt.IsZero():
		return verb + ", expires " + humanize.RelTime(b.ExpiresAt, now, "ago", "from now")
	}
	return verb + " permanently"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

type Decision struct {
	Disposition Disposition
	Ban         *Ban
}

type Policy struct {
	bans []Ban
}

func NewPolicy(bans []Ban) *Policy {
	return &Policy{bans: slices.Clone(bans)}
}

// Evaluate returns the strongest disposition of the active bans matching id.
// A full ban wins over a spectator ban.
func (p *Policy) Evaluate(id Identity, now time.Time) Decision {
	var spec *Ban
	for i := range p.bans {
		b := p.bans[i]
		if !b.Active(now) || !b.Matches(id) {
			continue
		}
		if b.Type == BanSpectator {
			if spec == nil {
				spec = &b
			}
			continue
		}
		return Decision{Disposition: Kick, Ban: &b}
	}
	if spec != nil {
		return Decision{Disposition: ForceSpectate, Ban: spec}
	}
	return Decision{Disposition: Allow}
}

func (p *Policy) Add(b Ban, now time.Time) (Ban, error) {
	if b.empty() {
		return Ban{}, ErrEmptyFilter
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Type == "" {
		b.Type = BanFull
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	p.bans = append(p.bans, b)
	return b, nil
}

// Remove deletes every ban whose own filter matches id (an unban by name
// lifts the bans targeting that name) and returns them.
func (p *Policy) Remove(id Identity) ([]Ban, error) {
	var removed []Ban
	p.bans = slices.DeleteFunc(p.bans, func(b Ban) bool {
		hit := (id.AccountID != "" && b.AccountID == id.AccountID) ||
			(id.Name != "" && strings.EqualFold(b.Name, id.Name)) ||
			(id.IP != "" && b.IP == id.IP)
		if hit {
			removed = append(removed, b)
		}
		return hit
	})
	if len(removed) == 0 {
		return nil, ErrUnknownBan
	}
	return removed, nil
}

// DecayGames counts one finished game against every game-count ban and
// returns the bans that ran out.
func (p *Policy) DecayGames() []Ban {
	var done []Ban
	p.bans = slices.DeleteFunc(p.bans, func(b Ban) bool {
		if b.RemainingGames == 1 {
			done = append(done, b)
			return true
		}
		return false
	})
	for i := range p.bans {
		if p.bans[i].RemainingGames > 1 {
			p.bans[i].RemainingGames--
		}
	}
	return done
}

// Prune drops expired bans.
func (p *Policy) Prune(now time.Time) []Ban {
	var expired []Ban
	p.bans = slices.DeleteFunc(p.bans, func(b Ban) bool {
		if !b.Active(now) {
			expired = append(expired, b)
			return true
		}
		return false
	})
	return expired
}

func (p *Policy) List() []Ban {
	return slices.Clone(p.bans)
}
