package roster

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var ErrUnknownParticipant = errors.New("unknown participant")
var ErrDuplicateParticipant = errors.New("participant already in room")

type Kind string

const (
	KindHuman Kind = "human"
	KindBot   Kind = "bot"
)

type Mode string

const (
	ModePlayer    Mode = "player"
	ModeSpectator Mode = "spectator"
)

type SkillOrigin string

const (
	OriginRank           SkillOrigin = "rank"
	OriginRated          SkillOrigin = "rated"
	OriginRatedDegraded  SkillOrigin = "rated-degraded"
	OriginPlugin         SkillOrigin = "plugin"
	OriginPluginDegraded SkillOrigin = "plugin-degraded"
)

// Status mirrors the room-side status of a participant. ID is the in-game
// control slot (the lobby calls it "team"), Ally is the ally group.
type Status struct {
	Mode  Mode
	ID    int
	Ally  int
	Ready bool
	Sync  bool
}

type Color struct {
	R, G, B uint8
}

type Skill struct {
	Value      float64
	Sigma      float64
	Origin     SkillOrigin
	Rank       int
	RankOrigin string
}

// Prefs are the per-user preferences consulted by voting.
type Prefs struct {
	VoteRingDelay   time.Duration
	VoteNotifyDelay time.Duration
	AwayMode        bool
	AutoAway        bool
}

type Participant struct {
	Name      string
	Kind      Kind
	Owner     string // bots only
	AI        string // bots only
	AccountID string
	IP        string
	Access    int
	Clan      string
	Status    Status
	Color     Color
	Skill     Skill
	Prefs     Prefs
	JoinedAt  time.Time
}

func (p Participant) IsBot() bool { return p.Kind == KindBot }

// IsPlayer reports whether the participant takes a slot in the match.
func (p Participant) IsPlayer() bool { return p.Status.Mode == ModePlayer }

// ClanFromName extracts a "[TAG]" prefix, the usual lobby convention for clans.
func ClanFromName(name string) string {
	if !strings.HasPrefix(name, "[") {
		return ""
	}
	end := strings.Index(name, "]")
	if end <= 1 {
		return ""
	}
	return strings.ToLower(name[1:end])
}

// Roster is the live view of everyone in the room. It is owned by the
// orchestrator goroutine and never shared; callers get copies.
type Roster struct {
	members map[string]*Participant
}

func New() *Roster {
	return &Roster{members: make(map[string]*Participant)}
}

func (r *Roster) Join(p Participant) error {
	if _, ok := r.members[p.Name]; ok {
		return ErrDuplicateParticipant
	}
	if p.Clan == "" {
		p.Clan = ClanFromName(p.Name)
	}
	cp := p
	r.members[p.Name] = &cp
	return nil
}

func (r *Roster) Leave(name string) (Participant, error) {
	p, ok := r.members[name]
	if !ok {
		return Participant{}, ErrUnknownParticipant
	}
	delete(r.members, name)
	// bots owned by the leaver leave with them
	for n, m := range r.members {
		if m.IsBot() && m.Owner == name {
			delete(r.members, n)
		}
	}
	return *p, nil
}

func (r *Roster) Get(name string) (Participant, bool) {
	p, ok := r.members[name]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Update applies fn to the named participant in place.
func (r *Roster) Update(name string, fn func(*Participant)) error {
	p, ok := r.members[name]
	if !ok {
		return ErrUnknownParticipant
	}
	fn(p)
	return nil
}

func (r *Roster) Len() int { return len(r.members) }

func (r *Roster) Clear() { clear(r.members) }

// All returns copies sorted by name so callers iterate deterministically.
func (r *Roster) All() []Participant {
	out := make([]Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Players returns declared players and bots (non-spectators).
func (r *Roster) Players() []Participant {
	var out []Participant
	for _, p := range r.All() {
		if p.IsPlayer() {
			out = append(out, p)
		}
	}
	return out
}

// Humans returns every non-bot participant, players and spectators alike.
func (r *Roster) Humans() []Participant {
	var out []Participant
	for _, p := range r.All() {
		if !p.IsBot() {
			out = append(out, p)
		}
	}
	return out
}

// BalanceInput returns the participants eligible for balancing: players with
// a synced status, plus all bots (bots are always in sync).
func (r *Roster) BalanceInput() []Participant {
	var out []Participant
	for _, p := range r.Players() {
		if p.IsBot() || p.Status.Sync {
			out = append(out, p)
		}
	}
	return out
}

// Unready lists non-spectator humans that are not synced or not ready.
func (r *Roster) Unready() []string {
	var out []string
	for _, p := range r.Players() {
		if p.IsBot() {
			continue
		}
		if !p.Status.Sync || !p.Status.Ready {
			out = append(out, p.Name)
		}
	}
	return out
}
