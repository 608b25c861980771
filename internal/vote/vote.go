// Package vote runs the single in-flight vote of the room.
//
// The engine is not safe for concurrent use; the orchestrator loop owns it and
// drives time through Tick so deadlines are evaluated with the loop's clock.
package vote

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/google/uuid"
)

var (
	ErrVoteInProgress = errors.New("another vote is in progress")
	ErrNoVote         = errors.New("no vote in progress")
	ErrNotVoter       = errors.New("not allowed to vote")
	ErrSameBallot     = errors.New("ballot already cast")
	ErrCooldown       = errors.New("too soon since your previous vote")
	ErrBadBallot      = errors.New("ballot must be y, n or b")
)

type Ballot string

const (
	Yes   Ballot = "y"
	No    Ballot = "n"
	Blank Ballot = "b"
)

func ParseBallot(s string) (Ballot, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return Yes, nil
	case "n", "no":
		return No, nil
	case "b", "blank":
		return Blank, nil
	}
	return "", ErrBadBallot
}

type Result string

const (
	Passed    Result = "passed"
	Failed    Result = "failed"
	Cancelled Result = "cancelled"
)

type Settings struct {
	Timeout          time.Duration
	AwayDelay        time.Duration
	MinParticipation float64 // percent of non-away voters that must vote manually
	ReCallDelay      time.Duration
}

type Voter struct {
	Name  string
	Prefs roster.Prefs
}

type voterState struct {
	ringAt   time.Time
	notifyAt time.Time
	away     bool
	autoAway bool
}

type Vote struct {
	ID           string
	Initiator    string
	Source       string
	Command      []string
	StartedAt    time.Time
	ExpireAt     time.Time
	AwayDeadline time.Time
	Yes          int
	No           int
	Blank        int

	remaining map[string]*voterState
	away      map[string]struct{}
	manual    map[string]Ballot
}

// Tally is a read-only view of a vote.
type Tally struct {
	ID        string
	Initiator string
	Command   []string
	Yes       int
	No        int
	Blank     int
	Remaining int
	Away      int
	ExpireAt  time.Time
}

type Outcome struct {
	Result    Result
	Initiator string
	Source    string
	Command   []string
	Tally     Tally
	Reason    string
	// AutoAway lists voters converted to blank at expiry.
	AutoAway []string
}

type NoticeKind string

const (
	NoticeRing   NoticeKind = "ring"
	NoticeNotify NoticeKind = "notify"
)

// Notice is a side effect due to one voter (ring or reminder).
type Notice struct {
	Kind    NoticeKind
	Voter   string
	Command []string
}

type Engine struct {
	settings Settings
	current  *Vote
	lastEnd  map[string]time.Time
}

func NewEngine(s Settings) *Engine {
	return &Engine{settings: s, lastEnd: make(map[string]time.Time)}
}

func (e *Engine) Settings() Settings { return e.settings }

func (e *Engine) InProgress() bool { return e.current != nil }

func (e *Engine) Current() (Tally, bool) {
	if e.current == nil {
		return Tally{}, false
	}
	return e.current.tally(), true
}

// Call opens a vote. A call for the command already being voted is counted
// as a yes ballot from the caller instead. voters must already exclude the
// host account; the initiator is dropped from it and pre-counted yes.
func (e *Engine) Call(initiator, source string, command []string, voters []Voter, now time.Time) (*Outcome, error) {
	if v := e.current; v != nil {
		if slices.Equal(v.Command, command) {
			return e.Cast(initiator, Yes, now)
		}
		return nil, ErrVoteInProgress
	}
	if last, ok := e.lastEnd[initiator]; ok && now.Before(last.Add(e.settings.ReCallDelay)) {
		return nil, fmt.Errorf("%w (wait %s)", ErrCooldown, last.Add(e.settings.ReCallDelay).Sub(now).Round(time.Second))
	}

	v := &Vote{
		ID:           uuid.NewString(),
		Initiator:    initiator,
		Source:       source,
		Command:      slices.Clone(command),
		StartedAt:    now,
		ExpireAt:     now.Add(e.settings.Timeout),
		AwayDeadline: now.Add(e.settings.AwayDelay),
		Yes:          1,
		remaining:    make(map[string]*voterState),
		away:         make(map[string]struct{}),
		manual:       map[string]Ballot{initiator: Yes},
	}
	for _, voter := range voters {
		if voter.Name == initiator {
			continue
		}
		st := &voterState{away: voter.Prefs.AwayMode, autoAway: voter.Prefs.AutoAway}
		if voter.Prefs.VoteRingDelay > 0 {
			st.ringAt = now.Add(voter.Prefs.VoteRingDelay)
		}
		if voter.Prefs.VoteNotifyDelay > 0 {
			st.notifyAt = now.Add(voter.Prefs.VoteNotifyDelay)
		}
		v.remaining[voter.Name] = st
	}
	e.current = v
	return e.settle(now), nil
}

// Cast records a ballot. Repeating the same ballot is rejected; a changed
// ballot replaces the previous one.
func (e *Engine) Cast(name string, b Ballot, now time.Time) (*Outcome, error) {
	v := e.current
	if v == nil {
		return nil, ErrNoVote
	}
	if prev, ok := v.manual[name]; ok {
		if prev == b {
			return nil, ErrSameBallot
		}
		v.count(prev, -1)
	} else if _, ok := v.remaining[name]; ok {
		delete(v.remaining, name)
	} else if _, ok := v.away[name]; ok {
		delete(v.away, name)
		v.Blank--
	} else {
		return nil, ErrNotVoter
	}
	v.manual[name] = b
	v.count(b, 1)
	return e.settle(now), nil
}

// Tick fires ring/notify deadlines, converts away voters after the grace
// delay and finalizes the vote on expiry.
func (e *Engine) Tick(now time.Time) ([]Notice, *Outcome) {
	v := e.current
	if v == nil {
		return nil, nil
	}

	var notices []Notice
	for _, name := range v.remainingNames() {
		st := v.remaining[name]
		if !st.ringAt.IsZero() && !now.Before(st.ringAt) {
			notices = append(notices, Notice{Kind: NoticeRing, Voter: name, Command: v.Command})
			st.ringAt = time.Time{}
		}
		if !st.notifyAt.IsZero() && !now.Before(st.notifyAt) {
			notices = append(notices, Notice{Kind: NoticeNotify, Voter: name, Command: v.Command})
			st.notifyAt = time.Time{}
		}
	}

	if !now.Before(v.AwayDeadline) {
		for _, name := range v.remainingNames() {
			if v.remaining[name].away {
				delete(v.remaining, name)
				v.away[name] = struct{}{}
				v.Blank++
			}
		}
		if out := e.settle(now); out != nil {
			return notices, out
		}
	}

	if now.Before(v.ExpireAt) {
		return notices, nil
	}

	var auto []string
	for _, name := range v.remainingNames() {
		if v.remaining[name].autoAway {
			delete(v.remaining, name)
			v.away[name] = struct{}{}
			v.Blank++
			auto = append(auto, name)
		}
	}
	result := Failed
	if v.Yes > v.No && e.participationMet() {
		result = Passed
	}
	out := e.finish(result, now, "vote expired")
	out.AutoAway = auto
	return notices, out
}

// RemoveVoter drops a participant who left the room before voting.
func (e *Engine) RemoveVoter(name string, now time.Time) *Outcome {
	v := e.current
	if v == nil {
		return nil
	}
	if _, ok := v.remaining[name]; !ok {
		return nil
	}
	delete(v.remaining, name)
	return e.settle(now)
}

func (e *Engine) Cancel(reason string, now time.Time) (*Outcome, error) {
	if e.current == nil {
		return nil, ErrNoVote
	}
	return e.finish(Cancelled, now, reason), nil
}

// CancelMatching cancels the current vote if its command satisfies match.
func (e *Engine) CancelMatching(match func(command []string) bool, reason string, now time.Time) *Outcome {
	if e.current == nil || !match(e.current.Command) {
		return nil
	}
	return e.finish(Cancelled, now, reason)
}

// Decided implements the early-decision rule: the leading side can no longer
// be caught once 2*max(yes,no)-1 >= yes+no+remaining, ties never decide.
func Decided(yes, no, remaining int) bool {
	if yes == no {
		return false
	}
	return 2*max(yes, no)-1 >= yes+no+remaining
}

func (e *Engine) settle(now time.Time) *Outcome {
	v := e.current
	if !Decided(v.Yes, v.No, len(v.remaining)) {
		return nil
	}
	if v.No > v.Yes {
		return e.finish(Failed, now, "")
	}
	if !e.participationMet() {
		return nil
	}
	return e.finish(Passed, now, "")
}

// participationMet compares manual ballots with the voters still able to
// cast one. Away blanks are left out so they never hold a vote open.
func (e *Engine) participationMet() bool {
	v := e.current
	total := len(v.manual) + len(v.remaining)
	if total == 0 {
		return true
	}
	return float64(len(v.manual))*100 >= e.settings.MinParticipation*float64(total)
}

func (e *Engine) finish(r Result, now time.Time, reason string) *Outcome {
	v := e.current
	e.current = nil
	e.lastEnd[v.Initiator] = now
	return &Outcome{
		Result:    r,
		Initiator: v.Initiator,
		Source:    v.Source,
		Command:   v.Command,
		Tally:     v.tally(),
		Reason:    reason,
	}
}

func (v *Vote) count(b Ballot, delta int) {
	switch b {
	case Yes:
		v.Yes += delta
	case No:
		v.No += delta
	case Blank:
		v.Blank += delta
	}
}

func (v *Vote) remainingNames() []string {
	names := make([]string, 0, len(v.remaining))
	for n := range v.remaining {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (v *Vote) tally() Tally {
	return Tally{
		ID:        v.ID,
		Initiator: v.Initiator,
		Command:   slices.Clone(v.Command),
		Yes:       v.Yes,
		No:        v.No,
		Blank:     v.Blank,
		Remaining: len(v.remaining),
		Away:      len(v.away),
		ExpireAt:  v.ExpireAt,
	}
}
