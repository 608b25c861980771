package orchestrator

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/DoyleJ11/autohost/internal/transport"
	"github.com/DoyleJ11/autohost/internal/vote"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// cmdCallVote opens a vote for the command in c.Args[1:] after checking the
// command could run now.
func (o *Orchestrator) cmdCallVote(c Command, check bool) (string, error) {
	if err := argsAtLeast(c, 1); err != nil {
		return "", err
	}
	name, levels, ok := o.lookup(c.Args[1])
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, c.Args[1])
	}
	if levels.VoteLevel == NoVote {
		return "", fmt.Errorf("%w: %s", ErrNotVotable, name)
	}
	if c.Access < levels.VoteLevel {
		return "", ErrAccessDenied
	}
	target := Command{Source: c.Source, User: c.User, Access: c.Access, Args: slices.Clone(c.Args[1:])}
	target.Args[0] = name
	if res := o.execute(target, true); res.Err != nil {
		return "", res.Err
	}
	if check {
		return "", nil
	}

	now := o.now()
	running := o.votes.InProgress()
	out, err := o.votes.Call(c.User, string(c.Source), target.Args, o.voters(levels.VoteLevel, c.User), now)
	if err != nil {
		return "", err
	}
	if !running {
		t, _ := o.votes.Current()
		if out == nil {
			o.say(fmt.Sprintf("%s called a vote for command %q [!vote y, !vote n, !vote b], expires %s",
				c.User, strings.Join(target.Args, " "), humanize.RelTime(t.ExpireAt, now, "ago", "from now")))
		}
		o.logger.Info("vote called", zap.String("initiator", c.User), zap.Strings("command", target.Args), zap.String("id", t.ID))
	}
	o.settleVote(out)
	return "", nil
}

func (o *Orchestrator) cmdVote(c Command, check bool) (string, error) {
	if err := argsAtLeast(c, 1); err != nil {
		return "", err
	}
	b, err := vote.ParseBallot(c.Args[1])
	if err != nil {
		return "", err
	}
	if !o.votes.InProgress() {
		return "", vote.ErrNoVote
	}
	if check {
		return "", nil
	}
	out, err := o.votes.Cast(c.User, b, o.now())
	if err != nil {
		return "", err
	}
	o.settleVote(out)
	return "", nil
}

func (o *Orchestrator) cmdEndVote(c Command, check bool) (string, error) {
	if !o.votes.InProgress() {
		return "", vote.ErrNoVote
	}
	if check {
		return "", nil
	}
	out, err := o.votes.Cancel("cancelled by "+c.User, o.now())
	if err != nil {
		return "", err
	}
	o.settleVote(out)
	return "", nil
}

// voters lists the humans allowed to vote at level, minus the host and the
// initiator.
func (o *Orchestrator) voters(level int, initiator string) []vote.Voter {
	var out []vote.Voter
	for _, p := range o.roster.Humans() {
		if p.Name == o.cfg.HostName || p.Name == initiator || p.Access < level {
			continue
		}
		out = append(out, vote.Voter{Name: p.Name, Prefs: p.Prefs})
	}
	return out
}

// settleVote announces a finished vote and runs a passed command as its
// initiator.
func (o *Orchestrator) settleVote(out *vote.Outcome) {
	if out == nil {
		return
	}
	cmd := strings.Join(out.Command, " ")
	o.logger.Info("vote finished",
		zap.String("result", string(out.Result)),
		zap.Strings("command", out.Command),
		zap.Int("yes", out.Tally.Yes),
		zap.Int("no", out.Tally.No),
		zap.Int("blank", out.Tally.Blank),
		zap.Strings("autoAway", out.AutoAway))

	switch out.Result {
	case vote.Failed:
		o.say(fmt.Sprintf("Vote for command %q failed.", cmd))
	case vote.Cancelled:
		o.say(fmt.Sprintf("Vote for command %q cancelled (%s).", cmd, out.Reason))
	case vote.Passed:
		o.say(fmt.Sprintf("Vote for command %q passed.", cmd))
		c := Command{Source: Source(out.Source), User: out.Initiator, Access: o.accessOf(out.Initiator), Args: out.Command}
		res := o.execute(c, false)
		switch {
		case res.Err != nil:
			o.say(fmt.Sprintf("Command %q failed: %v", cmd, res.Err))
		case res.Reply != "":
			o.say(res.Reply)
		}
		o.autoFix()
	}
}

// cancelVote drops the current vote, if any.
func (o *Orchestrator) cancelVote(reason string) {
	out, err := o.votes.Cancel(reason, o.now())
	if errors.Is(err, vote.ErrNoVote) {
		return
	}
	o.settleVote(out)
}

// cancelVotesFor cancels the current vote when it is for one of names.
func (o *Orchestrator) cancelVotesFor(reason string, names ...string) {
	match := func(command []string) bool {
		return len(command) > 0 && slices.Contains(names, command[0])
	}
	o.settleVote(o.votes.CancelMatching(match, reason, o.now()))
}

func (o *Orchestrator) notice(n vote.Notice) {
	switch n.Kind {
	case vote.NoticeRing:
		o.push(transport.Ring{Name: n.Voter})
	case vote.NoticeNotify:
		o.sayPrivate(n.Voter, fmt.Sprintf("Vote in progress for command %q [!vote y, !vote n, !vote b]", strings.Join(n.Command, " ")))
	}
}
