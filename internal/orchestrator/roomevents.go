package orchestrator

import (
	"fmt"
	"strings"

	"github.com/DoyleJ11/autohost/internal/engine"
	"github.com/DoyleJ11/autohost/internal/moderation"
	"github.com/DoyleJ11/autohost/internal/plugin"
	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/DoyleJ11/autohost/internal/skill"
	"github.com/DoyleJ11/autohost/internal/transport"
	"go.uber.org/zap"
)

func (o *Orchestrator) handleLobby(ev transport.Event) {
	switch e := ev.(type) {
	case transport.ParticipantJoined:
		o.onJoin(e)
	case transport.ParticipantLeft:
		o.onLeave(e.Name)
	case transport.StatusChanged:
		o.onStatus(e)
	case transport.BotAdded:
		o.onBotAdded(e)
	case transport.BotRemoved:
		o.onLeave(e.Name)
	case transport.RoomClosed:
		o.roster.Clear()
		o.cancelVote("room closed")
		o.lifecycle(engine.Event{Type: engine.EvtRoomClosed})
	case transport.Chat:
		o.onChat(e)
	case transport.Disconnected:
		reason := "connection lost"
		if e.Err != nil {
			reason = e.Err.Error()
		}
		o.logger.Warn("lobby connection lost", zap.String("reason", reason))
		o.dropConnection(reason)
		o.lifecycle(engine.Event{Type: engine.EvtTransportLost, Reason: reason})
		return
	}
	o.autoFix()
}

func (o *Orchestrator) user(name string) User {
	if u, ok := o.cfg.Users[name]; ok {
		return u
	}
	return User{Access: o.cfg.DefaultAccess, Prefs: o.cfg.DefaultPrefs}
}

func (o *Orchestrator) accessOf(name string) int {
	if p, ok := o.roster.Get(name); ok && !p.IsBot() {
		return p.Access
	}
	return o.user(name).Access
}

func identity(p roster.Participant) moderation.Identity {
	return moderation.Identity{Name: p.Name, AccountID: p.AccountID, IP: p.IP, Skill: p.Skill.Value}
}

func (o *Orchestrator) onJoin(e transport.ParticipantJoined) {
	now := o.now()
	u := o.user(e.Name)
	p := roster.Participant{
		Name:      e.Name,
		Kind:      roster.KindHuman,
		AccountID: e.AccountID,
		IP:        e.IP,
		Access:    u.Access,
		Prefs:     u.Prefs,
		Status:    roster.Status{Mode: roster.ModeSpectator},
		Skill:     skill.FromRank(e.Rank),
		JoinedAt:  now,
	}
	if err := o.roster.Join(p); err != nil {
		o.logger.Warn("join ignored", zap.String("name", e.Name), zap.Error(err))
		return
	}
	if !o.enforceBans(p) {
		return
	}
	if o.punishFlood(p, moderation.FloodJoin) {
		return
	}
	if d, _, ok := o.plugins.Dispatch(plugin.Event{Kind: plugin.EventJoin, From: p.Name, Access: p.Access}); ok {
		o.applyDecision(d, p.Name, false)
	}
	o.resolveSkill(p)
}

func (o *Orchestrator) onLeave(name string) {
	if _, err := o.roster.Leave(name); err != nil {
		return
	}
	delete(o.skillTypes, name)
	o.settleVote(o.votes.RemoveVoter(name, o.now()))
}

func (o *Orchestrator) onStatus(e transport.StatusChanged) {
	prev, ok := o.roster.Get(e.Name)
	if !ok {
		return
	}
	if err := o.roster.Update(e.Name, func(p *roster.Participant) {
		p.Status = e.Status
		p.Color = e.Color
	}); err != nil {
		o.logger.Warn("status ignored", zap.String("name", e.Name), zap.Error(err))
		return
	}
	if prev.IsBot() {
		return
	}
	cur, _ := o.roster.Get(e.Name)
	if prev.Status != e.Status && o.punishFlood(cur, moderation.FloodStatus) {
		return
	}
	o.enforceBans(cur)
}

func (o *Orchestrator) onBotAdded(e transport.BotAdded) {
	rank := 0
	if owner, ok := o.roster.Get(e.Owner); ok {
		rank = owner.Skill.Rank
	}
	p := roster.Participant{
		Name:     e.Name,
		Kind:     roster.KindBot,
		Owner:    e.Owner,
		AI:       e.AI,
		Status:   e.Status,
		Color:    e.Color,
		Skill:    skill.ForBot(o.cfg.BotSkill, rank, o.rng),
		JoinedAt: o.now(),
	}
	if err := o.roster.Join(p); err != nil {
		o.logger.Warn("bot ignored", zap.String("name", e.Name), zap.Error(err))
	}
}

// enforceBans applies the ban disposition of p. It returns false when p is
// being kicked.
func (o *Orchestrator) enforceBans(p roster.Participant) bool {
	now := o.now()
	d := o.bans.Evaluate(identity(p), now)
	switch d.Disposition {
	case moderation.Kick:
		o.say(fmt.Sprintf("%s is %s", p.Name, d.Ban.Describe(now)))
		o.push(transport.Kick{Name: p.Name})
		return false
	case moderation.ForceSpectate:
		if p.IsPlayer() {
			o.push(transport.ForceSpectator{Name: p.Name})
			o.sayPrivate(p.Name, "You are "+d.Ban.Describe(now))
		}
	}
	return true
}

// punishFlood counts one event of class for p and reports whether p is
// being removed for flooding.
func (o *Orchestrator) punishFlood(p roster.Participant, class moderation.FloodClass) bool {
	now := o.now()
	switch o.flood.Record(p.Name, class, now) {
	case moderation.FloodKick:
		o.logger.Info("flood kick", zap.String("name", p.Name), zap.String("class", string(class)))
		o.say(fmt.Sprintf("Kicking %s from battle (%s flood)", p.Name, class))
		o.push(transport.Kick{Name: p.Name})
		return true
	case moderation.FloodBan:
		ban, err := o.bans.Add(o.flood.TempBan(identity(p), now), now)
		if err != nil {
			o.logger.Warn("flood ban rejected", zap.String("name", p.Name), zap.Error(err))
		} else {
			o.syncBans()
			o.say(fmt.Sprintf("%s is %s", p.Name, ban.Describe(now)))
		}
		o.push(transport.Kick{Name: p.Name})
		return true
	}
	return false
}

func (o *Orchestrator) onChat(e transport.Chat) {
	if e.From == o.cfg.HostName {
		return
	}
	access := o.accessOf(e.From)
	kind := plugin.EventChat
	source := SourceBattle
	if e.Private {
		kind, source = plugin.EventPrivateMessage, SourcePrivate
	} else if p, ok := o.roster.Get(e.From); ok && o.punishFlood(p, moderation.FloodChat) {
		return
	}

	if d, _, ok := o.plugins.Dispatch(plugin.Event{Kind: kind, From: e.From, Access: access, Text: e.Text}); ok {
		o.applyDecision(d, e.From, e.Private)
		return
	}

	if text, ok := strings.CutPrefix(e.Text, "!"); ok {
		c := Command{Source: source, User: e.From, Access: access, Args: strings.Fields(text)}
		o.replyTo(c, o.runCommand(c))
		return
	}

	if !e.Private && o.state.GameRunning {
		if err := o.game.Send(fmt.Sprintf("<%s> %s", e.From, e.Text)); err != nil {
			o.logger.Debug("relay chat to game", zap.Error(err))
		}
	}
}

// applyDecision carries out a plugin's answer to an event from user.
func (o *Orchestrator) applyDecision(d plugin.Decision, user string, private bool) {
	if d.Reply != "" {
		if private || d.ReplyPrivate {
			o.sayPrivate(user, d.Reply)
		} else {
			o.say(d.Reply)
		}
	}
	if d.Kick != "" {
		o.push(transport.Kick{Name: d.Kick})
	}
	if d.Err != nil {
		o.sayPrivate(user, d.Err.Error())
	}
}
