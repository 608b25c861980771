package orchestrator

import (
	"context"

	"github.com/DoyleJ11/autohost/internal/balance"
	"github.com/DoyleJ11/autohost/internal/plugin"
	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/DoyleJ11/autohost/internal/skill"
	"go.uber.org/zap"
)

type skillDone struct {
	name      string
	accountID string
	gameType  skill.GameType
	result    skill.Result
	err       error
}

func (skillDone) isOrchestratorMsg() {}

// gameType classifies the battle the current players would make.
func (o *Orchestrator) gameType() skill.GameType {
	st := balance.Shape(len(o.roster.Players()), o.policy)
	return skill.TypeFor(st.NbTeams, st.TeamSize)
}

// resolveSkill upgrades the rank skill of p: from the cache, then from a
// plugin, then through an off-loop lookup whose answer arrives as skillDone.
func (o *Orchestrator) resolveSkill(p roster.Participant) {
	if p.IsBot() || p.AccountID == "" {
		return
	}
	gt := o.gameType()
	o.skillTypes[p.Name] = gt
	if s, ok := o.skills.Get(gt, p.AccountID); ok {
		o.setSkill(p.Name, s)
		return
	}
	d, _, ok := o.plugins.Dispatch(plugin.Event{Kind: plugin.EventSkill, From: p.Name, AccountID: p.AccountID, GameType: gt})
	if ok && d.Skill != nil {
		s := *d.Skill
		s.Rank, s.RankOrigin = p.Skill.Rank, p.Skill.RankOrigin
		o.skills.Put(gt, p.AccountID, s)
		o.setSkill(p.Name, s)
		return
	}
	if o.provider == nil {
		return
	}
	name, account := p.Name, p.AccountID
	go func() {
		ctx, cancel := context.WithTimeout(o.ctx, o.cfg.SkillTimeout)
		defer cancel()
		res, err := o.provider.RequestSkill(ctx, account, gt)
		o.Post(skillDone{name: name, accountID: account, gameType: gt, result: res, err: err})
	}()
}

// refreshSkills re-resolves seated accounts whose skill was resolved for
// another game type than the one the players now make, since rated skill
// is per game type.
func (o *Orchestrator) refreshSkills() {
	gt := o.gameType()
	changed := 0
	for _, p := range o.roster.Players() {
		if p.IsBot() || p.AccountID == "" || o.skillTypes[p.Name] == gt {
			continue
		}
		if p.Skill.Origin != roster.OriginRank {
			rank := skill.FromRank(p.Skill.Rank)
			rank.RankOrigin = p.Skill.RankOrigin
			o.setSkill(p.Name, rank)
			p.Skill = rank
		}
		o.resolveSkill(p)
		changed++
	}
	if changed > 0 {
		o.logger.Debug("skills re-resolved", zap.String("gameType", string(gt)), zap.Int("players", changed))
		o.autoFix()
	}
}

func (o *Orchestrator) onSkillDone(msg skillDone) {
	p, ok := o.roster.Get(msg.name)
	if !ok || p.AccountID != msg.accountID {
		return
	}
	if msg.gameType != o.gameType() {
		if msg.err == nil {
			o.skills.Put(msg.gameType, msg.accountID, rated(msg.result, p.Skill))
		}
		o.logger.Debug("stale skill result dropped", zap.String("name", p.Name), zap.String("gameType", string(msg.gameType)))
		return
	}
	if msg.err != nil {
		o.logger.Warn("skill lookup failed, keeping rank skill", zap.String("name", p.Name), zap.Error(msg.err))
		o.setSkill(p.Name, skill.Degrade(p.Skill, roster.OriginRated))
		return
	}
	s := rated(msg.result, p.Skill)
	o.skills.Put(msg.gameType, msg.accountID, s)
	o.setSkill(p.Name, s)
	o.autoFix()
}

func rated(res skill.Result, current roster.Skill) roster.Skill {
	return roster.Skill{
		Value:      res.Value,
		Sigma:      res.Sigma,
		Origin:     roster.OriginRated,
		Rank:       current.Rank,
		RankOrigin: current.RankOrigin,
	}
}

func (o *Orchestrator) setSkill(name string, s roster.Skill) {
	if err := o.roster.Update(name, func(p *roster.Participant) { p.Skill = s }); err != nil {
		o.logger.Warn("skill not applied", zap.String("name", name), zap.Error(err))
	}
}
