package orchestrator

import (
	"reflect"
	"slices"

	"github.com/DoyleJ11/autohost/internal/colors"
	"github.com/DoyleJ11/autohost/pkg/types"
)

func (o *Orchestrator) snapshot() types.Snapshot {
	snap := types.Snapshot{
		Phase:       string(o.state.Phase),
		GameRunning: o.state.GameRunning,
		Map:         o.currentMap,
		Mod:         o.cfg.Room.Mod,
		Scheduled:   o.scheduled,
		Bans:        len(o.bans.List()),
	}
	for _, p := range o.roster.All() {
		snap.Participants = append(snap.Participants, types.Participant{
			Name:        p.Name,
			Kind:        string(p.Kind),
			Owner:       p.Owner,
			Mode:        string(p.Status.Mode),
			ID:          p.Status.ID,
			Ally:        p.Status.Ally,
			Ready:       p.Status.Ready,
			Sync:        p.Status.Sync,
			Color:       colors.Hex(p.Color),
			Skill:       p.Skill.Value,
			SkillOrigin: string(p.Skill.Origin),
		})
	}
	if o.state.RoomOpen() {
		snap.Balanced = o.balanceApplied()
		snap.Unbalance = o.balanceTarget().Unbalance
		snap.ColorsFixed = o.colorsApplied()
	}
	if t, ok := o.votes.Current(); ok {
		snap.Vote = &types.Vote{
			ID:        t.ID,
			Initiator: t.Initiator,
			Command:   slices.Clone(t.Command),
			Yes:       t.Yes,
			No:        t.No,
			Blank:     t.Blank,
			Remaining: t.Remaining,
			ExpiresAt: t.ExpireAt,
		}
	}
	return snap
}

// publish hands a new version to the publisher when anything visible
// changed since the last one.
func (o *Orchestrator) publish() {
	if o.publisher == nil {
		return
	}
	snap := o.snapshot()
	if o.lastPublished != nil && reflect.DeepEqual(*o.lastPublished, snap) {
		return
	}
	o.lastPublished = &snap
	o.version++
	out := snap
	out.Version = o.version
	o.publisher.Publish(out)
}

func (o *Orchestrator) view() View {
	v := View{
		Version:     o.version,
		Lifecycle:   o.state,
		Scheduled:   o.scheduled,
		Bans:        o.bans.List(),
		Map:         o.currentMap,
		GamesPlayed: o.gamesPlayed,
		Seed:        o.seed,
		Policy:      o.policy,
	}
	v.Participants = o.roster.All()
	v.QueuedRoom, v.QueuedPrivate = o.queue.Len()
	if t, ok := o.votes.Current(); ok {
		v.Vote = &t
	}
	if o.state.RoomOpen() {
		v.Balanced = o.balanceApplied()
		v.ColorsFixed = o.colorsApplied()
	}
	return v
}

func (o *Orchestrator) syncBans() {
	if o.banSink != nil {
		o.banSink.Submit(o.bans.List())
	}
}
