package orchestrator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/DoyleJ11/autohost/internal/balance"
	"github.com/DoyleJ11/autohost/internal/colors"
	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/DoyleJ11/autohost/internal/transport"
	"go.uber.org/zap"
)

// balanceTarget is the last computed split. key captures every input of the
// computation; a different key means the target is stale.
type balanceTarget struct {
	key string
	res balance.Result
}

// colorTarget maps color identities to their wanted color. members lists the
// participants of each identity.
type colorTarget struct {
	key     string
	target  map[string]roster.Color
	members map[string][]string
}

func (o *Orchestrator) invalidateTargets() {
	o.balanceCache = balanceTarget{}
	o.colorCache = colorTarget{}
	o.autoBalanced, o.autoColored = "", ""
}

func (o *Orchestrator) balanceEntities() []balance.Entity {
	input := o.roster.BalanceInput()
	ents := make([]balance.Entity, 0, len(input))
	for _, p := range input {
		preferred := -1
		if o.policy.IDShare == balance.IDShareManual {
			preferred = p.Status.ID
		}
		ents = append(ents, balance.Entity{
			Name:        p.Name,
			Skill:       p.Skill.Value,
			Clan:        p.Clan,
			Bot:         p.IsBot(),
			PreferredID: preferred,
		})
	}
	return ents
}

func (o *Orchestrator) currentAssignments() map[string]balance.Assignment {
	out := make(map[string]balance.Assignment)
	for _, p := range o.roster.BalanceInput() {
		out[p.Name] = balance.Assignment{ID: p.Status.ID, Ally: p.Status.Ally}
	}
	return out
}

func (o *Orchestrator) balanceTarget() balance.Result {
	ents := o.balanceEntities()
	key := fmt.Sprintf("%v|%+v|%d", ents, o.policy, o.seed)
	if key != o.balanceCache.key {
		res := balance.Balance(ents, o.policy, o.seed)
		if res.Structure.Degraded {
			o.logger.Warn("balance degraded", zap.Int("entities", len(ents)), zap.Int("teams", res.Structure.NbTeams))
		}
		o.balanceCache = balanceTarget{key: key, res: res}
	}
	return o.balanceCache.res
}

func (o *Orchestrator) balanceApplied() bool {
	return balance.Applied(o.balanceTarget(), o.currentAssignments())
}

// applyBalance queues the status corrections towards res and returns how
// many were needed.
func (o *Orchestrator) applyBalance(res balance.Result) int {
	fixes := balance.Corrections(res, o.currentAssignments())
	for _, f := range fixes {
		o.push(transport.SetStatus{Name: f.Name, ID: f.To.ID, Ally: f.To.Ally})
	}
	return len(fixes)
}

func (o *Orchestrator) balanceNow() string {
	res := o.balanceTarget()
	o.autoBalanced = o.balanceCache.key
	if len(res.Targets) == 0 {
		return "Nothing to balance"
	}
	n := o.applyBalance(res)
	st := res.Structure
	var msg string
	if n == 0 {
		msg = fmt.Sprintf("Teams are already balanced (%d teams of %d)", st.NbTeams, st.TeamSize)
	} else {
		msg = fmt.Sprintf("Balancing %d players into %d teams of %d", len(res.Targets), st.NbTeams, st.TeamSize)
	}
	if strings.Contains(string(o.policy.Mode), "skill") {
		msg += fmt.Sprintf(" (%.1f%% unbalance)", res.Unbalance)
	}
	return msg
}

// colorIdentities groups players sharing an id into one identity "id:N";
// everyone else is their own identity. The current color of a shared id is
// the color of its first member by name.
func (o *Orchestrator) colorIdentities() (map[string]roster.Color, map[string][]string) {
	byID := make(map[int][]roster.Participant)
	for _, p := range o.roster.Players() {
		byID[p.Status.ID] = append(byID[p.Status.ID], p)
	}
	current := make(map[string]roster.Color)
	members := make(map[string][]string)
	for id, ps := range byID {
		if len(ps) == 1 {
			current[ps[0].Name] = ps[0].Color
			members[ps[0].Name] = []string{ps[0].Name}
			continue
		}
		key := "id:" + strconv.Itoa(id)
		current[key] = ps[0].Color
		for _, p := range ps {
			members[key] = append(members[key], p.Name)
		}
	}
	return current, members
}

func (o *Orchestrator) colorTarget() colorTarget {
	current, members := o.colorIdentities()
	key := fmt.Sprintf("%v|%v|%g|%d", sortedColors(current), sortedMembers(members), o.cfg.ColorSensitivity, o.seed)
	if key != o.colorCache.key {
		o.colorCache = colorTarget{
			key:     key,
			target:  colors.Assign(current, o.cfg.ColorSensitivity, o.seed),
			members: members,
		}
	}
	return o.colorCache
}

// colorsApplied reports whether every member of every identity shows the
// identity's target color.
func (o *Orchestrator) colorsApplied() bool {
	return o.colorFixes(o.colorTarget()) == nil
}

func (o *Orchestrator) colorFixes(t colorTarget) []transport.SetColor {
	var out []transport.SetColor
	for id, want := range t.target {
		for _, name := range t.members[id] {
			if p, ok := o.roster.Get(name); ok && p.Color != want {
				out = append(out, transport.SetColor{Name: name, Color: want})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (o *Orchestrator) applyColors(t colorTarget) int {
	fixes := o.colorFixes(t)
	for _, f := range fixes {
		o.push(f)
	}
	return len(fixes)
}

// autoFix issues corrections once per target when auto balance or auto color
// fixing is on. Corrections are not repeated for an unchanged target while
// the room catches up.
func (o *Orchestrator) autoFix() {
	if !o.state.RoomOpen() || o.state.GameRunning {
		return
	}
	if o.cfg.AutoBalance {
		res := o.balanceTarget()
		if key := o.balanceCache.key; key != o.autoBalanced {
			o.autoBalanced = key
			if n := o.applyBalance(res); n > 0 {
				o.logger.Debug("auto balance", zap.Int("corrections", n))
			}
		}
	}
	if o.cfg.AutoFixColors {
		t := o.colorTarget()
		if t.key != o.autoColored {
			o.autoColored = t.key
			if n := o.applyColors(t); n > 0 {
				o.logger.Debug("auto color fix", zap.Int("corrections", n))
			}
		}
	}
}

func sortedColors(m map[string]roster.Color) []string {
	out := make([]string, 0, len(m))
	for id, c := range m {
		out = append(out, id+"="+colors.Hex(c))
	}
	sort.Strings(out)
	return out
}

func sortedMembers(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for id, names := range m {
		out = append(out, id+"="+strings.Join(names, ","))
	}
	sort.Strings(out)
	return out
}
