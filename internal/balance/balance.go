// Package balance splits a roster into teams and control ids.
//
// Balance is a pure function: it never touches the live roster. It returns a
// Result the caller compares against the room (Applied) and diff-applies
// (Corrections). All randomness comes from the seed argument, so a fixed seed
// reproduces the same split for an unchanged input.
package balance

import (
	"math"
	"math/rand"
	"sort"
	"strconv"
)

// MaxIDs is the number of control ids the engine supports.
const MaxIDs = 16

type Mode string

const (
	ModeRandom     Mode = "random"
	ModeSkill      Mode = "skill"
	ModeClanRandom Mode = "clan;random"
	ModeClanSkill  Mode = "clan;skill"
)

func (m Mode) skillAware() bool { return m == ModeSkill || m == ModeClanSkill }
func (m Mode) clanAware() bool  { return m == ModeClanRandom || m == ModeClanSkill }

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeRandom, ModeSkill, ModeClanRandom, ModeClanSkill:
		return true
	}
	return false
}

// IDShare controls how members of one team are grouped onto control ids.
type IDShare string

const (
	IDShareAuto   IDShare = "auto"
	IDShareOff    IDShare = "off"
	IDShareManual IDShare = "manual"
	IDShareClan   IDShare = "clan"
	IDShareAll    IDShare = "all"
)

func (s IDShare) Valid() bool {
	switch s {
	case IDShareAuto, IDShareOff, IDShareManual, IDShareClan, IDShareAll:
		return true
	}
	return false
}

type Policy struct {
	Mode         Mode
	NbTeams      int
	MinTeamSize  int
	NbPlayerByID int
	IDShare      IDShare
}

// Entity is one participant or bot as seen by the balancer.
// PreferredID is only read in manual id-share mode; negative means none.
type Entity struct {
	Name        string
	Skill       float64
	Clan        string
	Bot         bool
	PreferredID int
}

type Structure struct {
	NbTeams    int
	TeamSize   int
	IDsPerTeam int
	Degraded   bool
}

type Assignment struct {
	ID   int
	Ally int
}

type Result struct {
	Structure  Structure
	Targets    map[string]Assignment
	Teams      [][]string
	TeamSkills []float64
	Unbalance  float64
	Seed       int64
}

// Shape derives the battle structure for n entities. Below MinTeamSize per
// team the team count shrinks (never below two) and ids are clamped to MaxIDs.
func Shape(n int, p Policy) Structure {
	teams := max(p.NbTeams, 1)
	perID := max(p.NbPlayerByID, 1)

	if teams == 1 {
		st := Structure{NbTeams: 1, TeamSize: n, IDsPerTeam: max(ceilDiv(n, perID), 1)}
		if st.IDsPerTeam > MaxIDs {
			st.IDsPerTeam = MaxIDs
			st.Degraded = true
		}
		return st
	}

	minSize := max(p.MinTeamSize, 1)
	for teams > 2 && n < teams*minSize {
		teams--
	}
	if n < teams {
		teams = max(n, 1)
	}
	st := Structure{NbTeams: teams, TeamSize: ceilDiv(n, teams)}
	st.IDsPerTeam = max(ceilDiv(st.TeamSize, perID), 1)
	if teams*st.IDsPerTeam > MaxIDs {
		st.IDsPerTeam = max(MaxIDs/teams, 1)
		st.Degraded = true
	}
	return st
}

// teamGroup is the in-progress subdivision used during one pass.
type teamGroup struct {
	free    int
	skill   float64
	members []Entity
}

func (g *teamGroup) add(e Entity) {
	g.members = append(g.members, e)
	g.skill += e.Skill
	g.free--
}

func newGroups(nb, n int) []*teamGroup {
	groups := make([]*teamGroup, nb)
	base, extra := n/nb, n%nb
	for i := range groups {
		size := base
		if i < extra {
			size++
		}
		groups[i] = &teamGroup{free: size}
	}
	return groups
}

// Balance computes target ids and ally groups for entities.
func Balance(entities []Entity, p Policy, seed int64) Result {
	rng := rand.New(rand.NewSource(seed))

	ents := make([]Entity, len(entities))
	copy(ents, entities)
	sort.Slice(ents, func(i, j int) bool { return ents[i].Name < ents[j].Name })

	st := Shape(len(ents), p)
	res := Result{Structure: st, Targets: make(map[string]Assignment, len(ents)), Seed: seed}
	if len(ents) == 0 {
		return res
	}

	groups := newGroups(st.NbTeams, len(ents))
	if st.NbTeams == 1 {
		for _, e := range ents {
			groups[0].add(e)
		}
	} else {
		pool := ents
		if p.Mode.clanAware() {
			pool = placeClans(groups, pool, p.Mode.skillAware(), rng)
		}
		if p.Mode.skillAware() {
			placeBySkill(groups, pool, rng)
		} else {
			placeRandom(groups, pool, rng)
		}
	}

	if assignIDs(&res, groups, p, rng) {
		res.Structure.Degraded = true
	}

	res.Teams = make([][]string, len(groups))
	res.TeamSkills = make([]float64, len(groups))
	for i, g := range groups {
		names := make([]string, 0, len(g.members))
		for _, m := range g.members {
			names = append(names, m.Name)
		}
		sort.Strings(names)
		res.Teams[i] = names
		res.TeamSkills[i] = g.skill
	}
	if p.Mode.skillAware() {
		res.Unbalance = Unbalance(res.TeamSkills)
	}
	return res
}

// Unbalance is the population standard deviation of team skill sums as a
// percentage of the average team skill.
func Unbalance(sums []float64) float64 {
	if len(sums) < 2 {
		return 0
	}
	var total float64
	for _, s := range sums {
		total += s
	}
	avg := total / float64(len(sums))
	if avg == 0 {
		return 0
	}
	var variance float64
	for _, s := range sums {
		variance += (s - avg) * (s - avg)
	}
	variance /= float64(len(sums))
	return math.Sqrt(variance) / avg * 100
}

// bySkill orders entities by descending skill; entities of equal skill are
// shuffled with rng so ties do not always favor the same names.
func bySkill(ents []Entity, rng *rand.Rand) []Entity {
	out := make([]Entity, len(ents))
	copy(out, ents)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Skill > out[j].Skill })
	for start := 0; start < len(out); {
		end := start + 1
		for end < len(out) && out[end].Skill == out[start].Skill {
			end++
		}
		bucket := out[start:end]
		rng.Shuffle(len(bucket), func(i, j int) { bucket[i], bucket[j] = bucket[j], bucket[i] })
		start = end
	}
	return out
}

func placeBySkill(groups []*teamGroup, pool []Entity, rng *rand.Rand) {
	var total float64
	for _, g := range groups {
		total += g.skill
	}
	for _, e := range pool {
		total += e.Skill
	}
	target := total / float64(len(groups))

	for _, e := range bySkill(pool, rng) {
		var candidates []*teamGroup
		bestDeficit := math.Inf(-1)
		for _, g := range groups {
			if g.free <= 0 {
				continue
			}
			deficit := target - g.skill
			switch {
			case deficit > bestDeficit:
				bestDeficit = deficit
				candidates = []*teamGroup{g}
			case deficit == bestDeficit:
				candidates = append(candidates, g)
			}
		}
		if len(candidates) == 0 {
			mostFree(groups).add(e)
			continue
		}
		candidates[rng.Intn(len(candidates))].add(e)
	}
}

func placeRandom(groups []*teamGroup, pool []Entity, rng *rand.Rand) {
	shuffled := make([]Entity, len(pool))
	copy(shuffled, pool)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	for _, e := range shuffled {
		mostFree(groups).add(e)
	}
}

func mostFree(groups []*teamGroup) *teamGroup {
	best := groups[0]
	for _, g := range groups[1:] {
		if g.free > best.free {
			best = g
		}
	}
	return best
}

// placeClans assigns whole clans first and returns the entities still to place.
func placeClans(groups []*teamGroup, pool []Entity, skillAware bool, rng *rand.Rand) []Entity {
	byClan := make(map[string][]Entity)
	var rest []Entity
	for _, e := range pool {
		if e.Clan == "" || e.Bot {
			rest = append(rest, e)
			continue
		}
		byClan[e.Clan] = append(byClan[e.Clan], e)
	}

	keys := make([]string, 0, len(byClan))
	for k, members := range byClan {
		if len(members) < 2 {
			rest = append(rest, members...)
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	sort.SliceStable(keys, func(i, j int) bool { return len(byClan[keys[i]]) > len(byClan[keys[j]]) })

	for _, k := range keys {
		members := bySkill(byClan[k], rng)
		for len(members) > 0 {
			var g *teamGroup
			if skillAware {
				g = weakestFitting(groups, len(members))
			} else if mf := mostFree(groups); mf.free >= len(members) {
				g = mf
			}
			if g != nil {
				for _, m := range members {
					g.add(m)
				}
				break
			}
			// fits nowhere whole: split over the roomiest team
			g = mostFree(groups)
			if g.free <= 0 {
				rest = append(rest, members...)
				break
			}
			n := g.free
			for _, m := range members[:n] {
				g.add(m)
			}
			members = members[n:]
		}
	}
	return rest
}

func weakestFitting(groups []*teamGroup, size int) *teamGroup {
	var best *teamGroup
	for _, g := range groups {
		if g.free < size {
			continue
		}
		if best == nil || g.skill < best.skill {
			best = g
		}
	}
	return best
}

// assignIDs fills res.Targets and reports whether more ids were needed than
// MaxIDs. Over budget, each team keeps its share of ids and the surplus
// groups join the least filled id of their own team, so an id never spans
// two ally groups.
func assignIDs(res *Result, groups []*teamGroup, p Policy, rng *rand.Rand) bool {
	subs := make([][][]Entity, len(groups))
	need := make([]int, len(groups))
	total := 0
	for ally, g := range groups {
		for _, sub := range splitIDs(g.members, res.Structure.IDsPerTeam, p, rng) {
			if len(sub) > 0 {
				subs[ally] = append(subs[ally], sub)
			}
		}
		need[ally] = len(subs[ally])
		total += need[ally]
	}

	quota := need
	degraded := total > MaxIDs
	if degraded {
		quota = idQuota(need)
	}

	next := 0
	for ally, teamSubs := range subs {
		filled := make([]int, quota[ally])
		for i, sub := range teamSubs {
			slot := i
			if i >= len(filled) {
				slot = leastFilled(filled)
			}
			filled[slot] += len(sub)
			for _, e := range sub {
				res.Targets[e.Name] = Assignment{ID: next + slot, Ally: ally}
			}
		}
		next += quota[ally]
	}
	return degraded
}

// idQuota shares MaxIDs between teams round robin, never giving a team more
// ids than it asked for.
func idQuota(need []int) []int {
	out := make([]int, len(need))
	left := MaxIDs
	for progress := true; progress && left > 0; {
		progress = false
		for i := range need {
			if left > 0 && out[i] < need[i] {
				out[i]++
				left--
				progress = true
			}
		}
	}
	return out
}

func leastFilled(filled []int) int {
	best := 0
	for i, n := range filled {
		if n < filled[best] {
			best = i
		}
	}
	return best
}

func splitIDs(members []Entity, idsPerTeam int, p Policy, rng *rand.Rand) [][]Entity {
	var humans []Entity
	var out [][]Entity
	for _, m := range members {
		if m.Bot {
			out = append(out, []Entity{m})
			continue
		}
		humans = append(humans, m)
	}
	sort.Slice(humans, func(i, j int) bool { return humans[i].Name < humans[j].Name })
	if len(humans) == 0 {
		return out
	}

	switch p.IDShare {
	case IDShareAll:
		return append([][]Entity{humans}, out...)
	case IDShareOff:
		return append(singles(humans), out...)
	case IDShareClan:
		return append(groupBy(humans, func(e Entity) (string, bool) { return e.Clan, e.Clan != "" }), out...)
	case IDShareManual:
		return append(groupBy(humans, func(e Entity) (string, bool) {
			return strconv.Itoa(e.PreferredID), e.PreferredID >= 0
		}), out...)
	}

	if idsPerTeam >= len(humans) {
		return append(singles(humans), out...)
	}
	sub := newGroups(idsPerTeam, len(humans))
	if p.Mode.skillAware() {
		placeBySkill(sub, humans, rng)
	} else {
		placeRandom(sub, humans, rng)
	}
	for _, g := range sub {
		out = append(out, g.members)
	}
	return out
}

func singles(ents []Entity) [][]Entity {
	out := make([][]Entity, 0, len(ents))
	for _, e := range ents {
		out = append(out, []Entity{e})
	}
	return out
}

// groupBy buckets entities sharing a key; entities without a key stay alone.
func groupBy(ents []Entity, key func(Entity) (string, bool)) [][]Entity {
	index := make(map[string]int)
	var out [][]Entity
	for _, e := range ents {
		k, ok := key(e)
		if !ok {
			out = append(out, []Entity{e})
			continue
		}
		if i, seen := index[k]; seen {
			out[i] = append(out[i], e)
			continue
		}
		index[k] = len(out)
		out = append(out, []Entity{e})
	}
	return out
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
