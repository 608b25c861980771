package orchestrator

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/DoyleJ11/autohost/internal/engine"
	"github.com/DoyleJ11/autohost/internal/process"
	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// matchState is what the loop tracks about the running game.
type matchState struct {
	id        string
	startedAt time.Time
	defeated  []string
	winners   []int
}

type asyncDone struct {
	result process.Result
}

func (asyncDone) isOrchestratorMsg() {}

// launch starts the game once the room is in order. force skips the
// readiness, start position and target checks.
func (o *Orchestrator) launch(force, check bool) (string, error) {
	if err := o.requireIdle(); err != nil {
		return "", err
	}
	players := o.roster.Players()
	if len(players) == 0 {
		return "", ErrNoPlayers
	}
	if !force {
		if unready := o.roster.Unready(); len(unready) > 0 {
			return "", fmt.Errorf("%w: %s", ErrNotReady, strings.Join(unready, ", "))
		}
		if need, have := o.startPositions(players); have > 0 && need > have {
			return "", fmt.Errorf("%w: %d needed, map has %d", ErrStartPositions, need, have)
		}
		if o.cfg.AutoBalance && !o.balanceApplied() {
			return "", ErrNotBalanced
		}
		if o.cfg.AutoFixColors && !o.colorsApplied() {
			return "", ErrColorsNotFixed
		}
	}
	if check {
		return "", nil
	}

	id := uuid.NewString()
	pid, err := o.game.Launch(o.startScript(id), o.cfg.WorkDir)
	if err != nil {
		o.alert("Failed to launch game: "+err.Error(), zap.Error(err))
		return "", err
	}
	o.lifecycle(engine.Event{Type: engine.EvtGameStarted})
	o.match = matchState{id: id, startedAt: o.now()}
	o.logger.Info("game launched", zap.Int("pid", pid), zap.String("gameId", id), zap.Bool("forced", force))
	o.cancelVotesFor("game started", "start", "forceStart")
	return "Starting game", nil
}

// startPositions returns how many positions the players need (one per ally
// group) and how many the current map offers.
func (o *Orchestrator) startPositions(players []roster.Participant) (need, have int) {
	allies := make(map[int]struct{})
	for _, p := range players {
		allies[p.Status.Ally] = struct{}{}
	}
	if m, err := o.archives.Map(o.currentMap); err == nil {
		have = m.StartPositions
	}
	return len(allies), have
}

// startScript renders the script handed to the game binary. Ids and ally
// groups are renumbered to be contiguous.
func (o *Orchestrator) startScript(gameID string) string {
	all := o.roster.All()
	players := o.roster.Players()
	ids := distinct(players, func(p roster.Participant) int { return p.Status.ID })
	allies := distinct(players, func(p roster.Participant) int { return p.Status.Ally })

	var humans, bots []roster.Participant
	for _, p := range all {
		if p.IsBot() {
			bots = append(bots, p)
		} else {
			humans = append(humans, p)
		}
	}
	playerIndex := make(map[string]int, len(humans))
	for i, p := range humans {
		playerIndex[p.Name] = i
	}

	var b strings.Builder
	b.WriteString("[GAME]\n{\n")
	fmt.Fprintf(&b, "\tGameID=%s;\n", gameID)
	fmt.Fprintf(&b, "\tMapName=%s;\n", o.currentMap)
	fmt.Fprintf(&b, "\tGameType=%s;\n", o.cfg.Room.Mod)
	fmt.Fprintf(&b, "\tHostPort=%d;\n", o.cfg.Room.Port)
	b.WriteString("\tIsHost=1;\n")
	fmt.Fprintf(&b, "\tMyPlayerName=%s;\n", o.cfg.HostName)
	fmt.Fprintf(&b, "\tNumPlayers=%d;\n", len(humans))
	fmt.Fprintf(&b, "\tNumTeams=%d;\n", len(ids))
	fmt.Fprintf(&b, "\tNumAllyTeams=%d;\n", len(allies))

	for i, p := range humans {
		fmt.Fprintf(&b, "\t[PLAYER%d]\n\t{\n", i)
		fmt.Fprintf(&b, "\t\tName=%s;\n", p.Name)
		if p.AccountID != "" {
			fmt.Fprintf(&b, "\t\tAccountId=%s;\n", p.AccountID)
		}
		if p.IsPlayer() {
			fmt.Fprintf(&b, "\t\tTeam=%d;\n\t\tSpectator=0;\n", slices.Index(ids, p.Status.ID))
		} else {
			b.WriteString("\t\tSpectator=1;\n")
		}
		fmt.Fprintf(&b, "\t\tRank=%d;\n\t\tSkill=%.2f;\n\t}\n", p.Skill.Rank, p.Skill.Value)
	}
	for i, p := range bots {
		fmt.Fprintf(&b, "\t[AI%d]\n\t{\n", i)
		fmt.Fprintf(&b, "\t\tName=%s;\n\t\tShortName=%s;\n", p.Name, p.AI)
		fmt.Fprintf(&b, "\t\tTeam=%d;\n\t\tHost=%d;\n\t}\n", slices.Index(ids, p.Status.ID), playerIndex[p.Owner])
	}
	for i, id := range ids {
		leader := o.teamLeader(players, id, playerIndex)
		fmt.Fprintf(&b, "\t[TEAM%d]\n\t{\n", i)
		fmt.Fprintf(&b, "\t\tTeamLeader=%d;\n\t\tAllyTeam=%d;\n", playerIndex[leader.Name], slices.Index(allies, leader.Status.Ally))
		c := leader.Color
		fmt.Fprintf(&b, "\t\tRgbColor=%.3f %.3f %.3f;\n\t}\n", float64(c.R)/255, float64(c.G)/255, float64(c.B)/255)
	}
	for i := range allies {
		fmt.Fprintf(&b, "\t[ALLYTEAM%d]\n\t{\n\t\tNumAllies=0;\n\t}\n", i)
	}
	b.WriteString("}\n")
	return b.String()
}

// teamLeader is the first human on id, or the owner of its first bot.
func (o *Orchestrator) teamLeader(players []roster.Participant, id int, humans map[string]int) roster.Participant {
	var first *roster.Participant
	for i := range players {
		p := players[i]
		if p.Status.ID != id {
			continue
		}
		if _, ok := humans[p.Name]; ok {
			return p
		}
		if first == nil {
			first = &players[i]
		}
	}
	if owner, ok := o.roster.Get(first.Owner); ok {
		owner.Status = first.Status
		owner.Color = first.Color
		return owner
	}
	return *first
}

func distinct(ps []roster.Participant, key func(roster.Participant) int) []int {
	var out []int
	for _, p := range ps {
		if k := key(p); !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (o *Orchestrator) handleTelemetry(t process.Telemetry) {
	switch t.Kind {
	case process.TelStarted:
		o.logger.Info("game started", zap.String("gameId", o.match.id))
	case process.TelDefeated:
		o.match.defeated = append(o.match.defeated, t.Player)
		o.logger.Info("player defeated", zap.String("player", t.Player))
	case process.TelGameOver:
		o.match.winners = t.Winners
		o.say(fmt.Sprintf("Game over, winning ally groups: %v", t.Winners))
	case process.TelTeamStats:
		o.logger.Debug("team statistics", zap.Int("ally", t.Ally), zap.Any("stats", t.Stats))
	default:
		o.logger.Debug("game telemetry", zap.String("kind", string(t.Kind)), zap.String("player", t.Player))
	}
}

// handleGameExit folds any process end, clean or not, into the game ended
// transition. Only an end nobody asked for is alerted.
func (o *Orchestrator) handleGameExit(exit process.Exit) {
	now := o.now()
	wasRunning := o.state.GameRunning
	played := now.Sub(o.match.startedAt)
	o.lifecycle(engine.Event{Type: engine.EvtGameEnded})

	switch {
	case exit.Clean():
		o.logger.Info("game ended", zap.Duration("duration", played), zap.Ints("winners", o.match.winners))
	case exit.Requested:
		o.logger.Info("game stopped", zap.Duration("duration", played), zap.String("exit", exit.String()))
	default:
		o.alert("Game process ended abnormally: "+exit.String(), zap.Int("pid", exit.PID), zap.Int("code", exit.Code), zap.String("signal", exit.Signal), zap.Bool("coreDumped", exit.CoreDumped))
	}

	if wasRunning {
		o.gamesPlayed++
		if done := o.bans.DecayGames(); len(done) > 0 {
			o.logger.Info("game-count bans ran out", zap.Int("count", len(done)))
		}
		o.syncBans()
		if len(o.cfg.MapRotation) > 0 && played >= o.cfg.MinRotationDuration && o.state.RoomOpen() {
			if next := o.archives.NextMap(o.currentMap, o.cfg.MapRotation); next != o.currentMap {
				o.changeMap(next)
				o.say("Rotating to map " + next)
			}
		}
	}
	o.match = matchState{}
	o.invalidateTargets()

	if len(o.cfg.EndGameCommand) > 0 {
		err := o.runAsync(o.ctx, o.cfg.WorkDir, o.cfg.EndGameCommand, func(r process.Result) {
			o.Post(asyncDone{result: r})
		})
		if err != nil {
			o.alert("End-game command failed to start: "+err.Error(), zap.Error(err))
		}
	}

	o.runScheduled()
	o.autoFix()
}

func (o *Orchestrator) onAsyncDone(r process.Result) {
	if r.Exit.Clean() {
		o.logger.Info("end-game command done", zap.Strings("argv", r.Command), zap.Duration("runtime", r.Exit.Runtime))
		return
	}
	o.alert("End-game command failed: "+r.Exit.String(), zap.Strings("argv", r.Command), zap.String("output", r.Output))
}
