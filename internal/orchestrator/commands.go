package orchestrator

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/DoyleJ11/autohost/internal/balance"
	"github.com/DoyleJ11/autohost/internal/colors"
	"github.com/DoyleJ11/autohost/internal/moderation"
	"github.com/DoyleJ11/autohost/internal/plugin"
	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/DoyleJ11/autohost/internal/transport"
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrAccessDenied     = errors.New("insufficient access level")
	ErrNotVotable       = errors.New("command cannot be voted")
	ErrBadArguments     = errors.New("invalid arguments")
	ErrRoomNotOpen      = errors.New("room is not open")
	ErrGameRunning      = errors.New("game is running")
	ErrNoGame           = errors.New("no game is running")
	ErrNotReady         = errors.New("players not ready")
	ErrStartPositions   = errors.New("not enough start positions")
	ErrNotBalanced      = errors.New("teams are not balanced yet")
	ErrColorsNotFixed   = errors.New("colors are not fixed yet")
	ErrNoPlayers        = errors.New("no players")
	ErrNothingScheduled = errors.New("nothing scheduled")
	ErrFlood            = errors.New("command flood")
)

type Source string

const (
	SourceBattle  Source = "battle"
	SourcePrivate Source = "private"
	SourceAPI     Source = "api"
)

// Result is the answer to a Command.
type Result struct {
	Reply string
	Err   error
}

// Levels are the access levels needed to run a command directly and to call
// a vote for it. A VoteLevel of NoVote makes the command non-votable.
type Levels struct {
	Level     int
	VoteLevel int
}

const NoVote = -1

func DefaultCommands() map[string]Levels {
	return map[string]Levels{
		"balance":    {Level: 100, VoteLevel: 0},
		"rebalance":  {Level: 100, VoteLevel: 0},
		"fixColors":  {Level: 100, VoteLevel: 0},
		"callVote":   {Level: 0, VoteLevel: NoVote},
		"vote":       {Level: 0, VoteLevel: NoVote},
		"endVote":    {Level: 100, VoteLevel: NoVote},
		"start":      {Level: 100, VoteLevel: 0},
		"forceStart": {Level: 130, VoteLevel: 0},
		"stop":       {Level: 100, VoteLevel: 0},
		"kick":       {Level: 100, VoteLevel: 0},
		"ban":        {Level: 130, VoteLevel: NoVote},
		"banSpec":    {Level: 130, VoteLevel: NoVote},
		"unban":      {Level: 130, VoteLevel: NoVote},
		"spec":       {Level: 100, VoteLevel: 0},
		"rehost":     {Level: 130, VoteLevel: 0},
		"quit":       {Level: 130, VoteLevel: NoVote},
		"cancelQuit": {Level: 130, VoteLevel: NoVote},
		"addBot":     {Level: 100, VoteLevel: 0},
		"removeBot":  {Level: 100, VoteLevel: 0},
		"set":        {Level: 100, VoteLevel: 0},
		"map":        {Level: 100, VoteLevel: 0},
		"pref":       {Level: 0, VoteLevel: NoVote},
	}
}

// mergeCommands adds plugin commands that do not clash with built-ins, then
// applies the configured overrides.
func mergeCommands(defaults map[string]Levels, plugins map[string]plugin.CommandSpec, overrides map[string]Levels) map[string]Levels {
	out := make(map[string]Levels, len(defaults)+len(plugins))
	for name, l := range defaults {
		out[name] = l
	}
	for name, spec := range plugins {
		if _, ok := out[name]; !ok {
			out[name] = Levels{Level: spec.Level, VoteLevel: spec.VoteLevel}
		}
	}
	for name, l := range overrides {
		out[name] = l
	}
	return out
}

type handlerFunc func(c Command, check bool) (string, error)

func (o *Orchestrator) commandTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"balance":    o.cmdBalance,
		"rebalance":  o.cmdRebalance,
		"fixColors":  o.cmdFixColors,
		"callVote":   o.cmdCallVote,
		"vote":       o.cmdVote,
		"endVote":    o.cmdEndVote,
		"start":      func(c Command, check bool) (string, error) { return o.launch(false, check) },
		"forceStart": func(c Command, check bool) (string, error) { return o.launch(true, check) },
		"stop":       o.cmdStop,
		"kick":       o.cmdKick,
		"ban":        func(c Command, check bool) (string, error) { return o.cmdBan(c, moderation.BanFull, check) },
		"banSpec":    func(c Command, check bool) (string, error) { return o.cmdBan(c, moderation.BanSpectator, check) },
		"unban":      o.cmdUnban,
		"spec":       o.cmdSpec,
		"rehost":     func(c Command, check bool) (string, error) { return o.cmdSchedule(scheduleRehost, c, check) },
		"quit":       func(c Command, check bool) (string, error) { return o.cmdSchedule(scheduleQuit, c, check) },
		"cancelQuit": o.cmdCancelQuit,
		"addBot":     o.cmdAddBot,
		"removeBot":  o.cmdRemoveBot,
		"set":        o.cmdSet,
		"map":        o.cmdMap,
		"pref":       o.cmdPref,
	}
}

// lookup resolves a command name case-insensitively.
func (o *Orchestrator) lookup(name string) (string, Levels, bool) {
	if l, ok := o.commands[name]; ok {
		return name, l, true
	}
	for known, l := range o.commands {
		if strings.EqualFold(known, name) {
			return known, l, true
		}
	}
	return "", Levels{}, false
}

func (o *Orchestrator) runCommand(c Command) Result {
	if len(c.Args) == 0 {
		return Result{Err: ErrBadArguments}
	}
	if c.Source != SourceAPI {
		if p, ok := o.roster.Get(c.User); ok && o.punishFlood(p, moderation.FloodCommand) {
			return Result{Err: ErrFlood}
		}
	}
	name, levels, ok := o.lookup(c.Args[0])
	if !ok {
		return Result{Err: fmt.Errorf("%w: %s", ErrUnknownCommand, c.Args[0])}
	}
	c.Args = slices.Clone(c.Args)
	c.Args[0] = name

	if c.Access < levels.Level && !o.ownsVote(name, c.User) {
		if levels.VoteLevel != NoVote && c.Access >= levels.VoteLevel {
			return Result{Err: fmt.Errorf("%w, use !callVote %s", ErrAccessDenied, name)}
		}
		return Result{Err: ErrAccessDenied}
	}
	res := o.execute(c, false)
	o.autoFix()
	return res
}

// ownsVote lets the initiator of the current vote end it.
func (o *Orchestrator) ownsVote(name, user string) bool {
	if name != "endVote" {
		return false
	}
	t, ok := o.votes.Current()
	return ok && t.Initiator == user
}

// execute runs an already authorized command. With check set it only
// validates the command against the current state.
func (o *Orchestrator) execute(c Command, check bool) Result {
	if h, ok := o.handlers[c.Args[0]]; ok {
		reply, err := h(c, check)
		return Result{Reply: reply, Err: err}
	}
	d, _, ok := o.plugins.Dispatch(plugin.Event{
		Kind:      plugin.EventCommand,
		From:      c.User,
		Access:    c.Access,
		Command:   c.Args,
		CheckOnly: check,
	})
	if !ok {
		return Result{Err: fmt.Errorf("%w: %s", ErrUnknownCommand, c.Args[0])}
	}
	if d.Kick != "" && !check {
		o.push(transport.Kick{Name: d.Kick})
	}
	return Result{Reply: d.Reply, Err: d.Err}
}

// replyTo answers a chat command: failures privately, replies where the
// command came from.
func (o *Orchestrator) replyTo(c Command, res Result) {
	switch {
	case res.Err != nil:
		o.sayPrivate(c.User, "Command failed: "+res.Err.Error())
	case res.Reply == "":
	case c.Source == SourcePrivate:
		o.sayPrivate(c.User, res.Reply)
	default:
		o.say(res.Reply)
	}
}

func (o *Orchestrator) requireRoom() error {
	if !o.state.RoomOpen() {
		return ErrRoomNotOpen
	}
	return nil
}

// requireIdle is requireRoom plus no game running.
func (o *Orchestrator) requireIdle() error {
	if err := o.requireRoom(); err != nil {
		return err
	}
	if o.state.GameRunning {
		return ErrGameRunning
	}
	return nil
}

func argsAtLeast(c Command, n int) error {
	if len(c.Args) < n+1 {
		return fmt.Errorf("%w: %s needs %d argument(s)", ErrBadArguments, c.Args[0], n)
	}
	return nil
}

// find looks a participant up by name, case-insensitively.
func (o *Orchestrator) find(name string) (roster.Participant, error) {
	if p, ok := o.roster.Get(name); ok {
		return p, nil
	}
	for _, p := range o.roster.All() {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return roster.Participant{}, fmt.Errorf("%w: %s", roster.ErrUnknownParticipant, name)
}

func (o *Orchestrator) cmdBalance(c Command, check bool) (string, error) {
	if err := o.requireIdle(); err != nil {
		return "", err
	}
	if check {
		return "", nil
	}
	return o.balanceNow(), nil
}

func (o *Orchestrator) cmdRebalance(c Command, check bool) (string, error) {
	if err := o.requireIdle(); err != nil {
		return "", err
	}
	if check {
		return "", nil
	}
	o.seed = o.rng.Int63()
	o.invalidateTargets()
	return o.balanceNow(), nil
}

func (o *Orchestrator) cmdFixColors(c Command, check bool) (string, error) {
	if err := o.requireIdle(); err != nil {
		return "", err
	}
	if check {
		return "", nil
	}
	n := o.applyColors(o.colorTarget())
	o.autoColored = o.colorCache.key
	if n == 0 {
		return "Colors are already fixed", nil
	}
	return fmt.Sprintf("Fixing %d color(s)", n), nil
}

func (o *Orchestrator) cmdStop(c Command, check bool) (string, error) {
	if !o.state.GameRunning {
		return "", ErrNoGame
	}
	if check {
		return "", nil
	}
	if err := o.game.Stop(); err != nil {
		return "", err
	}
	return "Stopping game", nil
}

func (o *Orchestrator) cmdKick(c Command, check bool) (string, error) {
	if err := argsAtLeast(c, 1); err != nil {
		return "", err
	}
	p, err := o.find(c.Args[1])
	if err != nil {
		return "", err
	}
	if check {
		return "", nil
	}
	if p.IsBot() {
		o.push(transport.RemoveBot{Name: p.Name})
	} else {
		o.push(transport.Kick{Name: p.Name})
	}
	return "Kicking " + p.Name, nil
}

// cmdBan handles "ban <name> [<N>g|<duration>] [reason...]".
func (o *Orchestrator) cmdBan(c Command, typ moderation.BanType, check bool) (string, error) {
	if err := argsAtLeast(c, 1); err != nil {
		return "", err
	}
	now := o.now()
	b := moderation.Ban{Name: c.Args[1], Type: typ}
	rest := c.Args[2:]
	if len(rest) > 0 {
		if n, ok := strings.CutSuffix(rest[0], "g"); ok {
			if games, err := strconv.Atoi(n); err == nil && games > 0 {
				b.RemainingGames = games
				rest = rest[1:]
			}
		} else if d, err := time.ParseDuration(rest[0]); err == nil && d > 0 {
			b.ExpiresAt = now.Add(d)
			rest = rest[1:]
		}
	}
	b.Reason = strings.Join(rest, " ")
	target, err := o.find(b.Name)
	inRoom := err == nil
	if inRoom {
		b.Name, b.AccountID = target.Name, target.AccountID
	}
	if check {
		return "", nil
	}
	ban, err := o.bans.Add(b, now)
	if err != nil {
		return "", err
	}
	o.syncBans()
	if inRoom {
		o.enforceBans(target)
	}
	return fmt.Sprintf("%s is now %s", b.Name, ban.Describe(now)), nil
}

func (o *Orchestrator) cmdUnban(c Command, check bool) (string, error) {
	if err := argsAtLeast(c, 1); err != nil {
		return "", err
	}
	if check {
		return "", nil
	}
	removed, err := o.bans.Remove(moderation.Identity{Name: c.Args[1]})
	if err != nil {
		return "", err
	}
	o.syncBans()
	return fmt.Sprintf("Removed %d ban(s) for %s", len(removed), c.Args[1]), nil
}

func (o *Orchestrator) cmdSpec(c Command, check bool) (string, error) {
	if err := argsAtLeast(c, 1); err != nil {
		return "", err
	}
	p, err := o.find(c.Args[1])
	if err != nil {
		return "", err
	}
	if p.IsBot() || !p.IsPlayer() {
		return "", fmt.Errorf("%w: %s is not a player", ErrBadArguments, p.Name)
	}
	if check {
		return "", nil
	}
	o.push(transport.ForceSpectator{Name: p.Name})
	return "Forcing " + p.Name + " to spectate", nil
}

func (o *Orchestrator) cmdSchedule(what string, c Command, check bool) (string, error) {
	if what == scheduleRehost {
		if err := o.requireRoom(); err != nil {
			return "", err
		}
	}
	if check {
		return "", nil
	}
	deferred := o.state.GameRunning
	o.schedule(what, "requested by "+c.User)
	if deferred {
		return fmt.Sprintf("Scheduled %s after the current game", what), nil
	}
	if what == scheduleQuit {
		return "Quitting", nil
	}
	return "Rehosting", nil
}

func (o *Orchestrator) cmdCancelQuit(c Command, check bool) (string, error) {
	if o.scheduled == "" {
		return "", ErrNothingScheduled
	}
	if check {
		return "", nil
	}
	what := o.scheduled
	o.scheduled, o.scheduledWhy = "", ""
	return "Cancelled scheduled " + what, nil
}

func (o *Orchestrator) cmdAddBot(c Command, check bool) (string, error) {
	if err := argsAtLeast(c, 2); err != nil {
		return "", err
	}
	if err := o.requireIdle(); err != nil {
		return "", err
	}
	name, ai := c.Args[1], c.Args[2]
	if _, ok := o.roster.Get(name); ok {
		return "", fmt.Errorf("%w: %s is already in the room", ErrBadArguments, name)
	}
	if check {
		return "", nil
	}
	var ids, allies []int
	for _, p := range o.roster.Players() {
		ids = append(ids, p.Status.ID)
		allies = append(allies, p.Status.Ally)
	}
	palette := colors.Palette()
	o.push(transport.AddBot{
		Name:  name,
		AI:    ai,
		ID:    firstFree(ids),
		Ally:  firstFree(allies),
		Color: palette[o.roster.Len()%len(palette)],
	})
	return fmt.Sprintf("Adding bot %s (%s)", name, ai), nil
}

func firstFree(used []int) int {
	for i := 0; ; i++ {
		if !slices.Contains(used, i) {
			return i
		}
	}
}

func (o *Orchestrator) cmdRemoveBot(c Command, check bool) (string, error) {
	if err := argsAtLeast(c, 1); err != nil {
		return "", err
	}
	p, err := o.find(c.Args[1])
	if err != nil {
		return "", err
	}
	if !p.IsBot() {
		return "", fmt.Errorf("%w: %s is not a bot", ErrBadArguments, p.Name)
	}
	if check {
		return "", nil
	}
	o.push(transport.RemoveBot{Name: p.Name})
	return "Removing bot " + p.Name, nil
}

// cmdSet changes one balancing setting. Targets go stale on their own since
// the policy is part of their key.
func (o *Orchestrator) cmdSet(c Command, check bool) (string, error) {
	if err := argsAtLeast(c, 2); err != nil {
		return "", err
	}
	key, value := c.Args[1], c.Args[2]
	policy := o.policy
	autoBalance, autoColors, sensitivity := o.cfg.AutoBalance, o.cfg.AutoFixColors, o.cfg.ColorSensitivity
	var err error
	switch strings.ToLower(key) {
	case "balancemode":
		policy.Mode = balance.Mode(value)
		if !policy.Mode.Valid() {
			err = fmt.Errorf("%w: unknown balance mode %q", ErrBadArguments, value)
		}
	case "nbteams":
		policy.NbTeams, err = intIn(value, 1, balance.MaxIDs)
	case "minteamsize":
		policy.MinTeamSize, err = intIn(value, 1, balance.MaxIDs)
	case "nbplayerbyid":
		policy.NbPlayerByID, err = intIn(value, 1, balance.MaxIDs)
	case "idshare":
		policy.IDShare = balance.IDShare(value)
		if !policy.IDShare.Valid() {
			err = fmt.Errorf("%w: unknown id share mode %q", ErrBadArguments, value)
		}
	case "autobalance":
		autoBalance, err = strconv.ParseBool(value)
	case "autofixcolors":
		autoColors, err = strconv.ParseBool(value)
	case "colorsensitivity":
		sensitivity, err = strconv.ParseFloat(value, 64)
		if err == nil && sensitivity < 0 {
			err = fmt.Errorf("%w: sensitivity must be positive", ErrBadArguments)
		}
	default:
		return "", fmt.Errorf("%w: unknown setting %q", ErrBadArguments, key)
	}
	if err != nil {
		if !errors.Is(err, ErrBadArguments) {
			err = fmt.Errorf("%w: %s: %v", ErrBadArguments, key, err)
		}
		return "", err
	}
	if check {
		return "", nil
	}
	o.policy = policy
	o.cfg.AutoBalance, o.cfg.AutoFixColors, o.cfg.ColorSensitivity = autoBalance, autoColors, sensitivity
	return fmt.Sprintf("Set %s to %s", key, value), nil
}

func intIn(s string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%w: %d not in [%d, %d]", ErrBadArguments, n, lo, hi)
	}
	return n, nil
}

func (o *Orchestrator) cmdMap(c Command, check bool) (string, error) {
	if err := argsAtLeast(c, 1); err != nil {
		return "", err
	}
	if err := o.requireIdle(); err != nil {
		return "", err
	}
	m, err := o.archives.Map(strings.Join(c.Args[1:], " "))
	if err != nil {
		return "", err
	}
	if check {
		return "", nil
	}
	o.changeMap(m.Name)
	return "Map changed to " + m.Name, nil
}

func (o *Orchestrator) changeMap(name string) {
	o.currentMap = name
	o.push(transport.SetMap{Map: name})
}

// cmdPref sets one vote preference of the caller and drops the cached
// skill of the account.
func (o *Orchestrator) cmdPref(c Command, check bool) (string, error) {
	if err := argsAtLeast(c, 2); err != nil {
		return "", err
	}
	p, ok := o.roster.Get(c.User)
	if !ok {
		return "", fmt.Errorf("%w: %s", roster.ErrUnknownParticipant, c.User)
	}
	prefs := p.Prefs
	key, value := c.Args[1], c.Args[2]
	var err error
	switch strings.ToLower(key) {
	case "voteringdelay":
		prefs.VoteRingDelay, err = time.ParseDuration(value)
	case "votenotifydelay":
		prefs.VoteNotifyDelay, err = time.ParseDuration(value)
	case "awaymode":
		prefs.AwayMode, err = strconv.ParseBool(value)
	case "autoaway":
		prefs.AutoAway, err = strconv.ParseBool(value)
	default:
		return "", fmt.Errorf("%w: unknown preference %q", ErrBadArguments, key)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBadArguments, key, err)
	}
	if check {
		return "", nil
	}
	if err := o.roster.Update(p.Name, func(p *roster.Participant) { p.Prefs = prefs }); err != nil {
		return "", err
	}
	if p.AccountID != "" {
		o.skills.Invalidate(p.AccountID)
		p.Prefs = prefs
		o.resolveSkill(p)
	}
	return fmt.Sprintf("Preference %s set to %s", key, value), nil
}
