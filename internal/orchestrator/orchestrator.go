// Package orchestrator runs the autohost: one goroutine owns the lobby
// connection state, the room roster, the vote slot and the game process, and
// reacts to everything through its inbox.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/DoyleJ11/autohost/internal/balance"
	"github.com/DoyleJ11/autohost/internal/engine"
	"github.com/DoyleJ11/autohost/internal/moderation"
	"github.com/DoyleJ11/autohost/internal/plugin"
	"github.com/DoyleJ11/autohost/internal/process"
	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/DoyleJ11/autohost/internal/skill"
	"github.com/DoyleJ11/autohost/internal/transport"
	"github.com/DoyleJ11/autohost/internal/vote"
	"github.com/DoyleJ11/autohost/pkg/types"
	"go.uber.org/zap"
)

type Msg interface{ isOrchestratorMsg() }

// Start connects to the lobby and opens the room.
type Start struct{}

type FromLobby struct {
	Event transport.Event
}

type FromGame struct {
	Telemetry process.Telemetry
}

type GameExited struct {
	Exit process.Exit
}

// Command runs an operator command. Access is only trusted for SourceAPI;
// chat commands are checked against the configured user levels. Reply, when
// set, must be buffered.
type Command struct {
	Source Source
	User   string
	Access int
	Args   []string
	Reply  chan Result
}

// Tick drives timers. The loop ticks itself every second unless disabled
// with WithTickInterval(0).
type Tick struct{}

// PruneFlood and SweepBans are posted by the periodic jobs.
type PruneFlood struct{}

type SweepBans struct{}

type GetState struct {
	Reply chan View
}

type Shutdown struct{ Reason string }

func (Start) isOrchestratorMsg()      {}
func (FromLobby) isOrchestratorMsg()  {}
func (FromGame) isOrchestratorMsg()   {}
func (GameExited) isOrchestratorMsg() {}
func (Command) isOrchestratorMsg()    {}
func (Tick) isOrchestratorMsg()       {}
func (PruneFlood) isOrchestratorMsg() {}
func (SweepBans) isOrchestratorMsg()  {}
func (GetState) isOrchestratorMsg()   {}
func (Shutdown) isOrchestratorMsg()   {}

// Game is the part of the process supervisor the orchestrator drives.
type Game interface {
	Launch(script, workDir string) (int, error)
	Send(text string) error
	Stop() error
	Running() bool
}

// Publisher receives every changed status snapshot.
type Publisher interface {
	Publish(snap types.Snapshot)
}

// BanSink persists the ban list after each change.
type BanSink interface {
	Submit(bans []moderation.Ban)
}

// AsyncRunner starts a helper command and reports its end through onDone.
type AsyncRunner func(ctx context.Context, dir string, argv []string, onDone func(process.Result)) error

type User struct {
	Access int
	Prefs  roster.Prefs
}

type Config struct {
	HostName       string
	Credentials    transport.Credentials
	Room           transport.RoomParams
	Lifecycle      engine.Policy
	ConnectTimeout time.Duration

	Balance          balance.Policy
	AutoBalance      bool
	AutoFixColors    bool
	ColorSensitivity float64
	BotSkill         skill.BotMode
	SkillTimeout     time.Duration

	Vote          vote.Settings
	Commands      map[string]Levels
	Users         map[string]User
	DefaultAccess int
	DefaultPrefs  roster.Prefs
	Flood         moderation.FloodConfig

	SendBudget int
	SendWindow time.Duration

	MapRotation         []string
	MinRotationDuration time.Duration
	EndGameCommand      []string
	WorkDir             string
}

// Deps are the collaborators of the orchestrator. Only Lobby, NewGame and
// Catalog are required.
type Deps struct {
	Lobby transport.Lobby
	// NewGame builds the game supervisor around the orchestrator's callbacks.
	NewGame   func(cb process.Callbacks) Game
	Catalog   transport.Catalog
	Skills    skill.Provider
	Plugins   *plugin.Chain
	Bans      *moderation.Policy
	BanSink   BanSink
	Publisher Publisher
	Logger    *zap.Logger
}

type Option func(*Orchestrator)

func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.now = clock
		}
	}
}

// WithSeed fixes the random source behind balance seeds and bot skills.
func WithSeed(seed int64) Option {
	return func(o *Orchestrator) {
		o.rng = rand.New(rand.NewSource(seed))
	}
}

// WithTickInterval sets the timer granularity; zero disables the internal
// ticker so tests drive time with Tick messages.
func WithTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.tickEvery = d
	}
}

func WithAsyncRunner(run AsyncRunner) Option {
	return func(o *Orchestrator) {
		if run != nil {
			o.runAsync = run
		}
	}
}

type timerKind string

const (
	timerReconnect timerKind = "reconnect"
	timerRoomRetry timerKind = "roomRetry"
)

// View is a copy of the loop's state for tests and diagnostics.
type View struct {
	Version       int
	Lifecycle     engine.State
	Participants  []roster.Participant
	Vote          *vote.Tally
	Balanced      bool
	ColorsFixed   bool
	Scheduled     string
	Bans          []moderation.Ban
	QueuedRoom    int
	QueuedPrivate int
	Map           string
	GamesPlayed   int
	Seed          int64
	Policy        balance.Policy
}

type Orchestrator struct {
	inbox chan Msg
	done  chan struct{}
	ctx   context.Context
	// cancel is called when the loop exits.
	cancel context.CancelFunc

	cfg      Config
	commands map[string]Levels
	handlers map[string]handlerFunc

	lobby     transport.Lobby
	game      Game
	catalog   transport.Catalog
	provider  skill.Provider
	plugins   *plugin.Chain
	bans      *moderation.Policy
	banSink   BanSink
	publisher Publisher
	logger    *zap.Logger

	now       func() time.Time
	rng       *rand.Rand
	tickEvery time.Duration
	runAsync  AsyncRunner

	state    engine.State
	conn     int // connection generation, stale async results are dropped
	timers   map[timerKind]time.Time
	archives transport.Archives
	queue    *transport.Queue

	roster *roster.Roster
	skills *skill.Cache
	votes  *vote.Engine
	flood  *moderation.FloodGuard

	// skillTypes records the game type each participant's skill was
	// resolved for.
	skillTypes map[string]skill.GameType

	policy        balance.Policy
	seed          int64
	balanceCache  balanceTarget
	colorCache    colorTarget
	autoBalanced  string
	autoColored   string
	currentMap    string
	scheduled     string
	scheduledWhy  string
	match         matchState
	gamesPlayed   int
	version       int
	lastPublished *types.Snapshot
	terminated    bool
}

func New(parent context.Context, cfg Config, deps Deps, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(parent)
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	plugins := deps.Plugins
	if plugins == nil {
		plugins = plugin.NewChain(logger)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.SkillTimeout <= 0 {
		cfg.SkillTimeout = 10 * time.Second
	}

	o := &Orchestrator{
		inbox:      make(chan Msg, 256),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		lobby:      deps.Lobby,
		catalog:    deps.Catalog,
		provider:   deps.Skills,
		plugins:    plugins,
		bans:       deps.Bans,
		banSink:    deps.BanSink,
		publisher:  deps.Publisher,
		logger:     logger.Named("orchestrator"),
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		tickEvery:  time.Second,
		runAsync:   process.RunAsync,
		state:      engine.NewState(cfg.Lifecycle),
		timers:     make(map[timerKind]time.Time),
		queue:      transport.NewQueue(cfg.SendBudget, cfg.SendWindow),
		roster:     roster.New(),
		skills:     skill.NewCache(),
		skillTypes: make(map[string]skill.GameType),
		votes:      vote.NewEngine(cfg.Vote),
		flood:      moderation.NewFloodGuard(cfg.Flood),
		policy:     cfg.Balance,
	}
	o.currentMap = cfg.Room.Map
	if o.bans == nil {
		o.bans = moderation.NewPolicy(nil)
	}
	for _, opt := range opts {
		opt(o)
	}
	o.seed = o.rng.Int63()
	o.commands = mergeCommands(DefaultCommands(), plugins.Commands(), cfg.Commands)
	o.handlers = o.commandTable()
	o.game = deps.NewGame(process.Callbacks{
		OnTelemetry: func(t process.Telemetry) { o.Post(FromGame{Telemetry: t}) },
		OnExit:      func(e process.Exit) { o.Post(GameExited{Exit: e}) },
	})

	go o.loop()
	return o
}

// Inbox exposes the loop's inbox to the HTTP layer and tests.
func (o *Orchestrator) Inbox() chan<- Msg { return o.inbox }

// Post delivers m unless the loop has stopped.
func (o *Orchestrator) Post(m Msg) bool {
	select {
	case o.inbox <- m:
		return true
	case <-o.ctx.Done():
		return false
	}
}

// Done is closed once the loop has exited.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// PruneFlood and SweepBans let the periodic jobs reach the loop.
func (o *Orchestrator) PruneFlood() { o.Post(PruneFlood{}) }

func (o *Orchestrator) SweepBans() { o.Post(SweepBans{}) }

func (o *Orchestrator) loop() {
	defer close(o.done)
	defer o.cancel()

	var tick <-chan time.Time
	if o.tickEvery > 0 {
		t := time.NewTicker(o.tickEvery)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-o.ctx.Done():
			o.teardown()
			return
		case <-tick:
			o.dispatch(Tick{})
		case m := <-o.inbox:
			o.dispatch(m)
		}
		if o.terminated {
			return
		}
	}
}

// dispatch handles one message, re-resolves skills gone stale for the
// current game type, then flushes the outbound queue and
// publishes the status if it changed. A panicking handler is logged and the
// loop carries on.
func (o *Orchestrator) dispatch(m Msg) {
	o.safely(fmt.Sprintf("%T", m), func() { o.handle(m) })
	o.safely("skills", o.refreshSkills)
	o.safely("flush", o.flush)
	o.safely("publish", o.publish)
}

func (o *Orchestrator) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("handler panicked", zap.String("msg", what), zap.Any("panic", r))
		}
	}()
	fn()
}

func (o *Orchestrator) handle(m Msg) {
	switch msg := m.(type) {
	case Start:
		o.lifecycle(engine.Event{Type: engine.EvtConnectRequested})

	case Tick:
		o.tick()

	case FromLobby:
		o.handleLobby(msg.Event)

	case pumped:
		if msg.conn == o.conn {
			o.handleLobby(msg.event)
		}

	case FromGame:
		o.handleTelemetry(msg.Telemetry)

	case GameExited:
		o.handleGameExit(msg.Exit)

	case Command:
		res := o.runCommand(msg)
		if msg.Reply != nil {
			msg.Reply <- res
		} else {
			o.replyTo(msg, res)
		}

	case connectDone:
		o.onConnectDone(msg)
	case loginDone:
		o.onLoginDone(msg)
	case archivesDone:
		o.onArchivesDone(msg)
	case roomDone:
		o.onRoomDone(msg)
	case skillDone:
		o.onSkillDone(msg)
	case asyncDone:
		o.onAsyncDone(msg.result)

	case PruneFlood:
		n := o.flood.Prune(o.now())
		o.logger.Debug("flood counters pruned", zap.Int("dropped", n), zap.Int("tracked", o.flood.Tracked()))

	case SweepBans:
		if expired := o.bans.Prune(o.now()); len(expired) > 0 {
			o.logger.Info("expired bans removed", zap.Int("count", len(expired)))
			o.syncBans()
		}

	case GetState:
		msg.Reply <- o.view()

	case Shutdown:
		o.lifecycle(engine.Event{Type: engine.EvtQuit, Reason: msg.Reason})
	}
}

func (o *Orchestrator) tick() {
	now := o.now()
	for kind, at := range o.timers {
		if now.Before(at) {
			continue
		}
		delete(o.timers, kind)
		switch kind {
		case timerReconnect:
			o.lifecycle(engine.Event{Type: engine.EvtConnectRequested})
		case timerRoomRetry:
			o.lifecycle(engine.Event{Type: engine.EvtRoomRetry})
		}
	}

	notices, out := o.votes.Tick(now)
	for _, n := range notices {
		o.notice(n)
	}
	o.settleVote(out)
}

func (o *Orchestrator) flush() {
	if o.state.Phase == engine.PhaseDisconnected || o.state.Phase == engine.PhaseConnecting {
		return
	}
	o.sendQueued()
}

func (o *Orchestrator) sendQueued() {
	if _, err := o.queue.Flush(o.now(), o.lobby.Send); err != nil {
		o.logger.Warn("lobby send failed", zap.Error(err))
	}
}

func (o *Orchestrator) push(cmds ...transport.Command) {
	for _, c := range cmds {
		o.queue.Push(c)
	}
}

func (o *Orchestrator) say(text string) {
	if o.state.RoomOpen() {
		o.push(transport.Say{Text: text})
	}
}

func (o *Orchestrator) sayPrivate(to, text string) {
	if o.state.Phase != engine.PhaseDisconnected {
		o.push(transport.SayPrivate{To: to, Text: text})
	}
}

// alert reports a fault to the operator log and to the room.
func (o *Orchestrator) alert(text string, fields ...zap.Field) {
	o.logger.Error(text, fields...)
	o.say(text)
}

func (o *Orchestrator) teardown() {
	if o.game.Running() {
		if err := o.game.Stop(); err != nil {
			o.logger.Warn("stop game on shutdown", zap.Error(err))
		}
	}
	if o.state.Phase != engine.PhaseDisconnected {
		if err := o.lobby.Close(); err != nil {
			o.logger.Debug("close lobby", zap.Error(err))
		}
	}
}
