package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- fakes ----

type fakeLobby struct {
	mu       sync.Mutex
	events   chan transport.Event
	loginErr []error
	opened   []transport.RoomParams
	sent     []transport.Command
	closed   int
}

func newFakeLobby(loginErrs ...error) *fakeLobby {
	return &fakeLobby{events: make(chan transport.Event), loginErr: loginErrs}
}

func (l *fakeLobby) Connect(context.Context) error { return nil }

func (l *fakeLobby) Login(context.Context, transport.Credentials) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.loginErr) == 0 {
		return nil
	}
	err := l.loginErr[0]
	l.loginErr = l.loginErr[1:]
	return err
}

func (l *fakeLobby) OpenRoom(_ context.Context, p transport.RoomParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened = append(l.opened, p)
	return nil
}

func (l *fakeLobby) Send(c transport.Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, c)
	return nil
}

func (l *fakeLobby) Events() <-chan transport.Event { return l.events }

func (l *fakeLobby) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

func (l *fakeLobby) Sent() []transport.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]transport.Command, len(l.sent))
	copy(out, l.sent)
	return out
}

func (l *fakeLobby) Opened() []transport.RoomParams {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]transport.RoomParams, len(l.opened))
	copy(out, l.opened)
	return out
}

func (l *fakeLobby) Closed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func sentOf[T any](l *fakeLobby) []T {
	var out []T
	for _, c := range l.Sent() {
		if v, ok := c.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func said(l *fakeLobby, substr string) bool {
	for _, s := range sentOf[transport.Say](l) {
		if strings.Contains(s.Text, substr) {
			return true
		}
	}
	return false
}

type fakeGame struct {
	mu        sync.Mutex
	cb        process.Callbacks
	scripts   []string
	running   bool
	sent      []string
	stops     int
	stopping  bool
	launchErr error
}

func (g *fakeGame) Launch(script, _ string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.launchErr != nil {
		return 0, g.launchErr
	}
	g.running = true
	g.scripts = append(g.scripts, script)
	return 4242, nil
}

func (g *fakeGame) Send(text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return process.ErrNotRunning
	}
	g.sent = append(g.sent, text)
	return nil
}

func (g *fakeGame) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stops++
	if !g.running {
		return process.ErrNotRunning
	}
	g.running = false
	g.stopping = true
	return nil
}

func (g *fakeGame) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *fakeGame) Scripts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.scripts...)
}

func (g *fakeGame) Relayed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

// exit simulates the process ending the way the supervisor reports it.
func (g *fakeGame) exit(e process.Exit) {
	g.mu.Lock()
	g.running = false
	e.Requested = e.Requested || g.stopping
	g.stopping = false
	cb := g.cb
	g.mu.Unlock()
	cb.OnExit(e)
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakePublisher struct {
	mu    sync.Mutex
	snaps []types.Snapshot
}

func (p *fakePublisher) Publish(s types.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, s)
}

func (p *fakePublisher) Snapshots() []types.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Snapshot(nil), p.snaps...)
}

type fakeSink struct {
	mu     sync.Mutex
	pushes [][]moderation.Ban
}

func (s *fakeSink) Submit(bans []moderation.Ban) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, bans)
}

func (s *fakeSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pushes)
}

type fakeRunner struct {
	mu     sync.Mutex
	argv   [][]string
	onDone []func(process.Result)
}

func (r *fakeRunner) run(_ context.Context, _ string, argv []string, onDone func(process.Result)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.argv = append(r.argv, argv)
	r.onDone = append(r.onDone, onDone)
	return nil
}

func (r *fakeRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.argv)
}

func (r *fakeRunner) finish(i int, res process.Result) {
	r.mu.Lock()
	done := r.onDone[i]
	r.mu.Unlock()
	done(res)
}

// ---- harness ----

var testCatalog = transport.StaticCatalog{
	Maps: []transport.Archive{{Name: "Comet", StartPositions: 2}, {Name: "Delta", StartPositions: 4}},
	Mods: []transport.Archive{{Name: "BA"}},
}

func baseConfig() Config {
	return Config{
		HostName: "Autohost",
		Room:     transport.RoomParams{Title: "test room", Mod: "BA", Map: "Comet", Port: 8452},
		Lifecycle: engine.Policy{
			ReconnectDelay:  5 * time.Second,
			MaxLoginRetries: 2,
			RoomRetryDelay:  10 * time.Second,
		},
		Balance: balance.Policy{
			Mode:         balance.ModeSkill,
			NbTeams:      2,
			MinTeamSize:  1,
			NbPlayerByID: 1,
			IDShare:      balance.IDShareAuto,
		},
		Vote:                vote.Settings{Timeout: time.Minute, AwayDelay: 20 * time.Second, ReCallDelay: 10 * time.Second},
		Users:               map[string]User{"admin": {Access: 130}},
		MapRotation:         []string{"Comet", "Delta"},
		MinRotationDuration: time.Minute,
	}
}

type harness struct {
	t     *testing.T
	o     *Orchestrator
	lobby *fakeLobby
	game  *fakeGame
	clock *manualClock
	pub   *fakePublisher
	sink  *fakeSink
	async *fakeRunner
}

type setup struct {
	cfg   func(*Config)
	deps  func(*Deps)
	lobby *fakeLobby
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		lobby: s.lobby,
		game:  &fakeGame{},
		clock: &manualClock{t: time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)},
		pub:   &fakePublisher{},
		sink:  &fakeSink{},
		async: &fakeRunner{},
	}
	if h.lobby == nil {
		h.lobby = newFakeLobby()
	}
	cfg := baseConfig()
	if s.cfg != nil {
		s.cfg(&cfg)
	}
	deps := Deps{
		Lobby: h.lobby,
		NewGame: func(cb process.Callbacks) Game {
			h.game.cb = cb
			return h.game
		},
		Catalog:   testCatalog,
		Publisher: h.pub,
		BanSink:   h.sink,
		Logger:    zap.NewNop(),
	}
	if s.deps != nil {
		s.deps(&deps)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.o = New(ctx, cfg, deps,
		WithClock(h.clock.Now),
		WithSeed(1),
		WithTickInterval(0),
		WithAsyncRunner(h.async.run))
	return h
}

// peek asks the loop for its view without failing the test, so it can be
// used inside require.Eventually.
func (h *harness) peek() (View, bool) {
	reply := make(chan View, 1)
	if !h.o.Post(GetState{Reply: reply}) {
		return View{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-time.After(time.Second):
		return View{}, false
	}
}

func (h *harness) state() View {
	h.t.Helper()
	v, ok := h.peek()
	require.True(h.t, ok, "timed out waiting for state")
	return v
}

func (h *harness) waitFor(desc string, cond func(View) bool) View {
	h.t.Helper()
	var last View
	require.Eventually(h.t, func() bool {
		v, ok := h.peek()
		if ok {
			last = v
		}
		return ok && cond(v)
	}, 2*time.Second, 5*time.Millisecond, desc)
	return last
}

func (h *harness) openRoom() {
	h.t.Helper()
	h.o.Inbox() <- Start{}
	h.waitFor("room open", func(v View) bool { return v.Lifecycle.Phase == engine.PhaseRoomOpen })
}

func (h *harness) event(ev transport.Event) {
	h.o.Inbox() <- FromLobby{Event: ev}
}

func (h *harness) command(user string, access int, args ...string) Result {
	h.t.Helper()
	reply := make(chan Result, 1)
	h.o.Inbox() <- Command{Source: SourceAPI, User: user, Access: access, Args: args, Reply: reply}
	res := recvResult(h.t, reply, time.Second)
	// The reply goes out before the loop flushes; one more round trip
	// makes the lobby side effects visible.
	h.peek()
	return res
}

func (h *harness) admin(args ...string) Result {
	h.t.Helper()
	return h.command("admin", 130, args...)
}

func (h *harness) join(name string, rank int) {
	h.event(transport.ParticipantJoined{Name: name, AccountID: "acc-" + name, IP: "10.0.0.1", Rank: rank})
}

func (h *harness) seat(name string, id, ally int, ready bool) {
	h.event(transport.StatusChanged{
		Name:   name,
		Status: roster.Status{Mode: roster.ModePlayer, ID: id, Ally: ally, Ready: ready, Sync: true},
		Color:  roster.Color{R: uint8(40 * id), G: 200, B: uint8(30 * ally)},
	})
}

func (h *harness) chat(from, text string) {
	h.event(transport.Chat{From: from, Text: text})
}

// echoStatus replays the last SetStatus sent for each name as the lobby
// would report it back.
func (h *harness) echoStatus() {
	last := make(map[string]transport.SetStatus)
	var order []string
	for _, s := range sentOf[transport.SetStatus](h.lobby) {
		if _, ok := last[s.Name]; !ok {
			order = append(order, s.Name)
		}
		last[s.Name] = s
	}
	v := h.state()
	for _, name := range order {
		s := last[name]
		for _, p := range v.Participants {
			if p.Name != name {
				continue
			}
			st := p.Status
			st.ID, st.Ally = s.ID, s.Ally
			h.event(transport.StatusChanged{Name: name, Status: st, Color: p.Color})
		}
	}
}

func recvResult(t *testing.T, ch <-chan Result, within time.Duration) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(within):
		t.Fatalf("timed out waiting for command result")
	}
	return Result{}
}

func participant(v View, name string) (roster.Participant, bool) {
	for _, p := range v.Participants {
		if p.Name == name {
			return p, true
		}
	}
	return roster.Participant{}, false
}

// ---- lifecycle ----

func TestOrchestrator_StartOpensRoom(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()

	opened := h.lobby.Opened()
	require.Len(t, opened, 1)
	assert.Equal(t, "Comet", opened[0].Map)
	assert.Equal(t, "BA", opened[0].Mod)
	assert.Equal(t, "Comet", h.state().Map)
}

func TestOrchestrator_GhostLoginRetriesAfterDelay(t *testing.T) {
	h := newHarness(t, setup{lobby: newFakeLobby(transport.ErrAlreadyLoggedIn)})
	h.o.Inbox() <- Start{}

	h.waitFor("login denied", func(v View) bool {
		return v.Lifecycle.Phase == engine.PhaseDisconnected && v.Lifecycle.LoginAttempts == 1
	})
	assert.Equal(t, 1, h.lobby.Closed())

	// Not due yet.
	h.clock.Advance(4 * time.Second)
	h.o.Inbox() <- Tick{}
	assert.Equal(t, engine.PhaseDisconnected, h.state().Lifecycle.Phase)

	h.clock.Advance(time.Second)
	h.o.Inbox() <- Tick{}
	v := h.waitFor("room open after retry", func(v View) bool { return v.Lifecycle.Phase == engine.PhaseRoomOpen })
	assert.Zero(t, v.Lifecycle.LoginAttempts)
}

func TestOrchestrator_LoginDeniedShutsDown(t *testing.T) {
	h := newHarness(t, setup{lobby: newFakeLobby(transport.ErrLoginDenied)})
	h.o.Inbox() <- Start{}

	select {
	case <-h.o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop after a denied login")
	}
}

func TestOrchestrator_TransportLossReconnects(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	h.join("alice", 3)
	require.Len(t, h.state().Participants, 1)

	h.event(transport.Disconnected{Err: errors.New("reset by peer")})
	v := h.waitFor("disconnected", func(v View) bool { return v.Lifecycle.Phase == engine.PhaseDisconnected })
	assert.Empty(t, v.Participants)

	h.clock.Advance(5 * time.Second)
	h.o.Inbox() <- Tick{}
	h.waitFor("room reopened", func(v View) bool { return v.Lifecycle.Phase == engine.PhaseRoomOpen })
	assert.Len(t, h.lobby.Opened(), 2)
}

func TestOrchestrator_ShutdownClosesRoom(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()

	h.o.Inbox() <- Shutdown{Reason: "signal"}
	select {
	case <-h.o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	assert.NotEmpty(t, sentOf[transport.CloseRoom](h.lobby))
	assert.GreaterOrEqual(t, h.lobby.Closed(), 1)
}

// ---- commands ----

func TestOrchestrator_AccessChecks(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()

	res := h.command("bob", 0, "start")
	require.ErrorIs(t, res.Err, ErrAccessDenied)
	assert.Contains(t, res.Err.Error(), "callVote")

	res = h.command("bob", 0, "ban", "carol")
	require.ErrorIs(t, res.Err, ErrAccessDenied)
	assert.NotContains(t, res.Err.Error(), "callVote")

	res = h.command("bob", 0, "frobnicate")
	require.ErrorIs(t, res.Err, ErrUnknownCommand)
}

func TestOrchestrator_PluginCommandAndPrivateHello(t *testing.T) {
	h := newHarness(t, setup{deps: func(d *Deps) {
		d.Plugins = plugin.NewChain(zap.NewNop(), &plugin.Time{Now: func() time.Time {
			return time.Date(2024, 5, 1, 21, 30, 0, 0, time.UTC)
		}}, plugin.Hello{})
	}})
	h.openRoom()

	res := h.command("bob", 0, "TIME")
	require.NoError(t, res.Err)
	assert.Equal(t, "Current local time: 21:30:00", res.Reply)

	h.event(transport.Chat{From: "bob", Text: "Hello", Private: true})
	h.state()
	assert.Contains(t, sentOf[transport.SayPrivate](h.lobby), transport.SayPrivate{To: "bob", Text: "Hello World"})
}

func TestOrchestrator_SetValidatesSettings(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()

	res := h.admin("set", "nbTeams", "3")
	require.NoError(t, res.Err)
	assert.Equal(t, 3, h.state().Policy.NbTeams)

	res = h.admin("set", "balanceMode", "chaos")
	require.ErrorIs(t, res.Err, ErrBadArguments)
	res = h.admin("set", "nbTeams", "x")
	require.ErrorIs(t, res.Err, ErrBadArguments)
	assert.Equal(t, 3, h.state().Policy.NbTeams)
}

func TestOrchestrator_MapCommand(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()

	res := h.admin("map", "delta")
	require.NoError(t, res.Err)
	assert.Equal(t, "Delta", h.state().Map)
	assert.Contains(t, sentOf[transport.SetMap](h.lobby), transport.SetMap{Map: "Delta"})

	res = h.admin("map", "Nowhere")
	require.Error(t, res.Err)
	assert.Equal(t, "Delta", h.state().Map)
}

// ---- balance and start ----

func TestOrchestrator_AutoBalanceGatesStart(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	for i, p := range []struct {
		name string
		rank int
	}{{"a", 7}, {"b", 5}, {"c", 3}, {"d", 0}} {
		h.join(p.name, p.rank)
		h.seat(p.name, i, 0, true)
	}

	require.NoError(t, h.admin("set", "autoBalance", "true").Err)
	require.NotEmpty(t, sentOf[transport.SetStatus](h.lobby))
	assert.False(t, h.state().Balanced)

	res := h.admin("start")
	require.ErrorIs(t, res.Err, ErrNotBalanced)
	assert.Empty(t, h.game.Scripts())

	h.echoStatus()
	v := h.waitFor("balanced", func(v View) bool { return v.Balanced })

	a, _ := participant(v, "a")
	b, _ := participant(v, "b")
	c, _ := participant(v, "c")
	d, _ := participant(v, "d")
	assert.Equal(t, a.Status.Ally, d.Status.Ally, "38 pairs with 10")
	assert.Equal(t, b.Status.Ally, c.Status.Ally, "30 pairs with 20")
	assert.NotEqual(t, a.Status.Ally, b.Status.Ally)

	res = h.admin("start")
	require.NoError(t, res.Err)
	assert.Equal(t, "Starting game", res.Reply)

	scripts := h.game.Scripts()
	require.Len(t, scripts, 1)
	assert.Contains(t, scripts[0], "MapName=Comet;")
	assert.Contains(t, scripts[0], "GameType=BA;")
	assert.Contains(t, scripts[0], "[PLAYER3]")
	assert.Contains(t, scripts[0], "NumAllyTeams=2;")
	assert.True(t, h.state().Lifecycle.GameRunning)

	require.ErrorIs(t, h.admin("start").Err, ErrGameRunning)
}

func TestOrchestrator_StartChecksReadinessAndPositions(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	h.join("alice", 2)
	h.join("bob", 2)
	h.join("carol", 2)
	h.seat("alice", 0, 0, false)
	h.seat("bob", 1, 1, true)
	h.seat("carol", 2, 2, true)

	res := h.admin("start")
	require.ErrorIs(t, res.Err, ErrNotReady)
	assert.Contains(t, res.Err.Error(), "alice")

	h.seat("alice", 0, 0, true)
	res = h.admin("start")
	require.ErrorIs(t, res.Err, ErrStartPositions, "three ally groups on a two position map")

	res = h.admin("forceStart")
	require.NoError(t, res.Err)
	assert.Len(t, h.game.Scripts(), 1)
}

func TestOrchestrator_FixColorsSeparatesClashingPlayers(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	same := roster.Color{R: 255, G: 0, B: 0}
	for i, name := range []string{"alice", "bob"} {
		h.join(name, 2)
		h.event(transport.StatusChanged{
			Name:   name,
			Status: roster.Status{Mode: roster.ModePlayer, ID: i, Ally: i, Ready: true, Sync: true},
			Color:  same,
		})
	}
	assert.False(t, h.state().ColorsFixed)

	require.NoError(t, h.admin("fixColors").Err)
	fixes := sentOf[transport.SetColor](h.lobby)
	require.NotEmpty(t, fixes)

	v := h.state()
	for _, f := range fixes {
		p, ok := participant(v, f.Name)
		require.True(t, ok)
		h.event(transport.StatusChanged{Name: f.Name, Status: p.Status, Color: f.Color})
	}
	h.waitFor("colors fixed", func(v View) bool { return v.ColorsFixed })
}

// ---- votes ----

func seatThree(h *harness) {
	h.join("alice", 2)
	h.join("bob", 2)
	h.join("carol", 2)
	h.seat("alice", 0, 0, true)
	h.seat("bob", 1, 1, true)
	h.seat("carol", 2, 0, true)
}

func TestOrchestrator_VotePassesAndRunsCommand(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	seatThree(h)

	h.chat("alice", "!callVote start")
	v := h.state()
	require.NotNil(t, v.Vote)
	assert.Equal(t, 1, v.Vote.Yes)
	assert.Equal(t, 2, v.Vote.Remaining)
	assert.True(t, said(h.lobby, "alice called a vote for command \"start\""))

	h.chat("bob", "!vote y")
	v = h.state()
	assert.Nil(t, v.Vote)
	assert.True(t, v.Lifecycle.GameRunning)
	assert.True(t, said(h.lobby, "Vote for command \"start\" passed."))
	assert.True(t, said(h.lobby, "Starting game"))
	assert.Len(t, h.game.Scripts(), 1)
}

func TestOrchestrator_VoteExpires(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	seatThree(h)

	h.chat("alice", "!callVote balance")
	h.chat("bob", "!vote n")
	require.NotNil(t, h.state().Vote)

	h.clock.Advance(61 * time.Second)
	h.o.Inbox() <- Tick{}
	v := h.state()
	assert.Nil(t, v.Vote)
	assert.True(t, said(h.lobby, "Vote for command \"balance\" failed."))
}

func TestOrchestrator_ForceStartCancelsPendingVote(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	seatThree(h)

	h.chat("alice", "!callVote forceStart")
	require.NotNil(t, h.state().Vote)

	require.NoError(t, h.admin("forceStart").Err)
	v := h.state()
	assert.Nil(t, v.Vote)
	assert.True(t, said(h.lobby, "cancelled (game started)"))
}

func TestOrchestrator_VoteRejectsUnvotableCommand(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	seatThree(h)

	res := h.command("alice", 0, "callVote", "ban", "bob")
	require.ErrorIs(t, res.Err, ErrNotVotable)
	assert.Nil(t, h.state().Vote)
}

// ---- moderation ----

func TestOrchestrator_BannedJoinIsKicked(t *testing.T) {
	h := newHarness(t, setup{deps: func(d *Deps) {
		d.Bans = moderation.NewPolicy([]moderation.Ban{
			{ID: "b1", Name: "griefer", Type: moderation.BanFull, Reason: "spam"},
			{ID: "b2", Name: "lurker", Type: moderation.BanSpectator},
		})
	}})
	h.openRoom()

	h.join("griefer", 1)
	h.join("lurker", 1)
	h.state()
	assert.Contains(t, sentOf[transport.Kick](h.lobby), transport.Kick{Name: "griefer"})
	assert.True(t, said(h.lobby, "griefer is banned (spam) permanently"))
	assert.NotContains(t, sentOf[transport.Kick](h.lobby), transport.Kick{Name: "lurker"})

	h.seat("lurker", 0, 0, true)
	h.state()
	assert.Contains(t, sentOf[transport.ForceSpectator](h.lobby), transport.ForceSpectator{Name: "lurker"})
}

func TestOrchestrator_BanCommandEnforcesAndSyncs(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	h.join("bob", 1)

	res := h.admin("ban", "BOB", "2h", "rude")
	require.NoError(t, res.Err)
	assert.Contains(t, res.Reply, "bob is now banned (rude)")
	assert.Contains(t, sentOf[transport.Kick](h.lobby), transport.Kick{Name: "bob"})
	assert.Len(t, h.state().Bans, 1)
	assert.Equal(t, 1, h.sink.Count())

	require.NoError(t, h.admin("unban", "bob").Err)
	assert.Empty(t, h.state().Bans)
}

func TestOrchestrator_ChatFloodKicks(t *testing.T) {
	h := newHarness(t, setup{cfg: func(c *Config) {
		c.Flood = moderation.FloodConfig{Rules: map[moderation.FloodClass]moderation.FloodRule{
			moderation.FloodChat: {Max: 2, Window: 10 * time.Second},
		}}
	}})
	h.openRoom()
	h.join("bob", 1)

	h.chat("bob", "one")
	h.chat("bob", "two")
	h.state()
	assert.Empty(t, sentOf[transport.Kick](h.lobby))

	h.chat("bob", "three")
	h.state()
	assert.Contains(t, sentOf[transport.Kick](h.lobby), transport.Kick{Name: "bob"})
	assert.True(t, said(h.lobby, "Kicking bob from battle (chat flood)"))
}

// ---- game process ----

func TestOrchestrator_GameEndRotatesDecaysAndRunsHook(t *testing.T) {
	h := newHarness(t, setup{cfg: func(c *Config) {
		c.EndGameCommand = []string{"./upload-replay.sh"}
	}})
	h.openRoom()
	seatThree(h)

	require.NoError(t, h.admin("ban", "zed", "1g").Err)
	require.Len(t, h.state().Bans, 1)
	require.NoError(t, h.admin("start").Err)

	h.chat("bob", "gg")
	h.state()
	assert.Equal(t, []string{"<bob> gg"}, h.game.Relayed())

	h.clock.Advance(2 * time.Minute)
	h.game.exit(process.Exit{PID: 4242, Code: 1})
	v := h.state()

	assert.False(t, v.Lifecycle.GameRunning)
	assert.Equal(t, 1, v.GamesPlayed)
	assert.Empty(t, v.Bans, "one-game ban ran out")
	assert.Equal(t, "Delta", v.Map)
	assert.True(t, said(h.lobby, "Game process ended abnormally: exit code 1"))
	assert.True(t, said(h.lobby, "Rotating to map Delta"))
	assert.Contains(t, sentOf[transport.SetMap](h.lobby), transport.SetMap{Map: "Delta"})

	require.Equal(t, 1, h.async.Calls())
	h.async.finish(0, process.Result{Command: []string{"./upload-replay.sh"}, Exit: process.Exit{Code: 2}})
	h.state()
	assert.True(t, said(h.lobby, "End-game command failed: exit code 2"))
}

func TestOrchestrator_ShortGameDoesNotRotate(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	seatThree(h)
	require.NoError(t, h.admin("start").Err)

	h.clock.Advance(10 * time.Second)
	h.game.exit(process.Exit{PID: 4242})
	v := h.state()
	assert.Equal(t, "Comet", v.Map)
	assert.False(t, said(h.lobby, "abnormally"))
}

func TestOrchestrator_StoppedGameIsNotAlerted(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	seatThree(h)
	require.NoError(t, h.admin("start").Err)

	res := h.admin("stop")
	require.NoError(t, res.Err)
	assert.Equal(t, "Stopping game", res.Reply)
	h.game.exit(process.Exit{PID: 4242, Signal: "terminated"})
	v := h.state()
	assert.False(t, v.Lifecycle.GameRunning)
	assert.False(t, said(h.lobby, "abnormally"))
}

func TestOrchestrator_KilledGameIsAlerted(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	seatThree(h)
	require.NoError(t, h.admin("start").Err)

	h.game.exit(process.Exit{PID: 4242, Signal: "terminated"})
	h.state()
	assert.True(t, said(h.lobby, "Game process ended abnormally: killed by terminated"))
}

func TestOrchestrator_LaunchFailureIsReported(t *testing.T) {
	h := newHarness(t, setup{})
	h.game.launchErr = errors.New("binary not found")
	h.openRoom()
	seatThree(h)

	res := h.admin("start")
	require.Error(t, res.Err)
	assert.False(t, h.state().Lifecycle.GameRunning)
	assert.True(t, said(h.lobby, "Failed to launch game: binary not found"))
}

func TestOrchestrator_ScheduledQuitWaitsForGame(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	seatThree(h)
	require.NoError(t, h.admin("start").Err)

	res := h.admin("quit")
	require.NoError(t, res.Err)
	assert.Equal(t, "Scheduled quit after the current game", res.Reply)
	assert.Equal(t, "quit", h.state().Scheduled)

	h.game.exit(process.Exit{PID: 4242})
	select {
	case <-h.o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not quit after the game")
	}
}

func TestOrchestrator_CancelQuit(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	seatThree(h)
	require.NoError(t, h.admin("start").Err)

	require.NoError(t, h.admin("quit").Err)
	require.NoError(t, h.admin("cancelQuit").Err)
	require.ErrorIs(t, h.admin("cancelQuit").Err, ErrNothingScheduled)

	h.game.exit(process.Exit{PID: 4242})
	v := h.state()
	assert.Equal(t, engine.PhaseRoomOpen, v.Lifecycle.Phase)
	assert.Empty(t, v.Scheduled)
}

func TestOrchestrator_RehostReopensRoom(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	h.join("alice", 1)

	res := h.admin("rehost")
	require.NoError(t, res.Err)
	v := h.state()
	assert.Equal(t, engine.PhaseClosing, v.Lifecycle.Phase)
	assert.Empty(t, v.Participants)
	assert.NotEmpty(t, sentOf[transport.CloseRoom](h.lobby))

	h.event(transport.RoomClosed{})
	h.waitFor("room reopened", func(v View) bool { return v.Lifecycle.Phase == engine.PhaseRoomOpen })
	assert.Len(t, h.lobby.Opened(), 2)
}

// ---- skills and snapshots ----

func TestOrchestrator_SkillLookup(t *testing.T) {
	h := newHarness(t, setup{deps: func(d *Deps) {
		d.Skills = skill.ProviderFunc(func(_ context.Context, account string, _ skill.GameType) (skill.Result, error) {
			if account == "acc-alice" {
				return skill.Result{Value: 33, Sigma: 2}, nil
			}
			return skill.Result{}, errors.New("rating service down")
		})
	}})
	h.openRoom()
	h.join("alice", 0)
	h.join("bob", 4)

	v := h.waitFor("skills resolved", func(v View) bool {
		a, okA := participant(v, "alice")
		b, okB := participant(v, "bob")
		return okA && okB && a.Skill.Origin == roster.OriginRated && b.Skill.Origin == roster.OriginRatedDegraded
	})
	a, _ := participant(v, "alice")
	b, _ := participant(v, "bob")
	assert.Equal(t, 33.0, a.Skill.Value)
	assert.Equal(t, 25.0, b.Skill.Value, "rank skill kept on failure")
}

func TestOrchestrator_SkillFollowsGameType(t *testing.T) {
	h := newHarness(t, setup{deps: func(d *Deps) {
		d.Skills = skill.ProviderFunc(func(_ context.Context, _ string, gt skill.GameType) (skill.Result, error) {
			if gt == skill.GameTeam {
				return skill.Result{Value: 50, Sigma: 1}, nil
			}
			return skill.Result{Value: 5, Sigma: 1}, nil
		})
	}})
	h.openRoom()
	for _, name := range []string{"a", "b", "c", "d"} {
		h.join(name, 0)
	}
	h.waitFor("spectators rated", func(v View) bool {
		for _, name := range []string{"a", "b", "c", "d"} {
			p, ok := participant(v, name)
			if !ok || p.Skill.Origin != roster.OriginRated || p.Skill.Value != 5 {
				return false
			}
		}
		return true
	})

	h.seat("a", 0, 0, true)
	h.seat("b", 1, 0, true)
	h.seat("c", 2, 1, true)
	h.seat("d", 3, 1, true)

	h.waitFor("team skill for every seated player", func(v View) bool {
		for _, name := range []string{"a", "b", "c", "d"} {
			p, ok := participant(v, name)
			if !ok || p.Skill.Origin != roster.OriginRated || p.Skill.Value != 50 {
				return false
			}
		}
		return true
	})
}

func TestOrchestrator_PrefCommand(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	h.join("alice", 3)

	res := h.command("alice", 0, "pref", "awayMode", "true")
	require.NoError(t, res.Err)
	assert.Equal(t, "Preference awayMode set to true", res.Reply)
	p, ok := participant(h.state(), "alice")
	require.True(t, ok)
	assert.True(t, p.Prefs.AwayMode)

	assert.ErrorIs(t, h.command("alice", 0, "pref", "awayMode", "maybe").Err, ErrBadArguments)
	assert.ErrorIs(t, h.command("ghost", 0, "pref", "awayMode", "true").Err, roster.ErrUnknownParticipant)
}

func TestOrchestrator_PublishesVersionedSnapshots(t *testing.T) {
	h := newHarness(t, setup{})
	h.openRoom()
	h.join("alice", 3)
	h.state()
	h.state()

	snaps := h.pub.Snapshots()
	require.NotEmpty(t, snaps)
	for i := 1; i < len(snaps); i++ {
		assert.Equal(t, snaps[i-1].Version+1, snaps[i].Version)
	}
	last := snaps[len(snaps)-1]
	assert.Equal(t, string(engine.PhaseRoomOpen), last.Phase)
	require.Len(t, last.Participants, 1)
	assert.Equal(t, "alice", last.Participants[0].Name)
	assert.Equal(t, 20.0, last.Participants[0].Skill)
}
