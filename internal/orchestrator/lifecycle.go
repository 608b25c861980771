package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/autohost/internal/engine"
	"github.com/DoyleJ11/autohost/internal/process"
	"github.com/DoyleJ11/autohost/internal/transport"
	"go.uber.org/zap"
)

// Results of the lobby calls run off the loop. conn is the connection
// generation they belong to.
type connectDone struct {
	conn int
	err  error
}

type loginDone struct {
	conn int
	err  error
}

type archivesDone struct {
	conn     int
	archives transport.Archives
	err      error
}

type roomDone struct {
	conn int
	err  error
}

// pumped is a lobby event read by the pump of connection conn.
type pumped struct {
	conn  int
	event transport.Event
}

func (connectDone) isOrchestratorMsg()  {}
func (loginDone) isOrchestratorMsg()    {}
func (archivesDone) isOrchestratorMsg() {}
func (roomDone) isOrchestratorMsg()     {}
func (pumped) isOrchestratorMsg()       {}

const (
	scheduleQuit   = "quit"
	scheduleRehost = "rehost"
)

// lifecycle feeds ev to the state machine and carries out its effects.
func (o *Orchestrator) lifecycle(ev engine.Event) {
	effects, next, err := engine.Apply(o.state, ev)
	if err != nil {
		o.logger.Warn("lifecycle event rejected", zap.String("event", string(ev.Type)), zap.Error(err))
		return
	}
	if next.Phase != o.state.Phase {
		o.logger.Info("phase changed",
			zap.String("from", string(o.state.Phase)),
			zap.String("to", string(next.Phase)),
			zap.String("event", string(ev.Type)))
	}
	o.state = next
	for _, eff := range effects {
		o.apply(eff)
	}
}

func (o *Orchestrator) apply(eff engine.Effect) {
	switch eff.Type {
	case engine.EffConnect:
		o.conn++
		conn := o.conn
		go func() {
			ctx, cancel := context.WithTimeout(o.ctx, o.cfg.ConnectTimeout)
			defer cancel()
			o.Post(connectDone{conn: conn, err: o.lobby.Connect(ctx)})
		}()

	case engine.EffLogin:
		conn, creds := o.conn, o.cfg.Credentials
		go func() {
			ctx, cancel := context.WithTimeout(o.ctx, o.cfg.ConnectTimeout)
			defer cancel()
			o.Post(loginDone{conn: conn, err: o.lobby.Login(ctx, creds)})
		}()

	case engine.EffLoadArchives:
		conn := o.conn
		go func() {
			ctx, cancel := context.WithTimeout(o.ctx, o.cfg.ConnectTimeout)
			defer cancel()
			a, err := transport.LoadArchives(ctx, o.catalog)
			o.Post(archivesDone{conn: conn, archives: a, err: err})
		}()

	case engine.EffOpenRoom:
		conn, params := o.conn, o.cfg.Room
		params.Map = o.currentMap
		go func() {
			ctx, cancel := context.WithTimeout(o.ctx, o.cfg.ConnectTimeout)
			defer cancel()
			o.Post(roomDone{conn: conn, err: o.lobby.OpenRoom(ctx, params)})
		}()

	case engine.EffCloseRoom:
		o.push(transport.CloseRoom{})

	case engine.EffStopProcess:
		if err := o.game.Stop(); err != nil && !errors.Is(err, process.ErrNotRunning) {
			o.logger.Warn("stop game", zap.Error(err))
		}

	case engine.EffDisconnect:
		o.sendQueued()
		if err := o.lobby.Close(); err != nil {
			o.logger.Debug("close lobby", zap.Error(err))
		}
		o.dropConnection("disconnected")

	case engine.EffScheduleReconnect:
		o.logger.Info("reconnect scheduled", zap.Duration("in", eff.Delay), zap.String("reason", eff.Reason))
		o.timers[timerReconnect] = o.now().Add(eff.Delay)

	case engine.EffScheduleRoomRetry:
		o.logger.Info("room retry scheduled", zap.Duration("in", eff.Delay), zap.String("reason", eff.Reason))
		o.timers[timerRoomRetry] = o.now().Add(eff.Delay)

	case engine.EffScheduleShutdown:
		o.schedule(scheduleQuit, eff.Reason)

	case engine.EffTerminate:
		o.logger.Info("terminating", zap.String("reason", eff.Reason))
		o.terminated = true
	}
}

// dropConnection forgets everything tied to the current lobby connection.
func (o *Orchestrator) dropConnection(reason string) {
	o.conn++
	o.queue.Reset()
	o.roster.Clear()
	o.cancelVote(reason)
	delete(o.timers, timerRoomRetry)
}

func (o *Orchestrator) onConnectDone(msg connectDone) {
	if msg.conn != o.conn {
		return
	}
	if msg.err != nil {
		o.lifecycle(engine.Event{Type: engine.EvtConnectFailed, Reason: msg.err.Error()})
		return
	}
	go o.pump(msg.conn, o.lobby.Events())
	o.lifecycle(engine.Event{Type: engine.EvtConnected})
}

// pump forwards lobby events into the inbox until the connection ends.
func (o *Orchestrator) pump(conn int, events <-chan transport.Event) {
	for ev := range events {
		if !o.Post(pumped{conn: conn, event: ev}) {
			return
		}
	}
}

func (o *Orchestrator) onLoginDone(msg loginDone) {
	if msg.conn != o.conn {
		return
	}
	switch {
	case msg.err == nil:
		o.lifecycle(engine.Event{Type: engine.EvtLoginAccepted})
	case errors.Is(msg.err, transport.ErrAlreadyLoggedIn):
		o.logger.Warn("ghost session still logged in", zap.Int("attempt", o.state.LoginAttempts+1))
		o.lifecycle(engine.Event{Type: engine.EvtLoginDenied, AlreadyLoggedIn: true, Reason: msg.err.Error()})
	default:
		o.logger.Error("login denied", zap.Error(msg.err))
		o.lifecycle(engine.Event{Type: engine.EvtLoginDenied, Reason: msg.err.Error()})
	}
}

func (o *Orchestrator) onArchivesDone(msg archivesDone) {
	if msg.conn != o.conn {
		return
	}
	if msg.err != nil {
		o.lifecycle(engine.Event{Type: engine.EvtArchivesFailed, Reason: msg.err.Error()})
		return
	}
	if err := o.checkArchives(msg.archives); err != nil {
		o.logger.Error("room preconditions failed", zap.Error(err))
		o.lifecycle(engine.Event{Type: engine.EvtArchivesFailed, Reason: err.Error()})
		return
	}
	o.archives = msg.archives
	o.lifecycle(engine.Event{Type: engine.EvtArchivesLoaded})
}

// checkArchives makes sure the configured mod and current map exist.
func (o *Orchestrator) checkArchives(a transport.Archives) error {
	if _, err := a.Mod(o.cfg.Room.Mod); err != nil {
		return fmt.Errorf("mod %q: %w", o.cfg.Room.Mod, err)
	}
	if _, err := a.Map(o.currentMap); err != nil {
		return fmt.Errorf("map %q: %w", o.currentMap, err)
	}
	return nil
}

func (o *Orchestrator) onRoomDone(msg roomDone) {
	if msg.conn != o.conn {
		return
	}
	if msg.err != nil {
		o.lifecycle(engine.Event{Type: engine.EvtRoomOpenFailed, Reason: msg.err.Error()})
		return
	}
	o.roster.Clear()
	o.seed = o.rng.Int63()
	o.invalidateTargets()
	o.lifecycle(engine.Event{Type: engine.EvtRoomOpened})
	o.logger.Info("room open", zap.String("map", o.currentMap), zap.String("mod", o.cfg.Room.Mod))
}

// schedule defers a quit or rehost until no game is running.
func (o *Orchestrator) schedule(what, reason string) {
	o.scheduled, o.scheduledWhy = what, reason
	o.logger.Info("scheduled", zap.String("action", what), zap.String("reason", reason))
	o.runScheduled()
}

func (o *Orchestrator) runScheduled() {
	if o.scheduled == "" || o.state.GameRunning {
		return
	}
	what, reason := o.scheduled, o.scheduledWhy
	o.scheduled, o.scheduledWhy = "", ""
	switch what {
	case scheduleQuit:
		o.lifecycle(engine.Event{Type: engine.EvtQuit, Reason: reason})
	case scheduleRehost:
		if o.state.RoomOpen() {
			o.roster.Clear()
			o.cancelVote("rehosting")
			o.lifecycle(engine.Event{Type: engine.EvtRehostRequested, Reason: reason})
		}
	}
}
