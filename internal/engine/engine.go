package engine

import (
	"errors"
	"fmt"
	"time"
)

var ErrIllegalTransition = errors.New("illegal transition")
var ErrUnsupportedEvent = errors.New("unsupported event")

type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseLoggedIn     Phase = "loggedIn"
	PhaseRoomOpening  Phase = "roomOpening"
	PhaseRoomOpen     Phase = "roomOpen"
	PhaseClosing      Phase = "closing"
)

// Policy holds the retry knobs of the lifecycle. A zero ReconnectDelay means
// transport failures terminate instead of retrying.
type Policy struct {
	ReconnectDelay  time.Duration
	MaxLoginRetries int
	RoomRetryDelay  time.Duration
}

type State struct {
	Phase         Phase
	GameRunning   bool
	LoginAttempts int
	// Rehosting is set while Closing and cleared once the room is reopened.
	Rehosting bool
	Policy    Policy
}

type EventType string

const (
	EvtConnectRequested EventType = "ConnectRequested"
	EvtConnected        EventType = "Connected"
	EvtConnectFailed    EventType = "ConnectFailed"
	EvtLoginAccepted    EventType = "LoginAccepted"
	EvtLoginDenied      EventType = "LoginDenied"
	EvtArchivesLoaded   EventType = "ArchivesLoaded"
	EvtArchivesFailed   EventType = "ArchivesFailed"
	EvtRoomOpened       EventType = "RoomOpened"
	EvtRoomOpenFailed   EventType = "RoomOpenFailed"
	EvtRoomRetry        EventType = "RoomRetry"
	EvtRoomClosed       EventType = "RoomClosed"
	EvtGameStarted      EventType = "GameStarted"
	EvtGameEnded        EventType = "GameEnded"
	EvtRehostRequested  EventType = "RehostRequested"
	EvtTransportLost    EventType = "TransportLost"
	EvtQuit             EventType = "Quit"
)

/*
	ConnectRequested -> Connect
	Connected        -> Login
	LoginAccepted    -> LoadArchives
	ArchivesLoaded   -> OpenRoom
	RehostRequested  -> StopProcess (game running) or CloseRoom
	GameEnded while closing -> CloseRoom
	RoomClosed while closing -> OpenRoom
*/

type Event struct {
	Type EventType
	// AlreadyLoggedIn marks a login denial caused by a ghost session.
	AlreadyLoggedIn bool
	Reason          string
}

type EffectType string

const (
	EffConnect           EffectType = "Connect"
	EffLogin             EffectType = "Login"
	EffLoadArchives      EffectType = "LoadArchives"
	EffOpenRoom          EffectType = "OpenRoom"
	EffCloseRoom         EffectType = "CloseRoom"
	EffStopProcess       EffectType = "StopProcess"
	EffDisconnect        EffectType = "Disconnect"
	EffScheduleReconnect EffectType = "ScheduleReconnect"
	EffScheduleRoomRetry EffectType = "ScheduleRoomRetry"
	EffScheduleShutdown  EffectType = "ScheduleShutdown"
	EffTerminate         EffectType = "Terminate"
)

type Effect struct {
	Type   EffectType
	Delay  time.Duration
	Reason string
}

// Apply is the pure lifecycle transition function. On error the returned
// state is s unchanged.
func Apply(s State, ev Event) ([]Effect, State, error) {
	next := s

	switch ev.Type {
	case EvtConnectRequested:
		if s.Phase != PhaseDisconnected {
			return nil, s, illegal(s, ev)
		}
		next.Phase = PhaseConnecting
		return []Effect{{Type: EffConnect}}, next, nil

	case EvtConnected:
		if s.Phase != PhaseConnecting {
			return nil, s, illegal(s, ev)
		}
		next.Phase = PhaseConnected
		return []Effect{{Type: EffLogin}}, next, nil

	case EvtConnectFailed:
		if s.Phase != PhaseConnecting {
			return nil, s, illegal(s, ev)
		}
		next.Phase = PhaseDisconnected
		return []Effect{reconnectOrTerminate(s.Policy, ev.Reason)}, next, nil

	case EvtLoginAccepted:
		if s.Phase != PhaseConnected {
			return nil, s, illegal(s, ev)
		}
		next.Phase = PhaseLoggedIn
		next.LoginAttempts = 0
		return []Effect{{Type: EffLoadArchives}}, next, nil

	case EvtLoginDenied:
		if s.Phase != PhaseConnected {
			return nil, s, illegal(s, ev)
		}
		next.Phase = PhaseDisconnected
		next.LoginAttempts++
		effects := []Effect{{Type: EffDisconnect}}
		// Only a ghost session can clear itself; other denials need an operator.
		if ev.AlreadyLoggedIn && next.LoginAttempts <= s.Policy.MaxLoginRetries {
			return append(effects, reconnectOrTerminate(s.Policy, ev.Reason)), next, nil
		}
		return append(effects, Effect{Type: EffScheduleShutdown, Reason: "login denied: " + ev.Reason}), next, nil

	case EvtArchivesLoaded:
		if s.Phase != PhaseLoggedIn {
			return nil, s, illegal(s, ev)
		}
		next.Phase = PhaseRoomOpening
		return []Effect{{Type: EffOpenRoom}}, next, nil

	case EvtArchivesFailed:
		if s.Phase != PhaseLoggedIn {
			return nil, s, illegal(s, ev)
		}
		return []Effect{{Type: EffScheduleRoomRetry, Delay: s.Policy.RoomRetryDelay, Reason: ev.Reason}}, next, nil

	case EvtRoomOpened:
		if s.Phase != PhaseRoomOpening {
			return nil, s, illegal(s, ev)
		}
		next.Phase = PhaseRoomOpen
		next.Rehosting = false
		return nil, next, nil

	case EvtRoomOpenFailed:
		if s.Phase != PhaseRoomOpening {
			return nil, s, illegal(s, ev)
		}
		next.Phase = PhaseLoggedIn
		next.Rehosting = false
		return []Effect{{Type: EffScheduleRoomRetry, Delay: s.Policy.RoomRetryDelay, Reason: ev.Reason}}, next, nil

	case EvtRoomRetry:
		if s.Phase != PhaseLoggedIn {
			// A retry timer that fires after the room came back is stale.
			return nil, s, nil
		}
		return []Effect{{Type: EffLoadArchives}}, next, nil

	case EvtRoomClosed:
		switch s.Phase {
		case PhaseClosing:
			next.Phase = PhaseRoomOpening
			return []Effect{{Type: EffOpenRoom}}, next, nil
		case PhaseRoomOpen:
			next.Phase = PhaseLoggedIn
			return []Effect{{Type: EffScheduleRoomRetry, Delay: s.Policy.RoomRetryDelay, Reason: "room closed by lobby"}}, next, nil
		}
		return nil, s, illegal(s, ev)

	case EvtGameStarted:
		if s.Phase != PhaseRoomOpen || s.GameRunning {
			return nil, s, illegal(s, ev)
		}
		next.GameRunning = true
		return nil, next, nil

	case EvtGameEnded:
		// The process outlives lobby disconnects, so its end is accepted anywhere.
		next.GameRunning = false
		if s.Phase == PhaseClosing && s.GameRunning {
			return []Effect{{Type: EffCloseRoom}}, next, nil
		}
		return nil, next, nil

	case EvtRehostRequested:
		if s.Phase != PhaseRoomOpen {
			return nil, s, illegal(s, ev)
		}
		next.Phase = PhaseClosing
		next.Rehosting = true
		if s.GameRunning {
			return []Effect{{Type: EffStopProcess}}, next, nil
		}
		return []Effect{{Type: EffCloseRoom}}, next, nil

	case EvtTransportLost:
		if s.Phase == PhaseDisconnected {
			return nil, s, nil
		}
		next.Phase = PhaseDisconnected
		next.Rehosting = false
		return []Effect{reconnectOrTerminate(s.Policy, ev.Reason)}, next, nil

	case EvtQuit:
		next.Phase = PhaseDisconnected
		next.Rehosting = false
		var effects []Effect
		if s.GameRunning {
			effects = append(effects, Effect{Type: EffStopProcess})
		}
		if s.Phase == PhaseRoomOpen || s.Phase == PhaseClosing {
			effects = append(effects, Effect{Type: EffCloseRoom})
		}
		if s.Phase != PhaseDisconnected {
			effects = append(effects, Effect{Type: EffDisconnect})
		}
		return append(effects, Effect{Type: EffTerminate, Reason: ev.Reason}), next, nil

	default:
		return nil, s, ErrUnsupportedEvent
	}
}

func reconnectOrTerminate(p Policy, reason string) Effect {
	if p.ReconnectDelay <= 0 {
		return Effect{Type: EffTerminate, Reason: reason}
	}
	return Effect{Type: EffScheduleReconnect, Delay: p.ReconnectDelay, Reason: reason}
}

func illegal(s State, ev Event) error {
	return fmt.Errorf("%w: %s in %s", ErrIllegalTransition, ev.Type, s.Phase)
}
