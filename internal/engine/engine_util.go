package engine

func NewState(p Policy) State {
	return State{Phase: PhaseDisconnected, Policy: p}
}

func ContainsEffect(effects []Effect, t EffectType) bool {
	for _, e := range effects {
		if e.Type == t {
			return true
		}
	}
	return false
}

// RoomOpen reports whether room commands may be sent.
func (s State) RoomOpen() bool { return s.Phase == PhaseRoomOpen }

var Phases = []Phase{
	PhaseDisconnected,
	PhaseConnecting,
	PhaseConnected,
	PhaseLoggedIn,
	PhaseRoomOpening,
	PhaseRoomOpen,
	PhaseClosing,
}

var EventTypes = []EventType{
	EvtConnectRequested,
	EvtConnected,
	EvtConnectFailed,
	EvtLoginAccepted,
	EvtLoginDenied,
	EvtArchivesLoaded,
	EvtArchivesFailed,
	EvtRoomOpened,
	EvtRoomOpenFailed,
	EvtRoomRetry,
	EvtRoomClosed,
	EvtGameStarted,
	EvtGameEnded,
	EvtRehostRequested,
	EvtTransportLost,
	EvtQuit,
}
