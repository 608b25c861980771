// Package transport defines the lobby connection contract and the outbound
// command queue.
package transport

import (
	"context"
	"errors"

	"github.com/DoyleJ11/autohost/internal/roster"
)

var ErrAlreadyLoggedIn = errors.New("already logged in")
var ErrLoginDenied = errors.New("login denied")
var ErrNotConnected = errors.New("not connected")

type Credentials struct {
	Login    string
	Password string
}

type RoomParams struct {
	Title      string
	Password   string
	Mod        string
	Map        string
	MaxPlayers int
	Port       int
}

// Lobby is a connection to the lobby server. Events are delivered on the
// channel returned by Events until the connection drops, after which a
// Disconnected event is sent and the channel is closed.
type Lobby interface {
	Connect(ctx context.Context) error
	Login(ctx context.Context, c Credentials) error
	OpenRoom(ctx context.Context, p RoomParams) error
	Send(cmd Command) error
	Events() <-chan Event
	Close() error
}

type Event interface{ isTransportEvent() }

type ParticipantJoined struct {
	Name      string
	AccountID string
	IP        string
	Rank      int
}

type ParticipantLeft struct{ Name string }

type StatusChanged struct {
	Name   string
	Status roster.Status
	Color  roster.Color
}

type BotAdded struct {
	Name   string
	Owner  string
	AI     string
	Status roster.Status
	Color  roster.Color
}

type BotRemoved struct{ Name string }

type RoomClosed struct{}

type Chat struct {
	From    string
	Text    string
	Private bool
}

type Disconnected struct{ Err error }

func (ParticipantJoined) isTransportEvent() {}
func (ParticipantLeft) isTransportEvent()   {}
func (StatusChanged) isTransportEvent()     {}
func (BotAdded) isTransportEvent()          {}
func (BotRemoved) isTransportEvent()        {}
func (RoomClosed) isTransportEvent()        {}
func (Chat) isTransportEvent()              {}
func (Disconnected) isTransportEvent()      {}

type Command interface{ isTransportCommand() }

type CloseRoom struct{}

// SetStatus forces a participant's (or bot's) control slot and ally group.
type SetStatus struct {
	Name string
	ID   int
	Ally int
}

type SetColor struct {
	Name  string
	Color roster.Color
}

type ForceSpectator struct{ Name string }

type AddBot struct {
	Name  string
	AI    string
	ID    int
	Ally  int
	Color roster.Color
}

type RemoveBot struct{ Name string }

type Kick struct{ Name string }

type Say struct{ Text string }

type SayPrivate struct {
	To   string
	Text string
}

type Ring struct{ Name string }

type SetMap struct{ Map string }

func (CloseRoom) isTransportCommand()      {}
func (SetStatus) isTransportCommand()      {}
func (SetColor) isTransportCommand()       {}
func (ForceSpectator) isTransportCommand() {}
func (AddBot) isTransportCommand()         {}
func (RemoveBot) isTransportCommand()      {}
func (Kick) isTransportCommand()           {}
func (Say) isTransportCommand()            {}
func (SayPrivate) isTransportCommand()     {}
func (Ring) isTransportCommand()           {}
func (SetMap) isTransportCommand()         {}
