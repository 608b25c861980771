package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// frame is the JSON message exchanged with a websocket lobby bridge.
type frame struct {
	Type      string        `json:"type"`
	Name      string        `json:"name,omitempty"`
	AccountID string        `json:"account_id,omitempty"`
	IP        string        `json:"ip,omitempty"`
	Rank      int           `json:"rank,omitempty"`
	Owner     string        `json:"owner,omitempty"`
	AI        string        `json:"ai,omitempty"`
	Text      string        `json:"text,omitempty"`
	To        string        `json:"to,omitempty"`
	Private   bool          `json:"private,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Login     string        `json:"login,omitempty"`
	Password  string        `json:"password,omitempty"`
	Map       string        `json:"map,omitempty"`
	Mod       string        `json:"mod,omitempty"`
	Title     string        `json:"title,omitempty"`
	Max       int           `json:"max_players,omitempty"`
	Port      int           `json:"port,omitempty"`
	Status    *statusFrame  `json:"status,omitempty"`
	Color     *roster.Color `json:"color,omitempty"`
}

type statusFrame struct {
	Spectator bool `json:"spectator"`
	ID        int  `json:"id"`
	Ally      int  `json:"ally"`
	Ready     bool `json:"ready"`
	Sync      bool `json:"sync"`
}

func (s statusFrame) status() roster.Status {
	mode := roster.ModePlayer
	if s.Spectator {
		mode = roster.ModeSpectator
	}
	return roster.Status{Mode: mode, ID: s.ID, Ally: s.Ally, Ready: s.Ready, Sync: s.Sync}
}

// WSLobby talks to a lobby bridge over a websocket carrying JSON frames.
type WSLobby struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	events  chan Event
	replies chan frame
}

func NewWSLobby(url string, logger *zap.Logger) *WSLobby {
	return &WSLobby{url: url, logger: logger}
}

func (l *WSLobby) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dial lobby: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	l.mu.Lock()
	l.conn = conn
	l.events = make(chan Event, 256)
	l.replies = make(chan frame, 4)
	events, replies := l.events, l.replies
	l.mu.Unlock()

	go l.readLoop(conn, events, replies)
	return nil
}

func (l *WSLobby) Events() <-chan Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events
}

func (l *WSLobby) readLoop(conn *websocket.Conn, events chan<- Event, replies chan<- frame) {
	defer close(events)
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			events <- Disconnected{Err: err}
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			l.logger.Warn("bad lobby frame", zap.Error(err))
			continue
		}
		switch f.Type {
		case "loginAccepted", "loginDenied", "roomOpened", "roomOpenFailed":
			select {
			case replies <- f:
			default:
				l.logger.Warn("unexpected lobby reply", zap.String("type", f.Type))
			}
			continue
		}
		if ev, ok := f.event(); ok {
			events <- ev
		} else {
			l.logger.Debug("ignored lobby frame", zap.String("type", f.Type))
		}
	}
}

func (f frame) event() (Event, bool) {
	var st roster.Status
	if f.Status != nil {
		st = f.Status.status()
	}
	var col roster.Color
	if f.Color != nil {
		col = *f.Color
	}
	switch f.Type {
	case "joined":
		return ParticipantJoined{Name: f.Name, AccountID: f.AccountID, IP: f.IP, Rank: f.Rank}, true
	case "left":
		return ParticipantLeft{Name: f.Name}, true
	case "status":
		return StatusChanged{Name: f.Name, Status: st, Color: col}, true
	case "botAdded":
		return BotAdded{Name: f.Name, Owner: f.Owner, AI: f.AI, Status: st, Color: col}, true
	case "botRemoved":
		return BotRemoved{Name: f.Name}, true
	case "roomClosed":
		return RoomClosed{}, true
	case "chat":
		return Chat{From: f.Name, Text: f.Text, Private: f.Private}, true
	}
	return nil, false
}

func (l *WSLobby) write(ctx context.Context, f frame) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (l *WSLobby) await(ctx context.Context, ok, fail string) (frame, error) {
	l.mu.Lock()
	replies := l.replies
	l.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return frame{}, ctx.Err()
		case f := <-replies:
			if f.Type == ok || f.Type == fail {
				return f, nil
			}
		}
	}
}

func (l *WSLobby) Login(ctx context.Context, c Credentials) error {
	if err := l.write(ctx, frame{Type: "login", Login: c.Login, Password: c.Password}); err != nil {
		return err
	}
	f, err := l.await(ctx, "loginAccepted", "loginDenied")
	if err != nil {
		return err
	}
	if f.Type == "loginDenied" {
		if f.Reason == "already logged in" {
			return ErrAlreadyLoggedIn
		}
		return fmt.Errorf("%w: %s", ErrLoginDenied, f.Reason)
	}
	return nil
}

func (l *WSLobby) OpenRoom(ctx context.Context, p RoomParams) error {
	err := l.write(ctx, frame{Type: "openRoom", Title: p.Title, Password: p.Password, Mod: p.Mod, Map: p.Map, Max: p.MaxPlayers, Port: p.Port})
	if err != nil {
		return err
	}
	f, err := l.await(ctx, "roomOpened", "roomOpenFailed")
	if err != nil {
		return err
	}
	if f.Type == "roomOpenFailed" {
		return errors.New("open room: " + f.Reason)
	}
	return nil
}

func (l *WSLobby) Send(cmd Command) error {
	f, err := commandFrame(cmd)
	if err != nil {
		return err
	}
	return l.write(context.Background(), f)
}

func commandFrame(cmd Command) (frame, error) {
	switch c := cmd.(type) {
	case CloseRoom:
		return frame{Type: "closeRoom"}, nil
	case SetStatus:
		return frame{Type: "setStatus", Name: c.Name, Status: &statusFrame{ID: c.ID, Ally: c.Ally}}, nil
	case SetColor:
		col := c.Color
		return frame{Type: "setColor", Name: c.Name, Color: &col}, nil
	case ForceSpectator:
		return frame{Type: "forceSpectator", Name: c.Name}, nil
	case AddBot:
		col := c.Color
		return frame{Type: "addBot", Name: c.Name, AI: c.AI, Status: &statusFrame{ID: c.ID, Ally: c.Ally}, Color: &col}, nil
	case RemoveBot:
		return frame{Type: "removeBot", Name: c.Name}, nil
	case Kick:
		return frame{Type: "kick", Name: c.Name}, nil
	case Say:
		return frame{Type: "say", Text: c.Text}, nil
	case SayPrivate:
		return frame{Type: "sayPrivate", To: c.To, Text: c.Text}, nil
	case Ring:
		return frame{Type: "ring", Name: c.Name}, nil
	case SetMap:
		return frame{Type: "setMap", Map: c.Map}, nil
	}
	return frame{}, fmt.Errorf("unsupported command %T", cmd)
}

func (l *WSLobby) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "bye")
}
