package types

// Client -> Server (POST /api/commands)
// CommandRequest:
//   command: string   e.g. "callVote start", "ban bob 3g spam"
type CommandRequest struct {
	Command string `json:"command"`
}

type CommandResponse struct {
	OK    bool   `json:"ok"`
	Reply string `json:"reply,omitempty"`
	Error string `json:"error,omitempty"`
}

// Server -> Client (/ws)
type ServerMessage struct {
	Type     string    `json:"type"` // "StatusSnapshot" | "Error"
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
}

const (
	MsgStatusSnapshot = "StatusSnapshot"
	MsgError          = "Error"
)
