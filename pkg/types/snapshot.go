package types

import "time"

// Snapshot is the room status published after every change.
type Snapshot struct {
	Version      int           `json:"version"`
	Phase        string        `json:"phase"`
	GameRunning  bool          `json:"game_running"`
	Map          string        `json:"map"`
	Mod          string        `json:"mod"`
	Participants []Participant `json:"participants"`
	Balanced     bool          `json:"balanced"`
	ColorsFixed  bool          `json:"colors_fixed"`
	Unbalance    float64       `json:"unbalance"`
	Vote         *Vote         `json:"vote,omitempty"`
	// Scheduled is "quit" or "rehost" while one waits for the game to end.
	Scheduled string `json:"scheduled,omitempty"`
	Bans      int    `json:"bans"`
}

type Participant struct {
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Owner       string  `json:"owner,omitempty"`
	Mode        string  `json:"mode"`
	ID          int     `json:"id"`
	Ally        int     `json:"ally"`
	Ready       bool    `json:"ready"`
	Sync        bool    `json:"sync"`
	Color       string  `json:"color"`
	Skill       float64 `json:"skill"`
	SkillOrigin string  `json:"skill_origin"`
}

type Vote struct {
	ID        string    `json:"id"`
	Initiator string    `json:"initiator"`
	Command   []string  `json:"command"`
	Yes       int       `json:"yes"`
	No        int       `json:"no"`
	Blank     int       `json:"blank"`
	Remaining int       `json:"remaining"`
	ExpiresAt time.Time `json:"expires_at"`
}
