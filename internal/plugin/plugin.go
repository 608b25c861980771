// Package plugin is the hook contract consulted by the orchestrator and the
// built-in plugins shipped with the autohost.
package plugin

import (
	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/DoyleJ11/autohost/internal/skill"
	"go.uber.org/zap"
)

type EventKind string

const (
	EventChat           EventKind = "chat"
	EventPrivateMessage EventKind = "privateMessage"
	EventJoin           EventKind = "join"
	EventCommand        EventKind = "command"
	EventSkill          EventKind = "skill"
)

type Event struct {
	Kind   EventKind
	From   string
	Access int
	Text   string
	// Command holds the command name and its arguments for EventCommand.
	Command []string
	// CheckOnly is set when a vote call only checks the command is valid.
	CheckOnly bool
	// AccountID and GameType are set for EventSkill.
	AccountID string
	GameType  skill.GameType
}

// Decision is a plugin's definitive answer to an event.
type Decision struct {
	Reply        string
	ReplyPrivate bool
	// Kick names a participant to remove from the room.
	Kick string
	// Skill answers EventSkill.
	Skill *roster.Skill
	// Err rejects a command.
	Err error
}

type Plugin interface {
	Name() string
	// OnEvent returns ok=false to let the next plugin see the event.
	OnEvent(ev Event) (d Decision, ok bool)
}

type CommandSpec struct {
	Name      string
	Level     int
	VoteLevel int
}

// CommandProvider is implemented by plugins adding commands.
type CommandProvider interface {
	Commands() []CommandSpec
}

// Chain runs plugins in a fixed order and stops at the first definitive
// answer. A panicking plugin is logged and skipped.
type Chain struct {
	plugins []Plugin
	logger  *zap.Logger
}

func NewChain(logger *zap.Logger, plugins ...Plugin) *Chain {
	return &Chain{plugins: plugins, logger: logger}
}

func (c *Chain) Dispatch(ev Event) (Decision, string, bool) {
	for _, p := range c.plugins {
		d, ok := c.call(p, ev)
		if ok {
			return d, p.Name(), true
		}
	}
	return Decision{}, "", false
}

func (c *Chain) call(p Plugin, ev Event) (d Decision, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("plugin panicked", zap.String("plugin", p.Name()), zap.String("event", string(ev.Kind)), zap.Any("panic", r))
			d, ok = Decision{}, false
		}
	}()
	return p.OnEvent(ev)
}

// Commands lists commands added by plugins, first plugin wins on a clash.
func (c *Chain) Commands() map[string]CommandSpec {
	out := make(map[string]CommandSpec)
	for _, p := range c.plugins {
		cp, ok := p.(CommandProvider)
		if !ok {
			continue
		}
		for _, spec := range cp.Commands() {
			if _, dup := out[spec.Name]; !dup {
				out[spec.Name] = spec
			}
		}
	}
	return out
}

func (c *Chain) Names() []string {
	names := make([]string, len(c.plugins))
	for i, p := range c.plugins {
		names[i] = p.Name()
	}
	return names
}
