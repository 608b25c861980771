package plugin

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/DoyleJ11/autohost/internal/skill"
)

// ForbiddenWords kicks anyone below ImmuneLevel who uses one of Words in
// room chat. Matching is whole-word and case insensitive.
type ForbiddenWords struct {
	ImmuneLevel int
	HostName    string
	re          *regexp.Regexp
}

func NewForbiddenWords(words []string, immuneLevel int, hostName string) *ForbiddenWords {
	f := &ForbiddenWords{ImmuneLevel: immuneLevel, HostName: hostName}
	var quoted []string
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	if len(quoted) > 0 {
		f.re = regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	}
	return f
}

func (f *ForbiddenWords) Name() string { return "forbiddenWords" }

func (f *ForbiddenWords) OnEvent(ev Event) (Decision, bool) {
	if ev.Kind != EventChat || f.re == nil || ev.From == f.HostName || ev.Access >= f.ImmuneLevel {
		return Decision{}, false
	}
	if !f.re.MatchString(ev.Text) {
		return Decision{}, false
	}
	return Decision{
		Reply: fmt.Sprintf("Kicking %s from battle (watch your language!)", ev.From),
		Kick:  ev.From,
	}, true
}

// Time answers the "time" command with the local time.
type Time struct {
	Level int
	Now   func() time.Time
}

func (t *Time) Name() string { return "time" }

func (t *Time) Commands() []CommandSpec {
	return []CommandSpec{{Name: "time", Level: t.Level, VoteLevel: t.Level}}
}

func (t *Time) OnEvent(ev Event) (Decision, bool) {
	if ev.Kind != EventCommand || len(ev.Command) == 0 || ev.Command[0] != "time" {
		return Decision{}, false
	}
	if ev.CheckOnly {
		return Decision{}, true
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return Decision{Reply: "Current local time: " + now().Format("15:04:05")}, true
}

// Hello answers a private "Hello". Other private messages pass through.
type Hello struct{}

func (Hello) Name() string { return "hello" }

func (Hello) OnEvent(ev Event) (Decision, bool) {
	if ev.Kind != EventPrivateMessage || ev.Text != "Hello" {
		return Decision{}, false
	}
	return Decision{Reply: "Hello World", ReplyPrivate: true}, true
}

// SkillOverride pins the skill of listed accounts, whatever the game type.
type SkillOverride struct {
	Skills map[string]float64
}

func (SkillOverride) Name() string { return "skillOverride" }

func (s SkillOverride) OnEvent(ev Event) (Decision, bool) {
	if ev.Kind != EventSkill {
		return Decision{}, false
	}
	v, ok := s.Skills[ev.AccountID]
	if !ok {
		return Decision{}, false
	}
	return Decision{Skill: &roster.Skill{Value: v, Sigma: skill.DefaultSigma, Origin: roster.OriginPlugin}}, true
}
