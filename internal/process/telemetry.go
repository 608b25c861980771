package process

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrNotTelemetry = errors.New("not a telemetry line")

type TelemetryKind string

const (
	TelStarted    TelemetryKind = "started"
	TelJoined     TelemetryKind = "joined"
	TelReady      TelemetryKind = "ready"
	TelDefeated   TelemetryKind = "defeated"
	TelLeft       TelemetryKind = "left"
	TelTeamStats  TelemetryKind = "teamstats"
	TelGameOver   TelemetryKind = "gameover"
	telemetryMark               = "@autohost"
)

type Telemetry struct {
	Kind   TelemetryKind
	Player string
	// Ally is the ally group for teamstats; Winners the winning ally groups
	// for gameover.
	Ally    int
	Winners []int
	Stats   map[string]float64
}

// ParseTelemetry reads one line of game output of the form
// "@autohost <kind> [args...]".
func ParseTelemetry(line string) (Telemetry, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != telemetryMark {
		return Telemetry{}, ErrNotTelemetry
	}
	t := Telemetry{Kind: TelemetryKind(fields[1])}
	args := fields[2:]
	switch t.Kind {
	case TelStarted:
	case TelJoined, TelReady, TelDefeated, TelLeft:
		if len(args) != 1 {
			return Telemetry{}, fmt.Errorf("%s: want a player name", t.Kind)
		}
		t.Player = args[0]
	case TelGameOver:
		for _, a := range args {
			n, err := strconv.Atoi(a)
			if err != nil {
				return Telemetry{}, fmt.Errorf("gameover: bad ally %q", a)
			}
			t.Winners = append(t.Winners, n)
		}
	case TelTeamStats:
		if len(args) < 1 {
			return Telemetry{}, errors.New("teamstats: missing ally")
		}
		ally, err := strconv.Atoi(args[0])
		if err != nil {
			return Telemetry{}, fmt.Errorf("teamstats: bad ally %q", args[0])
		}
		t.Ally = ally
		t.Stats = make(map[string]float64)
		for _, kv := range args[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				t.Stats[k] = f
			}
		}
	default:
		return Telemetry{}, fmt.Errorf("unknown telemetry %q", t.Kind)
	}
	return t, nil
}
