package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DoyleJ11/autohost/internal/balance"
	"github.com/DoyleJ11/autohost/internal/moderation"
	"github.com/DoyleJ11/autohost/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
lobby:
  url: ws://lobby:8200/bridge
  login: Autohost
room:
  mod: BA
  map: Comet
game:
  binary: /usr/bin/spring-dedicated
http:
  jwtSecret: s3cret
`

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal), env(nil))
	require.NoError(t, err)

	assert.Equal(t, string(balance.ModeSkill), cfg.Balance.Mode)
	assert.Equal(t, 2, cfg.Balance.NbTeams)
	assert.Equal(t, time.Minute, cfg.Vote.Timeout)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 15*time.Minute, cfg.Flood.BanDuration)
}

func TestParse_EnvOverrides(t *testing.T) {
	cfg, err := Parse([]byte(minimal), env(map[string]string{
		EnvLobbyPassword: "hunter2",
		EnvJWTSecret:     "from-env",
		EnvDBDSN:         "postgres://autohost@db/autohost",
		EnvHTTPAddr:      "127.0.0.1:9000",
		EnvLogLevel:      "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.Lobby.Password)
	assert.Equal(t, "from-env", cfg.HTTP.JWTSecret)
	assert.Equal(t, "postgres://autohost@db/autohost", cfg.DB.DSN)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "lobby: [", ""},
		{"missing lobby", "room: {mod: BA, map: Comet}\ngame: {binary: x}\nhttp: {jwtSecret: s}", "lobby.url is required"},
		{"bad mode", minimal + "balance: {mode: chaos}", "balance.mode"},
		{"bad id share", minimal + "balance: {idShare: sometimes}", "balance.idShare"},
		{"too many teams", minimal + "balance: {nbTeams: 17}", "balance.nbTeams"},
		{"participation", minimal + "vote: {minParticipation: 150}", "vote.minParticipation"},
		{"flood window", minimal + "flood: {chat: {max: 3, window: 0s}}", "flood.chat"},
		{"log level", minimal + "log: {level: loud}", "log.level"},
		{"negative vote level", minimal + "commands: {start: {level: 0, voteLevel: -2}}", "commands.start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), env(nil))
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_HTTPNeedsSecret(t *testing.T) {
	yaml := `
lobby: {url: ws://lobby, login: Autohost}
room: {mod: BA, map: Comet}
game: {binary: x}
`
	_, err := Parse([]byte(yaml), env(nil))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "jwtSecret")

	_, err = Parse([]byte(yaml+"http: {addr: \"\"}\n"), env(nil))
	require.NoError(t, err, "API disabled needs no secret")
}

func TestOrchestratorConfig(t *testing.T) {
	yaml := `
lobby: {url: ws://lobby:8200/bridge, login: Autohost}
room: {mod: BA, map: Comet}
http: {jwtSecret: s3cret}
commands:
  rehost: {level: 120}
  kick: {level: 100, voteLevel: 10}
users:
  admin: {access: 130, prefs: {voteRingDelay: 30s}}
defaultAccess: 10
flood:
  chat: {max: 2, window: 4s}
game:
  binary: /usr/bin/spring-dedicated
  mapRotation: [Comet, Delta]
  endCommand: [./hook.sh]
`
	cfg, err := Parse([]byte(yaml), env(map[string]string{EnvLobbyPassword: "pw"}))
	require.NoError(t, err)
	oc := cfg.Orchestrator()

	assert.Equal(t, "Autohost", oc.HostName)
	assert.Equal(t, "pw", oc.Credentials.Password)
	assert.Equal(t, "Comet", oc.Room.Map)
	assert.Equal(t, orchestrator.Levels{Level: 120, VoteLevel: orchestrator.NoVote}, oc.Commands["rehost"])
	assert.Equal(t, orchestrator.Levels{Level: 100, VoteLevel: 10}, oc.Commands["kick"])
	assert.Equal(t, 130, oc.Users["admin"].Access)
	assert.Equal(t, 30*time.Second, oc.Users["admin"].Prefs.VoteRingDelay)
	assert.Equal(t, 10, oc.DefaultAccess)
	assert.Equal(t, moderation.FloodRule{Max: 2, Window: 4 * time.Second}, oc.Flood.Rules[moderation.FloodChat])
	assert.Equal(t, []string{"Comet", "Delta"}, oc.MapRotation)
	assert.Equal(t, []string{"./hook.sh"}, oc.EndGameCommand)
	assert.True(t, oc.AutoBalance)
}

func TestPluginChain(t *testing.T) {
	cfg, err := Parse([]byte(minimal+"plugins: {forbiddenWords: [noob], time: false, hello: true, skillOverrides: {acc-1: 42}}"), env(nil))
	require.NoError(t, err)

	var names []string
	for _, p := range cfg.PluginChain() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"forbiddenWords", "hello", "skillOverride"}, names)
}

func TestLoad_ReadsFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autohost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte(EnvLobbyPassword+"=from-dotenv\n"), 0o600))
	t.Setenv(EnvLobbyPassword, "")
	os.Unsetenv(EnvLobbyPassword)

	cfg, err := Load(path, envPath, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Lobby.Password)

	_, err = Load(filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
}

func TestExamplePresetIsValid(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "autohost.example.yaml"))
	require.NoError(t, err)
	cfg, err := Parse(data, env(map[string]string{EnvJWTSecret: "s"}))
	require.NoError(t, err)
	assert.Len(t, cfg.Maps, 3)
	assert.Len(t, cfg.PluginChain(), 3)
}
