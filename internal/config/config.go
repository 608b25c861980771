// Package config loads the autohost preset: a YAML file, an optional .env
// file and AUTOHOST_* environment overrides for secrets and endpoints.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/DoyleJ11/autohost/internal/balance"
	"github.com/DoyleJ11/autohost/internal/engine"
	"github.com/DoyleJ11/autohost/internal/moderation"
	"github.com/DoyleJ11/autohost/internal/orchestrator"
	"github.com/DoyleJ11/autohost/internal/plugin"
	"github.com/DoyleJ11/autohost/internal/process"
	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/DoyleJ11/autohost/internal/skill"
	"github.com/DoyleJ11/autohost/internal/transport"
	"github.com/DoyleJ11/autohost/internal/vote"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	EnvLobbyPassword = "AUTOHOST_LOBBY_PASSWORD"
	EnvJWTSecret     = "AUTOHOST_JWT_SECRET"
	EnvDBDSN         = "AUTOHOST_DB_DSN"
	EnvHTTPAddr      = "AUTOHOST_HTTP_ADDR"
	EnvLogLevel      = "AUTOHOST_LOG_LEVEL"
)

type LobbyConfig struct {
	URL             string        `yaml:"url"`
	Login           string        `yaml:"login"`
	Password        string        `yaml:"password"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
	ReconnectDelay  time.Duration `yaml:"reconnectDelay"`
	MaxLoginRetries int           `yaml:"maxLoginRetries"`
	RoomRetryDelay  time.Duration `yaml:"roomRetryDelay"`
}

type RoomConfig struct {
	Title      string `yaml:"title"`
	Password   string `yaml:"password"`
	Mod        string `yaml:"mod"`
	Map        string `yaml:"map"`
	MaxPlayers int    `yaml:"maxPlayers"`
	Port       int    `yaml:"port"`
}

type BalanceConfig struct {
	Mode         string        `yaml:"mode"`
	NbTeams      int           `yaml:"nbTeams"`
	MinTeamSize  int           `yaml:"minTeamSize"`
	NbPlayerByID int           `yaml:"nbPlayerById"`
	IDShare      string        `yaml:"idShare"`
	Auto         bool          `yaml:"auto"`
	BotSkill     string        `yaml:"botSkill"`
	SkillTimeout time.Duration `yaml:"skillTimeout"`
}

type ColorsConfig struct {
	AutoFix     bool    `yaml:"autoFix"`
	Sensitivity float64 `yaml:"sensitivity"`
}

type VoteConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	AwayDelay        time.Duration `yaml:"awayDelay"`
	MinParticipation float64       `yaml:"minParticipation"`
	ReCallDelay      time.Duration `yaml:"reCallDelay"`
}

// CommandLevels overrides the access levels of one command. A missing
// voteLevel makes the command not votable.
type CommandLevels struct {
	Level     int  `yaml:"level"`
	VoteLevel *int `yaml:"voteLevel"`
}

type PrefsConfig struct {
	VoteRingDelay   time.Duration `yaml:"voteRingDelay"`
	VoteNotifyDelay time.Duration `yaml:"voteNotifyDelay"`
	AwayMode        bool          `yaml:"awayMode"`
	AutoAway        bool          `yaml:"autoAway"`
}

type UserConfig struct {
	Access int         `yaml:"access"`
	Prefs  PrefsConfig `yaml:"prefs"`
}

type FloodRuleConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

type FloodConfig struct {
	Chat           FloodRuleConfig `yaml:"chat"`
	Status         FloodRuleConfig `yaml:"status"`
	Command        FloodRuleConfig `yaml:"command"`
	Join           FloodRuleConfig `yaml:"join"`
	KicksBeforeBan int             `yaml:"kicksBeforeBan"`
	KickMemory     time.Duration   `yaml:"kickMemory"`
	BanDuration    time.Duration   `yaml:"banDuration"`
}

type GameConfig struct {
	Binary              string        `yaml:"binary"`
	WorkDir             string        `yaml:"workDir"`
	ScriptName          string        `yaml:"scriptName"`
	StopGrace           time.Duration `yaml:"stopGrace"`
	EndCommand          []string      `yaml:"endCommand"`
	MapRotation         []string      `yaml:"mapRotation"`
	MinRotationDuration time.Duration `yaml:"minRotationDuration"`
}

type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwtSecret"`
}

type DBConfig struct {
	DSN string `yaml:"dsn"`
}

type PluginsConfig struct {
	ForbiddenWords []string           `yaml:"forbiddenWords"`
	ImmuneLevel    int                `yaml:"immuneLevel"`
	Time           bool               `yaml:"time"`
	TimeLevel      int                `yaml:"timeLevel"`
	Hello          bool               `yaml:"hello"`
	SkillOverrides map[string]float64 `yaml:"skillOverrides"`
}

type SendConfig struct {
	Budget int           `yaml:"budget"`
	Window time.Duration `yaml:"window"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	Lobby         LobbyConfig              `yaml:"lobby"`
	Room          RoomConfig               `yaml:"room"`
	Balance       BalanceConfig            `yaml:"balance"`
	Colors        ColorsConfig             `yaml:"colors"`
	Vote          VoteConfig               `yaml:"vote"`
	Commands      map[string]CommandLevels `yaml:"commands"`
	Users         map[string]UserConfig    `yaml:"users"`
	DefaultAccess int                      `yaml:"defaultAccess"`
	DefaultPrefs  PrefsConfig              `yaml:"defaultPrefs"`
	Flood         FloodConfig              `yaml:"flood"`
	Game          GameConfig               `yaml:"game"`
	HTTP          HTTPConfig               `yaml:"http"`
	DB            DBConfig                 `yaml:"db"`
	Plugins       PluginsConfig            `yaml:"plugins"`
	Send          SendConfig               `yaml:"send"`
	Log           LogConfig                `yaml:"log"`
	Maps          []transport.Archive      `yaml:"maps"`
	Mods          []transport.Archive      `yaml:"mods"`
}

func Default() Config {
	return Config{
		Lobby: LobbyConfig{
			ConnectTimeout:  30 * time.Second,
			ReconnectDelay:  30 * time.Second,
			MaxLoginRetries: 3,
			RoomRetryDelay:  time.Minute,
		},
		Room: RoomConfig{MaxPlayers: 16, Port: 8452},
		Balance: BalanceConfig{
			Mode:         string(balance.ModeSkill),
			NbTeams:      2,
			MinTeamSize:  1,
			NbPlayerByID: 1,
			IDShare:      string(balance.IDShareAuto),
			Auto:         true,
			BotSkill:     string(skill.BotSkillRank),
			SkillTimeout: 10 * time.Second,
		},
		Colors: ColorsConfig{AutoFix: true, Sensitivity: 55},
		Vote: VoteConfig{
			Timeout:     time.Minute,
			AwayDelay:   20 * time.Second,
			ReCallDelay: 10 * time.Second,
		},
		Flood: FloodConfig{
			Chat:           FloodRuleConfig{Max: 6, Window: 5 * time.Second},
			Status:         FloodRuleConfig{Max: 10, Window: 5 * time.Second},
			Command:        FloodRuleConfig{Max: 4, Window: 3 * time.Second},
			Join:           FloodRuleConfig{Max: 5, Window: time.Minute},
			KicksBeforeBan: 3,
			KickMemory:     time.Hour,
			BanDuration:    15 * time.Minute,
		},
		Game: GameConfig{
			WorkDir:             ".",
			StopGrace:           10 * time.Second,
			MinRotationDuration: 5 * time.Minute,
		},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Plugins: PluginsConfig{ImmuneLevel: 100, Time: true, Hello: true},
		Send:    SendConfig{Budget: 20, Window: 5 * time.Second},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads the preset at path over the defaults. envFiles are loaded with
// godotenv first; missing ones are skipped. Variables already set in the
// environment win over .env values.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a preset, applies the environment through getenv and
// validates the result.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.applyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Lobby.Password, EnvLobbyPassword)
	set(&c.HTTP.JWTSecret, EnvJWTSecret)
	set(&c.DB.DSN, EnvDBDSN)
	set(&c.HTTP.Addr, EnvHTTPAddr)
	set(&c.Log.Level, EnvLogLevel)
}

// Validate reports every problem at once, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Lobby.URL == "" {
		bad("lobby.url is required")
	}
	if c.Lobby.Login == "" {
		bad("lobby.login is required")
	}
	if c.Lobby.MaxLoginRetries < 0 {
		bad("lobby.maxLoginRetries must not be negative")
	}
	if c.Room.Mod == "" {
		bad("room.mod is required")
	}
	if c.Room.Map == "" {
		bad("room.map is required")
	}
	if !balance.Mode(c.Balance.Mode).Valid() {
		bad("balance.mode %q is unknown", c.Balance.Mode)
	}
	if !balance.IDShare(c.Balance.IDShare).Valid() {
		bad("balance.idShare %q is unknown", c.Balance.IDShare)
	}
	if c.Balance.NbTeams < 1 || c.Balance.NbTeams > balance.MaxIDs {
		bad("balance.nbTeams must be between 1 and %d", balance.MaxIDs)
	}
	if c.Balance.MinTeamSize < 1 || c.Balance.NbPlayerByID < 1 {
		bad("balance.minTeamSize and balance.nbPlayerById must be at least 1")
	}
	switch skill.BotMode(c.Balance.BotSkill) {
	case skill.BotSkillRank, skill.BotSkillRandom:
	default:
		bad("balance.botSkill %q is unknown", c.Balance.BotSkill)
	}
	if c.Colors.Sensitivity < 0 {
		bad("colors.sensitivity must not be negative")
	}
	if c.Vote.Timeout <= 0 {
		bad("vote.timeout must be positive")
	}
	if c.Vote.MinParticipation < 0 || c.Vote.MinParticipation > 100 {
		bad("vote.minParticipation must be a percentage")
	}
	for name, l := range c.Commands {
		if l.Level < 0 || (l.VoteLevel != nil && *l.VoteLevel < 0) {
			bad("commands.%s: levels must not be negative", name)
		}
	}
	for class, r := range map[string]FloodRuleConfig{"chat": c.Flood.Chat, "status": c.Flood.Status, "command": c.Flood.Command, "join": c.Flood.Join} {
		if r.Max < 0 || (r.Max > 0 && r.Window <= 0) {
			bad("flood.%s needs a positive window", class)
		}
	}
	if c.Game.Binary == "" {
		bad("game.binary is required")
	}
	if len(c.Game.EndCommand) > 0 && strings.TrimSpace(c.Game.EndCommand[0]) == "" {
		bad("game.endCommand starts with an empty program")
	}
	if c.HTTP.Addr != "" && c.HTTP.JWTSecret == "" {
		bad("http.jwtSecret (or %s) is required when the HTTP API is enabled", EnvJWTSecret)
	}
	if c.Send.Budget < 0 || (c.Send.Budget > 0 && c.Send.Window <= 0) {
		bad("send.window must be positive when send.budget is set")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		bad("log.level %q is unknown", c.Log.Level)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (p PrefsConfig) prefs() roster.Prefs {
	return roster.Prefs{
		VoteRingDelay:   p.VoteRingDelay,
		VoteNotifyDelay: p.VoteNotifyDelay,
		AwayMode:        p.AwayMode,
		AutoAway:        p.AutoAway,
	}
}

func (r FloodRuleConfig) rule() moderation.FloodRule {
	return moderation.FloodRule{Max: r.Max, Window: r.Window}
}

// Orchestrator maps the preset onto the orchestrator's configuration.
func (c *Config) Orchestrator() orchestrator.Config {
	commands := make(map[string]orchestrator.Levels, len(c.Commands))
	for name, l := range c.Commands {
		levels := orchestrator.Levels{Level: l.Level, VoteLevel: orchestrator.NoVote}
		if l.VoteLevel != nil {
			levels.VoteLevel = *l.VoteLevel
		}
		commands[name] = levels
	}
	users := make(map[string]orchestrator.User, len(c.Users))
	for name, u := range c.Users {
		users[name] = orchestrator.User{Access: u.Access, Prefs: u.Prefs.prefs()}
	}

	return orchestrator.Config{
		HostName:    c.Lobby.Login,
		Credentials: transport.Credentials{Login: c.Lobby.Login, Password: c.Lobby.Password},
		Room: transport.RoomParams{
			Title:      c.Room.Title,
			Password:   c.Room.Password,
			Mod:        c.Room.Mod,
			Map:        c.Room.Map,
			MaxPlayers: c.Room.MaxPlayers,
			Port:       c.Room.Port,
		},
		Lifecycle: engine.Policy{
			ReconnectDelay:  c.Lobby.ReconnectDelay,
			MaxLoginRetries: c.Lobby.MaxLoginRetries,
			RoomRetryDelay:  c.Lobby.RoomRetryDelay,
		},
		ConnectTimeout: c.Lobby.ConnectTimeout,
		Balance: balance.Policy{
			Mode:         balance.Mode(c.Balance.Mode),
			NbTeams:      c.Balance.NbTeams,
			MinTeamSize:  c.Balance.MinTeamSize,
			NbPlayerByID: c.Balance.NbPlayerByID,
			IDShare:      balance.IDShare(c.Balance.IDShare),
		},
		AutoBalance:      c.Balance.Auto,
		AutoFixColors:    c.Colors.AutoFix,
		ColorSensitivity: c.Colors.Sensitivity,
		BotSkill:         skill.BotMode(c.Balance.BotSkill),
		SkillTimeout:     c.Balance.SkillTimeout,
		Vote: vote.Settings{
			Timeout:          c.Vote.Timeout,
			AwayDelay:        c.Vote.AwayDelay,
			MinParticipation: c.Vote.MinParticipation,
			ReCallDelay:      c.Vote.ReCallDelay,
		},
		Commands:      commands,
		Users:         users,
		DefaultAccess: c.DefaultAccess,
		DefaultPrefs:  c.DefaultPrefs.prefs(),
		Flood: moderation.FloodConfig{
			Rules: map[moderation.FloodClass]moderation.FloodRule{
				moderation.FloodChat:    c.Flood.Chat.rule(),
				moderation.FloodStatus:  c.Flood.Status.rule(),
				moderation.FloodCommand: c.Flood.Command.rule(),
				moderation.FloodJoin:    c.Flood.Join.rule(),
			},
			KicksBeforeBan: c.Flood.KicksBeforeBan,
			KickMemory:     c.Flood.KickMemory,
			BanDuration:    c.Flood.BanDuration,
		},
		SendBudget:          c.Send.Budget,
		SendWindow:          c.Send.Window,
		MapRotation:         c.Game.MapRotation,
		MinRotationDuration: c.Game.MinRotationDuration,
		EndGameCommand:      c.Game.EndCommand,
		WorkDir:             c.Game.WorkDir,
	}
}

func (c *Config) Supervisor() process.Config {
	return process.Config{Binary: c.Game.Binary, ScriptName: c.Game.ScriptName, StopGrace: c.Game.StopGrace}
}

func (c *Config) Catalog() transport.StaticCatalog {
	return transport.StaticCatalog{Maps: c.Maps, Mods: c.Mods}
}

// PluginChain lists the enabled built-in plugins in their dispatch order.
func (c *Config) PluginChain() []plugin.Plugin {
	var out []plugin.Plugin
	if len(c.Plugins.ForbiddenWords) > 0 {
		out = append(out, plugin.NewForbiddenWords(c.Plugins.ForbiddenWords, c.Plugins.ImmuneLevel, c.Lobby.Login))
	}
	if c.Plugins.Time {
		out = append(out, &plugin.Time{Level: c.Plugins.TimeLevel})
	}
	if c.Plugins.Hello {
		out = append(out, plugin.Hello{})
	}
	if len(c.Plugins.SkillOverrides) > 0 {
		out = append(out, plugin.SkillOverride{Skills: c.Plugins.SkillOverrides})
	}
	return out
}
