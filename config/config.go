// Package config loads the node settings with viper. Values come from the
// defaults below, an optional JSON or YAML file, then DUNELOCKSTEP_*
// environment variables.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var (
	Cfg = Config{}
)

type Config struct {
	LogLevel      string `mapstructure:"logLevel"`
	PlayerName    string `mapstructure:"playerName"`
	ListenAddress string `mapstructure:"listenAddress"`
	MaxPlayers    int    `mapstructure:"maxPlayers"`

	GameSpeed                 time.Duration `mapstructure:"gameSpeed"`
	AwaitingConnectionTimeout time.Duration `mapstructure:"awaitingConnectionTimeout"`
	NetworkCycleBufferMin     uint32        `mapstructure:"networkCycleBufferMin"`
	NetworkCycleBufferMax     uint32        `mapstructure:"networkCycleBufferMax"`
	NetworkSafetyMargin       uint32        `mapstructure:"networkSafetyMargin"`
	TestSyncInterval          uint32        `mapstructure:"testSyncInterval"`
	WaitGrace                 time.Duration `mapstructure:"waitGrace"`
	FrameBudget               time.Duration `mapstructure:"frameBudget"`
	DiscontinuityThreshold    time.Duration `mapstructure:"discontinuityThreshold"`

	ReplayDir     string `mapstructure:"replayDir"`
	DesyncSaveDir string `mapstructure:"desyncSaveDir"`
	StatusAddress string `mapstructure:"statusAddress"`

	LanAnnounce   bool   `mapstructure:"lanAnnounce"`
	LanPort       int    `mapstructure:"lanPort"`
	MetaServerURL string `mapstructure:"metaServerURL"`

	ChatRate  float64 `mapstructure:"chatRate"`
	ChatBurst int     `mapstructure:"chatBurst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")
	v.SetDefault("playerName", "player")
	v.SetDefault("listenAddress", ":28747")
	v.SetDefault("maxPlayers", 6)

	v.SetDefault("gameSpeed", 16*time.Millisecond)
	v.SetDefault("awaitingConnectionTimeout", 30*time.Second)
	v.SetDefault("networkCycleBufferMin", 2)
	v.SetDefault("networkCycleBufferMax", 60)
	v.SetDefault("networkSafetyMargin", 2)
	v.SetDefault("testSyncInterval", 32)
	v.SetDefault("waitGrace", time.Second)
	v.SetDefault("frameBudget", 25*time.Millisecond)
	v.SetDefault("discontinuityThreshold", time.Second)

	v.SetDefault("replayDir", "./replays")
	v.SetDefault("desyncSaveDir", "")
	v.SetDefault("statusAddress", "")

	v.SetDefault("lanAnnounce", true)
	v.SetDefault("lanPort", 28748)
	v.SetDefault("metaServerURL", "")

	v.SetDefault("chatRate", 4)
	v.SetDefault("chatBurst", 8)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DUNELOCKSTEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load fills Cfg. An empty path uses defaults and environment only.
func Load(path string) error {
	c, err := Read(path)
	if nil != err {
		return err
	}
	Cfg = c
	return nil
}

// Read returns the configuration without touching Cfg.
func Read(path string) (Config, error) {
	v := newViper()
	if "" != path {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); nil != err {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); nil != err {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return c, c.Validate()
}

// Validate rejects settings the game cannot run with.
func (c Config) Validate() error {
	switch {
	case c.GameSpeed <= 0:
		return errors.Errorf("gameSpeed %v must be positive", c.GameSpeed)
	case c.MaxPlayers < 1:
		return errors.Errorf("maxPlayers %d must be at least 1", c.MaxPlayers)
	case c.NetworkCycleBufferMin > c.NetworkCycleBufferMax:
		return errors.Errorf("networkCycleBufferMin %d above max %d", c.NetworkCycleBufferMin, c.NetworkCycleBufferMax)
	case c.ChatBurst < 0 || c.ChatRate < 0:
		return errors.New("chat rate and burst must not be negative")
	}
	return nil
}

// Save writes the defaults merged with path's contents, if any, to out.
func Save(path, out string) error {
	v := newViper()
	if "" != path {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); nil != err {
			return errors.Wrapf(err, "read config %s", path)
		}
	}
	return v.WriteConfigAs(out)
}
