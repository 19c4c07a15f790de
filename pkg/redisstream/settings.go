package redisstream

import (
	"os"
	"strings"

	"github.com/go-go-golems/ruminate/pkg/eventbus"
)

// Settings holds Redis Streams transport configuration for Watermill.
type Settings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	Group    string `mapstructure:"group" yaml:"group"`
	Consumer string `mapstructure:"consumer" yaml:"consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:  false,
		Addr:     "localhost:6379",
		Topic:    eventbus.DefaultTopic,
		Group:    "ruminate-ws",
		Consumer: defaultConsumer(),
	}
}

// withDefaults fills empty fields from DefaultSettings.
func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if strings.TrimSpace(s.Addr) == "" {
		s.Addr = def.Addr
	}
	if strings.TrimSpace(s.Topic) == "" {
		s.Topic = def.Topic
	}
	if strings.TrimSpace(s.Group) == "" {
		s.Group = def.Group
	}
	if strings.TrimSpace(s.Consumer) == "" {
		s.Consumer = def.Consumer
	}
	return s
}

func defaultConsumer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "ruminate-1"
	}
	return "ruminate-" + host
}
