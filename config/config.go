package config

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	RequireAuth    bool
	LogLevel       string
	Redis          RedisConfig
	Rooms          RoomConfig
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// RoomConfig controls admission and relay behaviour.
type RoomConfig struct {
	Capacity       int    // maximum members per room, 0 = unlimited
	ReadyThreshold int    // members needed before "ready" is sent
	CandidateTypes string // comma-separated origins the relay forwards
	SendQueueSize  int    // per-connection outbound queue length
}

// SetDefaults registers every key and its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("jwt_secret", "change-me-in-production")
	v.SetDefault("require_auth", false)
	v.SetDefault("log_level", "info")

	v.SetDefault("redis_enabled", false)
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", "6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("room_capacity", 2)
	v.SetDefault("ready_threshold", 2)
	v.SetDefault("candidate_types", "host,srflx,relay")
	v.SetDefault("send_queue_size", 256)
}

// New returns a viper instance reading defaults and the environment
// (PORT, JWT_SECRET, ROOM_CAPACITY, ...).
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return v
}

// Load builds the configuration from the environment.
func Load() *Config {
	return FromViper(New())
}

// FromViper builds the configuration from v.
func FromViper(v *viper.Viper) *Config {
	// Parse allowed origins (comma-separated)
	var origins []string
	for _, o := range strings.Split(v.GetString("allowed_origins"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Config{
		Port:           v.GetString("port"),
		Environment:    v.GetString("environment"),
		AllowedOrigins: origins,
		JWTSecret:      v.GetString("jwt_secret"),
		RequireAuth:    v.GetBool("require_auth"),
		LogLevel:       v.GetString("log_level"),
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis_enabled"),
			Host:     v.GetString("redis_host"),
			Port:     v.GetString("redis_port"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Rooms: RoomConfig{
			Capacity:       v.GetInt("room_capacity"),
			ReadyThreshold: v.GetInt("ready_threshold"),
			CandidateTypes: v.GetString("candidate_types"),
			SendQueueSize:  v.GetInt("send_queue_size"),
		},
	}
}

// Logger returns a root logger at the configured level. Unknown levels
// fall back to info.
func (c *Config) Logger() *logrus.Entry {
	l := logrus.New()
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.Level = level
	return logrus.NewEntry(l).WithField("env", c.Environment)
}
