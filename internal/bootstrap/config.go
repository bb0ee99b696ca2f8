package bootstrap

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"impostor-game/internal/infra/setup"
	"impostor-game/internal/service"
)

// Config 结构体用于存储从环境变量或 .env 文件加载的配置
type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	ServerPort string `mapstructure:"SERVER_PORT"`

	DBDriver    string `mapstructure:"DB_DRIVER"`
	DBUser      string `mapstructure:"DB_USER"`
	DBPassword  string `mapstructure:"DB_PASSWORD"`
	DBHost      string `mapstructure:"DB_HOST"`
	DBPort      string `mapstructure:"DB_PORT"`
	DBName      string `mapstructure:"DB_NAME"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	KeyPrefix     string `mapstructure:"REDIS_KEY_PREFIX"`

	JWTSecret         string        `mapstructure:"JWT_SECRET"` // 为空时 /ws 不校验 token
	RateLimitMax      int           `mapstructure:"RATE_LIMIT_MAX"`
	RateLimitWindow   time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	CORSAllowedOrigin string        `mapstructure:"CORS_ALLOWED_ORIGIN"`

	VotingSeconds         int           `mapstructure:"VOTING_SECONDS"`
	VoteResultSeconds     int           `mapstructure:"VOTE_RESULT_SECONDS"`
	EmptyRoomGrace        time.Duration `mapstructure:"EMPTY_ROOM_GRACE"`
	RoomLockTTL           time.Duration `mapstructure:"ROOM_LOCK_TTL"`
	RoomLockWait          time.Duration `mapstructure:"ROOM_LOCK_WAIT"`
	ForceAdvanceTolerance time.Duration `mapstructure:"FORCE_ADVANCE_TOLERANCE"`
	StalePhaseGrace       time.Duration `mapstructure:"STALE_PHASE_GRACE"`
	SweepSchedule         string        `mapstructure:"SWEEP_SCHEDULE"`
}

var configDefaults = map[string]interface{}{
	"APP_ENV":                 "development",
	"LOG_LEVEL":               "info",
	"SERVER_PORT":             "8080",
	"DB_DRIVER":               "mysql",
	"DB_USER":                 "",
	"DB_PASSWORD":             "",
	"DB_HOST":                 "127.0.0.1",
	"DB_PORT":                 "",
	"DB_NAME":                 "impostor",
	"DATABASE_URL":            "",
	"REDIS_ADDR":              "",
	"REDIS_PASSWORD":          "",
	"REDIS_DB":                0,
	"REDIS_KEY_PREFIX":        "ig:",
	"JWT_SECRET":              "",
	"RATE_LIMIT_MAX":          100,
	"RATE_LIMIT_WINDOW":       "1s",
	"CORS_ALLOWED_ORIGIN":     "http://localhost:3000",
	"VOTING_SECONDS":          30,
	"VOTE_RESULT_SECONDS":     5,
	"EMPTY_ROOM_GRACE":        "30m",
	"ROOM_LOCK_TTL":           "5s",
	"ROOM_LOCK_WAIT":          "2s",
	"FORCE_ADVANCE_TOLERANCE": "2s",
	"STALE_PHASE_GRACE":       "30s",
	"SWEEP_SCHEDULE":          "@every 1m",
}

// LoadConfig 先加载 .env (不存在时忽略)，再由环境变量覆盖默认值。
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range configDefaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if c.DBDriver != "mysql" && c.DBDriver != "postgres" {
		return fmt.Errorf("DB_DRIVER must be mysql or postgres, got %q", c.DBDriver)
	}
	if c.VotingSeconds <= 0 || c.VoteResultSeconds <= 0 {
		return fmt.Errorf("VOTING_SECONDS and VOTE_RESULT_SECONDS must be positive")
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	if c.RoomLockTTL <= 0 || c.RoomLockWait <= 0 {
		return fmt.Errorf("ROOM_LOCK_TTL and ROOM_LOCK_WAIT must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", c.LogLevel)
		c.LogLevel = "info"
	}
	return nil
}

// DBOptions 转换为数据库连接参数
func (c *Config) DBOptions() setup.DBOptions {
	return setup.DBOptions{
		Driver:   c.DBDriver,
		User:     c.DBUser,
		Password: c.DBPassword,
		Host:     c.DBHost,
		Port:     c.DBPort,
		Name:     c.DBName,
		URL:      c.DatabaseURL,
	}
}

func (c *Config) GameConfig() service.GameConfig {
	return service.GameConfig{
		VotingDuration:        time.Duration(c.VotingSeconds) * time.Second,
		VoteResultDuration:    time.Duration(c.VoteResultSeconds) * time.Second,
		ForceAdvanceTolerance: c.ForceAdvanceTolerance,
		StalePhaseGrace:       c.StalePhaseGrace,
		LockWait:              c.RoomLockWait,
	}
}

func (c *Config) PresenceConfig() service.PresenceConfig {
	return service.PresenceConfig{
		EmptyRoomGrace: c.EmptyRoomGrace,
		LockWait:       c.RoomLockWait,
	}
}
