package platform

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModeDev  = "dev"
	ModeProd = "prod"

	// MaxHistoryLimit caps chat.history_limit at the largest page the message store serves.
	MaxHistoryLimit = 100
)

// Config is the runtime configuration of the server.
type Config struct {
	Mode    string
	Port    int
	DB      DBConfig
	LLM     LLMConfig
	Auth    AuthConfig
	Chat    ChatConfig
	Log     LogConfig
	CORS    CORSConfig
	Janitor JanitorConfig
}

// DBConfig 包含数据库连接的配置信息
type DBConfig struct {
	Driver       string
	DSN          string
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	MaxOpenConns int
	MaxIdleConns int
}

type LLMConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	TitleModel   string
	SystemPrompt string
	MaxSteps     int
	Timeout      time.Duration
}

type AuthConfig struct {
	Secret    string
	PublicKey string
	Issuer    string
}

type ChatConfig struct {
	HistoryLimit  int
	TimestampStep time.Duration
}

type LogConfig struct {
	Path  string
	Level string
}

type CORSConfig struct {
	AllowOrigins []string
}

type JanitorConfig struct {
	Schedule     string
	EmptyChatTTL time.Duration
}

// SetDefaults registers default values and the environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeDev)
	v.SetDefault("port", 3004)

	v.SetDefault("db.driver", "mysql")
	v.SetDefault("db.port", "3306")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.title_model", "gpt-4o-mini")
	v.SetDefault("llm.system_prompt", "You are a helpful assistant.")
	v.SetDefault("llm.max_steps", 10)
	v.SetDefault("llm.timeout", 5*time.Minute)

	v.SetDefault("chat.history_limit", 30)
	v.SetDefault("chat.timestamp_step", time.Millisecond)

	v.SetDefault("log.path", "./log")
	v.SetDefault("log.level", "info")

	v.SetDefault("cors.allow_origins", []string{"http://localhost:3000"})

	v.SetDefault("janitor.schedule", "@every 1h")
	v.SetDefault("janitor.empty_chat_ttl", 24*time.Hour)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Keep the variable names the deployment scripts already export.
	legacy := map[string]string{
		"db.host":      "SQL_HOST",
		"db.port":      "SQL_PORT",
		"db.user":      "SQL_USER",
		"db.password":  "SQL_PASSWORD",
		"db.name":      "SQL_DBNAME",
		"llm.base_url": "LLM_BASE_URL",
		"llm.api_key":  "LLM_API_KEY",
		"auth.secret":  "ACCESS_SECRET",
	}
	for key, env := range legacy {
		_ = v.BindEnv(key, strings.ToUpper(strings.NewReplacer(".", "_").Replace(key)), env)
	}
}

// LoadConfig reads the configuration out of v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Mode: v.GetString("mode"),
		Port: v.GetInt("port"),
		DB: DBConfig{
			Driver:       v.GetString("db.driver"),
			DSN:          v.GetString("db.dsn"),
			Host:         v.GetString("db.host"),
			Port:         v.GetString("db.port"),
			User:         v.GetString("db.user"),
			Password:     v.GetString("db.password"),
			Name:         v.GetString("db.name"),
			MaxOpenConns: v.GetInt("db.max_open_conns"),
			MaxIdleConns: v.GetInt("db.max_idle_conns"),
		},
		LLM: LLMConfig{
			BaseURL:      v.GetString("llm.base_url"),
			APIKey:       v.GetString("llm.api_key"),
			Model:        v.GetString("llm.model"),
			TitleModel:   v.GetString("llm.title_model"),
			SystemPrompt: v.GetString("llm.system_prompt"),
			MaxSteps:     v.GetInt("llm.max_steps"),
			Timeout:      v.GetDuration("llm.timeout"),
		},
		Auth: AuthConfig{
			Secret:    v.GetString("auth.secret"),
			PublicKey: v.GetString("auth.public_key"),
			Issuer:    v.GetString("auth.issuer"),
		},
		Chat: ChatConfig{
			HistoryLimit:  v.GetInt("chat.history_limit"),
			TimestampStep: v.GetDuration("chat.timestamp_step"),
		},
		Log: LogConfig{
			Path:  v.GetString("log.path"),
			Level: v.GetString("log.level"),
		},
		CORS: CORSConfig{
			AllowOrigins: v.GetStringSlice("cors.allow_origins"),
		},
		Janitor: JanitorConfig{
			Schedule:     v.GetString("janitor.schedule"),
			EmptyChatTTL: v.GetDuration("janitor.empty_chat_ttl"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Mode != ModeDev && c.Mode != ModeProd {
		return fmt.Errorf("invalid mode %q, must be %q or %q", c.Mode, ModeDev, ModeProd)
	}
	if c.DB.Driver != "mysql" && c.DB.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver %q", c.DB.Driver)
	}
	if c.LLM.MaxSteps <= 0 {
		return fmt.Errorf("llm.max_steps must be positive, got %d", c.LLM.MaxSteps)
	}
	if c.Chat.HistoryLimit <= 0 || c.Chat.HistoryLimit > MaxHistoryLimit {
		return fmt.Errorf("chat.history_limit must be between 1 and %d, got %d", MaxHistoryLimit, c.Chat.HistoryLimit)
	}
	if c.Chat.TimestampStep <= 0 {
		return fmt.Errorf("chat.timestamp_step must be positive, got %s", c.Chat.TimestampStep)
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Mode == ModeDev
}
