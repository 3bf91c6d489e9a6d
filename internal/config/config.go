package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration. It is loaded once and passed
// into component constructors; no component reads environment state directly.
type Config struct {
	App    App    `mapstructure:"app"`
	Mail   Mail   `mapstructure:"mail"`
	IMAP   IMAP   `mapstructure:"imap"`
	Gmail  Gmail  `mapstructure:"gmail"`
	SMTP   SMTP   `mapstructure:"smtp"`
	Gemini Gemini `mapstructure:"gemini"`
	Digest Digest `mapstructure:"digest"`
}

// App holds general application configuration.
type App struct {
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Mail selects the mailbox backend: "imap" or "gmail".
type Mail struct {
	Backend string `mapstructure:"backend"`
}

// IMAP holds the polling mail backend configuration.
type IMAP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Addr returns host:port for dialing.
func (i IMAP) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// Gmail holds the OAuth file locations for the Gmail API backend.
type Gmail struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
}

// SMTP holds the outbound delivery configuration.
type SMTP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Addr returns host:port for dialing.
func (s SMTP) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Gemini holds the summarization service configuration.
type Gemini struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Digest holds digest generation and delivery settings.
type Digest struct {
	ToAddress string   `mapstructure:"to_address"`
	Interests []string `mapstructure:"interests"` // Biases relevance scoring in summaries
}

// Load reads configuration from .env, the given config file (default
// .tldread.yaml in the working directory or $HOME) and environment variables
// (IMAP_HOST, GEMINI_API_KEY, ...).
func Load(configFile string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: error loading .env file: %v\n", err)
		}
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.SetConfigName(".tldread")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := os.MkdirAll(cfg.App.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating data dir %s: %w", cfg.App.DataDir, err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.data_dir", "data")

	v.SetDefault("mail.backend", "imap")

	v.SetDefault("imap.port", 993)
	v.SetDefault("gmail.credentials_file", "credentials.json")
	v.SetDefault("gmail.token_file", "token.json")
	v.SetDefault("smtp.port", 587)

	v.SetDefault("gemini.model", "gemini-flash-lite-latest")
}
