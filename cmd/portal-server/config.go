package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/EternisAI/silo-portal/internal/api/http"
	"github.com/EternisAI/silo-portal/internal/db"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig
	Http     http.Config
	Auth     AuthConfig
	Database db.Config
	Portal   PortalConfig
}

type AuthConfig struct {
	JwtSecret            string        `mapstructure:"jwt_secret" json:"-"`
	TokenTTL             time.Duration `mapstructure:"token_ttl"`
	AgentSecret          string        `mapstructure:"agent_secret" json:"-"`
	DefaultAdminPassword string        `mapstructure:"default_admin_password" json:"-"`
}

type PortalConfig struct {
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	RegistrationTimeout time.Duration `mapstructure:"registration_timeout"`
	AwaitTimeout        time.Duration `mapstructure:"await_timeout"`
	MaxMessageBytes     int64         `mapstructure:"max_message_bytes"`
	MaxUploadBytes      int64         `mapstructure:"max_upload_bytes"`
}

var config Config

func ParseCommaSeparated(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func InitConfig() {
	var err error

	_ = godotenv.Load()

	flags := pflag.NewFlagSet("portal-server", pflag.ExitOnError)
	configFile := flags.String("config", "", "path to application.yaml")
	flags.Uint("port", 0, "HTTP listen port (overrides http.port)")
	_ = flags.Parse(os.Args[1:])

	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	} else {
		viper.SetConfigName("application")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./cmd/portal-server")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("auth.agent_secret", "AGENT_TOKEN")
	_ = viper.BindEnv("auth.default_admin_password", "DEFAULT_ADMIN_PASSWORD")
	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("http.cors.allow_origins", "CORS_ORIGIN")
	if flags.Changed("port") {
		_ = viper.BindPFlag("http.port", flags.Lookup("port"))
	}

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	// Environment variables arrive as a single comma separated string.
	if len(config.Http.Cors.AllowOrigins) == 1 {
		config.Http.Cors.AllowOrigins = ParseCommaSeparated(config.Http.Cors.AllowOrigins[0])
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
