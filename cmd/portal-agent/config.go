package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/EternisAI/silo-portal/internal/sandbox"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Log     LogConfig
	Portal  PortalConfig
	Agent   AgentConfig
	Sandbox sandbox.Config
}

type PortalConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	AgentSecret       string        `mapstructure:"agent_secret" json:"-"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	TLS               TLSConfig     `mapstructure:"tls"`
}

type TLSConfig struct {
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	ServerNameOverride string `mapstructure:"server_name_override"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

type AgentConfig struct {
	ID        string `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	StateFile string `mapstructure:"state_file"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	flags := pflag.NewFlagSet("portal-agent", pflag.ExitOnError)
	configFile := flags.String("config", "", "path to application.yaml")
	flags.String("server", "", "portal URL (overrides portal.server_url)")
	_ = flags.Parse(os.Args[1:])

	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	} else {
		viper.SetConfigName("application")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./cmd/portal-agent")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("portal.server_url", "SERVER_URL")
	_ = viper.BindEnv("portal.agent_secret", "AGENT_TOKEN")
	_ = viper.BindEnv("agent.id", "AGENT_ID")
	_ = viper.BindEnv("agent.name", "AGENT_NAME")
	if flags.Changed("server") {
		_ = viper.BindPFlag("portal.server_url", flags.Lookup("server"))
	}

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
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
