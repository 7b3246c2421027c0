package http

import "time"

type Config struct {
	Port uint       `mapstructure:"port"`
	Cors CorsConfig `mapstructure:"cors"`
	TLS  TLSConfig  `mapstructure:"tls"`
}

type CorsConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CAFile     string `mapstructure:"ca_file"`
	ClientAuth string `mapstructure:"client_auth"`
	// AutoGenerate creates a local CA and server certificate when the
	// files above do not exist yet.
	AutoGenerate bool   `mapstructure:"auto_generate"`
	CAKeyFile    string `mapstructure:"ca_key_file"`
	DomainNames  string `mapstructure:"domain_names"`
	IPAddresses  string `mapstructure:"ip_addresses"`
}

// Limits bounds the REST calls that proxy to an agent.
type Limits struct {
	AwaitTimeout   time.Duration
	MaxUploadBytes int64
}
