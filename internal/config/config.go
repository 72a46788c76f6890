// Package config loads the engine's YAML configuration via viper: workspace
// paths, object-storage target, egress-proxy rewrite, timeouts and UAC
// per-profile monitoring limits.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/0x4n6nerd/rtrtriage/errors"
)

// HostEntry is an additional /etc/hosts (Unix) or drivers\etc\hosts (Windows)
// line injected on the endpoint for the duration of an upload.
type HostEntry struct {
	IP       string `mapstructure:"ip"`
	Hostname string `mapstructure:"hostname"`
	Comment  string `mapstructure:"comment"`
}

// WorkspaceConfig holds the deploy-directory paths per platform.
type WorkspaceConfig struct {
	Windows string `mapstructure:"windows"`
	Unix    string `mapstructure:"unix"`
}

// S3Config describes the object-storage upload target.
type S3Config struct {
	BucketName  string `mapstructure:"bucket_name"`
	EndpointURL string `mapstructure:"endpoint_url"`
	Region      string `mapstructure:"region"`
}

// ProxyConfig optionally rewrites presigned-URL hosts to an egress proxy.
type ProxyConfig struct {
	Host    string `mapstructure:"host"`
	IP      string `mapstructure:"ip"`
	Enabled bool   `mapstructure:"enabled"`
}

// TimeoutsConfig holds the operation deadlines governing download, upload,
// sha retrieval and command execution, in seconds.
type TimeoutsConfig struct {
	DownloadSeconds        int `mapstructure:"download_seconds"`
	UploadSeconds          int `mapstructure:"upload_seconds"`
	ShaRetrievalSeconds    int `mapstructure:"sha_retrieval_seconds"`
	CommandExecutionSeconds int `mapstructure:"command_execution_seconds"`
}

// UACConfig holds UAC-specific settings, including per-profile monitoring caps.
type UACConfig struct {
	ProfileTimeouts map[string]int `mapstructure:"profile_timeouts"`
}

// Config is the engine's fully resolved, validated configuration.
type Config struct {
	Workspace   WorkspaceConfig `mapstructure:"workspace"`
	S3          S3Config        `mapstructure:"s3"`
	Proxy       ProxyConfig     `mapstructure:"proxy"`
	HostEntries []HostEntry     `mapstructure:"host_entries"`
	Timeouts    TimeoutsConfig  `mapstructure:"timeouts"`
	UAC         UACConfig       `mapstructure:"uac"`
}

// Load reads configuration in merge order: explicit path →
// RTRTRIAGE_CONFIG env var → ./config.yaml → ~/.fnerd_falconpy/config.yaml.
// An explicit path that does not exist is a hard error; the remaining
// sources are tried in order and the first one found wins. If none of them
// exist, defaults alone are returned (a valid, if minimal, configuration).
func Load(explicitPath string) (*Config, error) {
	v, err := newViper(explicitPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// newViper builds the viper instance per the merge order described on Load,
// without unmarshalling or validating — exposed for callers that need the
// raw instance for introspection.
func newViper(explicitPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix("RTRTRIAGE")
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)

	path, err := resolveConfigPath(explicitPath)
	if err != nil {
		return nil, err
	}

	if path == "" {
		return v, nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	return v, nil
}

// String renders a human-readable summary, used in startup log lines.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Workspace: {Windows: %s, Unix: %s}, S3: {Bucket: %s}, Proxy: {Enabled: %t}}",
		c.Workspace.Windows, c.Workspace.Unix, c.S3.BucketName, c.Proxy.Enabled)
}
