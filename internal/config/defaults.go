package config

import "github.com/spf13/viper"

// SetDefaults configures default values for every configuration key: the
// 18,000s/5h download timeout, the per-platform workspace paths, and the
// UAC profile timeout table.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workspace.windows", `C:\0x4n6nerd`)
	v.SetDefault("workspace.unix", "/opt/0x4n6nerd")

	v.SetDefault("s3.bucket_name", "")
	v.SetDefault("s3.endpoint_url", "")
	v.SetDefault("s3.region", "us-east-1")

	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.host", "")
	v.SetDefault("proxy.ip", "")

	v.SetDefault("host_entries", []HostEntry{})

	v.SetDefault("timeouts.download_seconds", 18000)
	v.SetDefault("timeouts.upload_seconds", 1500)
	v.SetDefault("timeouts.sha_retrieval_seconds", 2000)
	v.SetDefault("timeouts.command_execution_seconds", 600)

	v.SetDefault("uac.profile_timeouts", map[string]int{
		"ir_triage": 7200,
		"full":      21600,
	})
}

// BindSensitiveEnvVars explicitly binds credential-adjacent keys to
// environment variables, even though the actual RTR/S3 credentials are
// read independently by falcon.NewClient and the AWS SDK's default chain.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("s3.bucket_name", "RTRTRIAGE_S3_BUCKET_NAME")
	v.BindEnv("s3.endpoint_url", "RTRTRIAGE_S3_ENDPOINT_URL")
	v.BindEnv("proxy.host", "RTRTRIAGE_PROXY_HOST")
}
