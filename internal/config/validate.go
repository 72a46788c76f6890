package config

import "github.com/0x4n6nerd/rtrtriage/errors"

// Validate checks that the resolved configuration is internally consistent.
func Validate(c *Config) error {
	if c.Workspace.Windows == "" {
		return errors.New("workspace.windows must not be empty")
	}
	if c.Workspace.Unix == "" {
		return errors.New("workspace.unix must not be empty")
	}

	if c.Timeouts.DownloadSeconds <= 0 {
		return errors.New("timeouts.download_seconds must be > 0")
	}
	if c.Timeouts.UploadSeconds <= 0 {
		return errors.New("timeouts.upload_seconds must be > 0")
	}
	if c.Timeouts.ShaRetrievalSeconds <= 0 {
		return errors.New("timeouts.sha_retrieval_seconds must be > 0")
	}
	if c.Timeouts.CommandExecutionSeconds <= 0 {
		return errors.New("timeouts.command_execution_seconds must be > 0")
	}

	if c.Proxy.Enabled && c.Proxy.Host == "" {
		return errors.New("proxy.host must be set when proxy.enabled is true")
	}

	for _, entry := range c.HostEntries {
		if entry.IP == "" || entry.Hostname == "" {
			return errors.Newf("host_entries requires both ip and hostname, got %+v", entry)
		}
	}

	for profile, seconds := range c.UAC.ProfileTimeouts {
		if seconds <= 0 {
			return errors.Newf("uac.profile_timeouts[%s] must be > 0, got %d", profile, seconds)
		}
	}

	return nil
}
