package commands

import (
	"github.com/spf13/cobra"

	"github.com/0x4n6nerd/rtrtriage/batch"
)

// RootCmd is the rtrtriage entrypoint: a forensic-collection orchestrator
// that drives RTR sessions to run KAPE on Windows endpoints and UAC on
// Unix endpoints, then evacuates the resulting archive to object storage
// or back to the operator's workstation.
var RootCmd = &cobra.Command{
	Use:   "rtrtriage",
	Short: "Remote forensic collection over CrowdStrike RTR",
	Long: `rtrtriage drives CrowdStrike Real-Time-Response sessions to deploy and
run KAPE (Windows) or UAC (Linux/macOS) against one or more endpoints, then
evacuates the resulting archive to S3-compatible object storage or downloads
it to the operator's workstation.

Examples:
  rtrtriage kape -d workstation01 -t '!SANS_Triage' -u aws
  rtrtriage uac -d db-prod-03 -p ir_triage
  rtrtriage triage -f hosts.txt -u aws`,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml (default: RTRTRIAGE_CONFIG env, ./config.yaml, ~/.fnerd_falconpy/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&flags.clientID, "client-id", "", "Falcon API client id (default: FALCON_CLIENT_ID env)")
	RootCmd.PersistentFlags().StringVar(&flags.clientSecret, "client-secret", "", "Falcon API client secret (default: FALCON_CLIENT_SECRET env)")
	RootCmd.PersistentFlags().BoolVar(&flags.jsonLogs, "json-logs", false, "emit structured JSON logs instead of the colorized console format")
	RootCmd.PersistentFlags().CountVarP(&flags.verbosity, "verbose", "v", "increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	RootCmd.PersistentFlags().StringVar(&flags.bucket, "bucket", "", "object storage bucket (overrides config)")
	RootCmd.PersistentFlags().StringVar(&flags.region, "region", "", "object storage region (overrides config)")
	RootCmd.PersistentFlags().StringVar(&flags.endpointURL, "endpoint-url", "", "object storage endpoint URL, for S3-compatible stores (overrides config)")
	RootCmd.PersistentFlags().IntVar(&flags.maxConcurrent, "max-concurrent", batch.DefaultMaxConcurrentHosts, "max hosts collected concurrently per customer")
	RootCmd.PersistentFlags().StringVar(&flags.resolverCache, "resolver-cache", "", "path to an on-disk sqlite cache of hostname resolutions (default: disabled, in-memory only)")

	RootCmd.AddCommand(KapeCmd)
	RootCmd.AddCommand(UacCmd)
	RootCmd.AddCommand(TriageCmd)
	RootCmd.AddCommand(VersionCmd)
}
