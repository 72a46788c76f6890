package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/0x4n6nerd/rtrtriage/batch"
)

var (
	kapeDevices []string
	kapeTargets []string
	kapeUpload  string
)

// KapeCmd runs a KAPE collection against one or more Windows endpoints.
var KapeCmd = &cobra.Command{
	Use:   "kape",
	Short: "Deploy and run KAPE against Windows endpoints",
	RunE:  runKape,
}

func init() {
	KapeCmd.Flags().StringArrayVarP(&kapeDevices, "device", "d", nil, "hostname to collect from (repeatable)")
	KapeCmd.Flags().StringArrayVarP(&kapeTargets, "target", "t", nil, "KAPE target list, e.g. !SANS_Triage (one value for all hosts, or one per --device)")
	KapeCmd.Flags().StringVarP(&kapeUpload, "upload", "u", "", "upload destination (\"aws\"); omit to download locally")
	_ = KapeCmd.MarkFlagRequired("device")
}

func runKape(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	jobs, err := matchTargets(kapeDevices, kapeTargets)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, flags)
	if err != nil {
		return err
	}

	results, ok := a.orch.Run(ctx, batch.Request{
		Hosts:              jobs,
		Mode:               modeFromUpload(kapeUpload),
		MaxConcurrentHosts: flags.maxConcurrent,
	})
	a.log.Infow("kape run complete", "results", results)
	if !ok {
		fmt.Fprintln(os.Stderr, "one or more hosts failed; see log output above")
		os.Exit(1)
	}
	return nil
}
