package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/0x4n6nerd/rtrtriage/batch"
)

var (
	uacDevices  []string
	uacProfiles []string
	uacUpload   string
)

// UacCmd runs a UAC collection against one or more Unix (Linux/macOS)
// endpoints.
var UacCmd = &cobra.Command{
	Use:   "uac",
	Short: "Deploy and run UAC against Linux/macOS endpoints",
	RunE:  runUac,
}

func init() {
	UacCmd.Flags().StringArrayVarP(&uacDevices, "device", "d", nil, "hostname to collect from (repeatable)")
	UacCmd.Flags().StringArrayVarP(&uacProfiles, "profile", "p", nil, "UAC profile, e.g. ir_triage (one value for all hosts, or one per --device)")
	UacCmd.Flags().StringVarP(&uacUpload, "upload", "u", "", "upload destination (\"aws\"); omit to download locally")
	_ = UacCmd.MarkFlagRequired("device")
}

func runUac(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	jobs, err := matchTargets(uacDevices, uacProfiles)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, flags)
	if err != nil {
		return err
	}

	results, ok := a.orch.Run(ctx, batch.Request{
		Hosts:              jobs,
		Mode:               modeFromUpload(uacUpload),
		MaxConcurrentHosts: flags.maxConcurrent,
	})
	a.log.Infow("uac run complete", "results", results)
	if !ok {
		fmt.Fprintln(os.Stderr, "one or more hosts failed; see log output above")
		os.Exit(1)
	}
	return nil
}
