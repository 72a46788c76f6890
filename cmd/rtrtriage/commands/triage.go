package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/0x4n6nerd/rtrtriage/batch"
	"github.com/0x4n6nerd/rtrtriage/errors"
)

var (
	triageFile       string
	triageUACProfile string
	triageKapeTarget string
	triageUpload     string
)

// TriageCmd runs a mixed-platform collection against every host listed in a
// file, dispatching each resolved host to whichever collector its platform
// registers for.
var TriageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Collect from every host listed in a file, platform detected automatically",
	RunE:  runTriage,
}

func init() {
	TriageCmd.Flags().StringVarP(&triageFile, "file", "f", "", "path to a file listing one hostname per line")
	TriageCmd.Flags().StringVarP(&triageUACProfile, "uac-profile", "p", "", "UAC profile to use for Unix hosts that don't name their own in the file")
	TriageCmd.Flags().StringVarP(&triageKapeTarget, "kape-target", "t", "", "KAPE target to use for Windows hosts that don't name their own in the file")
	TriageCmd.Flags().StringVarP(&triageUpload, "upload", "u", "", "upload destination (\"aws\"); omit to download locally")
	_ = TriageCmd.MarkFlagRequired("file")
}

// readHostFile parses one hostname per line, optionally followed by a
// comma and a collector-specific target/profile override
// ("host1" or "host1,ir_triage"). Blank lines and lines starting with "#"
// are skipped.
func readHostFile(path string) ([]batch.HostTarget, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open host file %s", path)
	}
	defer f.Close()

	var hosts []batch.HostTarget
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		host := batch.HostTarget{Hostname: strings.TrimSpace(parts[0])}
		if len(parts) == 2 {
			host.Target = strings.TrimSpace(parts[1])
		}
		hosts = append(hosts, host)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read host file %s", path)
	}
	if len(hosts) == 0 {
		return nil, errors.Newf("host file %s named no hosts", path)
	}
	return hosts, nil
}

func runTriage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	hosts, err := readHostFile(triageFile)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, flags)
	if err != nil {
		return err
	}

	// Resolve per-host platform ahead of dispatch so the per-file override
	// (uac-profile vs. kape-target) lands on the right field; a host that
	// already named its own target in the file keeps it.
	for i, h := range hosts {
		if h.Target != "" {
			continue
		}
		info, err := a.resolver.Resolve(ctx, h.Hostname)
		if err != nil {
			// Leave the target empty; the orchestrator will record the
			// resolve failure itself and report it per-host.
			continue
		}
		if info.IsUnix() {
			hosts[i].Target = triageUACProfile
		} else {
			hosts[i].Target = triageKapeTarget
		}
	}

	results, ok := a.orch.Run(ctx, batch.Request{
		Hosts:              hosts,
		Mode:               modeFromUpload(triageUpload),
		MaxConcurrentHosts: flags.maxConcurrent,
	})
	a.log.Infow("triage run complete", "results", results)
	if !ok {
		fmt.Fprintln(os.Stderr, "one or more hosts failed; see log output above")
		os.Exit(1)
	}
	return nil
}
