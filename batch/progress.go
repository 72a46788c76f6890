package batch

import (
	"fmt"

	"github.com/pterm/pterm"
)

// reporter renders per-host progress and the final results summary to the
// terminal. Modeled on the teacher's pterm-based CLI emitter: plain
// Printf/Success/Error calls rather than a widget, so output stays legible
// when redirected to a log file.
type reporter struct {
	total     int
	completed int
}

func newReporter(total int) *reporter {
	pterm.Printf("collecting from %s\n", pterm.LightCyan(fmt.Sprintf("%d hosts", total)))
	return &reporter{total: total}
}

func (r *reporter) hostDone(out Outcome) {
	r.completed++
	prefix := fmt.Sprintf("[%d/%d]", r.completed, r.total)
	if out.OK {
		pterm.Success.Printf("%s %s: collected %s\n", prefix, out.Hostname, out.Result.ArchiveName)
		return
	}
	pterm.Error.Printf("%s %s: %v\n", prefix, out.Hostname, out.Err)
}

func (r *reporter) summary(outcomes []Outcome) {
	failed := 0
	for _, o := range outcomes {
		if !o.OK {
			failed++
		}
	}
	if failed == 0 {
		pterm.Success.Printf("batch complete: %d/%d hosts ok\n", len(outcomes), len(outcomes))
		return
	}
	pterm.Error.Printf("batch complete: %d/%d hosts failed\n", failed, len(outcomes))
	for _, o := range outcomes {
		if !o.OK {
			pterm.Printf("  %s: %v\n", o.Hostname, o.Err)
		}
	}
}
