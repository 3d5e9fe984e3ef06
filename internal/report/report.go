// Package report renders the end-of-run summary printed to the operator.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nicklamont/slack-chat-migrator/internal/migrate"
	"github.com/nicklamont/slack-chat-migrator/internal/threshold"
)

// Format renders the run result as plain text: per-channel outcomes,
// aggregate counts, failed messages, and unmapped users.
func Format(res migrate.RunResult, failures []threshold.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Migration run %s\n", res.RunID)

	totalProcessed, totalFailed, totalDeduped, totalSkipped := 0, 0, 0, 0
	unmapped := make(map[string]bool)

	for _, st := range res.Channels {
		totalProcessed += st.Processed
		totalFailed += st.Failed
		totalDeduped += st.Deduped
		totalSkipped += st.Skipped
		for _, u := range st.UnmappedUsers {
			unmapped[u] = true
		}

		fmt.Fprintf(&sb, "\n#%s", st.Channel)
		if st.Space != "" {
			fmt.Fprintf(&sb, " -> %s", st.Space)
		}
		fmt.Fprintf(&sb, " [%s]\n", st.Phase)
		if st.SkippedChannel {
			sb.WriteString("  skipped: space could not be created\n")
			continue
		}
		fmt.Fprintf(&sb, "  processed %d, failed %d, deduped %d, skipped %d (%.1f%% failure)\n",
			st.Processed, st.Failed, st.Deduped, st.Skipped,
			threshold.Percentage(st.Processed, st.Failed))
		if st.SeedFailures > 0 {
			fmt.Fprintf(&sb, "  membership seed failures: %d\n", st.SeedFailures)
		}
		if st.ImportIncomplete {
			sb.WriteString("  WARNING: import completion failed; space is still in import mode\n")
		}
		if st.Phase == migrate.PhaseImportSkipped {
			sb.WriteString("  import left open due to errors; re-run in update mode to repair\n")
		}
	}

	fmt.Fprintf(&sb, "\nTotals: %d channels, %d processed, %d failed, %d deduped, %d skipped\n",
		len(res.Channels), totalProcessed, totalFailed, totalDeduped, totalSkipped)
	if res.Aborted {
		sb.WriteString("Run aborted after channel failures (abort_on_error).\n")
	}

	if len(failures) > 0 {
		fmt.Fprintf(&sb, "\nFailed messages (%d):\n", len(failures))
		for _, f := range failures {
			fmt.Fprintf(&sb, "  #%s %s: %s\n", f.Channel, f.TS, f.Reason)
		}
	}

	if len(unmapped) > 0 {
		names := make([]string, 0, len(unmapped))
		for u := range unmapped {
			names = append(names, u)
		}
		sort.Strings(names)
		fmt.Fprintf(&sb, "\nUnmapped users (%d): %s\n", len(names), strings.Join(names, ", "))
		sb.WriteString("Their messages were attributed textually; add overrides to map them.\n")
	}

	return sb.String()
}
