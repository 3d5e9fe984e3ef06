package report

import (
	"strings"
	"testing"

	"github.com/nicklamont/slack-chat-migrator/internal/migrate"
	"github.com/nicklamont/slack-chat-migrator/internal/threshold"
)

func TestFormat(t *testing.T) {
	res := migrate.RunResult{
		RunID: "run-1",
		Channels: []migrate.ChannelState{
			{
				Channel:   "general",
				Space:     "spaces/A",
				Phase:     migrate.PhaseDone,
				Processed: 10,
				Deduped:   2,
				Skipped:   1,
			},
			{
				Channel:       "random",
				Space:         "spaces/B",
				Phase:         migrate.PhaseImportSkipped,
				Processed:     4,
				Failed:        2,
				HadErrors:     true,
				UnmappedUsers: []string{"U09", "U08"},
			},
			{
				Channel:        "restricted",
				Phase:          migrate.PhaseInit,
				SkippedChannel: true,
			},
		},
	}
	failures := []threshold.Record{
		{Channel: "random", TS: "5.000000", Reason: "remote error 400: invalid"},
		{Channel: "random", TS: "6.000000", Reason: "remote error 400: invalid"},
	}

	out := Format(res, failures)

	for _, want := range []string{
		"run-1",
		"#general -> spaces/A [done]",
		"processed 10, failed 0, deduped 2, skipped 1",
		"#random -> spaces/B [import_skipped]",
		"re-run in update mode to repair",
		"#restricted",
		"skipped: space could not be created",
		"Totals: 3 channels, 14 processed, 2 failed, 2 deduped, 1 skipped",
		"Failed messages (2):",
		"#random 5.000000: remote error 400: invalid",
		"Unmapped users (2): U08, U09",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestFormat_Aborted(t *testing.T) {
	res := migrate.RunResult{RunID: "run-2", Aborted: true}
	out := Format(res, nil)
	if !strings.Contains(out, "aborted") {
		t.Errorf("abort note missing:\n%s", out)
	}
}
