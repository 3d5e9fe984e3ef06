package replay

import (
	"sort"

	"github.com/nicklamont/slack-chat-migrator/internal/export"
)

// Order deduplicates messages by timestamp, keeping the first occurrence in
// input order, then sorts ascending by numeric timestamp. Duplicates are
// common because thread replies get re-exported into each day file they
// touch; they are counted, never treated as errors.
func Order(msgs []export.Message) ([]export.Message, int) {
	seen := make(map[string]bool, len(msgs))
	deduped := make([]export.Message, 0, len(msgs))
	dupes := 0
	for _, m := range msgs {
		if seen[m.TS] {
			dupes++
			continue
		}
		seen[m.TS] = true
		deduped = append(deduped, m)
	}
	sort.SliceStable(deduped, func(i, j int) bool {
		return export.LessTS(deduped[i].TS, deduped[j].TS)
	})
	return deduped, dupes
}
