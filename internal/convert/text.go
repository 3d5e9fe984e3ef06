// Package convert rewrites export rich-text markup into plain target text:
// user mentions, channel references, bracketed links, and HTML entities.
package convert

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/nicklamont/slack-chat-migrator/internal/export"
)

var (
	mentionRe = regexp.MustCompile(`<@([A-Z0-9]+)(\|[^>]*)?>`)
	channelRe = regexp.MustCompile(`<#[A-Z0-9]+\|([^>]*)>`)
	linkRe    = regexp.MustCompile(`<(https?://[^|>]+)\|([^>]+)>`)
	bareURLRe = regexp.MustCompile(`<(https?://[^>]+)>`)
)

// Text converts a message body. names resolves a user ID to a display name
// for mention expansion.
func Text(s string, names func(userID string) string) string {
	s = mentionRe.ReplaceAllStringFunc(s, func(match string) string {
		sub := mentionRe.FindStringSubmatch(match)
		if names == nil {
			return "@" + sub[1]
		}
		return "@" + names(sub[1])
	})
	s = channelRe.ReplaceAllString(s, "#$1")
	s = linkRe.ReplaceAllString(s, "$2 ($1)")
	s = bareURLRe.ReplaceAllString(s, "$1")
	return html.UnescapeString(s)
}

// AttachmentLines renders file attachments as appended text lines. The
// export carries URLs, not bytes, so links are the best available fidelity.
func AttachmentLines(files []export.File) string {
	if len(files) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, f := range files {
		name := f.Title
		if name == "" {
			name = f.Name
		}
		if name == "" && f.URLPrivate == "" {
			continue
		}
		sb.WriteString("\n")
		switch {
		case name != "" && f.URLPrivate != "":
			fmt.Fprintf(&sb, "[file: %s] %s", name, f.URLPrivate)
		case name != "":
			fmt.Fprintf(&sb, "[file: %s]", name)
		default:
			fmt.Fprintf(&sb, "[file] %s", f.URLPrivate)
		}
	}
	return sb.String()
}

// emojiUnicode maps common export reaction names to unicode emoji. Reactions
// with no mapping are dropped by the caller, never substituted.
var emojiUnicode = map[string]string{
	"+1":               "\U0001F44D",
	"thumbsup":         "\U0001F44D",
	"-1":               "\U0001F44E",
	"thumbsdown":       "\U0001F44E",
	"heart":            "❤️",
	"smile":            "\U0001F604",
	"laughing":         "\U0001F606",
	"joy":              "\U0001F602",
	"tada":             "\U0001F389",
	"eyes":             "\U0001F440",
	"rocket":           "\U0001F680",
	"fire":             "\U0001F525",
	"clap":             "\U0001F44F",
	"wave":             "\U0001F44B",
	"pray":             "\U0001F64F",
	"white_check_mark": "✅",
	"heavy_check_mark": "✔️",
	"x":                "❌",
	"thinking_face":    "\U0001F914",
	"raised_hands":     "\U0001F64C",
	"100":              "\U0001F4AF",
}

// Emoji returns the unicode form of an export reaction name, or "" when the
// name has no mapping.
func Emoji(name string) string {
	name = strings.Trim(name, ":")
	// Skin-tone suffixes share the base emoji.
	if i := strings.Index(name, "::"); i >= 0 {
		name = name[:i]
	}
	return emojiUnicode[name]
}
