package export

// Topic is a channel purpose or topic value as stored in the export metadata.
type Topic struct {
	Value string `json:"value"`
}

// Channel is one entry from channels.json.
type Channel struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Created int64    `json:"created"` // epoch seconds
	Creator string   `json:"creator"`
	Members []string `json:"members"` // authoritative current-member list
	Purpose Topic    `json:"purpose"`
	Topic   Topic    `json:"topic"`
}

// Profile holds the identity fields of a directory entry.
type Profile struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	RealName    string `json:"real_name"`
}

// User is one entry from users.json.
type User struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	IsBot   bool    `json:"is_bot"`
	Deleted bool    `json:"deleted"`
	Profile Profile `json:"profile"`
}

// Reaction is an emoji reaction with the users who added it.
type Reaction struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
}

// File is an attachment reference carried by a message. The export holds
// URLs, never the bytes themselves.
type File struct {
	Name       string `json:"name"`
	Title      string `json:"title"`
	URLPrivate string `json:"url_private"`
}

// Message is one entry from a per-channel day file.
type Message struct {
	Type      string     `json:"type"`
	Subtype   string     `json:"subtype"`
	TS        string     `json:"ts"`
	User      string     `json:"user"`
	BotID     string     `json:"bot_id"`
	Text      string     `json:"text"`
	ThreadTS  string     `json:"thread_ts"`
	Reactions []Reaction `json:"reactions"`
	Files     []File     `json:"files"`
}

// IsThreadReply reports whether the message references an earlier thread root.
// A thread root carries its own ts in thread_ts, so equality means root.
func (m Message) IsThreadReply() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.TS
}
