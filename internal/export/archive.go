package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Archive reads a message-archive export directory: channels.json and
// users.json at the root, plus one directory per channel holding
// day-batch files (JSON arrays of message objects).
type Archive struct {
	root string
}

// Open returns an Archive rooted at dir. The directory is not validated
// until the first read.
func Open(dir string) *Archive {
	return &Archive{root: dir}
}

// Channels loads the channel metadata list.
func (a *Archive) Channels() ([]Channel, error) {
	data, err := os.ReadFile(filepath.Join(a.root, "channels.json"))
	if err != nil {
		return nil, fmt.Errorf("read channels: %w", err)
	}
	var channels []Channel
	if err := json.Unmarshal(data, &channels); err != nil {
		return nil, fmt.Errorf("parse channels: %w", err)
	}
	return channels, nil
}

// Users loads the user directory keyed by user ID.
func (a *Archive) Users() (map[string]User, error) {
	data, err := os.ReadFile(filepath.Join(a.root, "users.json"))
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse users: %w", err)
	}
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID, nil
}

// Messages loads and concatenates every batch file for a channel, in
// filename order. Ordering and deduplication across batches is the
// sequencer's job, not the reader's.
func (a *Archive) Messages(channel string) ([]Message, error) {
	dir := filepath.Join(a.root, channel)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read channel dir %s: %w", channel, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var msgs []Message
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read batch %s/%s: %w", channel, name, err)
		}
		var batch []Message
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("parse batch %s/%s: %w", channel, name, err)
		}
		msgs = append(msgs, batch...)
	}
	return msgs, nil
}
