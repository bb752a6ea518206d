// Package relay implements the cross-process fan-out of a bot's replies
// to its peer agents: a single shared append-only log plus a
// per-subscriber byte offset, and the subscriber loop that polls it,
// dedups, recomputes routing metadata from content, and re-injects
// messages into the local inbound bus.
package relay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Envelope is one line-delimited record in the shared relay log.
type Envelope struct {
	RelayMsgID      string            `json:"relay_msg_id"`
	Channel         string            `json:"channel"`
	ChatID          string            `json:"chat_id"`
	Content         string            `json:"content"`
	SenderBotOpenID string            `json:"sender_bot_open_id"`
	SenderAgentName string            `json:"sender_agent_name"`
	Metadata        map[string]string `json:"metadata"`
}

// Relay is the single shared append-only log, with one byte-offset file
// per subscribing agent.
type Relay struct {
	mu          sync.Mutex
	outboundPath string
	offsetsDir   string
}

// New creates a Relay rooted at dir, writing to dir/outbound and
// tracking offsets under dir/offsets/<agent>.
func New(dir string) *Relay {
	os.MkdirAll(dir, 0o755)
	offsetsDir := filepath.Join(dir, "offsets")
	os.MkdirAll(offsetsDir, 0o755)
	return &Relay{
		outboundPath: filepath.Join(dir, "outbound"),
		offsetsDir:   offsetsDir,
	}
}

// NewRelayMsgID builds a globally unique relay_msg_id from the sending
// bot's identity and the current time.
func NewRelayMsgID(senderBotOpenID, chatID string) string {
	return fmt.Sprintf("%s:%s:%d:%s", senderBotOpenID, chatID, time.Now().UnixMilli(), uuid.NewString()[:12])
}

// Publish appends one envelope and flushes it to disk. Writers never
// block on readers: the append is a single `write` of a complete line.
func (r *Relay) Publish(env Envelope) error {
	if env.RelayMsgID == "" {
		env.RelayMsgID = NewRelayMsgID(env.SenderBotOpenID, env.ChatID)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.outboundPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// ReadNewMessages reads every complete line appended since subscriberID's
// last recorded offset, advances that offset atomically, and returns the
// parsed envelopes. Malformed lines are skipped, not fatal. An unreadable
// or missing offset file is treated as offset 0, which re-reads from the
// start; the subscriber's own dedup set protects against replayed
// envelopes being re-injected.
func (r *Relay) ReadNewMessages(subscriberID string) ([]Envelope, error) {
	offsetPath := filepath.Join(r.offsetsDir, subscriberID+".txt")
	lastOffset := readOffset(offsetPath)

	f, err := os.Open(r.outboundPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if lastOffset > info.Size() {
		// the log was truncated/rotated out from under us; restart from 0
		lastOffset = 0
	}
	if _, err := f.Seek(lastOffset, 0); err != nil {
		return nil, err
	}

	var envelopes []Envelope
	reader := bufio.NewReader(f)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if line != "" && strings.HasSuffix(line, "\n") {
			consumed += int64(len(line))
			trimmed := strings.TrimSpace(line)
			if trimmed != "" {
				var env Envelope
				if jerr := json.Unmarshal([]byte(trimmed), &env); jerr == nil {
					envelopes = append(envelopes, env)
				}
			}
		}
		if err != nil {
			break // EOF, or a partial final line left for next poll
		}
	}

	newOffset := lastOffset + consumed
	if err := writeOffset(offsetPath, newOffset); err != nil {
		return envelopes, err
	}
	return envelopes, nil
}

func readOffset(path string) int64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func writeOffset(path string, offset int64) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(offset, 10)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
