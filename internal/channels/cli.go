package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
)

// CLIChannel reads lines from stdin as DM turns from a single local
// user and writes replies to stdout, for local testing without any
// external platform configured.
type CLIChannel struct {
	BaseChannel
	in     io.Reader
	out    io.Writer
	chatID string
	log    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCLIChannel builds a CLI adapter over in/out, using chatID as the
// fixed session identifier for every line read.
func NewCLIChannel(b *bus.Bus, in io.Reader, out io.Writer, chatID string, log *slog.Logger) *CLIChannel {
	if log == nil {
		log = slog.Default()
	}
	return &CLIChannel{
		BaseChannel: NewBaseChannel("cli", b, DMPolicyOpen, GroupPolicyDisabled, nil, nil),
		in:          in,
		out:         out,
		chatID:      chatID,
		log:         log,
	}
}

func (c *CLIChannel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	c.setRunning(true)

	go c.readLoop(runCtx)
	go c.writeLoop(runCtx)
	return nil
}

func (c *CLIChannel) Stop() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.setRunning(false)
	return nil
}

func (c *CLIChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, err := fmt.Fprintf(c.out, "%s\n", msg.Content)
	return err
}

func (c *CLIChannel) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(c.in)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			c.HandleMessage("local", c.chatID, line, nil, "direct", nil)
		}
	}
}

func (c *CLIChannel) writeLoop(ctx context.Context) {
	for {
		msg, ok := c.Bus().SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if msg.Channel != "cli" {
			continue
		}
		if err := c.Send(ctx, msg); err != nil {
			c.log.Warn("cli: write failed", "err", err)
		}
	}
}
