package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawrouter/internal/config"
	"github.com/nextlevelbuilder/clawrouter/internal/session"
)

func sessionsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted session logs",
	}
	root.AddCommand(sessionsListCmd())
	root.AddCommand(sessionsShowCmd())
	return root
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List session keys and their last-updated time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("sessions list: load config: %w", err)
			}
			paths := config.NewPaths(cfg.Gateway.Home)
			dir := paths.SessionsDir(cfg.Agent.Name)

			entries, err := os.ReadDir(dir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("no sessions yet")
					return nil
				}
				return fmt.Errorf("sessions list: %w", err)
			}

			mgr := session.NewManager(dir, nil)
			var keys []string
			for _, e := range entries {
				if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
					continue
				}
				keys = append(keys, strings.TrimSuffix(e.Name(), ".jsonl"))
			}
			sort.Strings(keys)

			for _, filenameKey := range keys {
				key := unsanitizeGuess(filenameKey)
				s, err := mgr.GetOrCreate(key)
				if err != nil {
					fmt.Printf("%s\t(error: %v)\n", key, err)
					continue
				}
				fmt.Printf("%s\t%d messages\tupdated %s\n", key, len(s.Entries), s.Updated.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Print a session's message history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("sessions show: load config: %w", err)
			}
			paths := config.NewPaths(cfg.Gateway.Home)
			dir := paths.SessionsDir(cfg.Agent.Name)

			mgr := session.NewManager(dir, nil)
			s, err := mgr.GetOrCreate(args[0])
			if err != nil {
				return fmt.Errorf("sessions show: %w", err)
			}
			if len(s.Entries) == 0 {
				fmt.Println("(no entries)")
				return nil
			}
			for _, e := range s.Entries {
				tag := string(e.Role)
				if e.Sender != "" {
					tag = fmt.Sprintf("%s/%s", e.Role, e.Sender)
				}
				fmt.Printf("[%s] %s: %s\n", e.Timestamp.Format("15:04:05"), tag, e.Content)
			}
			return nil
		},
	}
}

// unsanitizeGuess reverses the ":" -> "_" substitution session.Manager
// applies to file names, for the common "channel_chatid" -> "channel:chatid"
// shape. Ambiguous for keys that legitimately contain an underscore, but
// this is a display aid, not a lookup key.
func unsanitizeGuess(filenameKey string) string {
	if idx := strings.Index(filenameKey, "_"); idx > 0 {
		return filenameKey[:idx] + ":" + filenameKey[idx+1:]
	}
	return filenameKey
}
