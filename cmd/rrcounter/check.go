package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"rrcounter/internal/config"
)

func newCheckCmd() *cobra.Command {
	var flags configFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration, then print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgm, err := flags.manager()
			if err != nil {
				return err
			}
			cfg, err := cfgm.Parse()
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cfgm.Path(), cfg)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// printSummary never prints tokens or the webhook secret.
func printSummary(w io.Writer, path string, cfg *config.Config) {
	src := path
	if src == "" {
		src = "environment"
	}
	mode := "long polling"
	if wh := cfg.Telegram.Webhook; wh.Enabled {
		mode = "webhook " + strings.TrimRight(wh.PublicURL, "/") + wh.Path + " (listen " + wh.Listen + ")"
	}
	var names []string
	for i, id := range cfg.SenderIdentities() {
		name := id.Name
		if name == "" {
			name = fmt.Sprintf("bot%d", i+1)
		}
		names = append(names, name)
	}

	fmt.Fprintf(w, "config ok (%s)\n", src)
	fmt.Fprintf(w, "  controller:  %s\n", mode)
	fmt.Fprintf(w, "  identities:  %d [%s]\n", len(names), strings.Join(names, ", "))
	fmt.Fprintf(w, "  counter:     1..%d, interval %gs (allowed %gs..%gs)\n",
		cfg.Counter.MaxCount, cfg.Counter.DefaultInterval, cfg.Counter.MinInterval, cfg.Counter.MaxInterval)
	fmt.Fprintf(w, "  owners:      %d\n", len(cfg.Telegram.OwnerUserIDs))
	if cfg.Report.Enabled {
		fmt.Fprintf(w, "  report:      %s\n", cfg.Report.Schedule)
	}
	if cfg.Metrics.Enabled {
		fmt.Fprintf(w, "  metrics:     %s\n", cfg.Metrics.Addr)
	}
	if s := cfg.Storage; s != nil && s.Driver != "" && s.Driver != "none" {
		fmt.Fprintf(w, "  audit:       %s %s\n", s.Driver, s.Path)
	}
}
