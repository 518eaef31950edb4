package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/tradestream/internal/poller"
)

var errNoRestURL = errors.New("api.rest_url is not configured")

func newStatusCommand(flags *globalFlags) *cobra.Command {
	var (
		showOrders bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print backend status, strategies and open orders once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.API.RestURL == "" {
				return errNoRestURL
			}
			creds, err := loadCredentials(cfg.API)
			if err != nil {
				return err
			}

			client := newAPIClient(cfg, creds, logger, nil)
			p := poller.New(poller.Config{Timeout: timeout}, client, nil, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			snap := p.Poll(ctx)
			printSnapshot(cmd.OutOrStdout(), snap, showOrders)
			return snap.Err
		},
	}

	cmd.Flags().BoolVar(&showOrders, "orders", false, "list open orders")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall request timeout")

	return cmd
}

// printSnapshot writes a human-readable summary of snap.
func printSnapshot(w io.Writer, snap poller.Snapshot, showOrders bool) {
	if snap.Status != nil {
		fmt.Fprintf(w, "healthy: %v  trading: %v  version: %s  server_time: %s\n",
			snap.Status.Healthy,
			snap.Status.Trading,
			snap.Status.Version,
			snap.Status.ServerTime.Format(time.RFC3339),
		)
	} else {
		fmt.Fprintln(w, "status: unavailable")
	}

	fmt.Fprintf(w, "\nstrategies: %d\n", len(snap.Strategies))
	if len(snap.Strategies) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tSYMBOLS\tPNL")
		for _, s := range snap.Strategies {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Name, s.Status, len(s.Symbols), cents(s.PnL))
		}
		tw.Flush()
	}

	fmt.Fprintf(w, "\nopen orders: %d\n", len(snap.OpenOrders))
	if showOrders && len(snap.OpenOrders) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSYMBOL\tSIDE\tQTY\tFILLED\tPRICE\tSTATUS")
		for _, o := range snap.OpenOrders {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				o.ID, o.Symbol, o.Side, o.Quantity, o.FilledQuantity, cents(o.Price), o.Status)
		}
		tw.Flush()
	}

	if snap.Err != nil {
		fmt.Fprintf(w, "\nerrors: %v\n", snap.Err)
	}
}

// cents formats an amount in cents as dollars.
func cents(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
