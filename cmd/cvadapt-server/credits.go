package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/jsonx"
)

type balanceView struct {
	UserID  string `yaml:"userId"`
	Credits int64  `yaml:"credits"`
}

type transactionView struct {
	ID        string         `yaml:"id"`
	Delta     int64          `yaml:"delta"`
	Reason    string         `yaml:"reason"`
	Metadata  map[string]any `yaml:"metadata,omitempty"`
	CreatedAt string         `yaml:"createdAt"`
}

func newCreditsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and adjust credit balances",
	}
	cmd.AddCommand(newCreditsShowCommand(opts))
	cmd.AddCommand(newCreditsHistoryCommand(opts))
	cmd.AddCommand(newCreditsGrantCommand(opts))
	return cmd
}

func newCreditsShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <userId>",
		Short: "Print a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, err := buildCLIContainer(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer container.Cleanup(ctx)

			credits, err := container.Ledger.GetBalance(ctx, args[0])
			if err != nil {
				return err
			}
			return printBalance(cmd, opts, strings.TrimSpace(args[0]), credits)
		},
	}
}

func newCreditsHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <userId>",
		Short: "List a user's transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			container, err := buildCLIContainer(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer container.Cleanup(ctx)

			txs, err := container.Ledger.History(ctx, args[0], limit)
			if err != nil {
				return err
			}
			views := make([]transactionView, 0, len(txs))
			for _, tx := range txs {
				views = append(views, transactionView{
					ID:        tx.ID,
					Delta:     tx.Delta,
					Reason:    string(tx.Reason),
					Metadata:  tx.Metadata,
					CreatedAt: tx.CreatedAt.UTC().Format(time.RFC3339),
				})
			}
			if opts.output == outputYAML {
				return writeYAML(cmd.OutOrStdout(), views)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no transactions")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tDELTA\tREASON\tMETADATA")
			for _, v := range views {
				meta := ""
				if len(v.Metadata) > 0 {
					if raw, err := jsonx.Marshal(v.Metadata); err == nil {
						meta = string(raw)
					}
				}
				fmt.Fprintf(tw, "%s\t%+d\t%s\t%s\n", v.CreatedAt, v.Delta, v.Reason, meta)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of transactions, 0 for all")
	return cmd
}

func newCreditsGrantCommand(opts *rootOptions) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "grant <userId> <delta>",
		Short: "Apply a manual adjustment (negative delta debits)",
		Example: `  cvadapt-server credits grant alice 10 --note "support refund"
  cvadapt-server credits grant alice -- -2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || delta == 0 {
				return fmt.Errorf("delta must be a non-zero integer, got %q", args[1])
			}
			ctx := cmd.Context()
			container, err := buildCLIContainer(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer container.Cleanup(ctx)

			metadata := map[string]any{}
			if note = strings.TrimSpace(note); note != "" {
				metadata["note"] = note
			}
			credits, err := container.Ledger.Adjust(ctx, args[0], delta, domain.ReasonManual, metadata)
			if err != nil {
				return err
			}
			return printBalance(cmd, opts, strings.TrimSpace(args[0]), credits)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "free-form note stored with the transaction")
	return cmd
}

func printBalance(cmd *cobra.Command, opts *rootOptions, userID string, credits int64) error {
	if opts.output == outputYAML {
		return writeYAML(cmd.OutOrStdout(), balanceView{UserID: userID, Credits: credits})
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", userID, credits)
	return err
}
