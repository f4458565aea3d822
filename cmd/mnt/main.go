package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"moneta/internal/cli"
	"moneta/internal/config"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	header  = color.New(color.FgCyan, color.Bold)
	accent  = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
)

func main() {
	cfg := config.LoadCLIFromEnv()
	client := cli.NewClient(cfg.APIBaseURL, cfg.ServiceToken)

	root := &cobra.Command{
		Use:           "mnt",
		Short:         "Operator tool for the guild economy service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		balanceCmd(client),
		inspectCmd(client),
		historyCmd(client),
		leaderboardCmd(client),
		auditCmd(client),
		grantCmd(client),
	)

	if err := root.Execute(); err != nil {
		warning.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func balanceCmd(client *cli.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			out, err := client.Account(ctx, args[0])
			if err != nil {
				return err
			}
			header.Printf("account %s\n", args[0])
			printMoneyField(out, "cash_cents", "cash")
			printMoneyField(out, "card_cents", "card")
			printMoneyField(out, "bank_limit_cents", "bank limit")
			if streak, ok := out["daily_streak"].(float64); ok {
				fmt.Printf("  %-10s %d\n", "streak", int(streak))
			}
			return nil
		},
	}
}

func inspectCmd(client *cli.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <user-id>",
		Short: "Show a user's account, business, lab and cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			userID := args[0]

			acct, err := client.Account(ctx, userID)
			if err != nil {
				return err
			}
			header.Printf("account %s\n", userID)
			printMoneyField(acct, "cash_cents", "cash")
			printMoneyField(acct, "card_cents", "card")

			if biz, err := client.Business(ctx, userID); err == nil {
				header.Println("business")
				fmt.Printf("  %-10s %v\n", "kind", biz["kind"])
				printMoneyField(biz, "pending_cents", "pending")
			}
			if lab, err := client.Lab(ctx, userID); err == nil {
				header.Println("lab")
				fmt.Printf("  %-10s %v\n", "state", lab["upgrade_state"])
				fmt.Printf("  %-10s %v\n", "ampoules", lab["ampoules"])
				printMoneyField(lab, "pending_cents", "pending")
			}
			if cards, err := client.Cards(ctx, userID); err == nil {
				if rows, ok := cards["cards"].([]any); ok && len(rows) > 0 {
					header.Println("cards")
					for _, raw := range rows {
						card, ok := raw.(map[string]any)
						if !ok {
							continue
						}
						inUse := ""
						if used, _ := card["in_use"].(bool); used {
							inUse = accent.Sprint(" [equipped]")
						}
						fmt.Printf("  #%v %v %v%s\n", card["card_id"], card["slot"], card["background"], inUse)
					}
				}
			}
			return nil
		},
	}
}

func historyCmd(client *cli.Client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "Show a user's recent ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			out, err := client.History(ctx, args[0], limit)
			if err != nil {
				return err
			}
			rows, _ := out["entries"].([]any)
			header.Printf("last %d entries for %s\n", len(rows), args[0])
			for _, raw := range rows {
				row, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				delta, _ := row["delta_cents"].(float64)
				line := fmt.Sprintf("  %-18s %-6s %s", row["action"], row["account"], formatCents(int64(delta)))
				if delta >= 0 {
					accent.Println(line)
				} else {
					fmt.Println(line)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 25, "number of entries")
	return cmd
}

func leaderboardCmd(client *cli.Client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the richest accounts",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			out, err := client.Leaderboard(ctx, limit)
			if err != nil {
				return err
			}
			rows, _ := out["rows"].([]any)
			header.Println("leaderboard")
			for i, raw := range rows {
				row, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				cash, _ := row["cash_cents"].(float64)
				card, _ := row["card_cents"].(float64)
				fmt.Printf("  %2d. %-22v %s\n", i+1, row["user_id"], formatCents(int64(cash)+int64(card)))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of rows")
	return cmd
}

func auditCmd(client *cli.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Report the total money supply",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			total, err := client.AuditTotal(ctx)
			if err != nil {
				return err
			}
			header.Println("money supply")
			fmt.Printf("  %s cents\n", total)
			return nil
		},
	}
}

func grantCmd(client *cli.Client) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "grant <user-id> <coins>",
		Short: "Credit (or with a negative amount, debit) a user's cash",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			coins, err := strconv.ParseInt(strings.TrimSpace(args[1]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			if err := client.EnsureAccount(ctx, args[0]); err != nil {
				return err
			}
			if err := client.Grant(ctx, args[0], coins*100, reason, uuid.NewString()); err != nil {
				return err
			}
			accent.Printf("granted %d coins to %s\n", coins, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "operator grant", "ledger note")
	return cmd
}

func printMoneyField(m map[string]any, key, label string) {
	v, ok := m[key].(float64)
	if !ok {
		return
	}
	fmt.Printf("  %-10s %s\n", label, formatCents(int64(v)))
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
