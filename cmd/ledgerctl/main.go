// Command ledgerctl is the operator tool for approving transactions and
// inspecting balances directly against the ledger database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"ledger-service/internal/app"
	"ledger-service/internal/config"
	"ledger-service/pkg/logger"
)

const (
	cliActor          = "database-cli"
	cliRejectReason   = "Rejected by admin"
	accrueModeDaily   = "daily"
	accrueModeCatchUp = "catch-up"
)

var errUsage = errors.New("usage")

const usage = `usage: ledgerctl <command> [arguments]

commands:
  pending [-page N] [-limit N]   list transactions awaiting approval
  approve <id>                   approve a pending transaction
  reject <id> [reason]           reject a pending transaction
  balance <user>                 show the balance summary
  history <user> [-days N]       show balance history entries
  stats <user>                   count transactions by status and kind
  recompute <user>               rebuild the balance from approved transactions
  accrue [-mode daily|catch-up]  run an earnings accrual now
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithConfig(cfg.Log)

	a, err := app.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}

	err = run(context.Background(), a, os.Args[1:], os.Stdout)
	a.Close()
	if errors.Is(err, errUsage) {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// userArg parses flags after the leading user (or id) argument.
func userArg(fs *flag.FlagSet, args []string) (string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", errUsage
	}
	if err := fs.Parse(args[1:]); err != nil {
		return "", errUsage
	}
	return args[0], nil
}

func run(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	switch cmd {
	case "pending":
		page := fs.Int("page", 1, "page number")
		limit := fs.Int("limit", 20, "page size")
		if err := fs.Parse(rest); err != nil {
			return errUsage
		}
		items, total, err := a.Transactions.ListPendingPage(ctx, *page, *limit)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]interface{}{"count": total, "data": items})

	case "approve":
		id, err := userArg(fs, rest)
		if err != nil {
			return err
		}
		trx, err := a.Approvals.Approve(ctx, id, cliActor)
		if err != nil {
			return err
		}
		return printJSON(out, trx)

	case "reject":
		if len(rest) == 0 {
			return errUsage
		}
		reason := strings.TrimSpace(strings.Join(rest[1:], " "))
		if reason == "" {
			reason = cliRejectReason
		}
		trx, err := a.Approvals.Reject(ctx, rest[0], reason, cliActor)
		if err != nil {
			return err
		}
		return printJSON(out, trx)

	case "balance":
		user, err := userArg(fs, rest)
		if err != nil {
			return err
		}
		summary, err := a.Summary.Summary(ctx, user)
		if err != nil {
			return err
		}
		return printJSON(out, summary)

	case "history":
		days := fs.Int("days", 30, "days of history")
		user, err := userArg(fs, rest)
		if err != nil {
			return err
		}
		points, err := a.Summary.History(ctx, user, *days)
		if err != nil {
			return err
		}
		return printJSON(out, points)

	case "stats":
		user, err := userArg(fs, rest)
		if err != nil {
			return err
		}
		stats, err := a.Transactions.Stats(ctx, user)
		if err != nil {
			return err
		}
		return printJSON(out, stats)

	case "recompute":
		user, err := userArg(fs, rest)
		if err != nil {
			return err
		}
		rec, err := a.Ledger.Recompute(ctx, user)
		if err != nil {
			return err
		}
		return printJSON(out, rec)

	case "accrue":
		mode := fs.String("mode", accrueModeDaily, "daily or catch-up")
		if err := fs.Parse(rest); err != nil {
			return errUsage
		}
		switch *mode {
		case accrueModeDaily:
			report, err := a.Earnings.EnsureDailyRewardsForToday(ctx)
			if err != nil {
				return err
			}
			return printJSON(out, report)
		case accrueModeCatchUp:
			caught, err := a.Earnings.ProcessDailyEarnings(ctx)
			if err != nil {
				return err
			}
			today, err := a.Earnings.EnsureDailyRewardsForToday(ctx)
			if err != nil {
				return err
			}
			return printJSON(out, map[string]interface{}{"catchUp": caught, "today": today})
		}
		return errUsage
	}
	return errUsage
}
