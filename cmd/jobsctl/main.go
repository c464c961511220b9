// Command jobsctl triggers and inspects background jobs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/odyssey-erp/stay-revenue/internal/platform/cache"
)

const usage = `usage: jobsctl [-redis addr] <command> [flags]

commands:
  sync       [-product id] [-since RFC3339]   enqueue a reservation sync
  recompute  -reservation id                  enqueue a revenue rebuild
  inspect                                     show default queue counters
  archived   [-n size]                        list tasks that ran out of retries
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "jobsctl:", err)
		os.Exit(1)
	}
}

// command is a parsed invocation.
type command struct {
	name          string
	redisAddr     string
	productID     string
	since         time.Time
	reservationID int64
	size          int
}

var errUsage = errors.New("invalid usage")

func parseArgs(args []string) (command, error) {
	global := flag.NewFlagSet("jobsctl", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	redisAddr := global.String("redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "redis address")
	if err := global.Parse(args); err != nil {
		return command{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	rest := global.Args()
	if len(rest) == 0 {
		return command{}, errUsage
	}
	cmd := command{name: rest[0], redisAddr: *redisAddr}

	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	product := fs.String("product", "", "channel product id")
	since := fs.String("since", "", "RFC3339 lower bound")
	reservation := fs.Int64("reservation", 0, "reservation id")
	size := fs.Int("n", 10, "page size")
	if err := fs.Parse(rest[1:]); err != nil {
		return command{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	switch cmd.name {
	case "sync":
		cmd.productID = *product
		if *since != "" {
			t, err := time.Parse(time.RFC3339, *since)
			if err != nil {
				return command{}, fmt.Errorf("%w: -since: %v", errUsage, err)
			}
			cmd.since = t
		}
	case "recompute":
		if *reservation <= 0 {
			return command{}, fmt.Errorf("%w: -reservation must be positive", errUsage)
		}
		cmd.reservationID = *reservation
	case "inspect":
	case "archived":
		cmd.size = *size
	default:
		return command{}, fmt.Errorf("%w: unknown command %q", errUsage, cmd.name)
	}
	return cmd, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cmd, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(out, usage)
		}
		return err
	}

	cli := NewJobsCLI(cache.QueueOpt(cmd.redisAddr), envInt("JOB_MAX_RETRY", 5))
	defer cli.Close()

	switch cmd.name {
	case "sync":
		info, err := cli.TriggerSync(ctx, cmd.productID, cmd.since)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s id=%s\n", info.Type, info.ID)
	case "recompute":
		info, err := cli.TriggerRecompute(ctx, cmd.reservationID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s id=%s\n", info.Type, info.ID)
	case "inspect":
		stats, err := cli.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	case "archived":
		tasks, err := cli.ListArchived(ctx, cmd.size)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Fprintf(out, "%s %s retried=%d last_err=%q payload=%s\n", t.ID, t.Type, t.Retried, t.LastErr, t.Payload)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(os.Getenv(key), "%d", &v); err != nil {
		return fallback
	}
	return v
}
