package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/hiroki-koketsu/go-todo/internal/board"
	"github.com/hiroki-koketsu/go-todo/internal/client"
	"github.com/hiroki-koketsu/go-todo/internal/config"
	"github.com/hiroki-koketsu/go-todo/internal/model"
	"github.com/hiroki-koketsu/go-todo/internal/offline"
	"github.com/hiroki-koketsu/go-todo/internal/ordering"
	"github.com/hiroki-koketsu/go-todo/internal/session"
)

const usage = `usage: todo <command> [flags] [args]

commands:
  list   [-filter all|pending|completed] [-sort manual|createdAt|deadline]
  add    [-deadline YYYY-MM-DD] [-category NAME] TEXT...
  toggle ID
  delete ID
  move   FROM TO   (1-based positions in manual order)
  sync
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(context.Background(), cfg, logger, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		logger.Error("command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Client, logger *slog.Logger, cmd string, args []string, out io.Writer) error {
	storage, err := offline.OpenSQLite(cfg.OfflineDB)
	if err != nil {
		return err
	}
	defer storage.Close()

	var opts []client.Option
	if cfg.Token != "" {
		opts = append(opts, client.WithToken(cfg.Token))
	}
	api := client.New(cfg.ServerURL, cfg.RequestTimeout, opts...)

	online := api.Health(ctx) == nil
	if !online {
		logger.Warn("server unreachable, working offline", slog.String("server", cfg.ServerURL))
	}

	sess, err := session.New(api, offline.NewQueue(storage, logger), cfg.OwnerID, online, logger)
	if err != nil {
		return err
	}
	defer printNotices(out, sess)
	if err := sess.Start(ctx); err != nil {
		if errors.Is(err, session.ErrSignedOut) {
			return err
		}
		logger.Warn("startup sync incomplete", slog.Any("error", err))
	}

	switch cmd {
	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		filter := fs.String("filter", string(ordering.FilterAll), "status filter")
		sortMode := fs.String("sort", string(ordering.SortManual), "sort mode")
		if err := fs.Parse(args); err != nil {
			return err
		}
		f, err := ordering.ParseFilter(*filter)
		if err != nil {
			return err
		}
		m, err := ordering.ParseSortMode(*sortMode)
		if err != nil {
			return err
		}
		sess.SetFilter(f)
		sess.SetSort(m)

	case "add":
		fs := flag.NewFlagSet("add", flag.ContinueOnError)
		deadline := fs.String("deadline", "", "due date")
		category := fs.String("category", "", "category")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := sess.Add(ctx, strings.Join(fs.Args(), " "), *deadline, *category); err != nil {
			return err
		}

	case "toggle", "delete":
		if len(args) != 1 {
			return fmt.Errorf("%s takes exactly one task id", cmd)
		}
		op := sess.Toggle
		if cmd == "delete" {
			op = sess.Delete
		}
		if err := op(ctx, args[0]); err != nil {
			return err
		}

	case "move":
		if len(args) != 2 {
			return fmt.Errorf("move takes FROM and TO positions")
		}
		from, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid position %q", args[0])
		}
		to, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid position %q", args[1])
		}
		dest := to - 1
		if dest < 0 || dest >= len(sess.Visible()) {
			if err := sess.Drop(ctx, from-1, nil); err != nil {
				return err
			}
			fmt.Fprintln(out, "not a valid position, nothing moved")
			return nil
		}
		if err := sess.Drop(ctx, from-1, &dest); err != nil {
			return err
		}

	case "sync":
		if !sess.Online() {
			return fmt.Errorf("server unreachable, offline tasks stay queued")
		}
		if err := sess.Sync(ctx); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	printBoard(out, sess)
	return nil
}

func printBoard(out io.Writer, sess *session.Session) {
	pending, completed := sess.Counts()
	fmt.Fprintf(out, "%d pending, %d completed\n", pending, completed)
	for i, it := range sess.Visible() {
		mark := " "
		if it.Status == model.StatusCompleted {
			mark = "x"
		}
		line := fmt.Sprintf("%2d. [%s] %s", i+1, mark, it.Text)
		if it.Deadline != "" {
			line += " (due " + it.Deadline + ")"
		}
		line += "  " + it.Category
		if it.Provenance == board.LocalOnly {
			line += "  (offline)"
		} else {
			line += "  " + it.ID
		}
		fmt.Fprintln(out, line)
	}
}

func printNotices(out io.Writer, sess *session.Session) {
	for _, n := range sess.Notices() {
		prefix := "note"
		if n.Warning {
			prefix = "warning"
		}
		fmt.Fprintf(out, "%s: %s\n", prefix, n.Message)
	}
}
