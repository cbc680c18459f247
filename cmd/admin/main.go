package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/propelai/propelai-backend/internal/events"
	"github.com/propelai/propelai-backend/internal/store"
	"github.com/propelai/propelai-backend/internal/store/backend"
	"github.com/propelai/propelai-backend/pkg/config"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
	"github.com/propelai/propelai-backend/pkg/kafka"
	"github.com/propelai/propelai-backend/pkg/logger"
)

// admin is an operator CLI for accounts, credits and history.
//
// Usage:
//
//	admin migrate
//	admin grant   --user <id|email|client-id> --credits 10
//	admin tier    --user <id|email|client-id> --tier pro
//	admin show    --user <id|email|client-id>
//	admin history --user <id|email|client-id> [--limit 20]
//	admin tail-events [--group propelai-admin] [--from-start]
func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args[0] == "tail-events" {
		cmdTailEvents(ctx, cfg, args[1:])
		return
	}

	st, err := backend.Open(ctx, cfg, nil)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	switch args[0] {
	case "migrate":
		fmt.Printf("Store %q is ready.\n", cfg.Store.Backend)
	case "grant":
		cmdGrant(ctx, st, args[1:])
	case "tier":
		cmdTier(ctx, st, args[1:])
	case "show":
		cmdShow(ctx, st, args[1:])
	case "history":
		cmdHistory(ctx, st, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

// resolveUser accepts an internal id, an email or an extension client id.
func resolveUser(ctx context.Context, users store.UserStore, ref string) (*store.User, error) {
	if ref == "" {
		return nil, errors.New("--user is required")
	}
	lookups := []func(context.Context, string) (*store.User, error){users.GetUser, users.FindUserByExternalID}
	if strings.Contains(ref, "@") {
		lookups = append([]func(context.Context, string) (*store.User, error){users.FindUserByEmail}, lookups...)
	}
	for _, find := range lookups {
		u, err := find(ctx, ref)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("user %q not found", ref)
}

func mustUser(ctx context.Context, st store.UserStore, ref string) *store.User {
	u, err := resolveUser(ctx, st, ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return u
}

func cmdGrant(ctx context.Context, st store.Store, args []string) {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	user := fs.String("user", "", "user id, email or client id")
	credits := fs.Int("credits", 0, "credits to add")
	fs.Parse(args)

	if *credits <= 0 {
		fmt.Fprintln(os.Stderr, "error: --credits must be positive")
		os.Exit(1)
	}
	u := mustUser(ctx, st, *user)
	updated, err := st.UpdateUser(ctx, u.ID, store.UserUpdate{AddCredits: *credits})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to grant credits: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Granted %d credits to %s. Balance: %d\n", *credits, updated.ID, updated.Credits)
}

func cmdTier(ctx context.Context, st store.Store, args []string) {
	fs := flag.NewFlagSet("tier", flag.ExitOnError)
	user := fs.String("user", "", "user id, email or client id")
	tierFlag := fs.String("tier", "", "free or pro")
	fs.Parse(args)

	tier, ok := store.ParseTier(*tierFlag)
	if !ok {
		fmt.Fprintln(os.Stderr, "error: --tier must be free or pro")
		os.Exit(1)
	}
	u := mustUser(ctx, st, *user)
	updated, err := st.UpdateUser(ctx, u.ID, store.UserUpdate{Tier: &tier})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to change tier: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("User %s is now on the %s tier.\n", updated.ID, updated.Tier)
}

func cmdShow(ctx context.Context, st store.Store, args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	user := fs.String("user", "", "user id, email or client id")
	fs.Parse(args)

	u := mustUser(ctx, st, *user)
	fmt.Printf("  ID:         %s\n", u.ID)
	if u.Email != "" {
		fmt.Printf("  Email:      %s\n", u.Email)
	}
	if u.ExternalID != "" {
		fmt.Printf("  Client ID:  %s\n", u.ExternalID)
	}
	if u.FullName != "" {
		fmt.Printf("  Name:       %s\n", u.FullName)
	}
	fmt.Printf("  Tier:       %s\n", u.Tier)
	if u.Metered() {
		fmt.Printf("  Credits:    %d\n", u.Credits)
	} else {
		fmt.Println("  Credits:    unlimited")
	}
	fmt.Printf("  Active:     %t\n", u.IsActive)
	fmt.Printf("  Created:    %s\n", u.CreatedAt.Format(time.RFC3339))
	if u.LastLogin != nil {
		fmt.Printf("  Last login: %s\n", u.LastLogin.Format(time.RFC3339))
	}
}

func cmdHistory(ctx context.Context, st store.Store, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	user := fs.String("user", "", "user id, email or client id")
	limit := fs.Int("limit", 20, "maximum ideas to list (0 for all)")
	fs.Parse(args)

	u := mustUser(ctx, st, *user)
	ideas, err := st.ListIdeas(ctx, u.ID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list ideas: %v\n", err)
		os.Exit(1)
	}
	if len(ideas) == 0 {
		fmt.Println("No ideas found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTARRED\tGENERATED")
	for _, idea := range ideas {
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", idea.ID, truncate(idea.Name, 40), idea.IsStarred, idea.GeneratedAt.Format(time.RFC3339))
	}
	w.Flush()
}

func cmdTailEvents(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("tail-events", flag.ExitOnError)
	group := fs.String("group", "propelai-admin", "consumer group id")
	fromStart := fs.Bool("from-start", false, "read the topic from the first offset")
	fs.Parse(args)

	if len(cfg.Kafka.Brokers) == 0 {
		fmt.Fprintln(os.Stderr, "error: no kafka brokers configured (PA_KAFKA_BROKERS)")
		os.Exit(1)
	}
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IdeaEvents, *group, *fromStart, func(_ context.Context, _, value []byte) error {
		ev, err := kafka.DecodeJSON[events.GenerationEvent](value)
		if err != nil {
			slog.Warn("skipping undecodable event", "error", err)
			return nil
		}
		line, _ := json.Marshal(ev)
		fmt.Println(string(line))
		return nil
	})
	defer consumer.Close()

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: admin [-config path] <command> [flags]

Commands:
  migrate      Create the schema for the configured store backend
  grant        Add credits to a user        (--user, --credits)
  tier         Change a user's tier         (--user, --tier free|pro)
  show         Print a user                 (--user)
  history      List a user's ideas          (--user, --limit)
  tail-events  Print generation events from Kafka (--group, --from-start)`)
}
