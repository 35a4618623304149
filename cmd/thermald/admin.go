package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	cfnats "github.com/dereadi/thermal-memory/internal/adapter/nats"
	"github.com/dereadi/thermal-memory/internal/adapter/natskv"
	"github.com/dereadi/thermal-memory/internal/adapter/postgres"
	"github.com/dereadi/thermal-memory/internal/config"
	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "promote":
		return runAdminPromote(args[1:])
	case "sacred":
		return runAdminSacred(args[1:])
	case "stats":
		return runAdminStats(args[1:])
	case "migrate-version":
		return runAdminMigrateVersion(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: thermald admin <command> [options]

Commands:
  promote          Promote a memory to sacred
  sacred           List sacred memories
  stats            Show record counts per thermal stage
  migrate-version  Show the applied schema version
  rollback         Roll back schema migrations
  help             Show this help message

Output is a table on a terminal and JSON otherwise.

Examples:
  thermald admin promote --id 6f1c... --rationale ceremony,treaty
  thermald admin sacred --triad cherokee
  thermald admin rollback --steps 1
`)
}

type adminDeps struct {
	cfg     *config.Config
	thermal *service.ThermalService
}

// loadAdminDeps connects to the store. When NATS is reachable the shared
// record cache and federation are wired too, so admin changes reach peers.
func loadAdminDeps(ctx context.Context) (*adminDeps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	conns := postgres.NewConnManager(pool, cfg.Postgres)
	thermalSvc := service.NewThermalService(postgres.NewStore(conns), memory.DefaultThermalPolicy(), nil)

	cleanups := []func(){conns.Close}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	queue, err := cfnats.Connect(ctx, cfg.NATS, cfg.Federation.Triad+"-admin")
	if err != nil {
		slog.Warn("nats unavailable, changes stay local", "error", err)
		return &adminDeps{cfg: cfg, thermal: thermalSvc}, cleanup, nil
	}
	cleanups = append(cleanups, func() { _ = queue.Drain() })

	if kv, err := natskv.EnsureBucket(ctx, queue.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.L2TTL); err == nil {
		thermalSvc.SetCache(natskv.New(kv), cfg.Cache.L2TTL)
	} else {
		slog.Warn("shared cache unavailable", "error", err)
	}

	federator := service.NewFederator(queue, nil, nil, cfg.Federation, nil)
	federator.Start()
	cleanups = append(cleanups, federator.Stop)
	thermalSvc.SetFederator(federator)

	return &adminDeps{cfg: cfg, thermal: thermalSvc}, cleanup, nil
}

func runAdminPromote(args []string) error {
	fs := flag.NewFlagSet("promote", flag.ContinueOnError)
	id := fs.String("id", "", "memory id (required)")
	rationale := fs.String("rationale", "", "comma-separated rationale tags")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := deps.thermal.PromoteToSacred(ctx, *id, splitList(*rationale))
	if err != nil {
		return fmt.Errorf("promote: %w", err)
	}
	return printRecords(os.Stdout, []memory.Record{*rec})
}

func runAdminSacred(args []string) error {
	fs := flag.NewFlagSet("sacred", flag.ContinueOnError)
	triad := fs.String("triad", "", "requesting triad (default: this node)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	requester := *triad
	if requester == "" {
		requester = deps.cfg.Federation.Triad
	}
	recs, err := deps.thermal.GetSacredMemories(ctx, requester)
	if err != nil {
		return fmt.Errorf("list sacred: %w", err)
	}
	if len(recs) == 0 && isTerminal() {
		fmt.Println("No sacred memories found.")
		return nil
	}
	return printRecords(os.Stdout, recs)
}

func runAdminStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := deps.thermal.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	if !isTerminal() {
		return json.NewEncoder(os.Stdout).Encode(st)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tCOUNT")
	for _, stage := range memory.ValidStages {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", stage, st.ByStage[stage])
	}
	_, _ = fmt.Fprintf(w, "SACRED\t%d\n", st.Sacred)
	_, _ = fmt.Fprintf(w, "TOTAL\t%d\n", st.Total)
	return w.Flush()
}

func runAdminMigrateVersion(args []string) error {
	fs := flag.NewFlagSet("migrate-version", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	v, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Println(v)
	return nil
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}

	if !*yes {
		if !term.IsTerminal(int(syscall.Stdin)) { //nolint:unconvert // int conversion needed on some platforms
			return fmt.Errorf("refusing to roll back without a terminal; pass --yes")
		}
		ok, err := confirm(fmt.Sprintf("Roll back %d migration(s)? [y/N] ", *steps))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := postgres.RollbackMigrations(context.Background(), cfg.Postgres.DSN, *steps); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *steps)
	return nil
}

// printRecords writes a table on a terminal and JSON otherwise.
func printRecords(out io.Writer, recs []memory.Record) error {
	if !isTerminal() {
		return json.NewEncoder(out).Encode(recs)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTEMP\tSTAGE\tACCESS\tSOURCE\tPROTECTION\tSUMMARY")
	for i := range recs {
		r := &recs[i]
		_, _ = fmt.Fprintf(w, "%s\t%.1f\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Temperature, r.Stage, r.AccessLevel, r.SourceTriad,
			memory.Protection(r), memory.Summarize(r.Content(), 48))
	}
	return w.Flush()
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}

func confirm(prompt string) (bool, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
