// fieldsync keeps field reports on the local disk and pushes them to the
// report server whenever it can be reached.
//
// Usage:
//
//	fieldsync setup                        # interactive first-run wizard
//	fieldsync login [--rut <rut>]          # sign in and store the session
//	fieldsync logout                       # forget the session
//	fieldsync create --title ... [flags]   # write a report locally
//	fieldsync list [--pending] [--limit n] # show local reports
//	fieldsync status                       # config, session and queue state
//	fieldsync sync-once                    # push pending reports then exit
//	fieldsync daemon                       # keep pushing in the background
//	fieldsync reset [--yes]                # wipe the local database
//	fieldsync version                      # print version
//
// Every command accepts --config <path> and --verbose.
package main

import (
	"context"
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

	"github.com/njoerd114/fieldsync/internal/config"
	"github.com/njoerd114/fieldsync/internal/model"
	"github.com/njoerd114/fieldsync/internal/session"
	"github.com/njoerd114/fieldsync/internal/setup"
	"github.com/njoerd114/fieldsync/internal/store"
	syncp "github.com/njoerd114/fieldsync/internal/sync"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the requested subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "setup":
		return runSetup(args)
	case "login":
		return runLogin(args)
	case "logout":
		return runLogout(args)
	case "create":
		return runCreate(args)
	case "list":
		return runList(args)
	case "status":
		return runStatus(args)
	case "sync-once":
		return runSyncOnce(args)
	case "daemon":
		return runDaemon(args)
	case "reset":
		return runReset(args)
	case "version":
		fmt.Println("fieldsync", version)
		return nil
	case "help", "-h", "--help":
		return printUsage()
	}

	return fmt.Errorf("unknown command %q — run 'fieldsync' for usage", cmd)
}

// printUsage shows help and suggests setup if no config exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "fieldsync — offline-first field reports")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  fieldsync setup                  Interactive first-run wizard")
	fmt.Fprintln(os.Stderr, "  fieldsync login [--rut ...]      Sign in")
	fmt.Fprintln(os.Stderr, "  fieldsync logout                 Sign out")
	fmt.Fprintln(os.Stderr, "  fieldsync create --title ...     Save a report locally")
	fmt.Fprintln(os.Stderr, "  fieldsync list [--pending]       List local reports")
	fmt.Fprintln(os.Stderr, "  fieldsync status                 Show config, session and queue")
	fmt.Fprintln(os.Stderr, "  fieldsync sync-once              Push pending reports then exit")
	fmt.Fprintln(os.Stderr, "  fieldsync daemon                 Push reports in the background")
	fmt.Fprintln(os.Stderr, "  fieldsync reset [--yes]          Wipe the local database")
	fmt.Fprintln(os.Stderr, "  fieldsync version                Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil && os.Getenv(config.EnvAPIURL) == "" {
		fmt.Fprintln(os.Stderr, "No config file found. Run 'fieldsync setup' to get started.")
	}

	os.Exit(1)
	return nil // unreachable
}

// commonFlags registers --config and --verbose on fs.
func commonFlags(fs *flag.FlagSet) (cfgPath *string, verbose *bool) {
	defaultCfg, _ := config.DefaultPath()
	cfgPath = fs.String("config", defaultCfg, "path to config.yaml")
	verbose = fs.Bool("verbose", false, "enable debug logging")
	return cfgPath, verbose
}

// newLogger returns a text logger on stderr. Interactive commands pass
// quiet so only warnings reach the terminal.
func newLogger(verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	if quiet {
		level = slog.LevelWarn
	}
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// --- Subcommands -------------------------------------------------------------

// runSetup launches the interactive setup wizard.
func runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(*verbose, true)

	ctx, stop := signalContext()
	defer stop()

	wiz := setup.NewWizard(os.Stdin, os.Stdout, *cfgPath, logger)
	return wiz.Run(ctx)
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	rutFlag := fs.String("rut", "", "RUT, e.g. 12.345.678-5")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*cfgPath, newLogger(*verbose, true), false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	prompt := setup.NewPrompter(os.Stdin, os.Stdout)
	raw := *rutFlag
	if raw == "" {
		raw = prompt.String("RUT", "")
	}
	rut, err := setup.ParseRUT(raw)
	if err != nil {
		return err
	}
	password := prompt.Secret("Password")
	if password == "" {
		return errors.New("no password given")
	}

	s, err := a.sessions.SignIn(ctx, rut, password)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Signed in as %d\n", s.UserID)
	if s.RequirePasswordChange {
		fmt.Println("⚠ The server asks you to change your password.")
	}
	return nil
}

func runLogout(args []string) error {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*cfgPath, newLogger(*verbose, true), false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.sessions.SignOut(); err != nil {
		return err
	}
	fmt.Println("✓ Signed out")
	return nil
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	title := fs.String("title", "", "report title")
	description := fs.String("description", "", "report description")
	area := fs.Int64("area", 0, "area ID (see 'fieldsync list --catalogs')")
	severity := fs.Int64("severity", 0, "severity ID")
	status := fs.Int64("status", 0, "status ID (default 1, Pendiente)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*cfgPath, newLogger(*verbose, true), true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	if _, err := a.sessions.Restore(ctx); err != nil {
		return fmt.Errorf("%w — run 'fieldsync login' first", err)
	}

	fields := model.ReportFields{
		Title:       *title,
		Description: *description,
		AreaID:      *area,
		SeverityID:  *severity,
		StatusID:    *status,
	}
	if fields.Title == "" || fields.AreaID == 0 || fields.SeverityID == 0 {
		if err := promptFields(ctx, a.store, setup.NewPrompter(os.Stdin, os.Stdout), &fields); err != nil {
			return err
		}
	}

	r, err := a.writer.Create(ctx, fields, a.sessions.UserID())
	if err != nil {
		return err
	}
	fmt.Printf("✓ Report %d saved locally (%s), pending sync\n", r.LocalID, r.ClientUUID)
	return nil
}

// promptFields asks for whatever create flags were left out.
func promptFields(ctx context.Context, st *store.Store, p *setup.Prompter, f *model.ReportFields) error {
	if f.Title == "" {
		f.Title = p.String("Title", "")
	}
	if f.Description == "" {
		f.Description = p.String("Description", "-")
		if f.Description == "-" {
			f.Description = ""
		}
	}
	if f.AreaID == 0 {
		areas, err := st.ListAreas(ctx)
		if err != nil {
			return err
		}
		id, err := selectEntry(p, "Area", areas)
		if err != nil {
			return err
		}
		f.AreaID = id
	}
	if f.SeverityID == 0 {
		severities, err := st.ListSeverities(ctx)
		if err != nil {
			return err
		}
		id, err := selectEntry(p, "Severity", severities)
		if err != nil {
			return err
		}
		f.SeverityID = id
	}
	return nil
}

func selectEntry(p *setup.Prompter, label string, entries []model.CatalogEntry) (int64, error) {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	idx, err := p.Select(label, names)
	if err != nil {
		return 0, fmt.Errorf("selecting %s: %w", strings.ToLower(label), err)
	}
	return entries[idx].ID, nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	pending := fs.Bool("pending", false, "only reports awaiting sync")
	limit := fs.Int("limit", 0, "maximum number of reports")
	catalogs := fs.Bool("catalogs", false, "list areas, severities and statuses instead")
	clientUUID := fs.String("uuid", "", "show only the report with this client UUID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*cfgPath, newLogger(*verbose, true), true)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := context.Background()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if *catalogs {
		return printCatalogs(ctx, a.store, tw)
	}

	var reports []*model.Report
	if *clientUUID != "" {
		r, err := a.store.GetReportByClientUUID(ctx, *clientUUID)
		if err != nil {
			return err
		}
		reports = append(reports, r)
	} else {
		reports, err = a.store.ListReports(ctx, store.ListOptions{PendingOnly: *pending, Limit: *limit})
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(tw, "LOCAL\tSERVER\tSTATE\tDATE\tAREA\tSEV\tTITLE")
	for _, r := range reports {
		server := "-"
		if r.ServerID != nil {
			server = fmt.Sprint(*r.ServerID)
		}
		state := "synced"
		switch {
		case r.Pending():
			state = "pending"
		case r.Duplicate:
			state = "synced (dup)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.LocalID, server, state, r.ReportDate.Format(model.DateLayout), r.AreaID, r.SeverityID, r.Title)
	}
	return nil
}

func printCatalogs(ctx context.Context, st *store.Store, tw *tabwriter.Writer) error {
	lists := []struct {
		name string
		load func(context.Context) ([]model.CatalogEntry, error)
	}{
		{"AREA", st.ListAreas},
		{"SEVERITY", st.ListSeverities},
		{"STATUS", st.ListStatuses},
	}
	for _, l := range lists {
		entries, err := l.load(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", l.name, e.ID, e.Name)
		}
	}
	return nil
}

// runStatus prints configuration, session and queue state.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(*verbose, true)

	fmt.Println("fieldsync status")
	fmt.Println("────────────────")

	a, err := newApp(*cfgPath, logger, true)
	if err != nil {
		fmt.Printf("  Config:    %s (%v)\n", *cfgPath, err)
		return nil
	}
	defer a.close()
	ctx := context.Background()

	fmt.Printf("  Config:    %s ✓\n", *cfgPath)
	fmt.Printf("  Server:    %s\n", a.cfg.APIURL)
	fmt.Printf("  Interval:  %s\n", a.cfg.SyncInterval)

	a.prober.Probe(ctx)
	if a.prober.Online() {
		fmt.Printf("  Reachable: yes\n")
	} else {
		fmt.Printf("  Reachable: no\n")
	}

	if s, err := a.sessions.Restore(ctx); err != nil {
		fmt.Printf("  Session:   %v\n", err)
	} else if s.ExpiresAt.IsZero() {
		fmt.Printf("  Session:   user %d\n", s.UserID)
	} else {
		fmt.Printf("  Session:   user %d (expires %s)\n", s.UserID, s.ExpiresAt.Local().Format(time.DateTime))
	}

	fmt.Printf("  Database:  %s\n", a.dbPath)
	n, err := a.engine.PendingCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  Pending:   %d report(s)\n", n)

	last, err := a.store.LastSyncedAt(ctx)
	if err != nil {
		return err
	}
	if last.IsZero() {
		fmt.Printf("  Last sync: never\n")
	} else {
		fmt.Printf("  Last sync: %s\n", last.Local().Format(time.DateTime))
	}
	return nil
}

func runSyncOnce(args []string) error {
	fs := flag.NewFlagSet("sync-once", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*cfgPath, newLogger(*verbose, false), true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	if _, err := a.sessions.Restore(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
		return err
	}

	stats, err := a.scheduler.SyncNow(ctx)
	if err != nil {
		if errors.Is(err, syncp.ErrNoToken) {
			return fmt.Errorf("%w — run 'fieldsync login' first", err)
		}
		return err
	}
	a.log.Info("sync complete",
		"pending", stats.Pending,
		"synced", stats.Synchronized,
		"duplicates", stats.Duplicates,
		"failed", stats.Failed,
	)
	return nil
}

// runDaemon keeps the scheduler and reachability prober running until
// SIGINT/SIGTERM. SIGUSR1 counts as the client returning to the foreground.
func runDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*cfgPath, newLogger(*verbose, false), true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The scheduler follows the session; when the server rejects the token
	// the daemon has nothing left to do.
	a.sessions.Attach(a.scheduler)
	a.sessions.Attach(onStop(cancel))

	if _, err := a.sessions.Restore(ctx); err != nil {
		return fmt.Errorf("%w — run 'fieldsync login' first", err)
	}

	go func() {
		if err := a.prober.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("reachability prober stopped", "error", err)
		}
	}()

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	a.log.Info("daemon started", "interval", a.cfg.SyncInterval, "user_id", a.sessions.UserID())
	for {
		select {
		case <-ctx.Done():
			if _, ok := a.sessions.Current(); !ok {
				a.log.Warn("session ended — run 'fieldsync login' and restart the daemon")
			}
			a.log.Info("shutdown complete")
			return nil
		case <-usr1:
			a.log.Debug("foreground signal received")
			a.foreground.Publish()
		}
	}
}

func runReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*cfgPath, newLogger(*verbose, true), true)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := context.Background()

	n, err := a.engine.PendingCount(ctx)
	if err != nil {
		return err
	}
	if !*yes {
		p := setup.NewPrompter(os.Stdin, os.Stdout)
		msg := fmt.Sprintf("Delete every local report in %s (%d not yet synced)?", a.dbPath, n)
		if !p.Confirm(msg, false) {
			fmt.Println("Aborted.")
			return nil
		}
	}
	if err := a.store.Reset(ctx); err != nil {
		return err
	}
	fmt.Println("✓ Local database reset")
	return nil
}

// onStop adapts a function to session.Service, run when the session ends.
type onStop func()

func (onStop) Start(context.Context) {}
func (f onStop) Stop()               { f() }

var _ session.Service = onStop(nil)
