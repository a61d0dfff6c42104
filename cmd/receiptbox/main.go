package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"receiptbox/internal/api"
	"receiptbox/internal/auth"
	"receiptbox/internal/config"
	"receiptbox/internal/core"
	"receiptbox/internal/events"
	"receiptbox/internal/localstore"
	"receiptbox/internal/log"
	"receiptbox/internal/session"
)

const usage = `usage: receiptbox <command> [args]

commands:
  signup <email> <password>    create an account and sign in
  login <email> <password>     sign in
  logout                       sign out and purge the session
  list                         show persisted transactions
  upload [-commit] <file>...   extract transactions from receipt files;
                               with -commit, select and commit them all
  analytics                    show the spending summary
  formats                      show the file types the backend accepts
  clear                        delete ALL persisted transactions
`

func main() {
	// Load .env file for local development (ignore errors elsewhere)
	_ = godotenv.Load()

	logger := log.New(log.Config{Component: log.ComponentCLI})
	log.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", log.FieldError, err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("Command failed", log.FieldOperation, os.Args[1], log.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, command string, args []string) error {
	kv, err := localstore.Open(cfg.LocalStorePath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer kv.Close()

	mgr, err := auth.NewManager(ctx, kv, logger.WithComponent(log.ComponentAuth))
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	client := api.NewClient(api.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
		Token:   mgr.Token,
		Logger:  logger.WithComponent(log.ComponentAPI),
	})

	ctrlCfg := session.DefaultControllerConfig()
	ctrlCfg.Logger = logger.WithComponent(log.ComponentSession)
	ctrlCfg.Weeks = cfg.AnalyticsWeeks
	ctrlCfg.Months = cfg.AnalyticsMonths
	ctrlCfg.PeriodDays = cfg.AnalyticsPeriodDays

	// Session events are optional: without a broker the session runs the
	// same, it just publishes nothing.
	if cfg.AMQPURL != "" {
		publisher, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
			logger.WithComponent(log.ComponentEvents))
		if err != nil {
			logger.Warn("Events broker unavailable, continuing without publishing", log.FieldError, err)
		} else {
			defer publisher.Close()
			ctrlCfg.Publisher = publisher
		}
	}

	store := session.NewStore(time.Now())
	ctrl := session.NewController(store, client, localstore.NewPeriodMarker(kv), ctrlCfg)
	mgr.OnLogout(func() { ctrl.Reset(ctx) })

	switch command {
	case "signup":
		return signIn(ctx, client.Signup, mgr, args)
	case "login":
		return signIn(ctx, client.Login, mgr, args)
	case "logout":
		return mgr.Logout(ctx)
	case "list":
		return runList(ctx, ctrl)
	case "upload":
		return runUpload(ctx, ctrl, args)
	case "analytics":
		return runAnalytics(ctx, ctrl)
	case "formats":
		formats, err := client.SupportedFormats(ctx)
		if err != nil {
			return err
		}
		fmt.Println(string(formats))
		return nil
	case "clear":
		return ctrl.ClearAll(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func signIn(ctx context.Context, exchange func(context.Context, string, string) (string, error), mgr *auth.Manager, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected <email> <password>")
	}
	token, err := exchange(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return mgr.SetCredentials(ctx, token, args[0])
}

func runList(ctx context.Context, ctrl *session.Controller) error {
	ctrl.LoadTransactions(ctx)
	if msg := ctrl.Store().LastError(); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	printTransactions(ctrl.Store().VisibleTransactions())
	return nil
}

func runUpload(ctx context.Context, ctrl *session.Controller, args []string) error {
	commit := false
	if len(args) > 0 && args[0] == "-commit" {
		commit = true
		args = args[1:]
	}
	if len(args) == 0 {
		return fmt.Errorf("expected at least one receipt file")
	}

	files := make([]session.File, 0, len(args))
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open receipt: %w", err)
		}
		defer f.Close()
		files = append(files, session.File{Name: f.Name(), Data: f})
	}

	ctrl.Upload(ctx, files)

	for _, item := range ctrl.Store().Uploads() {
		if item.Error != "" {
			fmt.Printf("%-40s %s (%s)\n", item.Name, item.Status, item.Error)
			continue
		}
		fmt.Printf("%-40s %s\n", item.Name, item.Status)
	}

	extracted := ctrl.Store().VisibleTransactions()
	if len(extracted) == 0 {
		fmt.Println("no transactions extracted")
		return nil
	}
	printTransactions(extracted)

	if !commit {
		return nil
	}
	for _, txn := range extracted {
		ctrl.Toggle(ctx, txn)
	}
	if err := ctrl.Commit(ctx); err != nil {
		return err
	}
	total := ctrl.Store().ThisMonthTotal(time.Now())
	fmt.Printf("committed %d transactions, this month: %s\n", len(extracted), total)
	return nil
}

func runAnalytics(ctx context.Context, ctrl *session.Controller) error {
	ctrl.RefreshAnalytics(ctx)
	if msg := ctrl.Store().LastError(); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	a := ctrl.Store().Analytics()
	fmt.Printf("summary:    %s\n", a.Summary)
	fmt.Printf("weekly:     %s\n", a.Weekly)
	fmt.Printf("monthly:    %s\n", a.Monthly)
	fmt.Printf("categories: %s\n", a.Categories)
	return nil
}

func printTransactions(txns []core.Transaction) {
	for _, txn := range txns {
		id := "-"
		if txn.ID.Valid {
			id = fmt.Sprintf("%d", txn.ID.Int64)
		}
		fmt.Printf("%-6s %-12s %-32s %-16s %10s\n",
			id, txn.Date, txn.Description, txn.Category, txn.Amount)
	}
}
