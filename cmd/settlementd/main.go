// Command settlementd runs the daily settlement engine: the operator HTTP
// API, the payment gateway callback endpoint and the nightly scheduler.
// Subcommands cover operations work: migrations, development seeding and
// driving individual settlements from a terminal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mwukenya/settlement/internal/config"
	"github.com/mwukenya/settlement/internal/gateway"
	"github.com/mwukenya/settlement/internal/gateway/bankapi"
	"github.com/mwukenya/settlement/internal/gateway/mpesa"
	"github.com/mwukenya/settlement/internal/gateway/paypal"
	"github.com/mwukenya/settlement/internal/models"
	"github.com/mwukenya/settlement/internal/payout"
	"github.com/mwukenya/settlement/internal/recovery"
	"github.com/mwukenya/settlement/internal/scheduler"
	"github.com/mwukenya/settlement/internal/seeder"
	"github.com/mwukenya/settlement/internal/service"
	"github.com/mwukenya/settlement/internal/storage"
	"github.com/mwukenya/settlement/internal/storage/postgres"
	"github.com/mwukenya/settlement/internal/storage/sqlite"
	"github.com/mwukenya/settlement/internal/transfer"
	"github.com/mwukenya/settlement/internal/web"
	"github.com/mwukenya/settlement/pkg/logging"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.App.AppEnv)

	app := cli.NewApp()
	app.Name = "settlementd"
	app.Usage = "daily settlement engine for union micro-payments"
	app.Action = func(c *cli.Context) error {
		return serve(cfg)
	}
	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "run the API server and the nightly scheduler",
			Action: func(c *cli.Context) error {
				return serve(cfg)
			},
		},
		{
			Name:  "db:migrate",
			Usage: "create or update the database schema",
			Action: func(c *cli.Context) error {
				store, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				fmt.Println("Database migrated successfully.")
				return nil
			},
		},
		{
			Name:  "db:seed",
			Usage: "seed development members and a day of payments",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "date", Usage: "settlement date (YYYY-MM-DD), default yesterday"},
				cli.IntFlag{Name: "payments", Value: 60, Usage: "number of completed payments to seed"},
			},
			Action: func(c *cli.Context) error {
				return runSeed(cfg, c.String("date"), c.Int("payments"))
			},
		},
		{
			Name:  "generate",
			Usage: "generate the settlement for a date",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "date", Usage: "settlement date (YYYY-MM-DD), default yesterday"},
			},
			Action: func(c *cli.Context) error {
				return runGenerate(cfg, c.String("date"))
			},
		},
		{
			Name:  "process",
			Usage: "process a settlement through the payout and bank rails",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "id", Usage: "settlement ID"},
				cli.StringFlag{Name: "date", Usage: "settlement date, alternative to --id"},
				cli.StringFlag{Name: "operator", Value: "cli", Usage: "who is running this"},
				cli.StringFlag{Name: "secret", Usage: "bank transfer confirmation secret"},
				cli.BoolFlag{Name: "payouts-only", Usage: "skip the bank transfer legs"},
			},
			Action: func(c *cli.Context) error {
				return runProcess(cfg, c.String("id"), c.String("date"),
					c.String("operator"), c.String("secret"), c.Bool("payouts-only"))
			},
		},
		{
			Name:  "retry-payouts",
			Usage: "resubmit a settlement's failed payouts",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "id", Usage: "settlement ID"},
				cli.StringFlag{Name: "date", Usage: "settlement date, alternative to --id"},
				cli.StringFlag{Name: "operator", Value: "cli", Usage: "who is running this"},
			},
			Action: func(c *cli.Context) error {
				return runRetry(cfg, c.String("id"), c.String("date"), c.String("operator"))
			},
		},
		{
			Name:  "stats",
			Usage: "show a settlement's payout statistics",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "id", Usage: "settlement ID"},
				cli.StringFlag{Name: "date", Usage: "settlement date, alternative to --id"},
			},
			Action: func(c *cli.Context) error {
				return runStats(cfg, c.String("id"), c.String("date"))
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// stack is the fully wired engine shared by serve and the ops commands.
type stack struct {
	store   storage.Store
	orch    *recovery.Orchestrator
	payouts *payout.Engine
	svc     *service.SettlementService
	parser  gateway.CallbackParser
}

func (s *stack) Close() {
	if err := s.store.Close(); err != nil {
		slog.Error("Failed to close store", "error", err)
	}
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.DB.Driver == "postgres" {
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			cfg.DB.DBHost, cfg.DB.DBUser, cfg.DB.DBPassword, cfg.DB.DBName, cfg.DB.DBPort)
		return postgres.New(dsn)
	}
	return sqlite.New(cfg.DB.SQLitePath)
}

// buildGateway picks the payout channel. The mpesa client doubles as the
// callback parser; paypal results arrive through webhooks in the normalized
// form, so it ships no parser.
func buildGateway(ctx context.Context, cfg config.GatewayConfig) (gateway.PayoutGateway, gateway.CallbackParser, error) {
	switch cfg.Channel {
	case "paypal":
		adapter, err := paypal.New(ctx, paypal.Config{
			ClientID: cfg.PayPalClientID,
			Secret:   cfg.PayPalClientSecret,
			Currency: cfg.PayPalCurrency,
			Live:     cfg.PayPalLive,
		})
		if err != nil {
			return nil, nil, err
		}
		return adapter, nil, nil
	case "mpesa", "":
		client := mpesa.New(mpesa.Config{
			BaseURL:            cfg.MpesaBaseURL,
			ConsumerKey:        cfg.MpesaConsumerKey,
			ConsumerSecret:     cfg.MpesaConsumerSecret,
			ShortCode:          cfg.MpesaShortCode,
			InitiatorName:      cfg.MpesaInitiator,
			SecurityCredential: cfg.MpesaCredential,
			ResultURL:          cfg.MpesaResultURL,
			QueueTimeoutURL:    cfg.MpesaTimeoutURL,
		})
		return client, client, nil
	default:
		return nil, nil, fmt.Errorf("unknown gateway channel %q", cfg.Channel)
	}
}

func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	orch := recovery.New(store)
	// Mobile-money rails flake; give submissions patience. The nightly run
	// backs off in minutes so a storage blip does not consume all attempts
	// inside one outage.
	orch.SetConfig(payout.OpGatewaySubmit, recovery.Config{
		MaxAttempts:       4,
		InitialDelay:      500 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          10 * time.Second,
	})
	orch.SetConfig(transfer.OpBankSubmit, recovery.Config{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          15 * time.Second,
	})
	orch.SetConfig(scheduler.OpDailySettlement, recovery.Config{
		MaxAttempts:       3,
		InitialDelay:      time.Minute,
		BackoffMultiplier: 5,
		MaxDelay:          30 * time.Minute,
	})
	orch.RegisterAction(payout.OpGatewaySubmit, recovery.Action{
		Name:     "flag_for_operator",
		Kind:     recovery.ActionManualIntervention,
		Priority: recovery.PriorityLow,
		Run: func(ctx context.Context, cause error) error {
			slog.Error("Payout submission exhausted retries, operator attention needed", "error", cause)
			return nil
		},
	})
	orch.RegisterAction(transfer.OpBankSubmit, recovery.Action{
		Name:     "flag_for_operator",
		Kind:     recovery.ActionManualIntervention,
		Priority: recovery.PriorityLow,
		Run: func(ctx context.Context, cause error) error {
			slog.Error("Bank transfer exhausted retries, operator attention needed", "error", cause)
			return nil
		},
	})

	gw, parser, err := buildGateway(ctx, cfg.Gateway)
	if err != nil {
		store.Close()
		return nil, err
	}

	engine := payout.NewEngine(store, gw, orch)
	bank := bankapi.New(bankapi.Config{BaseURL: cfg.Bank.BaseURL, APIKey: cfg.Bank.APIKey})
	transfers, err := transfer.NewService(store, bank, orch, cfg.Bank)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &stack{
		store:   store,
		orch:    orch,
		payouts: engine,
		svc:     service.NewSettlementService(store, engine, transfers, orch),
		parser:  parser,
	}, nil
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Schedule.Enabled {
		sched, err := scheduler.New(st.svc, st.orch, cfg.Schedule)
		if err != nil {
			return err
		}
		sched.RegisterJob(scheduler.CallbackCleanup(st.store, cfg.Schedule.CleanupRetentionDays))
		go sched.Start(ctx)
	}

	server := web.NewServer(st.svc, st.payouts, st.store, st.parser)

	// h2c lets gRPC-style and plain HTTP/2 clients in without TLS; the
	// deployment terminates TLS ahead of this process.
	httpServer := &http.Server{
		Addr:              ":" + cfg.App.AppPort,
		Handler:           h2c.NewHandler(server.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Settlement server starting",
			"address", httpServer.Addr,
			"env", cfg.App.AppEnv,
			"db_driver", cfg.DB.Driver,
			"gateway_channel", cfg.Gateway.Channel,
			"scheduler_enabled", cfg.Schedule.Enabled,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down settlement server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// yesterday is the default target for date-less ops commands, matching what
// the nightly run would settle.
func yesterday() string {
	return models.FormatSettlementDate(time.Now().AddDate(0, 0, -1))
}

func runSeed(cfg *config.Config, date string, payments int) error {
	if date == "" {
		date = yesterday()
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := seeder.Run(context.Background(), store, seeder.Options{
		Date:     date,
		Payments: payments,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %s: %d coordinators, %d delegates, %d members, %d payments (collected %s)\n",
		date, summary.Coordinators, summary.Delegates, summary.Members,
		summary.Payments, summary.TotalCollected)
	return nil
}

func runGenerate(cfg *config.Config, date string) error {
	ctx := context.Background()
	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if date == "" {
		date = yesterday()
	}
	settlement, err := st.svc.Generate(ctx, date)
	if err != nil {
		return err
	}
	fmt.Printf("Generated settlement %s for %s: collected %s over %d payments from %d members\n",
		settlement.ID, settlement.SettlementDate, settlement.TotalCollected,
		settlement.TotalPayments, settlement.UniqueMembers)
	return nil
}

func resolveSettlement(ctx context.Context, st *stack, id, date string) (*models.Settlement, error) {
	switch {
	case id != "":
		return st.svc.GetSettlement(ctx, id)
	case date != "":
		return st.svc.GetSettlementByDate(ctx, date)
	default:
		return nil, fmt.Errorf("pass --id or --date")
	}
}

func runProcess(cfg *config.Config, id, date, operator, secret string, payoutsOnly bool) error {
	ctx := context.Background()
	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	settlement, err := resolveSettlement(ctx, st, id, date)
	if err != nil {
		return err
	}

	result, err := st.svc.Process(ctx, settlement.ID, operator, service.ProcessOptions{
		InitiatePayouts:       true,
		InitiateBankTransfers: !payoutsOnly,
		ConfirmationSecret:    secret,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Settlement %s (%s): completed=%v, payouts submitted=%d, payout failures=%d\n",
		settlement.ID, settlement.SettlementDate, result.Completed,
		result.PayoutsSubmitted, result.PayoutFailures)
	if result.TransferReport != nil {
		for _, r := range []transfer.Result{result.TransferReport.Sha, result.TransferReport.Mwu} {
			if r.Err != nil {
				fmt.Printf("  %s transfer failed: %v\n", r.Portion, r.Err)
			} else if r.Transfer != nil {
				fmt.Printf("  %s transfer %s: %s\n", r.Portion, r.Transfer.Status, r.Transfer.Amount)
			}
		}
	}
	return nil
}

func runRetry(cfg *config.Config, id, date, operator string) error {
	ctx := context.Background()
	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	settlement, err := resolveSettlement(ctx, st, id, date)
	if err != nil {
		return err
	}

	result, err := st.svc.RetryFailedPayouts(ctx, settlement.ID, operator)
	if err != nil {
		return err
	}
	fmt.Printf("Settlement %s: attempted=%d, resubmitted=%d, failures=%d\n",
		settlement.ID, result.Attempted, result.Resubmitted, result.Failures)
	return nil
}

func runStats(cfg *config.Config, id, date string) error {
	ctx := context.Background()
	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	settlement, err := resolveSettlement(ctx, st, id, date)
	if err != nil {
		return err
	}

	stats, err := st.svc.GetPayoutStatistics(ctx, settlement.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Settlement %s (%s), status %s\n", settlement.ID, settlement.SettlementDate, settlement.Status)
	fmt.Printf("  payouts:    %d total, amount %s\n", stats.TotalCount, stats.TotalAmount)
	fmt.Printf("  pending:    %d (%s)\n", stats.PendingCount, stats.PendingAmount)
	fmt.Printf("  processing: %d (%s)\n", stats.ProcessingCount, stats.ProcessingAmount)
	fmt.Printf("  processed:  %d (%s)\n", stats.ProcessedCount, stats.ProcessedAmount)
	fmt.Printf("  failed:     %d (%s)\n", stats.FailedCount, stats.FailedAmount)
	return nil
}
