package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"coachpay/internal/auth"
	"coachpay/internal/config"
	"coachpay/internal/crm"
	"coachpay/internal/gateway"
	"coachpay/internal/metrics"
	"coachpay/internal/notify"
	"coachpay/internal/obs"
	"coachpay/internal/repository"
	"coachpay/internal/service"
	transportGRPC "coachpay/internal/transport/grpc"
	transportHTTP "coachpay/internal/transport/http"
	transportNATS "coachpay/internal/transport/nats"
	"coachpay/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(obs.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel))

	var cleanupFns []func()

	shutdownTracing, err := obs.InitTracing(ctx, cfg.OtelEndpoint, cfg.ServiceName)
	if err != nil {
		return nil, nil, err
	}
	cleanupFns = append(cleanupFns, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	})

	// ── Storage ───────────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, closeStore)

	var claims *repository.ClaimGuard
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := connectRedis(ctx, addr)
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })
		claims = repository.NewClaimGuard(rdb, cfg.ClaimTTL)
	} else {
		slog.Info("claim guard disabled, relying on the ledger alone")
	}

	// ── Bus ───────────────────────────────────────────────────────────────────
	var (
		bus repository.MessageBus
		nc  *nats.Conn
	)
	switch cfg.BusProvider {
	case "nats":
		nc, err = connectNats(cfg.NatsAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), fmt.Errorf("nats: %w", err)
		}
		cleanupFns = append(cleanupFns, nc.Close)
		bus = transportNATS.NewBus(nc)
	case "grpc":
		grpcBus, cleanup, err := transportGRPC.NewGrpcBusFromAddr(cfg.GRPCAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), fmt.Errorf("grpc bus: %w", err)
		}
		cleanupFns = append(cleanupFns, cleanup)
		bus = grpcBus
	default:
		bus = repository.NoopBus{}
	}

	// ── Services ──────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.MustNew(reg)

	p := cfg.Providers
	stripeGW := gateway.NewStripe(gateway.StripeConfig{
		SecretKey:     p.StripeSecretKey,
		WebhookSecret: p.StripeWebhookSecret,
		SuccessURL:    p.StripeSuccessURL,
		CancelURL:     p.StripeCancelURL,
	})
	razorpayGW := gateway.NewRazorpay(gateway.RazorpayConfig{
		KeyID:         p.RazorpayKeyID,
		KeySecret:     p.RazorpayKeySecret,
		WebhookSecret: p.RazorpayWebhookSecret,
	})
	mailchimp := crm.NewMailchimp(crm.Config{
		APIKey:     p.MailchimpAPIKey,
		Server:     p.MailchimpServer,
		AudienceID: p.MailchimpAudienceID,
	}, &http.Client{Timeout: 10 * time.Second})

	deps := service.PaymentDeps{
		Store:           store,
		Stripe:          stripeGW,
		Razorpay:        razorpayGW,
		Mailer:          notify.NewOutboxMailer(store),
		Bus:             bus,
		Metrics:         m,
		WelcomeTemplate: p.WelcomeTemplate,
	}
	// A nil *ClaimGuard must not end up in the interface field.
	if claims != nil {
		deps.Claims = claims
	}

	crmSvc := service.NewCRM(mailchimp)
	records := service.NewRecords(store)
	svc := transportHTTP.Services{
		Orders:     service.NewOrders(m, stripeGW, razorpayGW),
		Payments:   service.NewPayments(deps),
		Scheduling: service.NewScheduling(store, bus, m, p.CalendlySigningKey),
		CRM:        crmSvc,
		Records:    records,
	}
	processor := worker.NewProcessor(crmSvc)

	// ── Servers ───────────────────────────────────────────────────────────────
	var servers []Server

	if nc != nil {
		servers = append(servers, transportNATS.NewHandler(records, nc))
		if cfg.WorkerProvider == "nats" {
			servers = append(servers, worker.NewMembershipWorker(processor, nc))
		}
	}

	// The gRPC server is the receiving end of the gRPC bus.
	var events transportGRPC.EventHandler
	if cfg.WorkerProvider == "grpc" {
		events = processor
	}
	servers = append(servers, transportGRPC.NewServer(cfg.GRPCListen, records, events))

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc, auth.NewAuthenticator(p.JWTSecret), reg))
	} else {
		slog.Info("http api disabled", "reason", apiErr)
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.RecordStore, func(), error) {
	switch cfg.StoreProvider {
	case "postgres":
		db, err := connectPostgres(ctx, cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPgStore(db), db.Close, nil
	case "mongo":
		client, err := connectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		}
		return repository.NewMongoStore(client.Database(cfg.MongoDB)), closeFn, nil
	default:
		slog.Warn("using in-memory store, records are lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
