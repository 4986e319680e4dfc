package main

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"bankline/internal/domain/account"
	"bankline/internal/domain/audit"
	"bankline/internal/domain/identity"
	"bankline/internal/domain/item"
	"bankline/internal/domain/linkevent"
	"bankline/internal/domain/linktoken"
	"bankline/internal/domain/liveupdate"
	"bankline/internal/domain/notification"
	"bankline/internal/domain/transfer"
	"bankline/internal/domain/user"
	"bankline/internal/domain/webhook"
	"bankline/internal/infrastructure/aggregator"
	"bankline/internal/infrastructure/crypto"
	"bankline/internal/infrastructure/firebase"
	"bankline/internal/infrastructure/kafka"
	"bankline/internal/infrastructure/postgres"
	"bankline/internal/infrastructure/postgres/listener"
	"bankline/internal/infrastructure/processor"
	"bankline/internal/infrastructure/ratelimit"
	"bankline/internal/infrastructure/risk"
	httphandlers "bankline/internal/interfaces/http"
	"bankline/internal/shared/auth"
	"bankline/internal/shared/config"
	"bankline/internal/shared/messages"
	"bankline/internal/shared/retry"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	AuthHandler         *httphandlers.AuthHandler
	UserHandler         *httphandlers.UserHandler
	AccountHandler      *httphandlers.AccountHandler
	ItemHandler         *httphandlers.ItemHandler
	LinkHandler         *httphandlers.LinkHandler
	TransferHandler     *httphandlers.TransferHandler
	NotificationHandler *httphandlers.NotificationHandler
	LiveHandler         *httphandlers.LiveHandler
	WebhookHandler      *httphandlers.WebhookHandler

	// Auth
	JWT *auth.JWT

	// Link token broker (for the sweep job)
	Broker *linktoken.Broker

	Hub      *liveupdate.Hub
	Listener *listener.LiveUpdateListener
	Recorder *kafka.Recorder
	Redis    *redis.Client
	Limiter  *ratelimit.RedisLimiter
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}

	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	deps.DB = db
	log.Println("Connected to database")

	vault, err := crypto.NewVault(cfg.Encryption.Key)
	if err != nil {
		deps.Close()
		return nil, err
	}

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	itemRepo := postgres.NewItemRepository(db, vault)
	accountRepo := postgres.NewAccountRepository(db)
	linkTokenRepo := postgres.NewLinkTokenRepository(db)
	linkEventRepo := postgres.NewLinkEventRepository(db)
	transferRepo := postgres.NewTransferRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)
	identityRepo := postgres.NewIdentityRepository(db)

	// Live updates: in-process hub, optionally fed through Postgres NOTIFY
	// so every API instance sees every event.
	deps.Hub = liveupdate.NewHub(cfg.LiveUpdate.SubscriberBuffer)
	deps.Hub.Start()
	var publisher liveupdate.Publisher = deps.Hub
	if cfg.LiveUpdate.Backend == "postgres" {
		publisher = listener.NewNotifyPublisher(db)
		deps.Listener = listener.NewLiveUpdateListener(cfg.Database.ConnectionString(), deps.Hub)
		deps.Listener.Start(ctx)
		log.Println("Live updates fan out through Postgres NOTIFY")
	}

	// Audit trail
	var recorder audit.Recorder = audit.Discard{}
	if len(cfg.Kafka.Brokers) > 0 {
		rec, err := kafka.NewRecorder(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			log.Printf("Warning: Failed to initialize Kafka audit recorder: %v", err)
		} else {
			deps.Recorder = rec
			recorder = rec
		}
	}

	// Remote collaborators
	aggregatorClient := aggregator.NewClient(cfg.Aggregator)
	riskClient := risk.NewClient(cfg.Risk)
	var processorClient *processor.Client
	if cfg.Transfer.ProcessorMode {
		processorClient = processor.NewClient(cfg.Processor, aggregatorClient)
	}

	// Notifications
	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, notificationRepo.DeactivateToken)
		if err != nil {
			log.Printf("Warning: Failed to initialize Firebase: %v", err)
		} else {
			messenger = fcm
		}
	} else {
		log.Println("Firebase not configured, push delivery disabled")
	}
	msgs, err := messages.Load(cfg.Notification.MessagesFile)
	if err != nil {
		log.Printf("Warning: Failed to load notification messages, using defaults: %v", err)
		msgs = messages.Default()
	}
	notificationService := notification.NewService(notificationRepo, messenger)
	alerts := notification.NewAlerts(notificationService, msgs)

	// Domain services
	userService := user.NewService(userRepo)
	accountService := account.NewService(accountRepo)
	linkEventService := linkevent.NewService(linkEventRepo)

	itemService := item.NewService(itemRepo, db, publisher, recorder)
	itemService.SetProvider(aggregatorClient)
	itemService.SetAlerter(alerts)
	accountService.SetBalanceSource(aggregatorClient, itemService)
	identityService := identity.NewService(identityRepo, userService)

	deps.Broker = linktoken.NewBroker(linkTokenRepo, db, aggregatorClient, itemService, accountService, recorder, linktoken.Config{
		TTL: cfg.LinkToken.TTL,
		Retry: retry.Policy{
			Attempts: cfg.LinkToken.MaxRetries + 1,
			Initial:  cfg.LinkToken.RetryInitial,
			Max:      cfg.LinkToken.RetryMax,
		},
	})
	deps.Broker.SetIdentityVerifier(aggregatorClient, identityService)

	transferCfg := transfer.Config{
		RiskTimeout:           cfg.Risk.Timeout,
		RiskRetry:             retry.Policy{Attempts: cfg.Risk.MaxRetries + 1},
		ProcessorTimeout:      cfg.Processor.Timeout,
		EnforceBalanceCeiling: cfg.Transfer.EnforceBalanceCeiling,
		ProcessorMode:         cfg.Transfer.ProcessorMode,
	}
	var authorizer *transfer.Authorizer
	if processorClient != nil {
		deps.Broker.SetFundingLinker(processorClient)
		authorizer = transfer.NewAuthorizer(transferRepo, db, accountService, riskClient, processorClient, recorder, transferCfg)
	} else {
		authorizer = transfer.NewAuthorizer(transferRepo, db, accountService, riskClient, nil, recorder, transferCfg)
	}
	authorizer.SetNotifier(alerts)
	authorizer.SetIdentityGate(identityService)
	if cfg.Transfer.EnforceBalanceCeiling && cfg.Transfer.RefreshBalance {
		authorizer.SetBalanceRefresher(accountService)
	}

	dispatcher := webhook.NewDispatcher(itemService, publisher, recorder)

	// Initialize auth components
	deps.JWT = auth.NewJWT(cfg.JWT.Secret)
	verifier := auth.NewWebhookVerifier(cfg.Webhook.VerificationSecret)
	if !verifier.Enabled() {
		log.Println("Warning: WEBHOOK_VERIFICATION_SECRET not set, webhook signatures are not checked")
	}

	// Rate limiting
	if cfg.Redis.RateEnabled {
		deps.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		deps.Limiter = ratelimit.NewRedisLimiter(deps.Redis, cfg.Redis.RateLimit, cfg.Redis.RateWindow, "bankline:ratelimit")
		log.Printf("Rate limiting enabled: %d requests per %v", cfg.Redis.RateLimit, cfg.Redis.RateWindow)
	}

	// Initialize handlers
	deps.AuthHandler = httphandlers.NewAuthHandler(userService, deps.JWT)
	deps.UserHandler = httphandlers.NewUserHandler(userService)
	deps.AccountHandler = httphandlers.NewAccountHandler(accountService)
	deps.ItemHandler = httphandlers.NewItemHandler(itemService, deps.Broker, accountService, cfg.Aggregator.IsSandbox())
	deps.LinkHandler = httphandlers.NewLinkHandler(deps.Broker, linkEventService)
	deps.TransferHandler = httphandlers.NewTransferHandler(authorizer)
	deps.NotificationHandler = httphandlers.NewNotificationHandler(notificationService)
	deps.LiveHandler = httphandlers.NewLiveHandler(deps.Hub, 0)
	deps.WebhookHandler = httphandlers.NewWebhookHandler(dispatcher, verifier)

	return deps, nil
}

// Close releases all resources held by dependencies, consumers before
// the stores they read from.
func (d *Dependencies) Close() {
	if d.Listener != nil {
		d.Listener.Stop()
	}
	if d.Hub != nil {
		d.Hub.Close()
	}
	if d.Recorder != nil {
		if err := d.Recorder.Close(); err != nil {
			log.Printf("Error closing Kafka audit recorder: %v", err)
		}
	}
	if d.Redis != nil {
		d.Redis.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
