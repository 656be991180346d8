package cmd

import (
	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/whatsapp-automation-service/environments"
	"github.com/onurcolak/whatsapp-automation-service/handlers"
	"github.com/onurcolak/whatsapp-automation-service/internal/repository"
	"github.com/onurcolak/whatsapp-automation-service/internal/scheduler"
	"github.com/onurcolak/whatsapp-automation-service/internal/service"
	"github.com/onurcolak/whatsapp-automation-service/pkg/ai"
	"github.com/onurcolak/whatsapp-automation-service/pkg/database"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
	"github.com/onurcolak/whatsapp-automation-service/pkg/queue"
	"github.com/onurcolak/whatsapp-automation-service/pkg/redis"
	"github.com/onurcolak/whatsapp-automation-service/pkg/whatsapp"
)

// app holds every long-lived dependency the commands share.
type app struct {
	cfg       *environments.Config
	db        *sqlx.DB
	redis     *redis.Client
	publisher *queue.Publisher

	tracker   *service.DeliveryTracker
	inbound   *service.InboundService
	retrier   *service.Retrier
	scheduler *scheduler.Scheduler
}

func loadConfig() *environments.Config {
	logger.Init()
	cfg := environments.Load()
	logger.SetLevel(cfg.Log.Level)
	return cfg
}

// newApp connects to MySQL and wires the services. Valkey and RabbitMQ are
// optional: without them sends are not rate limited and media is not handed off.
func newApp(cfg *environments.Config) (*app, error) {
	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := database.RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &app{cfg: cfg, db: db}

	var limiter service.RateLimiter = redis.NoopLimiter{}
	if redisClient, err := redis.NewRedisClient(cfg.Redis, cfg.RateLimit); err != nil {
		logger.Warnf("Valkey not available, rate limiting disabled: %v", err)
	} else {
		a.redis = redisClient
		limiter = redisClient
	}

	var media service.MediaQueue
	if cfg.RabbitMQ.URL != "" {
		publisher, err := queue.NewPublisher(cfg.RabbitMQ)
		if err != nil {
			logger.Warnf("RabbitMQ not available, media sends stay queued: %v", err)
		} else {
			a.publisher = publisher
			media = publisher
		}
	}

	var completions service.CompletionProvider
	if aiClient := ai.NewClient(cfg.AI); aiClient.Enabled() {
		completions = aiClient
	} else {
		logger.Infof("AI replies disabled")
	}

	waClient := whatsapp.NewClient(cfg.WhatsApp)
	logger.Infof("WhatsApp Cloud API configured: %s", waClient.GetURL())

	messageRepo := repository.NewMessageRepository(db)
	leadRepo := repository.NewLeadRepository(db)
	jobRepo := repository.NewJobRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	consentRepo := repository.NewConsentRepository(db)

	region := cfg.WhatsApp.DefaultRegion

	a.tracker = service.NewDeliveryTracker(messageRepo)
	consent := service.NewConsentGate(consentRepo, cfg.Consent.RequireOptIn)
	dispatcher := service.NewDispatcher(a.tracker, waClient, consent, limiter, media, region)
	engine := service.NewAutomationEngine(ruleRepo, leadRepo, a.tracker, dispatcher, completions, cfg.Automation.SenderID, region)
	a.inbound = service.NewInboundService(leadRepo, a.tracker, engine, region)
	a.retrier = service.NewRetrier(a.tracker, dispatcher)

	jobs := service.NewRecurrenceScheduler(jobRepo, service.NewAudienceResolver(leadRepo), dispatcher, cfg.Scheduler.JobConcurrency)
	a.scheduler = scheduler.NewScheduler(jobs, a.retrier, a.tracker, cfg.Scheduler, cfg.Alert)

	return a, nil
}

func (a *app) healthHandler() *handlers.HealthHandler {
	h := handlers.NewHealthHandler(a.db, a.scheduler)
	if a.redis != nil {
		h.WithCache(a.redis)
	}
	if a.publisher != nil {
		h.WithBroker(a.publisher)
	}
	return h
}

func (a *app) close() {
	if a.scheduler.IsRunning() {
		if err := a.scheduler.Stop(); err != nil {
			logger.Errorf("Error stopping scheduler: %v", err)
		}
	}

	if a.publisher != nil {
		logger.Infof("Closing RabbitMQ connection...")
		if err := a.publisher.Close(); err != nil {
			logger.Errorf("Error closing RabbitMQ: %v", err)
		}
	}

	if a.redis != nil {
		logger.Infof("Closing Valkey connection...")
		if err := a.redis.Close(); err != nil {
			logger.Errorf("Error closing Valkey: %v", err)
		}
	}

	logger.Infof("Closing database connection...")
	if err := a.db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}
}

