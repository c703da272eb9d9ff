package main

import (
	"context"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"github.com/inmobot/leadflow/dispatch"
	"github.com/inmobot/leadflow/dispatch/whatsapp"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/flow/flowapi"
	"github.com/inmobot/leadflow/flow/flowexec"
	"github.com/inmobot/leadflow/flow/flowinfra"
	"github.com/inmobot/leadflow/flow/msgproc"
	"github.com/inmobot/leadflow/flow/scheduler"
	"github.com/inmobot/leadflow/lead"
	"github.com/inmobot/leadflow/lead/assign"
	"github.com/inmobot/leadflow/lead/leadinfra"
	"github.com/inmobot/leadflow/pkg/ai"
	"github.com/inmobot/leadflow/pkg/config"
)

// Container contains all application dependencies
type Container struct {
	// =================================================================
	// CONFIGURATION & INFRASTRUCTURE
	// =================================================================
	Config      *config.Config
	DB          *sqlx.DB
	RedisClient *redis.Client

	// =================================================================
	// LEAD
	// =================================================================
	LeadRepo      lead.LeadRepository
	AdvisorRepo   lead.AdvisorRepository
	VariableRepo  lead.VariableRepository
	CrmUpdater    lead.CrmUpdater
	VariableStore *lead.VariableStore
	Resolver      *assign.Resolver

	// =================================================================
	// FLOW
	// =================================================================
	FlowRepo        flow.FlowRepository
	InstanceRepo    flow.InstanceRepository
	DedupRepo       flow.TriggerDedupRepository
	Engine          flow.Engine
	TimerScheduler  *scheduler.RedisTimerScheduler
	FlowService     *flow.Service
	InstanceService *flow.InstanceService

	// =================================================================
	// DISPATCH
	// =================================================================
	ConversationLog  dispatch.ConversationLog
	Generator        *ai.Generator
	WhatsAppAdapter  *whatsapp.Adapter
	AdvisorNotifier  *whatsapp.Notifier
	CRMApplier       *dispatch.CRMApplier
	Dispatcher       *dispatch.Dispatcher
	MessageProcessor *msgproc.MessageProcessor

	// =================================================================
	// HTTP HANDLERS
	// =================================================================
	FlowHandler    *flowapi.FlowHandler
	WebhookHandler *whatsapp.WebhookHandler

	// =================================================================
	// MAINTENANCE
	// =================================================================
	Cron *cron.Cron
}

// NewContainer creates a new dependency container
func NewContainer(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client) *Container {
	c := &Container{
		Config:      cfg,
		DB:          db,
		RedisClient: redisClient,
	}

	log.Println("📦 Initializing dependency container...")

	c.initLeadComponents()
	c.initFlowComponents()
	c.initDispatchComponents()
	c.initHandlers()
	c.initMaintenanceJobs()

	log.Println("✅ Dependency container initialized successfully")

	return c
}

// =================================================================
// LEAD INITIALIZATION
// =================================================================

func (c *Container) initLeadComponents() {
	log.Println("  👥 Initializing lead components...")

	c.LeadRepo = leadinfra.NewPostgresLeadRepository(c.DB)
	c.AdvisorRepo = leadinfra.NewPostgresAdvisorRepository(c.DB)
	c.VariableRepo = leadinfra.NewPostgresVariableRepository(c.DB)

	if c.Config.CRM.BaseURL != "" {
		c.CrmUpdater = leadinfra.NewHTTPCrmClient(c.Config.CRM)
		log.Println("    ✅ CRM client initialized (HTTP)")
	} else {
		c.CrmUpdater = leadinfra.NewLocalCrmUpdater()
		log.Println("    ⚠️  CRM_API_URL not set, changes stay in the local mirror")
	}

	c.VariableStore = lead.NewVariableStore(c.VariableRepo, c.LeadRepo, c.CrmUpdater)
	c.Resolver = assign.NewResolver(c.AdvisorRepo, c.RedisClient)

	log.Println("  ✅ Lead components initialized")
}

// =================================================================
// FLOW INITIALIZATION
// =================================================================

func (c *Container) initFlowComponents() {
	log.Println("  ⚙️  Initializing flow components...")

	c.FlowRepo = flowinfra.NewPostgresFlowRepository(c.DB)
	c.InstanceRepo = flowinfra.NewPostgresInstanceRepository(c.DB)
	c.DedupRepo = flowinfra.NewPostgresDedupRepository(c.DB)

	c.ConversationLog = dispatch.NewPostgresConversationLog(c.DB)
	c.Generator = ai.NewGenerator(c.Config.AI)

	c.Engine = flowexec.NewDefaultEngine(
		c.FlowRepo,
		c.DedupRepo,
		c.Resolver,
		c.Generator,
		c.ConversationLog,
		&flowexec.EngineConfig{
			CollaboratorTimeout: c.Config.Engine.CollaboratorTimeout,
			Timezone:            c.Config.Engine.Timezone,
			DefaultTimeOfDay:    c.Config.Engine.ScheduledTimeOfDay,
		},
	)
	log.Println("    ✅ Flow engine initialized")

	// El handler cierra sobre el container: MessageProcessor se inicializa
	// después que el scheduler pero antes de que el worker arranque
	c.TimerScheduler = scheduler.NewRedisTimerScheduler(
		c.RedisClient,
		func(ctx context.Context, fired flow.TimerFired) error {
			return c.MessageProcessor.OnTimerFired(ctx, fired)
		},
		c.Config.Engine.SchedulerTick,
	)
	log.Println("    ✅ Timer scheduler initialized")

	c.FlowService = flow.NewService(c.FlowRepo)
	c.InstanceService = flow.NewInstanceService(c.InstanceRepo)

	log.Println("  ✅ Flow components initialized")
}

// =================================================================
// DISPATCH INITIALIZATION
// =================================================================

func (c *Container) initDispatchComponents() {
	log.Println("  📤 Initializing dispatch components...")

	c.WhatsAppAdapter = whatsapp.NewAdapter(c.Config.WhatsApp, c.LeadRepo)
	c.AdvisorNotifier = whatsapp.NewNotifier(c.WhatsAppAdapter, c.AdvisorRepo, c.LeadRepo)
	c.CRMApplier = dispatch.NewCRMApplier(c.LeadRepo, c.VariableStore, c.CrmUpdater)

	c.Dispatcher = dispatch.NewDispatcher(
		c.WhatsAppAdapter,
		c.AdvisorNotifier,
		c.CRMApplier,
		dispatch.NewLogOpsAlerter(),
		c.ConversationLog,
	)

	c.MessageProcessor = msgproc.NewMessageProcessor(
		c.FlowRepo,
		c.InstanceRepo,
		c.DedupRepo,
		c.Engine,
		c.TimerScheduler,
		c.Dispatcher,
		c.VariableStore,
	)
	log.Println("    ✅ Message processor initialized")

	log.Println("  ✅ Dispatch components initialized")
}

// =================================================================
// HTTP HANDLERS
// =================================================================

func (c *Container) initHandlers() {
	c.FlowHandler = flowapi.NewFlowHandler(c.FlowService, c.InstanceService, c.MessageProcessor)
	c.WebhookHandler = whatsapp.NewWebhookHandler(c.WhatsAppAdapter, c.MessageProcessor, c.ConversationLog)
}

// =================================================================
// MAINTENANCE JOBS
// =================================================================

func (c *Container) initMaintenanceJobs() {
	log.Println("  🧹 Initializing maintenance jobs...")

	c.Cron = cron.New()

	// Poda de registros de dedup vencidos
	c.Cron.AddFunc("15 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		cutoff := time.Now().Add(-c.Config.Engine.DedupTTL)
		deleted, err := c.DedupRepo.DeleteProcessedBefore(ctx, cutoff)
		if err != nil {
			log.Printf("⚠️  Trigger dedup prune failed: %v", err)
			return
		}
		log.Printf("🧹 Pruned %d processed trigger records", deleted)
	})

	// Poda de instancias terminales archivadas
	c.Cron.AddFunc("30 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		cutoff := time.Now().AddDate(0, 0, -30)
		deleted, err := c.InstanceRepo.DeleteArchivedBefore(ctx, cutoff)
		if err != nil {
			log.Printf("⚠️  Instance archive prune failed: %v", err)
			return
		}
		log.Printf("🧹 Pruned %d archived instances", deleted)
	})

	// Poda de historial de conversación
	c.Cron.AddFunc("45 3 * * *", func() {
		pglog, ok := c.ConversationLog.(*dispatch.PostgresConversationLog)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		deleted, err := pglog.DeleteBefore(ctx, time.Now().AddDate(0, 0, -90))
		if err != nil {
			log.Printf("⚠️  Conversation prune failed: %v", err)
			return
		}
		log.Printf("🧹 Pruned %d conversation messages", deleted)
	})

	log.Println("  ✅ Maintenance jobs initialized")
}

// =================================================================
// LIFECYCLE
// =================================================================

// Start arranca el worker del scheduler y los jobs de mantenimiento
func (c *Container) Start(ctx context.Context) {
	c.TimerScheduler.StartWorker(ctx)
	log.Println("⏰ Timer scheduler worker started")

	c.Cron.Start()
	log.Println("🗓️  Maintenance cron started")
}

func (c *Container) Cleanup() {
	log.Println("🧹 Cleaning up container resources...")

	if c.TimerScheduler != nil {
		log.Println("  ⏰ Stopping timer scheduler...")
		c.TimerScheduler.StopWorker()
	}

	if c.Cron != nil {
		log.Println("  🗓️  Stopping maintenance cron...")
		c.Cron.Stop()
	}

	if c.DB != nil {
		log.Println("  🗄️  Closing database connections...")
		c.DB.Close()
	}

	if c.RedisClient != nil {
		log.Println("  🔴 Closing Redis connections...")
		c.RedisClient.Close()
	}

	log.Println("✅ Container cleanup complete")
}

// =================================================================
// HEALTH
// =================================================================

func (c *Container) HealthCheck() map[string]bool {
	health := make(map[string]bool)

	if c.DB != nil {
		health["database"] = c.DB.Ping() == nil
	} else {
		health["database"] = false
	}

	if c.RedisClient != nil {
		health["redis"] = c.RedisClient.Ping(c.RedisClient.Context()).Err() == nil
	} else {
		health["redis"] = false
	}

	health["engine"] = c.Engine != nil
	health["scheduler"] = c.TimerScheduler != nil
	health["message_processor"] = c.MessageProcessor != nil
	health["whatsapp_adapter"] = c.WhatsAppAdapter != nil

	return health
}

func (c *Container) GetServiceNames() []string {
	return []string{
		"FlowService",
		"InstanceService",
		"MessageProcessor",
		"TimerScheduler",
		"VariableStore",
		"Resolver",
		"Dispatcher",
	}
}

func (c *Container) GetRepositoryNames() []string {
	return []string{
		"FlowRepo",
		"InstanceRepo",
		"DedupRepo",
		"LeadRepo",
		"AdvisorRepo",
		"VariableRepo",
	}
}

// GetPendingTimerCount retorna los timers pendientes en el scheduler
func (c *Container) GetPendingTimerCount(ctx context.Context) (int64, error) {
	return c.TimerScheduler.PendingCount(ctx)
}
