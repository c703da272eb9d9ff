package msgproc

import (
	"context"
	"log"
	"sync"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/pkg/kernel"
)

// VariableSeeder provee las variables iniciales de una instancia nueva
// (las claves predefinidas del lead: name, email, phone, budget)
type VariableSeeder interface {
	Seed(ctx context.Context, leadID kernel.LeadID) (map[string]string, error)
}

// MessageProcessor orquesta el procesamiento de mensajes entrantes y timers
// disparados: resolver la instancia, invocar al motor, persistir el estado
// resultante y despachar los efectos. Los efectos se despachan sólo después
// de persistir la instancia.
type MessageProcessor struct {
	flowRepo     flow.FlowRepository
	instanceRepo flow.InstanceRepository
	dedupRepo    flow.TriggerDedupRepository
	engine       flow.Engine
	scheduler    flow.TimerScheduler
	dispatcher   flow.EffectDispatcher
	seeder       VariableSeeder

	// Serializa el procesamiento por lead: dos mensajes del mismo lead, o
	// un mensaje compitiendo con un timer, nunca llaman Advance a la vez
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMessageProcessor(
	flowRepo flow.FlowRepository,
	instanceRepo flow.InstanceRepository,
	dedupRepo flow.TriggerDedupRepository,
	engine flow.Engine,
	scheduler flow.TimerScheduler,
	dispatcher flow.EffectDispatcher,
	seeder VariableSeeder,
) *MessageProcessor {
	return &MessageProcessor{
		flowRepo:     flowRepo,
		instanceRepo: instanceRepo,
		dedupRepo:    dedupRepo,
		engine:       engine,
		scheduler:    scheduler,
		dispatcher:   dispatcher,
		seeder:       seeder,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (mp *MessageProcessor) leadLock(leadID kernel.LeadID) *sync.Mutex {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	lock, ok := mp.locks[leadID.String()]
	if !ok {
		lock = &sync.Mutex{}
		mp.locks[leadID.String()] = lock
	}
	return lock
}

// ============================================================================
// Inbound messages
// ============================================================================

// ProcessMessage es el entry point para mensajes entrantes de WhatsApp.
// Precedencia: una instancia esperando respuesta consume el mensaje como
// respuesta; si no hay ninguna, un keyword de un flow activo arranca uno
// nuevo (abandonando una instancia dormida en timer si existe); si tampoco
// hay keyword, el mensaje se ignora.
func (mp *MessageProcessor) ProcessMessage(ctx context.Context, msg flow.InboundMessage) error {
	log.Printf("🚀 Processing inbound message %s from lead %s", msg.MessageID, msg.LeadID)

	trigger := flow.NewMessageTrigger(msg)
	if !trigger.IsValid() {
		return flow.ErrTriggerMismatch().WithDetail("reason", "invalid inbound message")
	}

	lock := mp.leadLock(msg.LeadID)
	lock.Lock()
	defer lock.Unlock()

	// Redelivery del transporte: el estado y los efectos ya se aplicaron la
	// primera vez, acá no se despacha nada de nuevo
	if mp.alreadyProcessed(ctx, trigger.ID) {
		log.Printf("🔁 Message %s already processed, skipping redelivery", msg.MessageID)
		return nil
	}

	instance, err := mp.instanceRepo.FindInProgressByLead(ctx, msg.LeadID)
	if err != nil && !errx.IsType(err, errx.TypeNotFound) {
		return errx.Wrap(err, "failed to look up in-progress instance", errx.TypeInternal)
	}

	if instance != nil && instance.IsAwaitingReply() {
		return mp.resume(ctx, instance, trigger)
	}

	matched, err := mp.matchTriggerKeyword(ctx, msg.Text)
	if err != nil {
		return err
	}
	if matched == nil {
		log.Printf("🤷 No awaiting instance and no keyword match for lead %s, ignoring", msg.LeadID)
		return nil
	}

	// Una instancia dormida en timer queda superada por el nuevo trigger
	if instance != nil {
		if err := mp.abandon(ctx, instance); err != nil {
			return err
		}
	}

	return mp.start(ctx, matched, msg.LeadID, trigger)
}

// StartFlowForLead arranca un flow explícitamente (API/operador), cancelando
// cualquier instancia en progreso del lead
func (mp *MessageProcessor) StartFlowForLead(ctx context.Context, flowID kernel.FlowID, leadID kernel.LeadID, trigger flow.Trigger) error {
	f, err := mp.flowRepo.FindByID(ctx, flowID)
	if err != nil {
		return flow.ErrFlowNotFound().WithDetail("flow_id", flowID.String())
	}
	if !f.IsActive {
		return flow.ErrFlowInactive().WithDetail("flow_id", flowID.String())
	}

	lock := mp.leadLock(leadID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := mp.instanceRepo.FindInProgressByLead(ctx, leadID)
	if err != nil && !errx.IsType(err, errx.TypeNotFound) {
		return errx.Wrap(err, "failed to look up in-progress instance", errx.TypeInternal)
	}
	if instance != nil {
		if err := mp.abandon(ctx, instance); err != nil {
			return err
		}
	}

	return mp.start(ctx, f, leadID, trigger)
}

// ============================================================================
// Timer wakes
// ============================================================================

// OnTimerFired entrega un timer disparado a la instancia correspondiente.
// Un timer de una instancia superada (época distinta o ya no dormida) es
// un no-op silencioso.
func (mp *MessageProcessor) OnTimerFired(ctx context.Context, fired flow.TimerFired) error {
	instance, err := mp.instanceRepo.FindByID(ctx, fired.InstanceID)
	if err != nil {
		if errx.IsType(err, errx.TypeNotFound) {
			log.Printf("⏭️  Timer fired for unknown instance %s, ignoring", fired.InstanceID)
			return nil
		}
		return errx.Wrap(err, "failed to load instance for timer", errx.TypeInternal)
	}

	lock := mp.leadLock(instance.LeadID)
	lock.Lock()
	defer lock.Unlock()

	// Releer bajo el lock: un mensaje pudo haber superado la instancia
	instance, err = mp.instanceRepo.FindByID(ctx, fired.InstanceID)
	if err != nil {
		return errx.Wrap(err, "failed to reload instance for timer", errx.TypeInternal)
	}

	// Timer viejo: la instancia fue superada después de armarlo
	if instance.Status != flow.InstanceStatusSuspended ||
		instance.SuspendReason != flow.SuspendAwaitingTimer ||
		instance.Epoch != fired.Epoch {
		log.Printf("⏭️  Stale timer for instance %s (epoch %d, current %d), ignoring",
			fired.InstanceID, fired.Epoch, instance.Epoch)
		return nil
	}

	trigger := flow.NewTimerTrigger(fired)
	if mp.alreadyProcessed(ctx, trigger.ID) {
		log.Printf("🔁 Timer %s already processed, skipping redelivery", trigger.ID)
		return nil
	}

	updated, effects, err := mp.engine.Advance(ctx, instance, trigger)
	if err != nil {
		return err
	}

	return mp.persistAndDispatch(ctx, updated, effects)
}

// ============================================================================
// Helpers
// ============================================================================

func (mp *MessageProcessor) resume(ctx context.Context, instance *flow.FlowInstance, trigger flow.Trigger) error {
	updated, effects, err := mp.engine.Advance(ctx, instance, trigger)
	if err != nil {
		return err
	}
	return mp.persistAndDispatch(ctx, updated, effects)
}

func (mp *MessageProcessor) start(ctx context.Context, f *flow.Flow, leadID kernel.LeadID, trigger flow.Trigger) error {
	seed := map[string]string{}
	if mp.seeder != nil {
		seeded, err := mp.seeder.Seed(ctx, leadID)
		if err != nil {
			// Sin seed el flow arranca igual; las variables llegan vacías
			log.Printf("⚠️  Failed to seed variables for lead %s: %v", leadID, err)
		} else {
			seed = seeded
		}
	}

	instance, effects, err := mp.engine.Start(ctx, f, leadID, trigger, seed)
	if err != nil {
		return err
	}
	return mp.persistAndDispatch(ctx, instance, effects)
}

// persistAndDispatch guarda la instancia, arma el timer si quedó dormida y
// recién entonces despacha los efectos
func (mp *MessageProcessor) persistAndDispatch(ctx context.Context, instance *flow.FlowInstance, effects []flow.Effect) error {
	if err := mp.instanceRepo.Save(ctx, *instance); err != nil {
		return errx.Wrap(err, "failed to persist instance", errx.TypeInternal).
			WithDetail("instance_id", instance.ID.String())
	}

	if instance.Status == flow.InstanceStatusSuspended &&
		instance.SuspendReason == flow.SuspendAwaitingTimer &&
		instance.WakeAt != nil {
		if err := mp.scheduler.Arm(ctx, instance.ID, instance.Epoch, *instance.WakeAt); err != nil {
			return errx.Wrap(err, "failed to arm wake timer", errx.TypeInternal).
				WithDetail("instance_id", instance.ID.String())
		}
	}

	if len(effects) > 0 {
		if err := mp.dispatcher.Dispatch(ctx, effects); err != nil {
			// El estado ya está persistido; un fallo de despacho no lo revierte
			log.Printf("❌ Failed to dispatch %d effects for instance %s: %v", len(effects), instance.ID, err)
			return errx.Wrap(err, "failed to dispatch effects", errx.TypeExternal)
		}
	}
	return nil
}

// alreadyProcessed indica si el trigger ya tiene resultado grabado. El motor
// graba el registro junto con el avance de cursor; si existe, los efectos ya
// fueron despachados y la redelivery es un no-op.
func (mp *MessageProcessor) alreadyProcessed(ctx context.Context, triggerID kernel.TriggerID) bool {
	record, err := mp.dedupRepo.Find(ctx, triggerID)
	if err != nil {
		log.Printf("⚠️  Failed to check dedup record for trigger %s: %v", triggerID, err)
		return false
	}
	return record != nil
}

func (mp *MessageProcessor) abandon(ctx context.Context, instance *flow.FlowInstance) error {
	log.Printf("🗑️  Abandoning instance %s (superseded by new trigger)", instance.ID)

	if instance.SuspendReason == flow.SuspendAwaitingTimer {
		if err := mp.scheduler.Disarm(ctx, instance.ID); err != nil {
			log.Printf("⚠️  Failed to disarm timer for abandoned instance %s: %v", instance.ID, err)
		}
	}

	instance.Abandon()
	if err := mp.instanceRepo.Save(ctx, *instance); err != nil {
		return errx.Wrap(err, "failed to archive abandoned instance", errx.TypeInternal)
	}
	return nil
}

func (mp *MessageProcessor) matchTriggerKeyword(ctx context.Context, text string) (*flow.Flow, error) {
	flows, err := mp.flowRepo.FindActive(ctx)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load active flows", errx.TypeInternal)
	}
	for _, f := range flows {
		if f.MatchesKeyword(text) {
			log.Printf("🔍 Message matched trigger keyword of flow %q v%d", f.Name, f.Version)
			return f, nil
		}
	}
	return nil, nil
}
