package flowexec

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/google/uuid"
	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/pkg/kernel"
)

const (
	// Máximo de nodos ejecutados en una sola llamada a Advance
	maxStepsPerAdvance = 100
	// Máximo de saltos ConnectFlow por llamada; exceder el límite es
	// FLOW_LOOP_DETECTED
	maxConnectJumps = 5
)

// DefaultEngine implementación del motor de ejecución. Cada llamada toma el
// estado de la instancia explícitamente y retorna estado nuevo + efectos;
// el motor no hace I/O de mensajería ni de CRM.
type DefaultEngine struct {
	flowRepo            flow.FlowRepository
	dedupRepo           flow.TriggerDedupRepository
	assigner            flow.AssignmentResolver
	generator           flow.TextGenerator
	history             flow.ConversationHistory
	collaboratorTimeout time.Duration
	timezone            *time.Location
	defaultTimeOfDay    string
}

var _ flow.Engine = (*DefaultEngine)(nil)

// EngineConfig parámetros de construcción del motor
type EngineConfig struct {
	CollaboratorTimeout time.Duration
	Timezone            *time.Location
	DefaultTimeOfDay    string // "15:04"
}

func NewDefaultEngine(
	flowRepo flow.FlowRepository,
	dedupRepo flow.TriggerDedupRepository,
	assigner flow.AssignmentResolver,
	generator flow.TextGenerator,
	history flow.ConversationHistory,
	config *EngineConfig,
) *DefaultEngine {
	if config == nil {
		config = &EngineConfig{}
	}
	if config.CollaboratorTimeout == 0 {
		config.CollaboratorTimeout = 30 * time.Second
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.DefaultTimeOfDay == "" {
		config.DefaultTimeOfDay = "09:00"
	}

	return &DefaultEngine{
		flowRepo:            flowRepo,
		dedupRepo:           dedupRepo,
		assigner:            assigner,
		generator:           generator,
		history:             history,
		collaboratorTimeout: config.CollaboratorTimeout,
		timezone:            config.Timezone,
		defaultTimeOfDay:    config.DefaultTimeOfDay,
	}
}

// ============================================================================
// Start - fresh instance from a trigger keyword match
// ============================================================================

func (e *DefaultEngine) Start(
	ctx context.Context,
	f *flow.Flow,
	leadID kernel.LeadID,
	trigger flow.Trigger,
	seed map[string]string,
) (*flow.FlowInstance, []flow.Effect, error) {
	if !f.IsActive {
		return nil, nil, flow.ErrFlowInactive().WithDetail("flow_id", f.ID.String())
	}
	if trigger.Kind == flow.TriggerKindMessage && trigger.Message.LeadID != leadID {
		return nil, nil, flow.ErrTriggerMismatch().
			WithDetail("trigger_lead", trigger.Message.LeadID.String()).
			WithDetail("lead_id", leadID.String())
	}

	// Replay de un trigger ya procesado: retornar el resultado grabado
	if recorded, effects, ok := e.findRecorded(ctx, trigger.ID); ok {
		log.Printf("🔁 Trigger %s already processed, replaying recorded outcome", trigger.ID)
		return recorded, effects, nil
	}

	now := time.Now()
	variables := make(map[string]string, len(seed))
	for k, v := range seed {
		variables[k] = v
	}

	instance := &flow.FlowInstance{
		ID:           kernel.NewInstanceID(uuid.New().String()),
		LeadID:       leadID,
		FlowID:       f.ID,
		FlowVersion:  f.Version,
		Epoch:        0,
		CursorNodeID: f.StartNodeID,
		Status:       flow.InstanceStatusRunning,
		Variables:    variables,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	log.Printf("🚀 Starting flow %q v%d for lead %s (instance %s)",
		f.Name, f.Version, leadID, instance.ID)

	effects, err := e.run(ctx, f, instance, trigger, f.StartNodeID)
	if err != nil {
		return nil, nil, err
	}

	e.record(ctx, trigger.ID, instance, effects)
	return instance, effects, nil
}

// ============================================================================
// Advance - resume a live instance
// ============================================================================

func (e *DefaultEngine) Advance(
	ctx context.Context,
	instance *flow.FlowInstance,
	trigger flow.Trigger,
) (*flow.FlowInstance, []flow.Effect, error) {
	if err := e.checkTrigger(instance, trigger); err != nil {
		return nil, nil, err
	}

	if recorded, effects, ok := e.findRecorded(ctx, trigger.ID); ok {
		log.Printf("🔁 Trigger %s already processed, replaying recorded outcome", trigger.ID)
		return recorded, effects, nil
	}

	// El motor nunca muta el estado de entrada
	instance = instance.Clone()

	f, err := e.flowRepo.FindByIDAndVersion(ctx, instance.FlowID, instance.FlowVersion)
	if err != nil {
		return nil, nil, errx.Wrap(err, "failed to load pinned flow version", errx.TypeInternal).
			WithDetail("flow_id", instance.FlowID.String()).
			WithDetail("version", fmt.Sprintf("%d", instance.FlowVersion))
	}

	cursor := f.GetNodeByID(instance.CursorNodeID)
	if cursor == nil {
		instance.Fail(flow.FailNodeNotFound, "cursor node missing from pinned flow version")
		return instance, nil, nil
	}

	effects := []flow.Effect{}

	// Resumir: el nodo del cursor ya se ejecutó antes de suspender; aquí se
	// captura la respuesta (si aplica) y se sigue su arista de salida.
	instance.Resume()

	port := flow.PortMain
	if trigger.Kind == flow.TriggerKindMessage {
		effects = append(effects, e.captureReply(instance, cursor, trigger)...)
		if trigger.Message.ButtonID != "" && cursor.HasButton(trigger.Message.ButtonID) {
			port = trigger.Message.ButtonID
		}
	}

	edge := f.OutgoingEdge(cursor.ID, port)
	if edge == nil {
		// Suspensión en un nodo terminal: responder completa el flow
		instance.Complete()
		log.Printf("✅ Instance %s completed (terminal suspension node)", instance.ID)
		e.record(ctx, trigger.ID, instance, effects)
		return instance, effects, nil
	}

	runEffects, err := e.run(ctx, f, instance, trigger, edge.TargetNodeID)
	if err != nil {
		return nil, nil, err
	}
	effects = append(effects, runEffects...)

	e.record(ctx, trigger.ID, instance, effects)
	return instance, effects, nil
}

// checkTrigger valida que el trigger corresponda a esta instancia. Una
// violación es un fault de programación del caller, no un error del usuario.
func (e *DefaultEngine) checkTrigger(instance *flow.FlowInstance, trigger flow.Trigger) error {
	if !trigger.IsValid() {
		return flow.ErrTriggerMismatch().WithDetail("reason", "malformed trigger")
	}

	switch trigger.Kind {
	case flow.TriggerKindMessage:
		if trigger.Message.LeadID != instance.LeadID {
			return flow.ErrTriggerMismatch().
				WithDetail("trigger_lead", trigger.Message.LeadID.String()).
				WithDetail("instance_lead", instance.LeadID.String())
		}
		if !instance.IsAwaitingReply() {
			return flow.ErrInstanceNotLive().
				WithDetail("instance_id", instance.ID.String()).
				WithDetail("status", string(instance.Status))
		}
	case flow.TriggerKindTimer:
		if trigger.Timer.InstanceID != instance.ID {
			return flow.ErrTriggerMismatch().
				WithDetail("trigger_instance", trigger.Timer.InstanceID.String()).
				WithDetail("instance_id", instance.ID.String())
		}
		// Un timer de una época anterior pertenece a una instancia superada
		if trigger.Timer.Epoch != instance.Epoch ||
			instance.Status != flow.InstanceStatusSuspended ||
			instance.SuspendReason != flow.SuspendAwaitingTimer {
			return flow.ErrStaleTimer().
				WithDetail("instance_id", instance.ID.String()).
				WithDetail("timer_epoch", fmt.Sprintf("%d", trigger.Timer.Epoch)).
				WithDetail("instance_epoch", fmt.Sprintf("%d", instance.Epoch))
		}
	}
	return nil
}

// captureReply guarda la respuesta cruda del lead si el nodo suspendido lo pide
func (e *DefaultEngine) captureReply(instance *flow.FlowInstance, cursor *flow.Node, trigger flow.Trigger) []flow.Effect {
	variableName := ""
	switch cursor.Kind {
	case flow.NodeKindQuestion:
		if payload, err := flow.ExtractQuestionPayload(cursor.Config); err == nil {
			variableName = payload.VariableName
		}
	case flow.NodeKindCapture:
		if payload, err := flow.ExtractCapturePayload(cursor.Config); err == nil {
			variableName = payload.VariableName
		}
	}
	if variableName == "" {
		return nil
	}

	value := trigger.MessageText()
	instance.SetVariable(variableName, value)
	log.Printf("📝 Captured %s=%q for lead %s", variableName, value, instance.LeadID)

	return []flow.Effect{flow.UpdateCRMEffect{
		LeadID: instance.LeadID,
		Field:  flow.CRMFieldVariable,
		Key:    variableName,
		Value:  value,
	}}
}

// ============================================================================
// run - node walking loop
// ============================================================================

func (e *DefaultEngine) run(
	ctx context.Context,
	f *flow.Flow,
	instance *flow.FlowInstance,
	trigger flow.Trigger,
	startAt kernel.NodeID,
) ([]flow.Effect, error) {
	effects := []flow.Effect{}
	currentID := startAt
	connectJumps := 0
	steps := 0
	visited := make(map[string]bool)

	for {
		if steps >= maxStepsPerAdvance {
			instance.Fail(flow.FailFlowLoopDetected, "step budget exceeded in a single advance")
			return effects, nil
		}
		steps++

		visitKey := f.ID.String() + ":" + currentID.String()
		if visited[visitKey] {
			instance.Fail(flow.FailFlowLoopDetected, "node revisited without suspension: "+currentID.String())
			return effects, nil
		}
		visited[visitKey] = true

		node := f.GetNodeByID(currentID)
		if node == nil {
			instance.Fail(flow.FailNodeNotFound, "node not found: "+currentID.String())
			return effects, nil
		}

		instance.MoveCursor(node.ID)
		log.Printf("⚡ Executing node %s (%s) for instance %s", node.ID, node.Kind, instance.ID)

		outcome, err := e.executeNode(ctx, f, instance, node, trigger)
		if err != nil {
			return nil, err
		}
		effects = append(effects, outcome.effects...)

		if outcome.halted {
			// Suspendida, completada o fallida dentro del nodo
			return effects, nil
		}

		if outcome.jumpFlow != nil {
			// ConnectFlow: salto de cola al nodo inicial del flow destino
			connectJumps++
			if connectJumps > maxConnectJumps {
				instance.Fail(flow.FailFlowLoopDetected,
					fmt.Sprintf("connect-flow jump depth exceeded (%d)", maxConnectJumps))
				return effects, nil
			}
			f = outcome.jumpFlow
			instance.FlowID = f.ID
			instance.FlowVersion = f.Version
			currentID = f.StartNodeID
			continue
		}

		edge := f.OutgoingEdge(node.ID, outcome.port)
		if edge == nil {
			if node.Kind == flow.NodeKindCondition {
				// ValidateGraph lo impide al publicar; si un grafo
				// legado llega aquí, el fallo es explícito, no silencioso
				instance.Fail(flow.FailMissingFalsePort, "condition node has no wired "+outcome.port+" edge")
				return effects, nil
			}
			instance.Complete()
			log.Printf("✅ Instance %s completed at node %s", instance.ID, node.ID)
			return effects, nil
		}
		currentID = edge.TargetNodeID
	}
}

// nodeOutcome resultado de ejecutar un nodo
type nodeOutcome struct {
	effects  []flow.Effect
	port     string     // puerto de salida a seguir si no se detuvo
	halted   bool       // la instancia suspendió, completó o falló
	jumpFlow *flow.Flow // destino de un ConnectFlow
}

func (e *DefaultEngine) executeNode(
	ctx context.Context,
	f *flow.Flow,
	instance *flow.FlowInstance,
	node *flow.Node,
	trigger flow.Trigger,
) (*nodeOutcome, error) {
	switch node.Kind {
	case flow.NodeKindMessage:
		return e.execMessage(instance, node)
	case flow.NodeKindQuestion:
		return e.execQuestion(instance, node)
	case flow.NodeKindCapture:
		return e.execCapture(instance, node)
	case flow.NodeKindCondition:
		return e.execCondition(instance, node, trigger)
	case flow.NodeKindAIAction:
		return e.execAIAction(ctx, instance, node)
	case flow.NodeKindTag:
		return e.execTag(instance, node)
	case flow.NodeKindPipeline:
		return e.execPipeline(instance, node)
	case flow.NodeKindAssignment:
		return e.execAssignment(ctx, f, instance, node)
	case flow.NodeKindWait:
		return e.execWait(instance, node)
	case flow.NodeKindConnect:
		return e.execConnect(ctx, instance, node)
	default:
		instance.Fail(flow.FailInvalidNodePayload, "unknown node kind: "+string(node.Kind))
		return &nodeOutcome{halted: true}, nil
	}
}

// ============================================================================
// Per-kind behavior
// ============================================================================

func (e *DefaultEngine) execMessage(instance *flow.FlowInstance, node *flow.Node) (*nodeOutcome, error) {
	payload, err := flow.ExtractMessagePayload(node.Config)
	if err != nil {
		instance.Fail(flow.FailInvalidNodePayload, err.Error())
		return &nodeOutcome{halted: true}, nil
	}

	return &nodeOutcome{
		effects: []flow.Effect{flow.SendMessageEffect{
			LeadID:  instance.LeadID,
			Text:    flow.RenderTemplate(payload.Text, instance.Variables),
			Buttons: node.Buttons,
		}},
		port: flow.PortMain,
	}, nil
}

func (e *DefaultEngine) execQuestion(instance *flow.FlowInstance, node *flow.Node) (*nodeOutcome, error) {
	payload, err := flow.ExtractQuestionPayload(node.Config)
	if err != nil {
		instance.Fail(flow.FailInvalidNodePayload, err.Error())
		return &nodeOutcome{halted: true}, nil
	}

	instance.Suspend(flow.SuspendAwaitingReply, nil)
	log.Printf("⏸️  Instance %s awaiting reply at node %s", instance.ID, node.ID)

	return &nodeOutcome{
		effects: []flow.Effect{flow.SendMessageEffect{
			LeadID:  instance.LeadID,
			Text:    flow.RenderTemplate(payload.Text, instance.Variables),
			Buttons: node.Buttons,
		}},
		halted: true,
	}, nil
}

func (e *DefaultEngine) execCapture(instance *flow.FlowInstance, node *flow.Node) (*nodeOutcome, error) {
	payload, err := flow.ExtractCapturePayload(node.Config)
	if err != nil {
		instance.Fail(flow.FailInvalidNodePayload, err.Error())
		return &nodeOutcome{halted: true}, nil
	}

	instance.Suspend(flow.SuspendAwaitingReply, nil)
	log.Printf("⏸️  Instance %s awaiting capture of %q at node %s", instance.ID, payload.VariableName, node.ID)

	return &nodeOutcome{
		effects: []flow.Effect{flow.SendMessageEffect{
			LeadID: instance.LeadID,
			Text:   flow.RenderTemplate(payload.Prompt, instance.Variables),
		}},
		halted: true,
	}, nil
}

func (e *DefaultEngine) execCondition(instance *flow.FlowInstance, node *flow.Node, trigger flow.Trigger) (*nodeOutcome, error) {
	payload, err := flow.ExtractConditionPayload(node.Config)
	if err != nil {
		instance.Fail(flow.FailInvalidNodePayload, err.Error())
		return &nodeOutcome{halted: true}, nil
	}

	met, err := flow.EvaluateCondition(payload, instance.Variables, trigger.MessageText())
	if err != nil {
		instance.Fail(flow.FailInvalidNodePayload, err.Error())
		return &nodeOutcome{halted: true}, nil
	}

	port := flow.PortFalse
	if met {
		port = flow.PortMain
	}
	log.Printf("🔀 Condition %s on instance %s → %s", node.ID, instance.ID, port)
	return &nodeOutcome{port: port}, nil
}

func (e *DefaultEngine) execAIAction(ctx context.Context, instance *flow.FlowInstance, node *flow.Node) (*nodeOutcome, error) {
	payload, err := flow.ExtractAIActionPayload(node.Config)
	if err != nil {
		instance.Fail(flow.FailInvalidNodePayload, err.Error())
		return &nodeOutcome{halted: true}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.collaboratorTimeout)
	defer cancel()

	var history []flow.HistoryEntry
	if e.history != nil {
		history, err = e.history.Recent(callCtx, instance.LeadID, payload.GetHistoryLimit())
		if err != nil {
			// El historial es contexto, no requisito: generar sin él
			log.Printf("⚠️  Failed to load conversation history for lead %s: %v", instance.LeadID, err)
			history = nil
		}
	}

	prompt := flow.RenderTemplate(payload.Prompt, instance.Variables)
	text, err := e.generator.Generate(callCtx, payload.SystemPrompt, prompt, history)
	if err != nil {
		// Una llamada, un desenlace definitivo: el fallo deja la instancia
		// en Failed para que intervenga un humano, nunca continúa en silencio
		log.Printf("❌ Generation failed for instance %s: %v", instance.ID, err)
		instance.Fail(flow.FailGenerationUnavailable, err.Error())
		return &nodeOutcome{halted: true}, nil
	}

	var effects []flow.Effect
	if payload.OutputVariable != "" {
		instance.SetVariable(payload.OutputVariable, text)
	}
	if payload.SendResult {
		effects = append(effects, flow.SendMessageEffect{
			LeadID: instance.LeadID,
			Text:   text,
		})
	}

	return &nodeOutcome{effects: effects, port: flow.PortMain}, nil
}

func (e *DefaultEngine) execTag(instance *flow.FlowInstance, node *flow.Node) (*nodeOutcome, error) {
	payload, err := flow.ExtractTagPayload(node.Config)
	if err != nil {
		instance.Fail(flow.FailInvalidNodePayload, err.Error())
		return &nodeOutcome{halted: true}, nil
	}

	return &nodeOutcome{
		effects: []flow.Effect{flow.UpdateCRMEffect{
			LeadID: instance.LeadID,
			Field:  flow.CRMFieldTag,
			Value:  payload.Tag,
		}},
		port: flow.PortMain,
	}, nil
}

func (e *DefaultEngine) execPipeline(instance *flow.FlowInstance, node *flow.Node) (*nodeOutcome, error) {
	payload, err := flow.ExtractPipelinePayload(node.Config)
	if err != nil {
		instance.Fail(flow.FailInvalidNodePayload, err.Error())
		return &nodeOutcome{halted: true}, nil
	}

	return &nodeOutcome{
		effects: []flow.Effect{flow.UpdateCRMEffect{
			LeadID: instance.LeadID,
			Field:  flow.CRMFieldStage,
			Value:  payload.Stage,
		}},
		port: flow.PortMain,
	}, nil
}

func (e *DefaultEngine) execAssignment(ctx context.Context, f *flow.Flow, instance *flow.FlowInstance, node *flow.Node) (*nodeOutcome, error) {
	payload, err := flow.ExtractAssignmentPayload(node.Config)
	if err != nil {
		instance.Fail(flow.FailInvalidNodePayload, err.Error())
		return &nodeOutcome{halted: true}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.collaboratorTimeout)
	defer cancel()

	advisorID, ok, err := e.assigner.Resolve(callCtx, payload.Strategy, payload.ManualAdvisorID, instance.LeadID)
	if err != nil {
		// Un resolver caído degrada igual que "sin asesor": el flow sigue
		// y operaciones recibe la bandera
		log.Printf("⚠️  Assignment resolver failed for instance %s: %v", instance.ID, err)
		ok = false
	}

	if !ok {
		log.Printf("🚩 No advisor available for lead %s (strategy %s), continuing degraded", instance.LeadID, payload.Strategy)
		return &nodeOutcome{
			effects: []flow.Effect{flow.AssignmentFailedEffect{
				LeadID:   instance.LeadID,
				FlowID:   f.ID,
				NodeID:   node.ID,
				Strategy: payload.Strategy,
			}},
			port: flow.PortMain,
		}, nil
	}

	log.Printf("🤝 Lead %s assigned to advisor %s", instance.LeadID, advisorID)
	return &nodeOutcome{
		effects: []flow.Effect{
			flow.UpdateCRMEffect{
				LeadID: instance.LeadID,
				Field:  flow.CRMFieldAdvisor,
				Value:  advisorID.String(),
			},
			flow.NotifyAdvisorEffect{
				AdvisorID: advisorID,
				LeadID:    instance.LeadID,
				Template:  payload.NotifyTemplate,
			},
		},
		port: flow.PortMain,
	}, nil
}

func (e *DefaultEngine) execWait(instance *flow.FlowInstance, node *flow.Node) (*nodeOutcome, error) {
	payload, err := flow.ExtractWaitPayload(node.Config)
	if err != nil {
		instance.Fail(flow.FailInvalidNodePayload, err.Error())
		return &nodeOutcome{halted: true}, nil
	}

	now := time.Now()
	var wakeAt time.Time
	if payload.IsRelative() {
		wakeAt = now.Add(payload.RelativeDuration())
	} else {
		wakeAt = payload.NextOccurrence(now, e.timezone, e.defaultTimeOfDay)
	}

	instance.Suspend(flow.SuspendAwaitingTimer, &wakeAt)
	log.Printf("⏰ Instance %s suspended until %v at node %s", instance.ID, wakeAt, node.ID)
	return &nodeOutcome{halted: true}, nil
}

func (e *DefaultEngine) execConnect(ctx context.Context, instance *flow.FlowInstance, node *flow.Node) (*nodeOutcome, error) {
	payload, err := flow.ExtractConnectPayload(node.Config)
	if err != nil {
		instance.Fail(flow.FailInvalidNodePayload, err.Error())
		return &nodeOutcome{halted: true}, nil
	}

	target, err := e.flowRepo.FindByID(ctx, kernel.FlowID(payload.TargetFlowID))
	if err != nil {
		instance.Fail(flow.FailNodeNotFound, "connect-flow target not found: "+payload.TargetFlowID)
		return &nodeOutcome{halted: true}, nil
	}
	if !target.IsActive {
		instance.Fail(flow.FailNodeNotFound, "connect-flow target is inactive: "+payload.TargetFlowID)
		return &nodeOutcome{halted: true}, nil
	}

	log.Printf("🔗 Instance %s jumping to flow %q v%d", instance.ID, target.Name, target.Version)
	return &nodeOutcome{jumpFlow: target}, nil
}

// ============================================================================
// Trigger dedup
// ============================================================================

// effectEnvelope envuelve un efecto con su tipo para (de)serialización
type effectEnvelope struct {
	Kind flow.EffectKind `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func encodeEffects(effects []flow.Effect) ([]byte, error) {
	envelopes := make([]effectEnvelope, 0, len(effects))
	for _, eff := range effects {
		data, err := json.Marshal(eff)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, effectEnvelope{Kind: eff.Kind(), Data: data})
	}
	return json.Marshal(envelopes)
}

func decodeEffects(raw []byte) ([]flow.Effect, error) {
	var envelopes []effectEnvelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return nil, err
	}
	effects := make([]flow.Effect, 0, len(envelopes))
	for _, env := range envelopes {
		var eff flow.Effect
		switch env.Kind {
		case flow.EffectKindSendMessage:
			var e flow.SendMessageEffect
			if err := json.Unmarshal(env.Data, &e); err != nil {
				return nil, err
			}
			eff = e
		case flow.EffectKindNotifyAdvisor:
			var e flow.NotifyAdvisorEffect
			if err := json.Unmarshal(env.Data, &e); err != nil {
				return nil, err
			}
			eff = e
		case flow.EffectKindUpdateCRM:
			var e flow.UpdateCRMEffect
			if err := json.Unmarshal(env.Data, &e); err != nil {
				return nil, err
			}
			eff = e
		case flow.EffectKindAssignmentFailed:
			var e flow.AssignmentFailedEffect
			if err := json.Unmarshal(env.Data, &e); err != nil {
				return nil, err
			}
			eff = e
		default:
			return nil, fmt.Errorf("unknown effect kind: %s", env.Kind)
		}
		effects = append(effects, eff)
	}
	return effects, nil
}

// findRecorded busca el resultado grabado de un trigger ya procesado
func (e *DefaultEngine) findRecorded(ctx context.Context, triggerID kernel.TriggerID) (*flow.FlowInstance, []flow.Effect, bool) {
	record, err := e.dedupRepo.Find(ctx, triggerID)
	if err != nil || record == nil {
		return nil, nil, false
	}

	var instance flow.FlowInstance
	if err := json.Unmarshal(record.Instance, &instance); err != nil {
		log.Printf("⚠️  Corrupt dedup record for trigger %s: %v", triggerID, err)
		return nil, nil, false
	}
	effects, err := decodeEffects(record.Effects)
	if err != nil {
		log.Printf("⚠️  Corrupt dedup effects for trigger %s: %v", triggerID, err)
		return nil, nil, false
	}
	return &instance, effects, true
}

// record graba el desenlace de un trigger para replays idempotentes
func (e *DefaultEngine) record(ctx context.Context, triggerID kernel.TriggerID, instance *flow.FlowInstance, effects []flow.Effect) {
	instanceJSON, err := json.Marshal(instance)
	if err != nil {
		log.Printf("⚠️  Failed to marshal instance for dedup record: %v", err)
		return
	}
	effectsJSON, err := encodeEffects(effects)
	if err != nil {
		log.Printf("⚠️  Failed to marshal effects for dedup record: %v", err)
		return
	}

	record := flow.TriggerRecord{
		TriggerID:   triggerID,
		InstanceID:  instance.ID,
		Instance:    instanceJSON,
		Effects:     effectsJSON,
		ProcessedAt: time.Now(),
	}
	if err := e.dedupRepo.Save(ctx, record); err != nil {
		log.Printf("⚠️  Failed to save dedup record for trigger %s: %v", triggerID, err)
	}
}
