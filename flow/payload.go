package flow

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Node Payload Interface
// ============================================================================

// NodePayload interface que implementan todas las configuraciones tipadas
type NodePayload interface {
	Validate() error
	GetKind() NodeKind
}

// extractPayload convierte el config crudo del nodo a su payload tipado
func extractPayload[T NodePayload](config map[string]any) (T, error) {
	var payload T
	raw, err := json.Marshal(config)
	if err != nil {
		return payload, ErrInvalidNodePayload().WithDetail("reason", err.Error())
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, ErrInvalidNodePayload().WithDetail("reason", err.Error())
	}
	if err := payload.Validate(); err != nil {
		return payload, err
	}
	return payload, nil
}

// ============================================================================
// Message / Question / CaptureField
// ============================================================================

// MessagePayload texto saliente con sustitución de variables {{var}}
type MessagePayload struct {
	Text string `json:"text"`
}

func (p MessagePayload) Validate() error {
	if p.Text == "" {
		return ErrInvalidNodePayload().WithDetail("reason", "text is required")
	}
	return nil
}

func (p MessagePayload) GetKind() NodeKind { return NodeKindMessage }

// QuestionPayload pregunta que suspende esperando respuesta; si VariableName
// está configurado, la respuesta cruda se guarda bajo ese nombre
type QuestionPayload struct {
	Text         string `json:"text"`
	VariableName string `json:"variable_name,omitempty"`
}

func (p QuestionPayload) Validate() error {
	if p.Text == "" {
		return ErrInvalidNodePayload().WithDetail("reason", "text is required")
	}
	return nil
}

func (p QuestionPayload) GetKind() NodeKind { return NodeKindQuestion }

// CapturePayload captura un dato del lead bajo un nombre de variable
type CapturePayload struct {
	Prompt       string `json:"prompt"`
	VariableName string `json:"variable_name"`
}

func (p CapturePayload) Validate() error {
	if p.Prompt == "" {
		return ErrInvalidNodePayload().WithDetail("reason", "prompt is required")
	}
	if p.VariableName == "" {
		return ErrInvalidNodePayload().WithDetail("reason", "variable_name is required")
	}
	return nil
}

func (p CapturePayload) GetKind() NodeKind { return NodeKindCapture }

// ============================================================================
// Condition
// ============================================================================

// PredicateKind tipo de predicado soportado por el evaluador
type PredicateKind string

const (
	PredicateMessageContains PredicateKind = "MESSAGE_CONTAINS"
	PredicateVariableSet     PredicateKind = "VARIABLE_SET"
	PredicateVariableEquals  PredicateKind = "VARIABLE_EQUALS"
)

// KnownPredicateKinds conjunto cerrado; un predicado fuera de esta lista
// se rechaza al publicar, nunca en runtime
var KnownPredicateKinds = []PredicateKind{
	PredicateMessageContains, PredicateVariableSet, PredicateVariableEquals,
}

// ConditionPayload predicado evaluado contra variables + último mensaje
type ConditionPayload struct {
	Predicate PredicateKind `json:"predicate"`
	Variable  string        `json:"variable,omitempty"`
	Value     string        `json:"value,omitempty"`
}

func (p ConditionPayload) Validate() error {
	switch p.Predicate {
	case PredicateMessageContains:
		if p.Value == "" {
			return ErrInvalidNodePayload().WithDetail("reason", "value is required for MESSAGE_CONTAINS")
		}
	case PredicateVariableSet:
		if p.Variable == "" {
			return ErrInvalidNodePayload().WithDetail("reason", "variable is required for VARIABLE_SET")
		}
	case PredicateVariableEquals:
		if p.Variable == "" {
			return ErrInvalidNodePayload().WithDetail("reason", "variable is required for VARIABLE_EQUALS")
		}
	default:
		return ErrUnknownPredicate().WithDetail("predicate", string(p.Predicate))
	}
	return nil
}

func (p ConditionPayload) GetKind() NodeKind { return NodeKindCondition }

// ============================================================================
// AI Action
// ============================================================================

// AIActionPayload llamada sincrónica al generador de texto
type AIActionPayload struct {
	Prompt         string `json:"prompt"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	OutputVariable string `json:"output_variable,omitempty"`
	HistoryLimit   int    `json:"history_limit,omitempty"`
	SendResult     bool   `json:"send_result,omitempty"`
}

func (p AIActionPayload) Validate() error {
	if p.Prompt == "" {
		return ErrInvalidNodePayload().WithDetail("reason", "prompt is required")
	}
	if p.HistoryLimit < 0 {
		return ErrInvalidNodePayload().WithDetail("reason", "history_limit cannot be negative")
	}
	return nil
}

func (p AIActionPayload) GetKind() NodeKind { return NodeKindAIAction }

// GetHistoryLimit retorna el límite de historial con default acotado
func (p AIActionPayload) GetHistoryLimit() int {
	if p.HistoryLimit > 0 && p.HistoryLimit <= 50 {
		return p.HistoryLimit
	}
	return 10
}

// ============================================================================
// Tag / Pipeline Transition
// ============================================================================

// TagPayload etiqueta CRM idempotente
type TagPayload struct {
	Tag string `json:"tag"`
}

func (p TagPayload) Validate() error {
	if p.Tag == "" {
		return ErrInvalidNodePayload().WithDetail("reason", "tag is required")
	}
	return nil
}

func (p TagPayload) GetKind() NodeKind { return NodeKindTag }

// PipelinePayload transición de etapa en el pipeline del CRM
type PipelinePayload struct {
	Stage string `json:"stage"`
}

func (p PipelinePayload) Validate() error {
	if p.Stage == "" {
		return ErrInvalidNodePayload().WithDetail("reason", "stage is required")
	}
	return nil
}

func (p PipelinePayload) GetKind() NodeKind { return NodeKindPipeline }

// ============================================================================
// Assignment
// ============================================================================

// AssignStrategy estrategia de asignación de asesor
type AssignStrategy string

const (
	StrategyRoundRobin   AssignStrategy = "ROUND_ROBIN"
	StrategyQuotaDeficit AssignStrategy = "QUOTA_DEFICIT"
	StrategyManual       AssignStrategy = "MANUAL"
)

// AssignmentPayload configuración del nodo de asignación
type AssignmentPayload struct {
	Strategy        AssignStrategy `json:"strategy"`
	ManualAdvisorID string         `json:"manual_advisor_id,omitempty"`
	NotifyTemplate  string         `json:"notify_template,omitempty"`
}

func (p AssignmentPayload) Validate() error {
	switch p.Strategy {
	case StrategyRoundRobin, StrategyQuotaDeficit:
	case StrategyManual:
		if p.ManualAdvisorID == "" {
			return ErrInvalidNodePayload().WithDetail("reason", "manual_advisor_id is required for MANUAL strategy")
		}
	default:
		return ErrInvalidNodePayload().WithDetail("reason", "unknown assignment strategy").
			WithDetail("strategy", string(p.Strategy))
	}
	return nil
}

func (p AssignmentPayload) GetKind() NodeKind { return NodeKindAssignment }

// ============================================================================
// Wait
// ============================================================================

// WaitUnit unidad de espera relativa
type WaitUnit string

const (
	WaitUnitMinutes WaitUnit = "minutes"
	WaitUnitHours   WaitUnit = "hours"
	WaitUnitDays    WaitUnit = "days"
)

// WaitPayload espera relativa (amount+unit) o programada (días + hora fija)
type WaitPayload struct {
	RelativeAmount int      `json:"relative_amount,omitempty"`
	Unit           WaitUnit `json:"unit,omitempty"`
	ScheduledDays  int      `json:"scheduled_days,omitempty"`
	TimeOfDay      string   `json:"time_of_day,omitempty"` // "15:04"
}

func (p WaitPayload) Validate() error {
	if p.IsRelative() {
		switch p.Unit {
		case WaitUnitMinutes, WaitUnitHours, WaitUnitDays:
		default:
			return ErrInvalidNodePayload().WithDetail("reason", "unknown wait unit").
				WithDetail("unit", string(p.Unit))
		}
		return nil
	}
	if p.ScheduledDays < 0 {
		return ErrInvalidNodePayload().WithDetail("reason", "scheduled_days cannot be negative")
	}
	if p.TimeOfDay != "" {
		if _, err := time.Parse("15:04", p.TimeOfDay); err != nil {
			return ErrInvalidNodePayload().WithDetail("reason", "time_of_day must be HH:MM")
		}
	}
	if p.ScheduledDays == 0 && p.TimeOfDay == "" {
		return ErrInvalidNodePayload().WithDetail("reason", "wait requires relative_amount or scheduled_days/time_of_day")
	}
	return nil
}

func (p WaitPayload) GetKind() NodeKind { return NodeKindWait }

// IsRelative indica si la espera es relativa (now + amount) en vez de programada
func (p WaitPayload) IsRelative() bool {
	return p.RelativeAmount > 0
}

// RelativeDuration convierte amount+unit a time.Duration
func (p WaitPayload) RelativeDuration() time.Duration {
	switch p.Unit {
	case WaitUnitMinutes:
		return time.Duration(p.RelativeAmount) * time.Minute
	case WaitUnitHours:
		return time.Duration(p.RelativeAmount) * time.Hour
	case WaitUnitDays:
		return time.Duration(p.RelativeAmount) * 24 * time.Hour
	default:
		return 0
	}
}

// NextOccurrence calcula la próxima ocurrencia de TimeOfDay al menos
// ScheduledDays días adelante, en la zona horaria operativa
func (p WaitPayload) NextOccurrence(now time.Time, loc *time.Location, defaultTimeOfDay string) time.Time {
	timeOfDay := p.TimeOfDay
	if timeOfDay == "" {
		timeOfDay = defaultTimeOfDay
	}
	parsed, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		parsed, _ = time.Parse("15:04", "09:00")
	}

	local := now.In(loc)
	candidate := time.Date(
		local.Year(), local.Month(), local.Day()+p.ScheduledDays,
		parsed.Hour(), parsed.Minute(), 0, 0, loc,
	)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// ============================================================================
// Connect Flow
// ============================================================================

// ConnectPayload salto de cola hacia el nodo inicial de otro flow
type ConnectPayload struct {
	TargetFlowID string `json:"target_flow_id"`
}

func (p ConnectPayload) Validate() error {
	if p.TargetFlowID == "" {
		return ErrInvalidNodePayload().WithDetail("reason", "target_flow_id is required")
	}
	return nil
}

func (p ConnectPayload) GetKind() NodeKind { return NodeKindConnect }

// ============================================================================
// Extraction helpers
// ============================================================================

func ExtractMessagePayload(config map[string]any) (MessagePayload, error) {
	return extractPayload[MessagePayload](config)
}

func ExtractQuestionPayload(config map[string]any) (QuestionPayload, error) {
	return extractPayload[QuestionPayload](config)
}

func ExtractCapturePayload(config map[string]any) (CapturePayload, error) {
	return extractPayload[CapturePayload](config)
}

func ExtractConditionPayload(config map[string]any) (ConditionPayload, error) {
	return extractPayload[ConditionPayload](config)
}

func ExtractAIActionPayload(config map[string]any) (AIActionPayload, error) {
	return extractPayload[AIActionPayload](config)
}

func ExtractTagPayload(config map[string]any) (TagPayload, error) {
	return extractPayload[TagPayload](config)
}

func ExtractPipelinePayload(config map[string]any) (PipelinePayload, error) {
	return extractPayload[PipelinePayload](config)
}

func ExtractAssignmentPayload(config map[string]any) (AssignmentPayload, error) {
	return extractPayload[AssignmentPayload](config)
}

func ExtractWaitPayload(config map[string]any) (WaitPayload, error) {
	return extractPayload[WaitPayload](config)
}

func ExtractConnectPayload(config map[string]any) (ConnectPayload, error) {
	return extractPayload[ConnectPayload](config)
}

// ValidateNodePayload valida el config de un nodo según su tipo.
// Se usa al publicar; los tipos desconocidos se rechazan aquí.
func ValidateNodePayload(node Node) error {
	var err error
	switch node.Kind {
	case NodeKindMessage:
		_, err = ExtractMessagePayload(node.Config)
	case NodeKindQuestion:
		_, err = ExtractQuestionPayload(node.Config)
	case NodeKindCapture:
		_, err = ExtractCapturePayload(node.Config)
	case NodeKindCondition:
		_, err = ExtractConditionPayload(node.Config)
	case NodeKindAIAction:
		_, err = ExtractAIActionPayload(node.Config)
	case NodeKindTag:
		_, err = ExtractTagPayload(node.Config)
	case NodeKindPipeline:
		_, err = ExtractPipelinePayload(node.Config)
	case NodeKindAssignment:
		_, err = ExtractAssignmentPayload(node.Config)
	case NodeKindWait:
		_, err = ExtractWaitPayload(node.Config)
	case NodeKindConnect:
		_, err = ExtractConnectPayload(node.Config)
	default:
		return ErrUnknownNodeKind().WithDetail("kind", string(node.Kind)).
			WithDetail("node_id", node.ID.String())
	}
	return err
}
