package flow

import (
	"strings"
	"time"

	"github.com/inmobot/leadflow/pkg/kernel"
)

// ============================================================================
// Flow Entity
// ============================================================================

// Flow representa un grafo conversacional publicado
type Flow struct {
	ID              kernel.FlowID `db:"id" json:"id"`
	Name            string        `db:"name" json:"name"`
	Version         int           `db:"version" json:"version"`
	TriggerKeywords []string      `db:"trigger_keywords" json:"trigger_keywords"`
	IsActive        bool          `db:"is_active" json:"is_active"`
	StartNodeID     kernel.NodeID `db:"start_node_id" json:"start_node_id"`
	Nodes           []Node        `db:"nodes" json:"nodes"`
	Edges           []Edge        `db:"edges" json:"edges"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
	PublishedAt     *time.Time    `db:"published_at" json:"published_at,omitempty"`
}

// NodeKind tipo de nodo del grafo
type NodeKind string

const (
	NodeKindMessage    NodeKind = "MESSAGE"
	NodeKindQuestion   NodeKind = "QUESTION"
	NodeKindCondition  NodeKind = "CONDITION"
	NodeKindAIAction   NodeKind = "AI_ACTION"
	NodeKindTag        NodeKind = "TAG"
	NodeKindPipeline   NodeKind = "PIPELINE_TRANSITION"
	NodeKindAssignment NodeKind = "ASSIGNMENT"
	NodeKindCapture    NodeKind = "CAPTURE_FIELD"
	NodeKindWait       NodeKind = "WAIT"
	NodeKindConnect    NodeKind = "CONNECT_FLOW"
)

// KnownNodeKinds es el conjunto cerrado de tipos soportados
var KnownNodeKinds = []NodeKind{
	NodeKindMessage, NodeKindQuestion, NodeKindCondition, NodeKindAIAction,
	NodeKindTag, NodeKindPipeline, NodeKindAssignment, NodeKindCapture,
	NodeKindWait, NodeKindConnect,
}

// Node paso del grafo con comportamiento propio
type Node struct {
	ID      kernel.NodeID  `json:"id"`
	Name    string         `json:"name"`
	Kind    NodeKind       `json:"kind"`
	Config  map[string]any `json:"config"`
	Buttons []Button       `json:"buttons,omitempty"`
}

// Button opción de respuesta rápida adjunta a un nodo Message/Question.
// Cada botón es a la vez el puerto de salida de su propia arista.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MaxButtonsPerNode límite de botones por nodo (límite de WhatsApp)
const MaxButtonsPerNode = 3

// Puertos de salida reservados
const (
	PortMain  = "main"
	PortFalse = "false"
)

// Edge transición dirigida entre dos nodos
type Edge struct {
	ID           kernel.EdgeID `json:"id"`
	SourceNodeID kernel.NodeID `json:"source_node_id"`
	SourcePort   string        `json:"source_port"`
	TargetNodeID kernel.NodeID `json:"target_node_id"`
}

// ============================================================================
// Domain Methods - Flow
// ============================================================================

// IsValid verifica si el flow tiene lo mínimo para existir
func (f *Flow) IsValid() bool {
	return f.Name != "" && len(f.Nodes) > 0 && !f.StartNodeID.IsEmpty()
}

// GetNodeByID obtiene un nodo por ID
func (f *Flow) GetNodeByID(nodeID kernel.NodeID) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].ID == nodeID {
			return &f.Nodes[i]
		}
	}
	return nil
}

// OutgoingEdge busca la arista saliente de un nodo por puerto
func (f *Flow) OutgoingEdge(nodeID kernel.NodeID, port string) *Edge {
	for i := range f.Edges {
		if f.Edges[i].SourceNodeID == nodeID && f.Edges[i].SourcePort == port {
			return &f.Edges[i]
		}
	}
	return nil
}

// MatchesKeyword verifica si un texto entrante dispara este flow.
// La comparación es por palabra completa, sin distinguir mayúsculas.
func (f *Flow) MatchesKeyword(text string) bool {
	if !f.IsActive || len(f.TriggerKeywords) == 0 {
		return false
	}
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, keyword := range f.TriggerKeywords {
		kw := strings.ToLower(strings.TrimSpace(keyword))
		if kw == "" {
			continue
		}
		if normalized == kw {
			return true
		}
		for _, word := range strings.Fields(normalized) {
			if word == kw {
				return true
			}
		}
	}
	return false
}

// Activate activa el flow
func (f *Flow) Activate() {
	f.IsActive = true
	f.UpdatedAt = time.Now()
}

// Deactivate desactiva el flow
func (f *Flow) Deactivate() {
	f.IsActive = false
	f.UpdatedAt = time.Now()
}

// MarkPublished sella el flow como publicado e inmutable
func (f *Flow) MarkPublished() {
	now := time.Now()
	f.PublishedAt = &now
	f.UpdatedAt = now
}

// IsPublished indica si el flow ya fue publicado
func (f *Flow) IsPublished() bool {
	return f.PublishedAt != nil
}

// ============================================================================
// Domain Methods - Node
// ============================================================================

// IsSuspending indica si el nodo detiene la ejecución hasta un evento externo
func (n *Node) IsSuspending() bool {
	switch n.Kind {
	case NodeKindQuestion, NodeKindCapture, NodeKindWait:
		return true
	default:
		return false
	}
}

// HasButton verifica si el nodo tiene un botón con el ID dado
func (n *Node) HasButton(buttonID string) bool {
	for _, b := range n.Buttons {
		if b.ID == buttonID {
			return true
		}
	}
	return false
}
