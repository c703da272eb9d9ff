package flow

import (
	"time"

	"github.com/Abraxas-365/craftable/storex"
	"github.com/google/uuid"
	"github.com/inmobot/leadflow/pkg/kernel"
)

// ============================================================================
// Flow Document (import/export)
// ============================================================================

// FlowDocument representación serializada de un flow para import/export.
// El round-trip export → import reproduce un grafo idéntico.
type FlowDocument struct {
	Name            string         `json:"name" validate:"required,min=2"`
	TriggerKeywords []string       `json:"trigger_keywords"`
	StartNodeID     string         `json:"start_node_id" validate:"required"`
	Nodes           []NodeDocument `json:"nodes" validate:"required,min=1,dive"`
	Edges           []EdgeDocument `json:"edges" validate:"dive"`
}

// NodeDocument nodo serializado
type NodeDocument struct {
	ID      string         `json:"id" validate:"required"`
	Name    string         `json:"name"`
	Kind    string         `json:"kind" validate:"required"`
	Config  map[string]any `json:"config"`
	Buttons []Button       `json:"buttons,omitempty" validate:"max=3"`
}

// EdgeDocument arista serializada
type EdgeDocument struct {
	ID           string `json:"id" validate:"required"`
	SourceNodeID string `json:"source_node_id" validate:"required"`
	SourcePort   string `json:"source_port" validate:"required"`
	TargetNodeID string `json:"target_node_id" validate:"required"`
}

// Export serializa un flow a su documento
func (f *Flow) Export() FlowDocument {
	doc := FlowDocument{
		Name:            f.Name,
		TriggerKeywords: append([]string{}, f.TriggerKeywords...),
		StartNodeID:     f.StartNodeID.String(),
		Nodes:           make([]NodeDocument, 0, len(f.Nodes)),
		Edges:           make([]EdgeDocument, 0, len(f.Edges)),
	}
	for _, node := range f.Nodes {
		doc.Nodes = append(doc.Nodes, NodeDocument{
			ID:      node.ID.String(),
			Name:    node.Name,
			Kind:    string(node.Kind),
			Config:  node.Config,
			Buttons: node.Buttons,
		})
	}
	for _, edge := range f.Edges {
		doc.Edges = append(doc.Edges, EdgeDocument{
			ID:           edge.ID.String(),
			SourceNodeID: edge.SourceNodeID.String(),
			SourcePort:   edge.SourcePort,
			TargetNodeID: edge.TargetNodeID.String(),
		})
	}
	return doc
}

// ImportFlow materializa un documento como flow nuevo sin publicar.
// No valida el grafo; eso es trabajo del publish.
func ImportFlow(doc FlowDocument) *Flow {
	now := time.Now()
	f := &Flow{
		ID:              kernel.NewFlowID(uuid.New().String()),
		Name:            doc.Name,
		Version:         1,
		TriggerKeywords: append([]string{}, doc.TriggerKeywords...),
		StartNodeID:     kernel.NodeID(doc.StartNodeID),
		Nodes:           make([]Node, 0, len(doc.Nodes)),
		Edges:           make([]Edge, 0, len(doc.Edges)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, nd := range doc.Nodes {
		f.Nodes = append(f.Nodes, Node{
			ID:      kernel.NodeID(nd.ID),
			Name:    nd.Name,
			Kind:    NodeKind(nd.Kind),
			Config:  nd.Config,
			Buttons: nd.Buttons,
		})
	}
	for _, ed := range doc.Edges {
		f.Edges = append(f.Edges, Edge{
			ID:           kernel.EdgeID(ed.ID),
			SourceNodeID: kernel.NodeID(ed.SourceNodeID),
			SourcePort:   ed.SourcePort,
			TargetNodeID: kernel.NodeID(ed.TargetNodeID),
		})
	}
	return f
}

// ============================================================================
// Request / Response DTOs
// ============================================================================

type PublishFlowRequest struct {
	Document FlowDocument `json:"document" validate:"required"`
	Activate bool         `json:"activate"`
}

type PublishFlowResponse struct {
	Flow FlowDocument  `json:"flow"`
	ID   kernel.FlowID `json:"id"`
}

type FlowListRequest struct {
	storex.PaginationOptions
	IsActive *bool  `json:"is_active,omitempty"`
	Search   string `json:"search,omitempty"`
}

func (flr FlowListRequest) GetOffset() int {
	return (flr.Page - 1) * flr.PageSize
}

type FlowListResponse = storex.Paginated[Flow]

type InstanceListRequest struct {
	storex.PaginationOptions
	LeadID kernel.LeadID  `json:"lead_id,omitempty"`
	FlowID kernel.FlowID  `json:"flow_id,omitempty"`
	Status InstanceStatus `json:"status,omitempty"`
}

func (ilr InstanceListRequest) GetOffset() int {
	return (ilr.Page - 1) * ilr.PageSize
}

type InstanceListResponse = storex.Paginated[FlowInstance]

// ============================================================================
// Simple DTOs
// ============================================================================

type FlowDetailsDTO struct {
	ID        kernel.FlowID `json:"id"`
	Name      string        `json:"name"`
	Version   int           `json:"version"`
	IsActive  bool          `json:"is_active"`
	NodeCount int           `json:"node_count"`
}

func (f *Flow) ToDTO() FlowDetailsDTO {
	return FlowDetailsDTO{
		ID:        f.ID,
		Name:      f.Name,
		Version:   f.Version,
		IsActive:  f.IsActive,
		NodeCount: len(f.Nodes),
	}
}
