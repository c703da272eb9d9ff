package flow

import (
	"fmt"

	"github.com/inmobot/leadflow/pkg/kernel"
)

// ============================================================================
// Graph Validation (publish time)
// ============================================================================

// ValidateGraph valida el grafo completo antes de publicar. Un grafo que pasa
// esta validación no produce errores de configuración en runtime: puertos
// false sin cablear, predicados desconocidos y aristas colgantes se rechazan
// aquí y el publish falla.
func ValidateGraph(f *Flow) error {
	if !f.IsValid() {
		return ErrInvalidFlowGraph().WithDetail("reason", "flow requires name, nodes and start node")
	}

	nodeIDs := make(map[kernel.NodeID]bool)
	for _, node := range f.Nodes {
		if node.ID.IsEmpty() {
			return ErrInvalidFlowGraph().WithDetail("reason", "node has no ID")
		}
		if nodeIDs[node.ID] {
			return ErrInvalidFlowGraph().
				WithDetail("node_id", node.ID.String()).
				WithDetail("reason", "duplicate node ID")
		}
		nodeIDs[node.ID] = true

		if err := ValidateNodePayload(node); err != nil {
			return err
		}

		if err := validateButtons(node); err != nil {
			return err
		}
	}

	if !nodeIDs[f.StartNodeID] {
		return ErrInvalidFlowGraph().
			WithDetail("start_node_id", f.StartNodeID.String()).
			WithDetail("reason", "start node does not exist")
	}

	if err := validateEdges(f, nodeIDs); err != nil {
		return err
	}

	if err := validateConditionPorts(f); err != nil {
		return err
	}

	if err := validateReachability(f); err != nil {
		return err
	}

	return nil
}

func validateButtons(node Node) error {
	if len(node.Buttons) == 0 {
		return nil
	}
	if node.Kind != NodeKindMessage && node.Kind != NodeKindQuestion {
		return ErrInvalidFlowGraph().
			WithDetail("node_id", node.ID.String()).
			WithDetail("reason", "buttons are only allowed on Message and Question nodes")
	}
	if len(node.Buttons) > MaxButtonsPerNode {
		return ErrInvalidFlowGraph().
			WithDetail("node_id", node.ID.String()).
			WithDetail("reason", fmt.Sprintf("at most %d buttons per node", MaxButtonsPerNode))
	}
	seen := make(map[string]bool)
	for _, b := range node.Buttons {
		if b.ID == "" || b.Label == "" {
			return ErrInvalidFlowGraph().
				WithDetail("node_id", node.ID.String()).
				WithDetail("reason", "button requires id and label")
		}
		if b.ID == PortMain || b.ID == PortFalse {
			return ErrInvalidFlowGraph().
				WithDetail("node_id", node.ID.String()).
				WithDetail("reason", "button id collides with a reserved port")
		}
		if seen[b.ID] {
			return ErrInvalidFlowGraph().
				WithDetail("node_id", node.ID.String()).
				WithDetail("button_id", b.ID).
				WithDetail("reason", "duplicate button ID")
		}
		seen[b.ID] = true
	}
	return nil
}

func validateEdges(f *Flow, nodeIDs map[kernel.NodeID]bool) error {
	edgeIDs := make(map[kernel.EdgeID]bool)
	ports := make(map[string]bool) // "{nodeID}:{port}" -> wired

	for _, edge := range f.Edges {
		if edge.ID.IsEmpty() {
			return ErrInvalidFlowGraph().WithDetail("reason", "edge has no ID")
		}
		if edgeIDs[edge.ID] {
			return ErrInvalidFlowGraph().
				WithDetail("edge_id", edge.ID.String()).
				WithDetail("reason", "duplicate edge ID")
		}
		edgeIDs[edge.ID] = true

		if !nodeIDs[edge.SourceNodeID] {
			return ErrDanglingEdge().
				WithDetail("edge_id", edge.ID.String()).
				WithDetail("source_node_id", edge.SourceNodeID.String())
		}
		if !nodeIDs[edge.TargetNodeID] {
			return ErrDanglingEdge().
				WithDetail("edge_id", edge.ID.String()).
				WithDetail("target_node_id", edge.TargetNodeID.String())
		}

		source := f.GetNodeByID(edge.SourceNodeID)
		if err := validateSourcePort(source, edge); err != nil {
			return err
		}

		portKey := edge.SourceNodeID.String() + ":" + edge.SourcePort
		if ports[portKey] {
			return ErrInvalidFlowGraph().
				WithDetail("edge_id", edge.ID.String()).
				WithDetail("reason", "port already wired").
				WithDetail("port", portKey)
		}
		ports[portKey] = true
	}

	return nil
}

func validateSourcePort(source *Node, edge Edge) error {
	switch edge.SourcePort {
	case PortMain:
		return nil
	case PortFalse:
		if source.Kind != NodeKindCondition {
			return ErrInvalidFlowGraph().
				WithDetail("edge_id", edge.ID.String()).
				WithDetail("reason", "false port is only valid on Condition nodes")
		}
		return nil
	default:
		if !source.HasButton(edge.SourcePort) {
			return ErrInvalidFlowGraph().
				WithDetail("edge_id", edge.ID.String()).
				WithDetail("source_port", edge.SourcePort).
				WithDetail("reason", "source port does not match any button on the node")
		}
		return nil
	}
}

// validateConditionPorts exige que todo nodo Condition tenga cableados tanto
// el puerto main (true) como el false; de otro modo la rama muerta solo se
// descubriría en runtime con el lead a mitad de conversación.
func validateConditionPorts(f *Flow) error {
	for _, node := range f.Nodes {
		if node.Kind != NodeKindCondition {
			continue
		}
		if f.OutgoingEdge(node.ID, PortMain) == nil {
			return ErrInvalidFlowGraph().
				WithDetail("node_id", node.ID.String()).
				WithDetail("reason", "condition node has no main (true) edge")
		}
		if f.OutgoingEdge(node.ID, PortFalse) == nil {
			return ErrMissingFalsePort().WithDetail("node_id", node.ID.String())
		}
	}
	return nil
}

// validateReachability rechaza nodos inalcanzables desde el nodo inicial
func validateReachability(f *Flow) error {
	reachable := make(map[kernel.NodeID]bool)
	queue := []kernel.NodeID{f.StartNodeID}
	reachable[f.StartNodeID] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, edge := range f.Edges {
			if edge.SourceNodeID != current || reachable[edge.TargetNodeID] {
				continue
			}
			reachable[edge.TargetNodeID] = true
			queue = append(queue, edge.TargetNodeID)
		}
	}

	for _, node := range f.Nodes {
		if !reachable[node.ID] {
			return ErrInvalidFlowGraph().
				WithDetail("node_id", node.ID.String()).
				WithDetail("reason", "node is not reachable from the start node")
		}
	}
	return nil
}
