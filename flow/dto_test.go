package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowDocumentRoundTrip(t *testing.T) {
	f := validFlow()
	f.TriggerKeywords = []string{"info", "casa"}
	f.Nodes[0].Buttons = []Button{{ID: "yes", Label: "Sí"}}
	f.Edges = append(f.Edges, edge("e2", "n1", "yes", "n2"))

	doc := f.Export()
	imported := ImportFlow(doc)

	// El import asigna identidad nueva; el grafo debe ser idéntico
	assert.Equal(t, f.Name, imported.Name)
	assert.Equal(t, f.TriggerKeywords, imported.TriggerKeywords)
	assert.Equal(t, f.StartNodeID, imported.StartNodeID)
	require.Len(t, imported.Nodes, len(f.Nodes))
	for i := range f.Nodes {
		assert.Equal(t, f.Nodes[i].ID, imported.Nodes[i].ID)
		assert.Equal(t, f.Nodes[i].Kind, imported.Nodes[i].Kind)
		assert.Equal(t, f.Nodes[i].Buttons, imported.Nodes[i].Buttons)
	}
	assert.Equal(t, f.Edges, imported.Edges)

	// Y volver a validar sin errores
	assert.NoError(t, ValidateGraph(imported))
}

func TestImportFlowStartsUnpublished(t *testing.T) {
	imported := ImportFlow(validFlow().Export())
	assert.False(t, imported.IsPublished())
	assert.False(t, imported.IsActive)
	assert.Equal(t, 1, imported.Version)
	assert.False(t, imported.ID.IsEmpty())
}
