package flow_test

import (
	"context"
	"testing"

	"github.com/inmobot/leadflow/flow"
	"github.com/inmobot/leadflow/flow/flowinfra"
	"github.com/inmobot/leadflow/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishableDocument(name string) flow.FlowDocument {
	return flow.FlowDocument{
		Name:            name,
		TriggerKeywords: []string{"info"},
		StartNodeID:     "n1",
		Nodes: []flow.NodeDocument{
			{ID: "n1", Kind: string(flow.NodeKindMessage), Config: map[string]any{"text": "Hola"}},
			{ID: "n2", Kind: string(flow.NodeKindMessage), Config: map[string]any{"text": "Adiós"}},
		},
		Edges: []flow.EdgeDocument{
			{ID: "e1", SourceNodeID: "n1", SourcePort: flow.PortMain, TargetNodeID: "n2"},
		},
	}
}

func TestServicePublish(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes a valid flow as version 1", func(t *testing.T) {
		svc := flow.NewService(flowinfra.NewMemoryFlowRepository())

		resp, err := svc.Publish(ctx, flow.PublishFlowRequest{
			Document: publishableDocument("qualification"),
			Activate: true,
		})
		require.NoError(t, err)

		saved, err := svc.GetFlow(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, saved.Version)
		assert.True(t, saved.IsActive)
		assert.True(t, saved.IsPublished())
	})

	t.Run("republish bumps the version and deactivates the prior one", func(t *testing.T) {
		repo := flowinfra.NewMemoryFlowRepository()
		svc := flow.NewService(repo)

		first, err := svc.Publish(ctx, flow.PublishFlowRequest{
			Document: publishableDocument("qualification"),
			Activate: true,
		})
		require.NoError(t, err)

		second, err := svc.Publish(ctx, flow.PublishFlowRequest{
			Document: publishableDocument("qualification"),
			Activate: true,
		})
		require.NoError(t, err)

		// Misma identidad, versión siguiente
		assert.Equal(t, first.ID, second.ID)

		latest, err := repo.FindByID(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Version)
		assert.True(t, latest.IsActive)

		// Las instancias en vuelo siguen resolviendo la versión anclada
		prior, err := repo.FindByIDAndVersion(ctx, first.ID, 1)
		require.NoError(t, err)
		assert.False(t, prior.IsActive)
	})

	t.Run("rejects an invalid graph", func(t *testing.T) {
		svc := flow.NewService(flowinfra.NewMemoryFlowRepository())

		doc := publishableDocument("broken")
		doc.StartNodeID = "ghost"
		_, err := svc.Publish(ctx, flow.PublishFlowRequest{Document: doc})
		assert.Error(t, err)
	})
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := flow.NewService(flowinfra.NewMemoryFlowRepository())

	resp, err := svc.Publish(ctx, flow.PublishFlowRequest{
		Document: publishableDocument("lifecycle"),
	})
	require.NoError(t, err)

	t.Run("activate and deactivate", func(t *testing.T) {
		require.NoError(t, svc.ActivateFlow(ctx, resp.ID))
		f, err := svc.GetFlow(ctx, resp.ID)
		require.NoError(t, err)
		assert.True(t, f.IsActive)

		require.NoError(t, svc.DeactivateFlow(ctx, resp.ID))
		f, err = svc.GetFlow(ctx, resp.ID)
		require.NoError(t, err)
		assert.False(t, f.IsActive)
	})

	t.Run("delete refuses an active flow", func(t *testing.T) {
		require.NoError(t, svc.ActivateFlow(ctx, resp.ID))
		assert.Error(t, svc.DeleteFlow(ctx, resp.ID))

		require.NoError(t, svc.DeactivateFlow(ctx, resp.ID))
		require.NoError(t, svc.DeleteFlow(ctx, resp.ID))

		_, err := svc.GetFlow(ctx, resp.ID)
		assert.Error(t, err)
	})

	t.Run("export returns the document", func(t *testing.T) {
		resp2, err := svc.Publish(ctx, flow.PublishFlowRequest{
			Document: publishableDocument("exportable"),
		})
		require.NoError(t, err)

		doc, err := svc.ExportFlow(ctx, resp2.ID)
		require.NoError(t, err)
		assert.Equal(t, "exportable", doc.Name)
		assert.Len(t, doc.Nodes, 2)
	})

	t.Run("get missing flow", func(t *testing.T) {
		_, err := svc.GetFlow(ctx, kernel.NewFlowID("ghost"))
		assert.Error(t, err)
	})
}
