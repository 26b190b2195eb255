package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldConstants(t *testing.T) {
	model := buildReluModel(t)
	g := model.Graph

	folded := FoldConstants(g)
	assert.Equal(t, 1, folded)

	require.Len(t, g.Nodes, 3)
	for _, n := range g.Nodes {
		assert.NotEqual(t, "Constant", n.OpType)
	}

	require.Len(t, g.Initializers, 2)
	constName := g.Nodes[1].Inputs[1]
	assert.Equal(t, constName, g.Initializers[1].Name)
	assert.Equal(t, []float32{2}, g.Initializers[1].Floats())

	assert.NoError(t, Check(model))
}

func TestFoldConstantsNoop(t *testing.T) {
	model := buildReluModel(t)
	FoldConstants(model.Graph)

	assert.Equal(t, 0, FoldConstants(model.Graph))
}
