package onnx

// FoldConstants replaces Constant nodes with initializers named after the
// node output, the way an exporter's constant-folding pass stores constants.
// It returns the number of nodes removed.
func FoldConstants(g *GraphProto) int {
	kept := g.Nodes[:0]
	folded := 0
	for _, n := range g.Nodes {
		if n.OpType != "Constant" || n.Domain != "" || len(n.Outputs) != 1 {
			kept = append(kept, n)
			continue
		}
		value, ok := n.Attribute("value")
		if !ok || value.T == nil {
			kept = append(kept, n)
			continue
		}
		t := *value.T
		t.Name = n.Outputs[0]
		g.Initializers = append(g.Initializers, t)
		folded++
	}
	g.Nodes = kept
	return folded
}
