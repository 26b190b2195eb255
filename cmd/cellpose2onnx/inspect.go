package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/born-ml/cellpose2onnx/internal/onnx"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <model.onnx>",
		Short: "Print a summary of an ONNX model and check its structure",
		Args:  cobra.ExactArgs(1),
		// No config needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := onnx.ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to load ONNX model: %w", err)
			}
			printSummary(cmd.OutOrStdout(), model)
			return onnx.Check(model)
		},
	}
}

func printSummary(w io.Writer, m *onnx.ModelProto) {
	fmt.Fprintf(w, "IR version: %d\n", m.IRVersion)
	fmt.Fprintf(w, "Opset version: %d\n", m.Opset())
	if m.ProducerName != "" {
		fmt.Fprintf(w, "Producer: %s %s\n", m.ProducerName, m.ProducerVersion)
	}
	for _, p := range m.MetadataProps {
		fmt.Fprintf(w, "Metadata %s: %s\n", p.Key, p.Value)
	}
	if m.Graph == nil {
		return
	}

	g := m.Graph
	for _, in := range g.Inputs {
		fmt.Fprintf(w, "Input %s %v\n", in.Name, in.Shape())
	}
	for _, out := range g.Outputs {
		fmt.Fprintf(w, "Output %s %v\n", out.Name, out.Shape())
	}

	var params int64
	for i := range g.Initializers {
		params += g.Initializers[i].NumElements()
	}
	fmt.Fprintf(w, "Initializers: %d (%d values)\n", len(g.Initializers), params)

	ops := make(map[string]int)
	for _, n := range g.Nodes {
		ops[n.OpType]++
	}
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "Nodes: %d\n", len(g.Nodes))
	for _, op := range names {
		fmt.Fprintf(w, "  %s: %d\n", op, ops[op])
	}
}
