package onnx

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidModel is returned (wrapped in a *CheckError) when a model fails
// structural validation.
var ErrInvalidModel = errors.New("invalid onnx model")

// CheckError lists every structural problem found in a model.
type CheckError struct {
	Problems []string
}

// Error implements the error interface.
func (e *CheckError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidModel, strings.Join(e.Problems, "; "))
}

// Unwrap lets errors.Is match ErrInvalidModel.
func (e *CheckError) Unwrap() error {
	return ErrInvalidModel
}

// Check validates the structure of a model:
//   - the default opset is imported
//   - graph inputs, initializers and node outputs define each value at most once
//   - every node input is defined before the node (graph is topologically sorted)
//   - every graph output is produced
//   - initializer data length matches its dimensions
//   - Conv and pooling nodes carry pads and strides matching kernel_shape
//
// It does not run shape inference or check operator schemas.
func Check(m *ModelProto) error {
	var problems []string
	if m.Opset() == 0 {
		problems = append(problems, "default opset not imported")
	}
	g := m.Graph
	if g == nil {
		return &CheckError{Problems: append(problems, "missing graph")}
	}

	defined := make(map[string]bool)
	define := func(name, what string) {
		if name == "" {
			return
		}
		if defined[name] {
			problems = append(problems, fmt.Sprintf("%s %q defined more than once", what, name))
		}
		defined[name] = true
	}

	for _, in := range g.Inputs {
		define(in.Name, "input")
	}
	for i := range g.Initializers {
		t := &g.Initializers[i]
		define(t.Name, "initializer")
		if t.DataType == TensorProtoFloat && len(t.RawData) > 0 && int64(len(t.RawData)) != 4*t.NumElements() {
			problems = append(problems, fmt.Sprintf("initializer %q has %d bytes for %v", t.Name, len(t.RawData), t.Dims))
		}
	}
	for _, n := range g.Nodes {
		if n.OpType == "" {
			problems = append(problems, fmt.Sprintf("node %q has no op type", n.Name))
		}
		problems = append(problems, checkWindow(&n)...)
		for _, in := range n.Inputs {
			if in != "" && !defined[in] {
				problems = append(problems, fmt.Sprintf("node %q (%s) uses undefined value %q", n.Name, n.OpType, in))
			}
		}
		for _, out := range n.Outputs {
			define(out, "value")
		}
	}
	for _, out := range g.Outputs {
		if !defined[out.Name] {
			problems = append(problems, fmt.Sprintf("output %q is never produced", out.Name))
		}
	}

	if len(problems) > 0 {
		return &CheckError{Problems: problems}
	}
	return nil
}

// windowOps are the operators whose pads and strides follow kernel_shape.
var windowOps = map[string]bool{
	"Conv":        true,
	"MaxPool":     true,
	"AveragePool": true,
}

// checkWindow reports kernel_shape, pads, strides and dilations whose length
// disagrees with the kernel rank. Missing attributes take the operator default.
func checkWindow(n *NodeProto) []string {
	if !windowOps[n.OpType] {
		return nil
	}
	kernel, ok := n.Attribute("kernel_shape")
	if !ok {
		if n.OpType == "Conv" {
			return nil
		}
		return []string{fmt.Sprintf("node %q (%s) has no kernel_shape", n.Name, n.OpType)}
	}
	rank := len(kernel.Ints)
	if rank == 0 {
		return []string{fmt.Sprintf("node %q (%s) has empty kernel_shape", n.Name, n.OpType)}
	}

	var problems []string
	want := map[string]int{"pads": 2 * rank, "strides": rank, "dilations": rank}
	for _, name := range []string{"pads", "strides", "dilations"} {
		a, ok := n.Attribute(name)
		if !ok {
			continue
		}
		if len(a.Ints) != want[name] {
			problems = append(problems, fmt.Sprintf("node %q (%s) has %d %s for kernel rank %d",
				n.Name, n.OpType, len(a.Ints), name, rank))
		}
	}
	return problems
}
