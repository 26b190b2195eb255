// Package onnx reads and writes ONNX models.
//
// ONNX (Open Neural Network Exchange) is an open format for representing deep learning models.
// This package keeps a hand-written subset of the onnx.proto message types and encodes them
// with google.golang.org/protobuf/encoding/protowire, so no generated code is needed.
//
// Key components:
//   - ModelProto, GraphProto, NodeProto, TensorProto: the model structure
//   - Builder: appends nodes and initializers while a network is walked
//   - FoldConstants: turns Constant nodes into initializers
//   - Check: structural validation of a parsed or built model
//   - Marshal/WriteFile and Parse/ParseFile: wire format encoding and decoding
//
// Example usage:
//
//	model, err := onnx.ParseFile("cyto3.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := onnx.Check(model); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("opset %d, %d nodes\n", model.Opset(), len(model.Graph.Nodes))
package onnx
