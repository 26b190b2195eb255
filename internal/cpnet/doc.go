// Package cpnet builds the Cellpose segmentation network (CPnet) and exports it to ONNX.
//
// The topology is fixed by the released Cellpose weights: four residual
// encoder stages with widths nbase = [2, 32, 64, 128, 256], a style vector
// pooled from the deepest stage, four residual decoder stages that add the
// projected style to every pixel, and a 1x1 output head with NOut channels.
// Parameter names follow the PyTorch module paths, so a state dict saved by
// Cellpose loads as-is.
//
// Export walks the network once for a trace input shape and emits the ONNX
// graph the PyTorch exporter produces for the module in eval mode:
// BatchNormalization with running statistics, Conv, Relu, MaxPool, Resize,
// Gemm, and the style normalization as Pow/ReduceSum/Div.
//
//	net, err := cpnet.New(cpnet.DefaultConfig(30))
//	if err != nil {
//	    return err
//	}
//	if err := net.LoadStateDict(sd); err != nil {
//	    return err
//	}
//	model, err := net.Export(cpnet.DefaultExportOptions())
package cpnet
