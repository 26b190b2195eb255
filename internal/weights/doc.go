// Package weights deserializes network parameters into a StateDict.
//
// Supported formats:
//   - PyTorch state dicts written by torch.save (zip container and legacy pickle),
//     read with github.com/nlpodyssey/gopickle
//   - SafeTensors (F32, F64, F16, BF16, I32, I64)
//
// All floating point tensors are returned as float32. Use Load to pick the
// reader from the file contents:
//
//	sd, err := weights.Load("/home/me/.cellpose/models/cyto3")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	w, _ := sd.Get("output.2.weight")
//	fmt.Println(w.Shape) // [3 32 1 1]
package weights
