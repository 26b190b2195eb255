package cpnet

import (
	"math"
	"math/rand/v2"

	"github.com/born-ml/cellpose2onnx/internal/weights"
)

// InitStateDict returns a freshly initialized state dict for the network,
// laid out like torch.save(CPnet(...).state_dict()): BatchNorm weights 1,
// biases and running means 0, running variances 1, convolution and linear
// weights drawn uniformly from ±1/sqrt(fan_in) (seeded, so reproducible).
//
// The num_batches_tracked buffers and the diam_mean/diam_labels parameters
// are included so the result has every key a trained checkpoint has.
func (n *Network) InitStateDict(seed uint64) *weights.StateDict {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	sd := weights.NewStateDict()

	for _, p := range n.Parameters() {
		t := &weights.Tensor{Shape: append([]int(nil), p.Shape...)}
		t.Data = make([]float32, t.NumElements())
		switch p.kind {
		case kindWeight:
			fanIn := 1
			for _, d := range p.Shape[1:] {
				fanIn *= d
			}
			bound := 1 / math.Sqrt(float64(fanIn))
			for i := range t.Data {
				t.Data[i] = float32((rng.Float64()*2 - 1) * bound)
			}
		case kindScale, kindRunningVar:
			for i := range t.Data {
				t.Data[i] = 1
			}
		case kindBias, kindRunningMean:
			// zeros
		}
		sd.Set(p.Name, t)

		if p.kind == kindRunningVar {
			prefix := p.Name[:len(p.Name)-len(".running_var")]
			sd.Set(prefix+".num_batches_tracked", &weights.Tensor{Shape: []int{}, Ints: []int64{0}})
		}
	}

	diam := float32(n.cfg.DiamMean)
	sd.Set("diam_mean", &weights.Tensor{Shape: []int{1}, Data: []float32{diam}})
	sd.Set("diam_labels", &weights.Tensor{Shape: []int{1}, Data: []float32{diam}})
	return sd
}
