package network

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Activation selects the nonlinearity applied after a dense layer.
type Activation int

const (
	// Identity applies no nonlinearity.
	Identity Activation = iota
	// ReLU applies max(0, x).
	ReLU
	// Tanh applies the hyperbolic tangent.
	Tanh
)

func (a Activation) apply(x float64) float64 {
	switch a {
	case ReLU:
		return math.Max(0, x)
	case Tanh:
		return math.Tanh(x)
	default:
		return x
	}
}

// deriv returns the activation derivative at pre-activation x with
// activation output y.
func (a Activation) deriv(x, y float64) float64 {
	switch a {
	case ReLU:
		if x > 0 {
			return 1
		}
		return 0
	case Tanh:
		return 1 - y*y
	default:
		return 1
	}
}

// dense is one fully connected layer, y = act(x W^T + b), caching its
// input and pre-activations between Forward and Backward.
type dense struct {
	weight *Param // out x in
	bias   *Param // 1 x out
	act    Activation

	in  *mat.Dense // cached input, batch x in
	pre *mat.Dense // cached pre-activation, batch x out
	out *mat.Dense // cached output, batch x out
}

func newDense(name string, in, out int, act Activation,
	rng *rand.Rand) *dense {
	w := mat.NewDense(out, in, nil)
	scale := math.Sqrt(2.0 / float64(in))
	for i := 0; i < out; i++ {
		for j := 0; j < in; j++ {
			w.Set(i, j, (rng.Float64()*2-1)*scale)
		}
	}
	return &dense{
		weight: newParam(name+".weight", w),
		bias:   newParam(name+".bias", mat.NewDense(1, out, nil)),
		act:    act,
	}
}

func (d *dense) forward(x *mat.Dense) *mat.Dense {
	batch, _ := x.Dims()
	out, _ := d.weight.Value.Dims()

	pre := mat.NewDense(batch, out, nil)
	pre.Mul(x, d.weight.Value.T())
	for i := 0; i < batch; i++ {
		for j := 0; j < out; j++ {
			pre.Set(i, j, pre.At(i, j)+d.bias.Value.At(0, j))
		}
	}

	y := mat.NewDense(batch, out, nil)
	for i := 0; i < batch; i++ {
		for j := 0; j < out; j++ {
			y.Set(i, j, d.act.apply(pre.At(i, j)))
		}
	}

	d.in, d.pre, d.out = x, pre, y
	return y
}

// backward consumes the gradient of the objective with respect to the
// layer output, accumulates parameter gradients, and returns the
// gradient with respect to the layer input.
func (d *dense) backward(dOut *mat.Dense) *mat.Dense {
	batch, out := d.pre.Dims()
	_, in := d.in.Dims()

	dPre := mat.NewDense(batch, out, nil)
	for i := 0; i < batch; i++ {
		for j := 0; j < out; j++ {
			dPre.Set(i, j,
				dOut.At(i, j)*d.act.deriv(d.pre.At(i, j), d.out.At(i, j)))
		}
	}

	var dW mat.Dense
	dW.Mul(dPre.T(), d.in)
	d.weight.Grad.Add(d.weight.Grad, &dW)

	for j := 0; j < out; j++ {
		sum := 0.0
		for i := 0; i < batch; i++ {
			sum += dPre.At(i, j)
		}
		d.bias.Grad.Set(0, j, d.bias.Grad.At(0, j)+sum)
	}

	dIn := mat.NewDense(batch, in, nil)
	dIn.Mul(dPre, d.weight.Value)
	return dIn
}

func (d *dense) clone() *dense {
	return &dense{
		weight: d.weight.clone(),
		bias:   d.bias.clone(),
		act:    d.act,
	}
}

// MLP is a multilayer perceptron with explicit forward and backward
// passes over batches of row-vector inputs.
type MLP struct {
	layers []*dense
	inDim  int
	outDim int
}

// NewMLP returns an MLP mapping inDim inputs through the given hidden
// layer widths (each followed by hiddenAct) to outDim outputs followed
// by outAct. Weights are initialized from a scaled uniform
// distribution drawn from rng.
func NewMLP(name string, inDim int, hidden []int, outDim int,
	hiddenAct, outAct Activation, rng *rand.Rand) (*MLP, error) {
	if inDim <= 0 || outDim <= 0 {
		return nil, errors.Errorf("network: nonpositive MLP dimensions "+
			"(%d in, %d out)", inDim, outDim)
	}

	widths := append([]int{inDim}, hidden...)
	widths = append(widths, outDim)

	layers := make([]*dense, 0, len(widths)-1)
	for i := 0; i < len(widths)-1; i++ {
		act := hiddenAct
		if i == len(widths)-2 {
			act = outAct
		}
		layers = append(layers, newDense(
			fmt.Sprintf("%s.%d", name, i), widths[i], widths[i+1], act, rng))
	}
	return &MLP{layers: layers, inDim: inDim, outDim: outDim}, nil
}

// Forward runs the batch through the network, caching intermediate
// values for Backward.
func (m *MLP) Forward(x *mat.Dense) *mat.Dense {
	out := x
	for _, l := range m.layers {
		out = l.forward(out)
	}
	return out
}

// Backward consumes the gradient with respect to the last Forward
// output, accumulates parameter gradients, and returns the gradient
// with respect to the input batch.
func (m *MLP) Backward(dOut *mat.Dense) *mat.Dense {
	grad := dOut
	for i := len(m.layers) - 1; i >= 0; i-- {
		grad = m.layers[i].backward(grad)
	}
	return grad
}

// Learnables returns the weight and bias parameters of every layer.
func (m *MLP) Learnables() []*Param {
	params := make([]*Param, 0, 2*len(m.layers))
	for _, l := range m.layers {
		params = append(params, l.weight, l.bias)
	}
	return params
}

// ZeroGrad clears every accumulated gradient.
func (m *MLP) ZeroGrad() {
	zeroAll(m.Learnables())
}

// Clone returns a structurally identical deep copy with independent
// parameters equal to the receiver's.
func (m *MLP) Clone() *MLP {
	layers := make([]*dense, len(m.layers))
	for i, l := range m.layers {
		layers[i] = l.clone()
	}
	return &MLP{layers: layers, inDim: m.inDim, outDim: m.outDim}
}

// InDim returns the input dimensionality.
func (m *MLP) InDim() int { return m.inDim }

// OutDim returns the output dimensionality.
func (m *MLP) OutDim() int { return m.outDim }
