package replacement

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Approximator is a single linear layer mapping a feature vector to one
// value per action: out = x*W + b. There is no hidden layer and no activation.
type Approximator struct {
	inputs, outputs int
	learningRate    float64

	weights *mat.Dense    // inputs x outputs
	bias    *mat.VecDense // outputs
}

// NewApproximator initialises weights uniformly in [-initScale, initScale)
// from rng and the bias to zero.
func NewApproximator(inputs, outputs int, learningRate, initScale float64, rng *rand.Rand) (*Approximator, error) {
	if inputs <= 0 {
		return nil, ErrInvalidConfig("NewApproximator", "inputs", "must be greater than 0")
	}
	if outputs <= 0 {
		return nil, ErrInvalidConfig("NewApproximator", "outputs", "must be greater than 0")
	}
	w := make([]float64, inputs*outputs)
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * initScale
	}
	return &Approximator{
		inputs:       inputs,
		outputs:      outputs,
		learningRate: learningRate,
		weights:      mat.NewDense(inputs, outputs, w),
		bias:         mat.NewVecDense(outputs, nil),
	}, nil
}

// Inputs returns the expected feature vector length.
func (a *Approximator) Inputs() int { return a.inputs }

// Outputs returns the number of action values produced.
func (a *Approximator) Outputs() int { return a.outputs }

// Forward evaluates the layer. A feature vector of the wrong length is a
// configuration error.
func (a *Approximator) Forward(x []float64) ([]float64, error) {
	if len(x) != a.inputs {
		return nil, ErrFeatureMismatch("Approximator.Forward", len(x), a.inputs)
	}
	out := mat.NewVecDense(a.outputs, nil)
	out.MulVec(a.weights.T(), mat.NewVecDense(a.inputs, x))
	out.AddVec(out, a.bias)
	return out.RawVector().Data, nil
}

// Train takes one plain gradient-descent step on the squared error between
// Forward(x) and target.
func (a *Approximator) Train(x, target []float64) error {
	if len(target) != a.outputs {
		return ErrFeatureMismatch("Approximator.Train", len(target), a.outputs)
	}
	out, err := a.Forward(x)
	if err != nil {
		return err
	}
	diff := mat.NewVecDense(a.outputs, out)
	diff.SubVec(diff, mat.NewVecDense(a.outputs, target))

	a.weights.RankOne(a.weights, -a.learningRate, mat.NewVecDense(a.inputs, x), diff)
	a.bias.AddScaledVec(a.bias, -a.learningRate, diff)
	return nil
}

// Parameters returns copies of the weights (row-major, inputs x outputs)
// and the bias.
func (a *Approximator) Parameters() (weights, bias []float64) {
	weights = make([]float64, 0, a.inputs*a.outputs)
	for i := range a.inputs {
		weights = append(weights, a.weights.RawRowView(i)...)
	}
	bias = append([]float64(nil), a.bias.RawVector().Data...)
	return weights, bias
}

// SetParameters replaces the weights and bias wholesale.
func (a *Approximator) SetParameters(weights, bias []float64) error {
	if len(weights) != a.inputs*a.outputs {
		return ErrSnapshotMismatch("Approximator.SetParameters",
			"weight count does not match approximator shape")
	}
	if len(bias) != a.outputs {
		return ErrSnapshotMismatch("Approximator.SetParameters",
			"bias length does not match approximator outputs")
	}
	a.weights = mat.NewDense(a.inputs, a.outputs, append([]float64(nil), weights...))
	a.bias = mat.NewVecDense(a.outputs, append([]float64(nil), bias...))
	return nil
}
