// Package fitmodel implements parametric models and least-squares style
// fitting against datasets.
package fitmodel

import (
	"errors"
	"fmt"
	"math"
	"maps"
	"reflect"

	"github.com/specialistvlad/flowlab/internal/registry"
	"github.com/specialistvlad/flowlab/internal/workspace"
	"github.com/specialistvlad/flowlab/modules/dataset"
)

const (
	KindLinear   = "linear"
	KindGaussian = "gaussian"
)

// Model is a parametric curve.
type Model struct {
	workspace.Handle
	Kind     string
	Params   map[string]float64
	Fitted   bool
	Residual float64
}

// LinearModel returns y = slope*x + intercept.
func LinearModel(slope, intercept float64) *Model {
	return &Model{Kind: KindLinear, Params: map[string]float64{"slope": slope, "intercept": intercept}}
}

// GaussianModel returns y = amplitude*exp(-(x-center)^2 / (2*width^2)).
func GaussianModel(amplitude, center, width float64) (*Model, error) {
	if width <= 0 {
		return nil, fmt.Errorf("gaussian_model: width must be positive, got %g", width)
	}
	return &Model{Kind: KindGaussian, Params: map[string]float64{
		"amplitude": amplitude, "center": center, "width": width,
	}}, nil
}

// At evaluates the model at x.
func (m *Model) At(x float64) float64 {
	p := m.Params
	switch m.Kind {
	case KindLinear:
		return p["slope"]*x + p["intercept"]
	case KindGaussian:
		d := x - p["center"]
		return p["amplitude"] * math.Exp(-d*d/(2*p["width"]*p["width"]))
	}
	return math.NaN()
}

// Reset discards the fit state in place.
func (m *Model) Reset() {
	m.Fitted = false
	m.Residual = 0
}

// Repr renders the model for the editor.
func (m *Model) Repr() (any, error) {
	return map[string]any{
		"varname":  m.Varname(),
		"kind":     m.Kind,
		"params":   m.Params,
		"fitted":   m.Fitted,
		"residual": m.Residual,
	}, nil
}

// SetUserData overrides parameters from an object of numbers. Unknown
// parameter names are rejected.
func (m *Model) SetUserData(data any) error {
	rv, err := registry.Coerce(data, reflect.TypeOf(map[string]float64(nil)))
	if err != nil {
		return fmt.Errorf("model user data: %w", err)
	}
	overrides := rv.Interface().(map[string]float64)
	for k := range overrides {
		if _, ok := m.Params[k]; !ok {
			return fmt.Errorf("model user data: %s model has no parameter %q", m.Kind, k)
		}
	}
	maps.Copy(m.Params, overrides)
	m.Fitted = false
	return nil
}

func (m *Model) clone() *Model {
	return &Model{Kind: m.Kind, Params: maps.Clone(m.Params), Fitted: m.Fitted, Residual: m.Residual}
}

// Fit returns a copy of model fitted to the unmasked points of ds.
func Fit(model *Model, ds *dataset.Dataset) (*Model, error) {
	if model == nil || ds == nil {
		return nil, errors.New("fit: model and dataset are required")
	}
	x, y := ds.Active()
	if len(x) < 2 {
		return nil, fmt.Errorf("fit: need at least 2 unmasked points, got %d", len(x))
	}

	out := model.clone()
	switch model.Kind {
	case KindLinear:
		fitLinear(out, x, y)
	case KindGaussian:
		if err := fitGaussian(out, x, y); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("fit: unknown model kind %q", model.Kind)
	}

	var ss float64
	for i := range x {
		r := y[i] - out.At(x[i])
		ss += r * r
	}
	out.Residual = math.Sqrt(ss / float64(len(x)))
	out.Fitted = true
	return out, nil
}

func fitLinear(m *Model, x, y []float64) {
	n := float64(len(x))
	var sx, sy, sxx, sxy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
		sxx += x[i] * x[i]
		sxy += x[i] * y[i]
	}
	den := n*sxx - sx*sx
	if den == 0 {
		m.Params["slope"] = 0
		m.Params["intercept"] = sy / n
		return
	}
	m.Params["slope"] = (n*sxy - sx*sy) / den
	m.Params["intercept"] = (sy - m.Params["slope"]*sx) / n
}

// fitGaussian estimates the parameters from the moments of y.
func fitGaussian(m *Model, x, y []float64) error {
	var total, peak float64
	for _, v := range y {
		total += v
		peak = math.Max(peak, v)
	}
	if total <= 0 {
		return errors.New("fit: gaussian needs positive signal")
	}
	var center float64
	for i := range x {
		center += x[i] * y[i]
	}
	center /= total
	var variance float64
	for i := range x {
		d := x[i] - center
		variance += y[i] * d * d
	}
	variance /= total
	if variance <= 0 {
		return errors.New("fit: gaussian signal has zero width")
	}
	m.Params["amplitude"] = peak
	m.Params["center"] = center
	m.Params["width"] = math.Sqrt(variance)
	return nil
}

// Evaluate samples model on the x values of ds.
func Evaluate(model *Model, ds *dataset.Dataset) (*dataset.Dataset, error) {
	if model == nil || ds == nil {
		return nil, errors.New("evaluate: model and dataset are required")
	}
	x := append([]float64(nil), ds.X...)
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = model.At(v)
	}
	return &dataset.Dataset{X: x, Y: y, Mask: make([]bool, len(x))}, nil
}
