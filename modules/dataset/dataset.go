// Package dataset implements one-dimensional datasets for the lab library.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/specialistvlad/flowlab/internal/registry"
	"github.com/specialistvlad/flowlab/internal/workspace"
)

// Dataset is a sampled curve. Masked points are excluded from statistics
// and fits.
type Dataset struct {
	workspace.Handle
	X    []float64
	Y    []float64
	Mask []bool
}

func newDataset(x, y []float64) *Dataset {
	return &Dataset{X: x, Y: y, Mask: make([]bool, len(x))}
}

// Len returns the number of points.
func (d *Dataset) Len() int {
	return len(d.X)
}

// Active returns the unmasked points.
func (d *Dataset) Active() (x, y []float64) {
	for i := range d.X {
		if i < len(d.Mask) && d.Mask[i] {
			continue
		}
		x = append(x, d.X[i])
		y = append(y, d.Y[i])
	}
	return x, y
}

// Repr renders the dataset for the editor.
func (d *Dataset) Repr() (any, error) {
	if len(d.X) != len(d.Y) {
		return nil, fmt.Errorf("dataset %s: %d x values but %d y values", d.Varname(), len(d.X), len(d.Y))
	}
	return map[string]any{
		"varname": d.Varname(),
		"kind":    "Dataset",
		"x":       d.X,
		"y":       d.Y,
		"mask":    d.Mask,
	}, nil
}

// SetUserData applies editor input. {"mask": [lo, hi]} masks every point
// with x outside [lo, hi]; {"mask": null} clears the mask.
func (d *Dataset) SetUserData(data any) error {
	m, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("dataset user data must be an object, got %T", data)
	}
	raw, ok := m["mask"]
	if !ok {
		return errors.New("dataset user data: missing 'mask'")
	}
	if raw == nil {
		d.Mask = make([]bool, len(d.X))
		return nil
	}
	rv, err := registry.Coerce(raw, reflect.TypeOf([]float64(nil)))
	if err != nil {
		return fmt.Errorf("dataset user data: %w", err)
	}
	bounds := rv.Interface().([]float64)
	if len(bounds) != 2 || bounds[0] > bounds[1] {
		return fmt.Errorf("dataset user data: mask must be [lo, hi], got %v", bounds)
	}
	d.Mask = make([]bool, len(d.X))
	for i, x := range d.X {
		d.Mask[i] = x < bounds[0] || x > bounds[1]
	}
	return nil
}

// Linspace returns num evenly spaced points on [start, stop] with y = x.
func Linspace(start, stop float64, num int) (*Dataset, error) {
	if num < 2 {
		return nil, fmt.Errorf("linspace: num must be at least 2, got %d", num)
	}
	x := make([]float64, num)
	step := (stop - start) / float64(num-1)
	for i := range x {
		x[i] = start + step*float64(i)
	}
	return newDataset(x, append([]float64(nil), x...)), nil
}

// Sine samples amplitude*sin(2*pi*frequency*x) on the x values of ds.
func Sine(ds *Dataset, amplitude, frequency float64) (*Dataset, error) {
	if ds == nil {
		return nil, errors.New("sine: dataset is nil")
	}
	x := append([]float64(nil), ds.X...)
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = amplitude * math.Sin(2*math.Pi*frequency*v)
	}
	return newDataset(x, y), nil
}

// Add sums the y values of two datasets of equal length.
func Add(a, b *Dataset) (*Dataset, error) {
	if a == nil || b == nil {
		return nil, errors.New("add: dataset is nil")
	}
	if a.Len() != b.Len() {
		return nil, fmt.Errorf("add: length mismatch %d != %d", a.Len(), b.Len())
	}
	y := make([]float64, a.Len())
	for i := range y {
		y[i] = a.Y[i] + b.Y[i]
	}
	return newDataset(append([]float64(nil), a.X...), y), nil
}

// Scale returns a copy with y multiplied by factor.
func (d *Dataset) Scale(factor float64) *Dataset {
	out := d.clone()
	for i := range out.Y {
		out.Y[i] *= factor
	}
	return out
}

// Shift returns a copy with offset added to y.
func (d *Dataset) Shift(offset float64) *Dataset {
	out := d.clone()
	for i := range out.Y {
		out.Y[i] += offset
	}
	return out
}

// Mean returns the mean y of the unmasked points.
func (d *Dataset) Mean() (float64, error) {
	_, y := d.Active()
	if len(y) == 0 {
		return 0, errors.New("mean: no unmasked points")
	}
	var sum float64
	for _, v := range y {
		sum += v
	}
	return sum / float64(len(y)), nil
}

// Normalize scales y in place so its largest magnitude is 1.
func (d *Dataset) Normalize() error {
	var peak float64
	for _, v := range d.Y {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak == 0 {
		return errors.New("normalize: dataset is all zeros")
	}
	for i := range d.Y {
		d.Y[i] /= peak
	}
	return nil
}

func (d *Dataset) clone() *Dataset {
	return &Dataset{
		X:    append([]float64(nil), d.X...),
		Y:    append([]float64(nil), d.Y...),
		Mask: append([]bool(nil), d.Mask...),
	}
}
