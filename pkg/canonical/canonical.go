// Package canonical converts decoded pixel data of any sample type and channel
// count into the uint8 grayscale layout shared by volumes and masks.
package canonical

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"proofread/internal/models"
)

// Luminance weights applied to RGB samples.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// ToUint8 returns the canonical uint8 form of raw.
//
// Color input is first reduced to one luminance channel. Data that is already
// uint8 is copied as-is; anything else is linearly stretched so that its minimum
// maps to 0 and its maximum to 255. Constant data maps to all zeros.
func ToUint8(raw *models.RawArray) *models.Array {
	samples := Grayscale(raw)
	out := models.NewArray(raw.Shape)
	n := len(out.Data)
	if len(samples) < n {
		n = len(samples)
	}
	if n == 0 {
		return out
	}

	if raw.DType == models.Uint8 {
		for i := 0; i < n; i++ {
			out.Data[i] = clampByte(samples[i])
		}
		return out
	}

	lo, hi := floats.Min(samples[:n]), floats.Max(samples[:n])
	if hi <= lo || math.IsNaN(lo) || math.IsNaN(hi) {
		return out
	}
	scale := 255.0 / (hi - lo)
	for i := 0; i < n; i++ {
		out.Data[i] = clampByte(math.Round((samples[i] - lo) * scale))
	}
	return out
}

// FromArray wraps a canonical array as uint8 raw input.
func FromArray(a *models.Array) *models.RawArray {
	samples := make([]float64, len(a.Data))
	for i, v := range a.Data {
		samples[i] = float64(v)
	}
	return &models.RawArray{
		Shape:    a.Shape.Clone(),
		Channels: 1,
		DType:    models.Uint8,
		Samples:  samples,
	}
}

// Grayscale returns one sample per pixel. RGB(A) pixels are reduced by luminance and
// rounded, alpha is discarded, and gray+alpha pixels keep their gray sample.
func Grayscale(raw *models.RawArray) []float64 {
	ch := raw.NumChannels()
	if ch == 1 {
		return raw.Samples
	}
	pixels := len(raw.Samples) / ch
	out := make([]float64, pixels)
	for p := 0; p < pixels; p++ {
		px := raw.Samples[p*ch : (p+1)*ch]
		if ch < 3 {
			out[p] = px[0]
			continue
		}
		out[p] = math.Round(lumaR*px[0] + lumaG*px[1] + lumaB*px[2])
	}
	return out
}

func clampByte(v float64) uint8 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

// Summary describes the intensity distribution of a canonical array.
type Summary struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Stats computes intensity statistics over every element of a.
func Stats(a *models.Array) Summary {
	if len(a.Data) == 0 {
		return Summary{}
	}
	values := make([]float64, len(a.Data))
	for i, v := range a.Data {
		values[i] = float64(v)
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	return Summary{
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Mean:   mean,
		StdDev: std,
	}
}
