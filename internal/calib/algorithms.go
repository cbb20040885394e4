package calib

import (
	"context"
	"sort"
	"strconv"

	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
)

// Result carries per-step statistics surfaced into job metadata and metrics.
type Result struct {
	CosmicRaysRemoved int     `json:"cosmic_rays_removed,omitempty"`
	PixelsAdjusted    int     `json:"pixels_adjusted,omitempty"`
	MeanLevel         float64 `json:"mean_level,omitempty"`
}

// Algorithm is one executable calibration variant. Apply transforms the
// frame's pixel payload and never mutates the input slice.
type Algorithm interface {
	Info() AlgorithmInfo
	Apply(ctx context.Context, frame []byte, params map[string]string) ([]byte, Result, error)
}

// ForStep resolves the executable variant for (stepType, algorithmId).
// Empty id means the default. Unsupported or unknown combinations fail with
// KindAlgorithmUnsupported so the job records a non-retryable error.
func (r *Registry) ForStep(stepType, id string) (Algorithm, error) {
	if id == "" {
		id = DefaultAlgorithmID
	}
	step := NormalizeStepType(stepType)
	info, ok := r.Get(step, id)
	if !ok {
		return nil, apperr.Ef(apperr.KindAlgorithmUnsupported, nil, "no algorithm %q for step %q", id, step)
	}
	if !info.Supported {
		return nil, apperr.Ef(apperr.KindAlgorithmUnsupported, nil, "algorithm %q for step %q is not supported", id, step)
	}
	switch step {
	case StepDarkSubtraction:
		return &darkSubtraction{info: info}, nil
	case StepFlatCorrection:
		return &flatCorrection{info: info}, nil
	case StepCosmicRayRemoval:
		return &cosmicRayRemoval{info: info}, nil
	case StepBiasSubtraction:
		return &biasSubtraction{info: info}, nil
	default:
		return nil, apperr.Ef(apperr.KindAlgorithmUnsupported, nil, "step %q has no executable binding", step)
	}
}

func paramInt(params map[string]string, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	raw, ok := params[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// darkSubtraction subtracts the frame's dark floor, estimated as the low
// quartile of the pixel distribution.
type darkSubtraction struct {
	info AlgorithmInfo
}

func (a *darkSubtraction) Info() AlgorithmInfo { return a.info }

func (a *darkSubtraction) Apply(ctx context.Context, frame []byte, params map[string]string) ([]byte, Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, Result{}, apperr.E(apperr.KindCanceled, "dark subtraction interrupted", err)
	}
	if len(frame) == 0 {
		return nil, Result{}, apperr.Ef(apperr.KindValidation, nil, "empty frame")
	}
	floor := quantile(frame, 0.25)
	out := make([]byte, len(frame))
	adjusted := 0
	var sum int64
	for i, px := range frame {
		v := int(px) - int(floor)
		if v < 0 {
			v = 0
		}
		if byte(v) != px {
			adjusted++
		}
		out[i] = byte(v)
		sum += int64(v)
	}
	return out, Result{PixelsAdjusted: adjusted, MeanLevel: float64(sum) / float64(len(out))}, nil
}

// flatCorrection rescales pixels against the frame median to flatten the
// sensitivity profile.
type flatCorrection struct {
	info AlgorithmInfo
}

func (a *flatCorrection) Info() AlgorithmInfo { return a.info }

func (a *flatCorrection) Apply(ctx context.Context, frame []byte, params map[string]string) ([]byte, Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, Result{}, apperr.E(apperr.KindCanceled, "flat correction interrupted", err)
	}
	if len(frame) == 0 {
		return nil, Result{}, apperr.Ef(apperr.KindValidation, nil, "empty frame")
	}
	med := quantile(frame, 0.5)
	if med == 0 {
		med = 1
	}
	out := make([]byte, len(frame))
	adjusted := 0
	var sum int64
	for i, px := range frame {
		v := (int(px) * 128) / int(med)
		if v > 255 {
			v = 255
		}
		if byte(v) != px {
			adjusted++
		}
		out[i] = byte(v)
		sum += int64(v)
	}
	return out, Result{PixelsAdjusted: adjusted, MeanLevel: float64(sum) / float64(len(out))}, nil
}

// cosmicRayRemoval replaces isolated outlier pixels with the local median.
type cosmicRayRemoval struct {
	info AlgorithmInfo
}

func (a *cosmicRayRemoval) Info() AlgorithmInfo { return a.info }

func (a *cosmicRayRemoval) Apply(ctx context.Context, frame []byte, params map[string]string) ([]byte, Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, Result{}, apperr.E(apperr.KindCanceled, "cosmic ray removal interrupted", err)
	}
	if len(frame) == 0 {
		return nil, Result{}, apperr.Ef(apperr.KindValidation, nil, "empty frame")
	}
	window := paramInt(params, "window", 5)
	threshold := paramInt(params, "sigma", 3) * 32

	out := make([]byte, len(frame))
	copy(out, frame)
	removed := 0
	for i := range frame {
		lo := i - window/2
		if lo < 0 {
			lo = 0
		}
		hi := lo + window
		if hi > len(frame) {
			hi = len(frame)
		}
		local := quantile(frame[lo:hi], 0.5)
		if int(frame[i])-int(local) > threshold {
			out[i] = local
			removed++
		}
	}
	return out, Result{CosmicRaysRemoved: removed, PixelsAdjusted: removed}, nil
}

// biasSubtraction removes the constant pedestal, estimated from the darkest
// pixels of the frame.
type biasSubtraction struct {
	info AlgorithmInfo
}

func (a *biasSubtraction) Info() AlgorithmInfo { return a.info }

func (a *biasSubtraction) Apply(ctx context.Context, frame []byte, params map[string]string) ([]byte, Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, Result{}, apperr.E(apperr.KindCanceled, "bias subtraction interrupted", err)
	}
	if len(frame) == 0 {
		return nil, Result{}, apperr.Ef(apperr.KindValidation, nil, "empty frame")
	}
	bias := quantile(frame, 0.05)
	out := make([]byte, len(frame))
	adjusted := 0
	for i, px := range frame {
		v := int(px) - int(bias)
		if v < 0 {
			v = 0
		}
		if byte(v) != px {
			adjusted++
		}
		out[i] = byte(v)
	}
	return out, Result{PixelsAdjusted: adjusted}, nil
}

// quantile returns the q-th value of the pixel distribution, q in [0,1].
func quantile(data []byte, q float64) byte {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]byte, len(data))
	copy(sorted, data)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
