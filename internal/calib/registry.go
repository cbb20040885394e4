// Package calib holds the static catalog of calibration algorithm variants
// and the executable implementations behind them.
package calib

import (
	"sort"
	"strings"
)

// Canonical step type keys.
const (
	StepDarkSubtraction  = "dark-subtraction"
	StepFlatCorrection   = "flat-correction"
	StepCosmicRayRemoval = "cosmic-ray-removal"
	StepBiasSubtraction  = "bias-subtraction"
)

// DefaultAlgorithmID is present in every step type's list, supported and
// non-experimental.
const DefaultAlgorithmID = "default"

// AlgorithmInfo describes one selectable variant for a calibration step.
type AlgorithmInfo struct {
	StepType     string            `json:"step_type"`
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Version      string            `json:"version"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Supported    bool              `json:"supported"`
	Experimental bool              `json:"experimental"`
}

// StepSummary is the per-step entry of Summary.
type StepSummary struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// Registry is the immutable multi-map stepType -> ordered variants. Build it
// once with NewRegistry; lookups never mutate state, so it is safe to share.
type Registry struct {
	order   []string
	entries map[string][]AlgorithmInfo
}

// NormalizeStepType maps user-facing aliases onto canonical step keys.
// Lowercases, collapses "_" and " " into "-", then resolves short forms.
// Unrecognized names pass through normalized so lookups miss cleanly.
func NormalizeStepType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	switch s {
	case "dark", "darksubtraction", StepDarkSubtraction:
		return StepDarkSubtraction
	case "flat", "flatcorrection", "flat-field", "flatfield", StepFlatCorrection:
		return StepFlatCorrection
	case "cosmic", "cosmicray", "cosmic-ray", "cosmicrayremoval", StepCosmicRayRemoval:
		return StepCosmicRayRemoval
	case "bias", "biassubtraction", StepBiasSubtraction:
		return StepBiasSubtraction
	default:
		return s
	}
}

func NewRegistry() *Registry {
	r := &Registry{
		order:   []string{StepDarkSubtraction, StepFlatCorrection, StepCosmicRayRemoval, StepBiasSubtraction},
		entries: map[string][]AlgorithmInfo{},
	}
	r.entries[StepDarkSubtraction] = []AlgorithmInfo{
		{
			StepType: StepDarkSubtraction, ID: DefaultAlgorithmID,
			Name: "Scaled Dark Subtraction", Version: "v1.2",
			Description: "Subtracts a master dark frame scaled by exposure time ratio.",
			Parameters: map[string]string{
				"scale_mode": "exposure | temperature | none",
			},
			Supported: true,
		},
		{
			StepType: StepDarkSubtraction, ID: "optimized-dark-v2",
			Name: "Optimized Dark Subtraction", Version: "v2.0",
			Description: "Per-amplifier dark model with hot pixel masking.",
			Parameters: map[string]string{
				"hot_pixel_sigma": "clipping threshold for hot pixel detection",
			},
			Supported: true, Experimental: true,
		},
	}
	r.entries[StepFlatCorrection] = []AlgorithmInfo{
		{
			StepType: StepFlatCorrection, ID: DefaultAlgorithmID,
			Name: "Master Flat Division", Version: "v1.0",
			Description: "Divides by a normalized master flat for the matching filter.",
			Parameters: map[string]string{
				"normalization": "median | mean",
			},
			Supported: true,
		},
		{
			StepType: StepFlatCorrection, ID: "illumination-corrected",
			Name: "Illumination-Corrected Flat", Version: "v1.1",
			Description: "Master flat with large-scale illumination gradient removal.",
			Supported:   true, Experimental: true,
		},
	}
	r.entries[StepCosmicRayRemoval] = []AlgorithmInfo{
		{
			StepType: StepCosmicRayRemoval, ID: DefaultAlgorithmID,
			Name: "Sigma-Clip Cosmic Ray Removal", Version: "v1.0",
			Description: "Median-filter residual clipping of single-frame cosmic ray hits.",
			Parameters: map[string]string{
				"sigma":      "clipping threshold in standard deviations",
				"iterations": "number of detect/replace passes",
			},
			Supported: true,
		},
		{
			StepType: StepCosmicRayRemoval, ID: "lacosmic-v2",
			Name: "Laplacian Edge Detection", Version: "v2.1",
			Description: "Laplacian edge detection separating cosmic ray tracks from point sources.",
			Parameters: map[string]string{
				"objlim":   "contrast limit between cosmic ray and underlying object",
				"sigclip":  "laplacian-to-noise threshold",
				"sigfrac":  "fractional threshold for neighbor pixels",
			},
			Supported: true, Experimental: true,
		},
	}
	r.entries[StepBiasSubtraction] = []AlgorithmInfo{
		{
			StepType: StepBiasSubtraction, ID: DefaultAlgorithmID,
			Name: "Overscan Bias Subtraction", Version: "v1.0",
			Description: "Subtracts the overscan-region bias level row by row.",
			Supported:   true,
		},
	}
	return r
}

// List returns the ordered variants for a step type; unknown types yield an
// empty list, never an error.
func (r *Registry) List(stepType string) []AlgorithmInfo {
	entries := r.entries[NormalizeStepType(stepType)]
	out := make([]AlgorithmInfo, len(entries))
	copy(out, entries)
	return out
}

func (r *Registry) ListSupported(stepType string) []AlgorithmInfo {
	var out []AlgorithmInfo
	for _, info := range r.entries[NormalizeStepType(stepType)] {
		if info.Supported {
			out = append(out, info)
		}
	}
	return out
}

func (r *Registry) ListExperimental(stepType string) []AlgorithmInfo {
	var out []AlgorithmInfo
	for _, info := range r.entries[NormalizeStepType(stepType)] {
		if info.Experimental {
			out = append(out, info)
		}
	}
	return out
}

// Get returns the variant and whether it exists.
func (r *Registry) Get(stepType, id string) (AlgorithmInfo, bool) {
	for _, info := range r.entries[NormalizeStepType(stepType)] {
		if info.ID == id {
			return info, true
		}
	}
	return AlgorithmInfo{}, false
}

func (r *Registry) IsSupported(stepType, id string) bool {
	info, ok := r.Get(stepType, id)
	return ok && info.Supported
}

// StepTypes returns the canonical step keys in registration order.
func (r *Registry) StepTypes() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Summary returns per-step counts and id lists, ids sorted for stability.
func (r *Registry) Summary() map[string]StepSummary {
	out := map[string]StepSummary{}
	for step, entries := range r.entries {
		ids := make([]string, 0, len(entries))
		for _, info := range entries {
			ids = append(ids, info.ID)
		}
		sort.Strings(ids)
		out[step] = StepSummary{Count: len(entries), IDs: ids}
	}
	return out
}
