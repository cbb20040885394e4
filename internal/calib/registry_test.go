package calib

import (
	"bytes"
	"context"
	"testing"

	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
)

func TestNormalizeStepType(t *testing.T) {
	cases := map[string]string{
		"dark":               StepDarkSubtraction,
		"DARK_SUBTRACTION":   StepDarkSubtraction,
		"darksubtraction":    StepDarkSubtraction,
		"dark-subtraction":   StepDarkSubtraction,
		"flat field":         StepFlatCorrection,
		"cosmic_ray":         StepCosmicRayRemoval,
		"COSMIC-RAY-REMOVAL": StepCosmicRayRemoval,
		"bias":               StepBiasSubtraction,
		"something else":     "something-else",
	}
	for in, want := range cases {
		if got := NormalizeStepType(in); got != want {
			t.Fatalf("NormalizeStepType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegistryInvariants(t *testing.T) {
	r := NewRegistry()

	for _, step := range r.StepTypes() {
		entries := r.List(step)
		if len(entries) == 0 {
			t.Fatalf("step %q has no variants", step)
		}
		def, ok := r.Get(step, DefaultAlgorithmID)
		if !ok {
			t.Fatalf("step %q missing default variant", step)
		}
		if !def.Supported || def.Experimental {
			t.Fatalf("step %q default must be supported and non-experimental: %+v", step, def)
		}
		for _, info := range entries {
			if info.StepType != step {
				t.Fatalf("variant %q carries wrong step type %q", info.ID, info.StepType)
			}
		}
	}

	if got := r.List("no-such-step"); len(got) != 0 {
		t.Fatalf("unknown step should list empty, got %d", len(got))
	}
	if r.IsSupported("no-such-step", DefaultAlgorithmID) {
		t.Fatalf("unknown step should not report supported")
	}

	sum := r.Summary()
	cr, ok := sum[StepCosmicRayRemoval]
	if !ok || cr.Count != 2 {
		t.Fatalf("summary for cosmic ray removal: %+v", cr)
	}

	exp := r.ListExperimental(StepCosmicRayRemoval)
	if len(exp) != 1 || exp[0].ID != "lacosmic-v2" {
		t.Fatalf("expected one experimental cosmic ray variant, got %+v", exp)
	}
}

func TestForStepResolution(t *testing.T) {
	r := NewRegistry()

	alg, err := r.ForStep("dark", "")
	if err != nil {
		t.Fatalf("ForStep default: %v", err)
	}
	if alg.Info().ID != DefaultAlgorithmID {
		t.Fatalf("expected default variant, got %q", alg.Info().ID)
	}

	if _, err := r.ForStep(StepCosmicRayRemoval, "lacosmic-v2"); err != nil {
		t.Fatalf("ForStep lacosmic-v2: %v", err)
	}

	_, err = r.ForStep(StepDarkSubtraction, "no-such-variant")
	if !apperr.IsKind(err, apperr.KindAlgorithmUnsupported) {
		t.Fatalf("expected algorithm_unsupported, got %v", err)
	}
}

func TestAlgorithmsTransformFrames(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	frame := make([]byte, 64)
	for i := range frame {
		frame[i] = byte(40 + i%20)
	}
	// One hot pixel well above the local population.
	frame[30] = 250

	cr, err := r.ForStep(StepCosmicRayRemoval, "")
	if err != nil {
		t.Fatalf("ForStep: %v", err)
	}
	out, res, err := cr.Apply(ctx, frame, map[string]string{"sigma": "2"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.CosmicRaysRemoved < 1 {
		t.Fatalf("expected at least one cosmic ray removed, got %d", res.CosmicRaysRemoved)
	}
	if out[30] == 250 {
		t.Fatalf("hot pixel should be replaced")
	}
	if frame[30] != 250 {
		t.Fatalf("input frame must not be mutated")
	}

	dark, _ := r.ForStep(StepDarkSubtraction, "")
	out, res, err = dark.Apply(ctx, frame, nil)
	if err != nil {
		t.Fatalf("dark Apply: %v", err)
	}
	if res.PixelsAdjusted == 0 {
		t.Fatalf("dark subtraction should adjust pixels")
	}
	if bytes.Equal(out, frame) {
		t.Fatalf("dark subtraction should change the frame")
	}

	if _, _, err := dark.Apply(ctx, nil, nil); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("empty frame should fail validation, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := dark.Apply(cancelled, frame, nil); !apperr.IsKind(err, apperr.KindCanceled) {
		t.Fatalf("cancelled context should fail with canceled, got %v", err)
	}
}

func TestRenderThumbnail(t *testing.T) {
	frame := make([]byte, 100)
	for i := range frame {
		frame[i] = byte(i * 2)
	}
	png, err := RenderThumbnail(frame)
	if err != nil {
		t.Fatalf("RenderThumbnail: %v", err)
	}
	if len(png) == 0 {
		t.Fatalf("empty png")
	}
	// PNG signature.
	if !bytes.HasPrefix(png, []byte{0x89, 'P', 'N', 'G'}) {
		t.Fatalf("output is not a PNG")
	}

	if _, err := RenderThumbnail(nil); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("empty frame should fail validation, got %v", err)
	}
}
