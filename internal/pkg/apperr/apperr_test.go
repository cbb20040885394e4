package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("connection reset")
	err := Store("put raw/img.fits", cause)

	if got := KindOf(err); got != KindStore {
		t.Fatalf("KindOf: got %q want %q", got, KindStore)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not preserved through wrap chain")
	}

	wrapped := fmt.Errorf("step dark-subtraction: %w", err)
	if got := KindOf(wrapped); got != KindStore {
		t.Fatalf("KindOf(wrapped): got %q want %q", got, KindStore)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindTransientBackend {
		t.Fatalf("unclassified error: got %q want %q", got, KindTransientBackend)
	}
	if KindOf(nil) != "" {
		t.Fatalf("KindOf(nil) should be empty")
	}
}

func TestRetryable(t *testing.T) {
	cases := map[Kind]bool{
		KindNotFound:             false,
		KindValidation:           false,
		KindStore:                true,
		KindAlgorithmUnsupported: false,
		KindTransientBackend:     true,
		KindCanceled:             false,
	}
	for kind, want := range cases {
		if kind.Retryable() != want {
			t.Fatalf("Retryable(%s): got %v want %v", kind, !want, want)
		}
	}
}
