package processing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
)

// Processing-id grammar:
//
//	id      := prefix ('-' name)? '-' version '-' date '-' uuid
//	prefix  := "prod" | "exp" | "test" | "val" | "repr"
//	version := "v" digit+ ("." digit+)*
//	date    := yyyymmdd
//	uuid    := 8-4-4-4-12 hex
//
// The workflow name may itself contain '-', so parsing splits on '-' and
// matches the first token against the prefix set.

// GenerateID builds a processing id for the given type at now. workflowName
// may be empty; workflowVersion defaults to "v1" when blank.
func GenerateID(t Type, workflowName, workflowVersion string, now time.Time) string {
	parts := []string{t.Prefix()}
	workflowName = strings.TrimSpace(workflowName)
	if workflowName != "" {
		parts = append(parts, workflowName)
	}
	workflowVersion = strings.TrimSpace(workflowVersion)
	if workflowVersion == "" {
		workflowVersion = "v1"
	}
	parts = append(parts, workflowVersion, now.UTC().Format("20060102"), uuid.NewString())
	return strings.Join(parts, "-")
}

// ParseType extracts the processing type from an id. Malformed ids are
// validation errors.
func ParseType(id string) (Type, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperr.Validation("empty processing id", nil)
	}
	first, _, found := strings.Cut(id, "-")
	if !found {
		return "", apperr.Validation(fmt.Sprintf("processing id %q has no separator", id), nil)
	}
	t, ok := TypeForPrefix(first)
	if !ok {
		return "", apperr.Validation(fmt.Sprintf("processing id %q has unknown type prefix %q", id, first), nil)
	}
	return t, nil
}

// IsValidID reports whether the first token of s is a known type prefix.
func IsValidID(s string) bool {
	_, err := ParseType(s)
	return err == nil
}
