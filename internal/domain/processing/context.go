package processing

import (
	"time"
)

// Type classifies why a pipeline run exists. It routes jobs to workflow
// versions and prefixes every processing id and storage path.
type Type string

const (
	TypeProduction   Type = "PRODUCTION"
	TypeExperimental Type = "EXPERIMENTAL"
	TypeTest         Type = "TEST"
	TypeValidation   Type = "VALIDATION"
	TypeReprocessing Type = "REPROCESSING"
)

// Prefix returns the processing-id token for the type.
func (t Type) Prefix() string {
	switch t {
	case TypeProduction:
		return "prod"
	case TypeExperimental:
		return "exp"
	case TypeTest:
		return "test"
	case TypeValidation:
		return "val"
	case TypeReprocessing:
		return "repr"
	default:
		return ""
	}
}

// TypeForPrefix inverts Prefix. ok is false for unknown tokens.
func TypeForPrefix(prefix string) (Type, bool) {
	for _, t := range []Type{TypeProduction, TypeExperimental, TypeTest, TypeValidation, TypeReprocessing} {
		if t.Prefix() == prefix {
			return t, true
		}
	}
	return "", false
}

// ExperimentContext describes the research run that owns an experimental job.
type ExperimentContext struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	ResearcherID string         `json:"researcher_id"`
	Email        string         `json:"email,omitempty"`
	ProjectID    string         `json:"project_id,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// ProductionContext carries the observation identity of a production job.
type ProductionContext struct {
	ObservationID      string `json:"observation_id"`
	InstrumentID       string `json:"instrument_id"`
	TelescopeID        string `json:"telescope_id"`
	ProgramID          string `json:"program_id,omitempty"`
	DataReleaseVersion string `json:"data_release_version"`
}

// DataLineage records how a context derives from earlier processing.
type DataLineage struct {
	PreviousProcessingID string            `json:"previous_processing_id,omitempty"`
	RootProcessingID     string            `json:"root_processing_id,omitempty"`
	ProcessingDepth      int               `json:"processing_depth"`
	InputChecksum        string            `json:"input_checksum,omitempty"`
	CalibrationFrames    map[string]string `json:"calibration_frames,omitempty"`
}

// Context is the identity, lineage, and routing record of a pipeline run.
// Immutable after creation except for lineage updates.
type Context struct {
	ProcessingID string `json:"processing_id"`
	Type         Type   `json:"type"`

	Experiment *ExperimentContext `json:"experiment,omitempty"`
	Production *ProductionContext `json:"production,omitempty"`

	SessionID       string `json:"session_id"`
	PipelineVersion string `json:"pipeline_version"`
	WorkflowName    string `json:"workflow_name"`
	WorkflowVersion string `json:"workflow_version"`

	IsActive               bool    `json:"is_active"`
	TrafficSplitPercentage float64 `json:"traffic_split_percentage"`
	Priority               int     `json:"priority"`

	ParameterOverrides map[string]any `json:"parameter_overrides,omitempty"`

	Lineage   DataLineage `json:"lineage"`
	CreatedAt time.Time   `json:"created_at"`
}

// AlgorithmOverride reads the algorithm id override for a step type, or ""
// when the context doesn't pin one.
func (c *Context) AlgorithmOverride(stepType string) string {
	if c == nil || c.ParameterOverrides == nil {
		return ""
	}
	v, ok := c.ParameterOverrides[stepType+".algorithm"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// PartitionKey is the storage partitioning token: {typePrefix}_{yyyymm}.
func (c *Context) PartitionKey() string {
	return c.Type.Prefix() + "_" + c.CreatedAt.UTC().Format("200601")
}

// StoragePrefix is the path prefix for all artifacts of this run.
func (c *Context) StoragePrefix() string {
	date := c.CreatedAt.UTC().Format("2006-01-02")
	switch {
	case c.Type == TypeProduction:
		return "production/" + date + "/" + c.ProcessingID
	case c.Type == TypeExperimental && c.Experiment != nil && c.Experiment.Name != "":
		return "experimental/" + c.Experiment.Name + "/" + date + "/" + c.ProcessingID
	default:
		return c.Type.Prefix() + "/" + date + "/" + c.ProcessingID
	}
}
