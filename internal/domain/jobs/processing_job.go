package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the processing-job state machine.
// QUEUED -> RUNNING -> (COMPLETED | FAILED | CANCELLED); FAILED -> RETRY ->
// RUNNING while retry_count < max_retries.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusRetry     Status = "RETRY"
)

// Terminal reports whether no further transitions happen from this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// ProcessingType selects which calibration steps run for a job.
type ProcessingType string

const (
	ProcessingFullCalibration     ProcessingType = "FULL_CALIBRATION"
	ProcessingDarkSubtractionOnly ProcessingType = "DARK_SUBTRACTION_ONLY"
	ProcessingFlatCorrectionOnly  ProcessingType = "FLAT_CORRECTION_ONLY"
	ProcessingCosmicRayOnly       ProcessingType = "COSMIC_RAY_REMOVAL_ONLY"
	ProcessingQuickLook           ProcessingType = "QUICK_LOOK"
)

// Step is one named stage of the calibration pipeline.
type Step string

const (
	StepDownloadInput     Step = "DOWNLOAD_INPUT"
	StepValidateFITS      Step = "VALIDATE_FITS"
	StepDarkSubtraction   Step = "DARK_SUBTRACTION"
	StepFlatCorrection    Step = "FLAT_CORRECTION"
	StepCosmicRayRemoval  Step = "COSMIC_RAY_REMOVAL"
	StepImageRegistration Step = "IMAGE_REGISTRATION"
	StepImageStacking     Step = "IMAGE_STACKING"
	StepQualityAssessment Step = "QUALITY_ASSESSMENT"
	StepGenerateThumbnail Step = "GENERATE_THUMBNAIL"
	StepExtractMetadata   Step = "EXTRACT_METADATA"
	StepUploadOutput      Step = "UPLOAD_OUTPUT"
	StepUpdateCatalog     Step = "UPDATE_CATALOG"
	StepCleanup           Step = "CLEANUP"
)

// FullStepCatalog is the ordered step list for FULL_CALIBRATION.
var FullStepCatalog = []Step{
	StepDownloadInput, StepValidateFITS, StepDarkSubtraction,
	StepFlatCorrection, StepCosmicRayRemoval, StepImageRegistration,
	StepImageStacking, StepQualityAssessment, StepGenerateThumbnail,
	StepExtractMetadata, StepUploadOutput, StepUpdateCatalog, StepCleanup,
}

// StepsFor returns the ordered step subset executed for a processing type.
// Unknown types fall back to the full catalog.
func StepsFor(pt ProcessingType) []Step {
	switch pt {
	case ProcessingDarkSubtractionOnly:
		return subset(StepDarkSubtraction)
	case ProcessingFlatCorrectionOnly:
		return subset(StepFlatCorrection)
	case ProcessingCosmicRayOnly:
		return subset(StepCosmicRayRemoval)
	case ProcessingQuickLook:
		return []Step{
			StepDownloadInput, StepValidateFITS, StepQualityAssessment,
			StepGenerateThumbnail, StepExtractMetadata, StepCleanup,
		}
	default:
		out := make([]Step, len(FullStepCatalog))
		copy(out, FullStepCatalog)
		return out
	}
}

// subset keeps the common envelope around a single calibration transform.
func subset(transform Step) []Step {
	return []Step{
		StepDownloadInput, StepValidateFITS, transform,
		StepQualityAssessment, StepExtractMetadata, StepUploadOutput,
		StepUpdateCatalog, StepCleanup,
	}
}

// KnownStep reports membership in the step catalog.
func KnownStep(s Step) bool {
	for _, known := range FullStepCatalog {
		if s == known {
			return true
		}
	}
	return false
}

// ProcessingJob is the persistent job record. JobID is the externally
// exposed identifier; ID stays internal to the row.
type ProcessingJob struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	JobID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"job_id"`

	InputBucket  string `gorm:"column:input_bucket;not null" json:"input_bucket"`
	InputKey     string `gorm:"column:input_key;not null" json:"input_key"`
	OutputBucket string `gorm:"column:output_bucket" json:"output_bucket,omitempty"`
	OutputKey    string `gorm:"column:output_key" json:"output_key,omitempty"`

	OwnerID        string         `gorm:"column:owner_id;index" json:"owner_id,omitempty"`
	Status         Status         `gorm:"column:status;not null;index" json:"status"`
	ProcessingType ProcessingType `gorm:"column:processing_type;not null;index" json:"processing_type"`
	// Priority runs 1 (highest) through 10.
	Priority int `gorm:"column:priority;not null;default:5;index" json:"priority"`

	RetryCount int `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	MaxRetries int `gorm:"column:max_retries;not null;default:3" json:"max_retries"`

	ErrorMessage string `gorm:"column:error_message" json:"error_message,omitempty"`
	StackTrace   string `gorm:"column:stack_trace" json:"stack_trace,omitempty"`

	SessionID    string `gorm:"column:session_id;index" json:"session_id,omitempty"`
	ProcessingID string `gorm:"column:processing_id;index" json:"processing_id,omitempty"`

	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	// ProcessingDurationMs covers startedAt..completedAt of the final attempt.
	ProcessingDurationMs *int64 `gorm:"column:processing_duration_ms" json:"processing_duration_ms,omitempty"`
	InputSizeBytes       *int64 `gorm:"column:input_size_bytes" json:"input_size_bytes,omitempty"`

	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	// NextAttemptAt delays RETRY claims for exponential backoff.
	NextAttemptAt *time.Time `gorm:"column:next_attempt_at;index" json:"next_attempt_at,omitempty"`

	Metadata datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`

	CompletedSteps []ProcessingJobStep `gorm:"foreignKey:JobRowID" json:"completed_steps,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ProcessingJob) TableName() string { return "processing_job" }

func (j *ProcessingJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.JobID == uuid.Nil {
		j.JobID = uuid.New()
	}
	return nil
}

// HasCompletedStep reports whether the step already committed for this job.
func (j *ProcessingJob) HasCompletedStep(step Step) bool {
	for _, done := range j.CompletedSteps {
		if done.StepName == step {
			return true
		}
	}
	return false
}

// ProcessingJobStep is one committed step of a job. The row is written in
// the same transaction as the artifact path so resumability observes the
// append and the artifact atomically.
type ProcessingJobStep struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobRowID uuid.UUID `gorm:"type:uuid;not null;index:idx_job_step,unique" json:"-"`

	StepName     Step      `gorm:"column:step_name;not null;index:idx_job_step,unique" json:"step_name"`
	Seq          int       `gorm:"column:seq;not null" json:"seq"`
	ArtifactPath string    `gorm:"column:artifact_path" json:"artifact_path,omitempty"`
	DurationMs   int64     `gorm:"column:duration_ms" json:"duration_ms"`
	CompletedAt  time.Time `gorm:"column:completed_at;not null" json:"completed_at"`
}

func (ProcessingJobStep) TableName() string { return "processing_job_step" }

func (s *ProcessingJobStep) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
