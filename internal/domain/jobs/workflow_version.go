package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WorkflowVersion is one named, versioned configuration of algorithm choices
// for a (name, processingType) pair. Exclusive routing has exactly one active
// row; traffic-split routing has several whose percentages sum to 100.
type WorkflowVersion struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Name           string `gorm:"column:name;not null;index:idx_workflow_name_type" json:"name"`
	Version        string `gorm:"column:version;not null" json:"version"`
	ProcessingType string `gorm:"column:processing_type;not null;index:idx_workflow_name_type" json:"processing_type"`

	IsActive               bool    `gorm:"column:is_active;not null;default:false;index" json:"is_active"`
	IsDefault              bool    `gorm:"column:is_default;not null;default:false" json:"is_default"`
	TrafficSplitPercentage float64 `gorm:"column:traffic_split_percentage;not null;default:100" json:"traffic_split_percentage"`

	ActivatedAt *time.Time `gorm:"column:activated_at" json:"activated_at,omitempty"`

	ParameterOverrides     datatypes.JSON `gorm:"column:parameter_overrides" json:"parameter_overrides,omitempty"`
	AlgorithmConfiguration datatypes.JSON `gorm:"column:algorithm_configuration" json:"algorithm_configuration,omitempty"`

	UsageCount       int64    `gorm:"column:usage_count;not null;default:0" json:"usage_count"`
	PerformanceScore *float64 `gorm:"column:performance_score" json:"performance_score,omitempty"`
	QualityScore     *float64 `gorm:"column:quality_score" json:"quality_score,omitempty"`
	LastUsedAt       *time.Time `gorm:"column:last_used_at" json:"last_used_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (WorkflowVersion) TableName() string { return "workflow_version" }

func (w *WorkflowVersion) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
