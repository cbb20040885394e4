package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ObjectType is the closed classification set for catalog objects.
type ObjectType string

const (
	ObjectTypeStar         ObjectType = "STAR"
	ObjectTypeGalaxy       ObjectType = "GALAXY"
	ObjectTypeNebula       ObjectType = "NEBULA"
	ObjectTypeQuasar       ObjectType = "QUASAR"
	ObjectTypeAsteroid     ObjectType = "ASTEROID"
	ObjectTypeVariableStar ObjectType = "VARIABLE_STAR"
	ObjectTypeCosmicRay    ObjectType = "COSMIC_RAY"
	ObjectTypeArtifact     ObjectType = "ARTIFACT"
	ObjectTypeUnknown      ObjectType = "UNKNOWN"
)

// ObjectTypes lists every recognized type in declaration order.
func ObjectTypes() []ObjectType {
	return []ObjectType{
		ObjectTypeStar, ObjectTypeGalaxy, ObjectTypeNebula, ObjectTypeQuasar,
		ObjectTypeAsteroid, ObjectTypeVariableStar, ObjectTypeCosmicRay,
		ObjectTypeArtifact, ObjectTypeUnknown,
	}
}

// IsValid reports membership in the closed set.
func (t ObjectType) IsValid() bool {
	for _, known := range ObjectTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// TransientTypes are the classifications eligible for age-based cleanup.
func TransientTypes() []ObjectType {
	return []ObjectType{ObjectTypeCosmicRay, ObjectTypeArtifact}
}

// AstronomicalObject is one catalog row. Positions are ICRS/J2000 degrees
// with RA normalized to [0, 360); X/Y/Z is the precomputed unit vector used
// by the spatial prefilter.
type AstronomicalObject struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ObjectID *string   `gorm:"column:object_id;uniqueIndex" json:"object_id,omitempty"`
	Name     *string   `gorm:"column:name" json:"name,omitempty"`

	RA  float64 `gorm:"column:ra;not null;index:idx_astro_position" json:"ra"`
	Dec float64 `gorm:"column:dec;not null;index:idx_astro_position" json:"dec"`
	X   float64 `gorm:"column:x;not null" json:"-"`
	Y   float64 `gorm:"column:y;not null" json:"-"`
	Z   float64 `gorm:"column:z;not null" json:"-"`

	Magnitude      *float64 `gorm:"column:magnitude;index" json:"magnitude,omitempty"`
	MagnitudeBand  string   `gorm:"column:magnitude_band" json:"magnitude_band,omitempty"`
	MagnitudeError *float64 `gorm:"column:magnitude_error" json:"magnitude_error,omitempty"`
	Flux           *float64 `gorm:"column:flux" json:"flux,omitempty"`
	FluxError      *float64 `gorm:"column:flux_error" json:"flux_error,omitempty"`

	ProperMotionRA  *float64 `gorm:"column:pm_ra" json:"pm_ra,omitempty"`
	ProperMotionDec *float64 `gorm:"column:pm_dec" json:"pm_dec,omitempty"`
	ParallaxMas     *float64 `gorm:"column:parallax_mas" json:"parallax_mas,omitempty"`
	RadialVelocity  *float64 `gorm:"column:radial_velocity" json:"radial_velocity,omitempty"`
	// DistancePc is derived (1000/parallax) whenever ParallaxMas > 0.
	DistancePc *float64 `gorm:"column:distance_pc" json:"distance_pc,omitempty"`

	Type ObjectType `gorm:"column:type;not null;index" json:"type"`

	FirstObservedAt  *time.Time `gorm:"column:first_observed_at" json:"first_observed_at,omitempty"`
	LastObservedAt   *time.Time `gorm:"column:last_observed_at;index" json:"last_observed_at,omitempty"`
	ObservationCount int        `gorm:"column:observation_count;not null;default:0" json:"observation_count"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (AstronomicalObject) TableName() string { return "astronomical_object" }

func (o *AstronomicalObject) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
