package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Detection is one per-observation measurement of a catalog object. Rows are
// bound to their parent object's lifetime unless explicitly pruned.
type Detection struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ObjectID uuid.UUID `gorm:"type:uuid;not null;index" json:"object_id"`

	ObservedAt time.Time `gorm:"column:observed_at;not null;index" json:"observed_at"`
	RA         float64   `gorm:"column:ra;not null" json:"ra"`
	Dec        float64   `gorm:"column:dec;not null" json:"dec"`

	Magnitude      *float64 `gorm:"column:magnitude" json:"magnitude,omitempty"`
	MagnitudeError *float64 `gorm:"column:magnitude_error" json:"magnitude_error,omitempty"`
	Flux           *float64 `gorm:"column:flux" json:"flux,omitempty"`
	FluxError      *float64 `gorm:"column:flux_error" json:"flux_error,omitempty"`

	Filter        string   `gorm:"column:filter;index" json:"filter,omitempty"`
	Instrument    string   `gorm:"column:instrument;index" json:"instrument,omitempty"`
	ExposureSecs  float64  `gorm:"column:exposure_secs" json:"exposure_secs,omitempty"`
	SkyBackground *float64 `gorm:"column:sky_background" json:"sky_background,omitempty"`
	SeeingArcsec  *float64 `gorm:"column:seeing_arcsec" json:"seeing_arcsec,omitempty"`
	Airmass       *float64 `gorm:"column:airmass" json:"airmass,omitempty"`

	QualityFlag       string `gorm:"column:quality_flag" json:"quality_flag,omitempty"`
	ProcessingVersion string `gorm:"column:processing_version" json:"processing_version,omitempty"`
	SourceImagePath   string `gorm:"column:source_image_path" json:"source_image_path,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Detection) TableName() string { return "detection" }

func (d *Detection) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// CatalogCrossmatch links an object to a row in an external catalog.
type CatalogCrossmatch struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ObjectID uuid.UUID `gorm:"type:uuid;not null;index" json:"object_id"`

	CatalogName      string  `gorm:"column:catalog_name;not null;index" json:"catalog_name"`
	CatalogObjectID  string  `gorm:"column:catalog_object_id;not null" json:"catalog_object_id"`
	SeparationArcsec float64 `gorm:"column:separation_arcsec;not null" json:"separation_arcsec"`
	// Confidence is clamped to [0, 1] by the match method.
	Confidence float64 `gorm:"column:confidence;not null" json:"confidence"`

	CatalogMagnitude *float64 `gorm:"column:catalog_magnitude" json:"catalog_magnitude,omitempty"`
	CatalogPMRA      *float64 `gorm:"column:catalog_pm_ra" json:"catalog_pm_ra,omitempty"`
	CatalogPMDec     *float64 `gorm:"column:catalog_pm_dec" json:"catalog_pm_dec,omitempty"`

	MatchMethod  string `gorm:"column:match_method" json:"match_method,omitempty"`
	MatchVersion string `gorm:"column:match_version" json:"match_version,omitempty"`
	Verified     bool   `gorm:"column:verified;not null;default:false" json:"verified"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (CatalogCrossmatch) TableName() string { return "catalog_crossmatch" }

func (c *CatalogCrossmatch) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
