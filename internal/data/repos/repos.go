package repos

import (
	"gorm.io/gorm"

	"github.com/halcyonsky/astropipe-backend/internal/data/repos/catalog"
	"github.com/halcyonsky/astropipe-backend/internal/data/repos/jobs"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

type AstronomicalObjectRepo = catalog.AstronomicalObjectRepo
type DetectionRepo = catalog.DetectionRepo
type CrossmatchRepo = catalog.CrossmatchRepo

type ProcessingJobRepo = jobs.ProcessingJobRepo
type WorkflowVersionRepo = jobs.WorkflowVersionRepo

type BoxQuery = catalog.BoxQuery
type MagnitudeStats = catalog.MagnitudeStats
type JobListFilter = jobs.ListFilter

func NewAstronomicalObjectRepo(db *gorm.DB, baseLog *logger.Logger) AstronomicalObjectRepo {
	return catalog.NewAstronomicalObjectRepo(db, baseLog)
}

func NewDetectionRepo(db *gorm.DB, baseLog *logger.Logger) DetectionRepo {
	return catalog.NewDetectionRepo(db, baseLog)
}

func NewCrossmatchRepo(db *gorm.DB, baseLog *logger.Logger) CrossmatchRepo {
	return catalog.NewCrossmatchRepo(db, baseLog)
}

func NewProcessingJobRepo(db *gorm.DB, baseLog *logger.Logger) ProcessingJobRepo {
	return jobs.NewProcessingJobRepo(db, baseLog)
}

func NewWorkflowVersionRepo(db *gorm.DB, baseLog *logger.Logger) WorkflowVersionRepo {
	return jobs.NewWorkflowVersionRepo(db, baseLog)
}
