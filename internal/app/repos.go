package app

import (
	"gorm.io/gorm"

	"github.com/halcyonsky/astropipe-backend/internal/data/repos"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

type Repos struct {
	Objects    repos.AstronomicalObjectRepo
	Detections repos.DetectionRepo
	Crossmatch repos.CrossmatchRepo
	Jobs       repos.ProcessingJobRepo
	Workflows  repos.WorkflowVersionRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Objects:    repos.NewAstronomicalObjectRepo(db, log),
		Detections: repos.NewDetectionRepo(db, log),
		Crossmatch: repos.NewCrossmatchRepo(db, log),
		Jobs:       repos.NewProcessingJobRepo(db, log),
		Workflows:  repos.NewWorkflowVersionRepo(db, log),
	}
}
