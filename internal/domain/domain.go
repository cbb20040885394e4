// Package domain aggregates the persistent model subpackages behind one
// import, conventionally aliased as types.
package domain

import (
	"github.com/halcyonsky/astropipe-backend/internal/domain/catalog"
	"github.com/halcyonsky/astropipe-backend/internal/domain/jobs"
	"github.com/halcyonsky/astropipe-backend/internal/domain/processing"
)

type AstronomicalObject = catalog.AstronomicalObject
type Detection = catalog.Detection
type CatalogCrossmatch = catalog.CatalogCrossmatch
type ObjectType = catalog.ObjectType

const (
	ObjectTypeStar         = catalog.ObjectTypeStar
	ObjectTypeGalaxy       = catalog.ObjectTypeGalaxy
	ObjectTypeNebula       = catalog.ObjectTypeNebula
	ObjectTypeQuasar       = catalog.ObjectTypeQuasar
	ObjectTypeAsteroid     = catalog.ObjectTypeAsteroid
	ObjectTypeVariableStar = catalog.ObjectTypeVariableStar
	ObjectTypeCosmicRay    = catalog.ObjectTypeCosmicRay
	ObjectTypeArtifact     = catalog.ObjectTypeArtifact
	ObjectTypeUnknown      = catalog.ObjectTypeUnknown
)

type ProcessingJob = jobs.ProcessingJob
type ProcessingJobStep = jobs.ProcessingJobStep
type WorkflowVersion = jobs.WorkflowVersion
type JobStatus = jobs.Status
type JobProcessingType = jobs.ProcessingType
type JobStep = jobs.Step

const (
	JobStatusQueued    = jobs.StatusQueued
	JobStatusRunning   = jobs.StatusRunning
	JobStatusCompleted = jobs.StatusCompleted
	JobStatusFailed    = jobs.StatusFailed
	JobStatusCancelled = jobs.StatusCancelled
	JobStatusRetry     = jobs.StatusRetry
)

type ProcessingContext = processing.Context
type ExperimentContext = processing.ExperimentContext
type ProductionContext = processing.ProductionContext
type DataLineage = processing.DataLineage
