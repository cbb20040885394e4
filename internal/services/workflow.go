package services

import (
	"hash/fnv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/halcyonsky/astropipe-backend/internal/data/repos"
	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

const (
	// DefaultWorkflowName and DefaultWorkflowVersion are synthesized when no
	// active workflow version covers a (name, processingType) pair.
	DefaultWorkflowName    = "default-workflow"
	DefaultWorkflowVersion = "v1.0"
)

type WorkflowService interface {
	Create(dbc dbctx.Context, wv *types.WorkflowVersion) error
	List(dbc dbctx.Context, processingType string) ([]*types.WorkflowVersion, error)
	SetActive(dbc dbctx.Context, id uuid.UUID, active bool) error
	// ResolveActive picks the workflow version that serves the session.
	// With several active versions, the session is hashed into a [0,100)
	// bucket and routed by cumulative traffic split, so a session always
	// lands on the same version while splits are unchanged.
	ResolveActive(dbc dbctx.Context, name, processingType, sessionID string) (*types.WorkflowVersion, error)
	UpdateWorkflowMetrics(dbc dbctx.Context, name, version, processingType string, performance, quality *float64) error
}

type workflowService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.WorkflowVersionRepo
}

func NewWorkflowService(db *gorm.DB, baseLog *logger.Logger, repo repos.WorkflowVersionRepo) WorkflowService {
	return &workflowService{
		db:   db,
		log:  baseLog.With("service", "WorkflowService"),
		repo: repo,
	}
}

func (s *workflowService) Create(dbc dbctx.Context, wv *types.WorkflowVersion) error {
	if wv == nil {
		return apperr.E(apperr.KindValidation, "missing workflow version", nil)
	}
	wv.Name = strings.TrimSpace(wv.Name)
	wv.Version = strings.TrimSpace(wv.Version)
	wv.ProcessingType = strings.TrimSpace(wv.ProcessingType)
	if wv.Name == "" || wv.Version == "" || wv.ProcessingType == "" {
		return apperr.E(apperr.KindValidation, "workflow name, version, and processing type are required", nil)
	}
	if wv.TrafficSplitPercentage <= 0 || wv.TrafficSplitPercentage > 100 {
		return apperr.Ef(apperr.KindValidation, nil, "traffic split %f outside (0, 100]", wv.TrafficSplitPercentage)
	}
	if err := s.repo.Create(dbc, wv); err != nil {
		return apperr.E(apperr.KindStore, "create workflow version", err)
	}
	return nil
}

func (s *workflowService) List(dbc dbctx.Context, processingType string) ([]*types.WorkflowVersion, error) {
	rows, err := s.repo.List(dbc, processingType)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "list workflow versions", err)
	}
	return rows, nil
}

func (s *workflowService) SetActive(dbc dbctx.Context, id uuid.UUID, active bool) error {
	if id == uuid.Nil {
		return apperr.E(apperr.KindValidation, "missing workflow version id", nil)
	}
	if err := s.repo.SetActive(dbc, id, active); err != nil {
		return apperr.E(apperr.KindStore, "set workflow active", err)
	}
	return nil
}

func (s *workflowService) ResolveActive(dbc dbctx.Context, name, processingType, sessionID string) (*types.WorkflowVersion, error) {
	active, err := s.repo.ListActive(dbc, name, processingType)
	if err != nil {
		return nil, apperr.E(apperr.KindStore, "list active workflow versions", err)
	}
	if len(active) == 0 {
		if def, derr := s.repo.GetDefault(dbc, processingType); derr == nil && def != nil {
			return def, nil
		}
		s.log.Debug("No active workflow version; synthesizing default",
			"name", name, "processing_type", processingType)
		return &types.WorkflowVersion{
			Name:                   DefaultWorkflowName,
			Version:                DefaultWorkflowVersion,
			ProcessingType:         processingType,
			IsActive:               true,
			TrafficSplitPercentage: 100,
		}, nil
	}
	if len(active) == 1 {
		return active[0], nil
	}

	// ListActive orders by version string, so the cumulative walk is stable.
	bucket := sessionBucket(sessionID)
	var cumulative float64
	for _, wv := range active {
		cumulative += wv.TrafficSplitPercentage
		if bucket < cumulative {
			return wv, nil
		}
	}
	// Splits summing under 100 leave a remainder; the last version takes it.
	return active[len(active)-1], nil
}

// sessionBucket maps a session id onto [0,100).
func sessionBucket(sessionID string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return float64(h.Sum32() % 100)
}

func (s *workflowService) UpdateWorkflowMetrics(dbc dbctx.Context, name, version, processingType string, performance, quality *float64) error {
	rows, err := s.repo.List(dbc, processingType)
	if err != nil {
		return apperr.E(apperr.KindStore, "list workflow versions", err)
	}
	for _, wv := range rows {
		if wv.Name != name || wv.Version != version {
			continue
		}
		if err := s.repo.RecordUsage(dbc, wv.ID); err != nil {
			return apperr.E(apperr.KindStore, "record workflow usage", err)
		}
		if performance != nil || quality != nil {
			if err := s.repo.UpdateScores(dbc, wv.ID, performance, quality); err != nil {
				return apperr.E(apperr.KindStore, "update workflow scores", err)
			}
		}
		return nil
	}
	return apperr.Ef(apperr.KindNotFound, nil, "workflow %s %s (%s) not found", name, version, processingType)
}
