package services

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/domain/processing"
	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/envutil"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

// ContextService mints and indexes processing contexts. Contexts are
// in-memory only; their identity travels with jobs as the processing id.
type ContextService interface {
	CreateProductionContext(dbc dbctx.Context, sessionID, observationID, instrumentID, telescopeID, programID string) (*types.ProcessingContext, error)
	CreateExperimentalContext(dbc dbctx.Context, sessionID, experimentName, description, researcherID, email, projectID string, params map[string]any) (*types.ProcessingContext, error)
	CreateDerivedContext(dbc dbctx.Context, parentProcessingID, newSessionID string) (*types.ProcessingContext, error)
	Get(processingID string) (*types.ProcessingContext, bool)
	BySession(sessionID string) []*types.ProcessingContext
	IsValidProcessingID(s string) bool
}

type contextService struct {
	log       *logger.Logger
	workflows WorkflowService

	mu          sync.RWMutex
	byProcessID map[string]*types.ProcessingContext
	bySession   map[string][]*types.ProcessingContext
}

func NewContextService(baseLog *logger.Logger, workflows WorkflowService) ContextService {
	return &contextService{
		log:         baseLog.With("service", "ContextService"),
		workflows:   workflows,
		byProcessID: make(map[string]*types.ProcessingContext),
		bySession:   make(map[string][]*types.ProcessingContext),
	}
}

func (s *contextService) CreateProductionContext(dbc dbctx.Context, sessionID, observationID, instrumentID, telescopeID, programID string) (*types.ProcessingContext, error) {
	if strings.TrimSpace(observationID) == "" {
		return nil, apperr.E(apperr.KindValidation, "missing observation id", nil)
	}
	if strings.TrimSpace(instrumentID) == "" {
		return nil, apperr.E(apperr.KindValidation, "missing instrument id", nil)
	}
	pc := s.newContext(dbc, processing.TypeProduction, sessionID)
	pc.Priority = 1
	pc.Production = &types.ProductionContext{
		ObservationID:      observationID,
		InstrumentID:       instrumentID,
		TelescopeID:        telescopeID,
		ProgramID:          programID,
		DataReleaseVersion: "DR1",
	}
	s.index(pc)
	s.log.Info("Production context created",
		"processing_id", pc.ProcessingID, "session_id", pc.SessionID, "observation_id", observationID)
	return pc, nil
}

func (s *contextService) CreateExperimentalContext(dbc dbctx.Context, sessionID, experimentName, description, researcherID, email, projectID string, params map[string]any) (*types.ProcessingContext, error) {
	if strings.TrimSpace(experimentName) == "" {
		return nil, apperr.E(apperr.KindValidation, "missing experiment name", nil)
	}
	if strings.TrimSpace(researcherID) == "" {
		return nil, apperr.E(apperr.KindValidation, "missing researcher id", nil)
	}
	pc := s.newContext(dbc, processing.TypeExperimental, sessionID)
	pc.Experiment = &types.ExperimentContext{
		Name:         experimentName,
		Description:  description,
		ResearcherID: researcherID,
		Email:        email,
		ProjectID:    projectID,
		Parameters:   params,
	}
	for k, v := range params {
		if strings.HasSuffix(k, ".algorithm") {
			if pc.ParameterOverrides == nil {
				pc.ParameterOverrides = make(map[string]any)
			}
			pc.ParameterOverrides[k] = v
		}
	}
	s.index(pc)
	s.log.Info("Experimental context created",
		"processing_id", pc.ProcessingID, "session_id", pc.SessionID, "experiment", experimentName)
	return pc, nil
}

func (s *contextService) CreateDerivedContext(dbc dbctx.Context, parentProcessingID, newSessionID string) (*types.ProcessingContext, error) {
	parent, ok := s.Get(parentProcessingID)
	if !ok {
		return nil, apperr.Ef(apperr.KindNotFound, nil, "parent context %s not found", parentProcessingID)
	}

	pc := s.newContext(dbc, parent.Type, newSessionID)
	pc.Priority = parent.Priority
	if parent.Experiment != nil {
		exp := *parent.Experiment
		pc.Experiment = &exp
	}
	if parent.Production != nil {
		prod := *parent.Production
		pc.Production = &prod
	}
	if len(parent.ParameterOverrides) > 0 {
		pc.ParameterOverrides = make(map[string]any, len(parent.ParameterOverrides))
		for k, v := range parent.ParameterOverrides {
			pc.ParameterOverrides[k] = v
		}
	}

	root := parent.Lineage.RootProcessingID
	if root == "" {
		root = parent.ProcessingID
	}
	pc.Lineage = types.DataLineage{
		PreviousProcessingID: parent.ProcessingID,
		RootProcessingID:     root,
		ProcessingDepth:      parent.Lineage.ProcessingDepth + 1,
	}

	s.index(pc)
	s.log.Info("Derived context created",
		"processing_id", pc.ProcessingID, "parent", parent.ProcessingID, "depth", pc.Lineage.ProcessingDepth)
	return pc, nil
}

// newContext resolves the workflow route for the session and builds the
// base context. Workflow resolution failure is not fatal; the default
// route is used instead.
func (s *contextService) newContext(dbc dbctx.Context, t processing.Type, sessionID string) *types.ProcessingContext {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	wfName := DefaultWorkflowName
	wfVersion := DefaultWorkflowVersion
	split := 100.0
	if s.workflows != nil {
		wv, err := s.workflows.ResolveActive(dbc, wfName, string(t), sessionID)
		if err != nil {
			s.log.Warn("Workflow resolution failed; using default route", "session_id", sessionID, "error", err)
		} else if wv != nil {
			wfName = wv.Name
			wfVersion = wv.Version
			split = wv.TrafficSplitPercentage
		}
	}

	now := time.Now().UTC()
	return &types.ProcessingContext{
		ProcessingID:           processing.GenerateID(t, wfName, wfVersion, now),
		Type:                   t,
		SessionID:              sessionID,
		PipelineVersion:        envutil.Str("PIPELINE_VERSION", "1.0.0"),
		WorkflowName:           wfName,
		WorkflowVersion:        wfVersion,
		IsActive:               true,
		TrafficSplitPercentage: split,
		Priority:               5,
		CreatedAt:              now,
	}
}

func (s *contextService) index(pc *types.ProcessingContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byProcessID[pc.ProcessingID] = pc
	s.bySession[pc.SessionID] = append(s.bySession[pc.SessionID], pc)
}

func (s *contextService) Get(processingID string) (*types.ProcessingContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pc, ok := s.byProcessID[strings.TrimSpace(processingID)]
	return pc, ok
}

func (s *contextService) BySession(sessionID string) []*types.ProcessingContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.bySession[sessionID]
	out := make([]*types.ProcessingContext, len(rows))
	copy(out, rows)
	return out
}

func (s *contextService) IsValidProcessingID(v string) bool {
	return processing.IsValidID(v)
}
