// Package pipeline implements the calibration job handlers executed by the
// worker. One handler instance serves one processing type; all of them share
// the same step implementations and differ only in which steps run.
package pipeline

import (
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"github.com/halcyonsky/astropipe-backend/internal/calib"
	types "github.com/halcyonsky/astropipe-backend/internal/domain"
	"github.com/halcyonsky/astropipe-backend/internal/domain/jobs"
	"github.com/halcyonsky/astropipe-backend/internal/fits"
	"github.com/halcyonsky/astropipe-backend/internal/jobs/runtime"
	"github.com/halcyonsky/astropipe-backend/internal/pipeline/artifacts"
	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
	"github.com/halcyonsky/astropipe-backend/internal/platform/dbctx"
	"github.com/halcyonsky/astropipe-backend/internal/platform/envutil"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
	"github.com/halcyonsky/astropipe-backend/internal/platform/objectstore"
	"github.com/halcyonsky/astropipe-backend/internal/services"
)

// Calibration runs the ordered step catalog for one processing type.
type Calibration struct {
	pt         jobs.ProcessingType
	store      objectstore.Store
	artifacts  *artifacts.Store
	algorithms *calib.Registry
	contexts   services.ContextService
	catalog    services.CatalogService
	log        *logger.Logger

	// processedBucket is the promotion target when the job doesn't name one.
	processedBucket string
}

func NewCalibration(pt jobs.ProcessingType, store objectstore.Store, art *artifacts.Store, algorithms *calib.Registry, contexts services.ContextService, catalog services.CatalogService, baseLog *logger.Logger) *Calibration {
	return &Calibration{
		pt:              pt,
		store:           store,
		artifacts:       art,
		algorithms:      algorithms,
		contexts:        contexts,
		catalog:         catalog,
		log:             baseLog.With("component", "CalibrationPipeline", "processing_type", pt),
		processedBucket: envutil.Str("PROCESSED_BUCKET", "processed"),
	}
}

// RegisterAll registers one Calibration handler per processing type.
func RegisterAll(reg *runtime.Registry, store objectstore.Store, art *artifacts.Store, algorithms *calib.Registry, contexts services.ContextService, catalog services.CatalogService, baseLog *logger.Logger) error {
	for _, pt := range []jobs.ProcessingType{
		jobs.ProcessingFullCalibration,
		jobs.ProcessingDarkSubtractionOnly,
		jobs.ProcessingFlatCorrectionOnly,
		jobs.ProcessingCosmicRayOnly,
		jobs.ProcessingQuickLook,
	} {
		if err := reg.Register(NewCalibration(pt, store, art, algorithms, contexts, catalog, baseLog)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Calibration) Type() jobs.ProcessingType { return p.pt }

// run-scoped state threaded through the steps of one attempt.
type runState struct {
	frame        []byte
	header       *fits.Header
	meta         fits.Metadata
	lastArtifact string
	finalBucket  string
	finalKey     string
	quality      float64
	calibStats   map[string]calib.Result
	thumbnail    string
}

// Run executes the step catalog. Steps already in completedSteps are
// skipped; cancellation is observed at step boundaries only. Run settles
// the job itself and returns nil unless dispatch-level wiring failed.
func (p *Calibration) Run(jc *runtime.Context) error {
	job := jc.Job
	steps := jobs.StepsFor(job.ProcessingType)
	st := &runState{calibStats: map[string]calib.Result{}}

	// Resumability: the newest committed artifact is the input of the next
	// pending step.
	for _, done := range job.CompletedSteps {
		if done.ArtifactPath != "" {
			st.lastArtifact = done.ArtifactPath
		}
	}

	started := time.Now()
	for i, step := range steps {
		if jc.Cancelled() {
			jc.Log.Info("Job cancelled, stopping at step boundary", "step", step)
			return nil
		}
		if job.HasCompletedStep(step) {
			continue
		}

		stepStart := time.Now()
		artifactPath, err := p.runStep(jc, st, step)
		if err != nil {
			p.settleFailure(jc, st, step, err, time.Since(started))
			return nil
		}
		if err := jc.CommitStep(step, i, artifactPath, time.Since(stepStart)); err != nil {
			p.settleFailure(jc, st, step, err, time.Since(started))
			return nil
		}
		if artifactPath != "" {
			st.lastArtifact = artifactPath
		}
		pct := (i + 1) * 100 / len(steps)
		if !jc.Progress(step, pct, fmt.Sprintf("completed %s", step)) {
			jc.Log.Info("Job cancelled during progress update", "step", step)
			return nil
		}
	}

	jc.Succeed(st.finalBucket, st.finalKey)
	jc.Metrics.RecordJobOutcome(string(job.ProcessingType), "completed", "", time.Since(started))
	return nil
}

// settleFailure routes a step error through the retry policy and records
// the terminal outcome. Artifacts of a terminally failed job are discarded
// unless forensic retention is switched on.
func (p *Calibration) settleFailure(jc *runtime.Context, st *runState, step jobs.Step, cause error, elapsed time.Duration) {
	retried := jc.FailOrRetry(step, cause)
	if retried {
		jc.Metrics.RecordJobOutcome(string(jc.Job.ProcessingType), "retry", string(apperr.KindOf(cause)), elapsed)
		return
	}
	jc.Metrics.RecordJobOutcome(string(jc.Job.ProcessingType), "failed", string(apperr.KindOf(cause)), elapsed)
	if jc.Job.Status == types.JobStatusFailed && jc.Job.SessionID != "" && !envutil.Bool("KEEP_FAILED_ARTIFACTS", false) {
		if _, err := p.artifacts.CleanupSession(jc.Ctx, jc.Job.SessionID, false); err != nil {
			jc.Log.Warn("Failed-job artifact cleanup failed", "error", err)
		}
	}
}

func (p *Calibration) runStep(jc *runtime.Context, st *runState, step jobs.Step) (string, error) {
	switch step {
	case jobs.StepDownloadInput:
		return p.stepDownload(jc, st)
	case jobs.StepValidateFITS:
		return "", p.stepValidate(jc, st)
	case jobs.StepDarkSubtraction, jobs.StepFlatCorrection, jobs.StepCosmicRayRemoval:
		return p.stepTransform(jc, st, step)
	case jobs.StepImageRegistration, jobs.StepImageStacking:
		// Single-frame jobs have nothing to align or stack; the step is a
		// recorded no-op so multi-frame types can slot in later.
		return "", p.ensureFrame(jc, st)
	case jobs.StepQualityAssessment:
		return "", p.stepQuality(jc, st)
	case jobs.StepGenerateThumbnail:
		return p.stepThumbnail(jc, st)
	case jobs.StepExtractMetadata:
		return "", p.stepMetadata(jc, st)
	case jobs.StepUploadOutput:
		return p.stepUpload(jc, st)
	case jobs.StepUpdateCatalog:
		return "", p.stepCatalog(jc, st)
	case jobs.StepCleanup:
		return "", p.stepCleanup(jc, st)
	default:
		return "", apperr.Ef(apperr.KindValidation, nil, "unknown step %q", step)
	}
}

func (p *Calibration) stepDownload(jc *runtime.Context, st *runState) (string, error) {
	job := jc.Job
	start := time.Now()
	data, err := p.store.Get(jc.Ctx, job.InputBucket, job.InputKey)
	if err != nil {
		jc.Metrics.RecordIO("download", "failed", 0, time.Since(start))
		return "", err
	}
	jc.Metrics.RecordIO("download", "ok", int64(len(data)), time.Since(start))
	st.frame = data

	return p.artifacts.StoreIntermediate(jc.Ctx, job.SessionID, "download-input", job.InputKey, data, "", "")
}

func (p *Calibration) stepValidate(jc *runtime.Context, st *runState) error {
	if err := p.ensureFrame(jc, st); err != nil {
		return err
	}
	header, err := fits.ParseHeader(st.frame)
	if err != nil {
		return err
	}
	st.header = header
	st.meta = header.Metadata()
	jc.Metrics.RecordJobStarted(string(jc.Job.ProcessingType), st.meta.Instrument, int64(len(st.frame)))
	return nil
}

func (p *Calibration) stepTransform(jc *runtime.Context, st *runState, step jobs.Step) (string, error) {
	if err := p.ensureFrame(jc, st); err != nil {
		return "", err
	}
	stepType := calib.NormalizeStepType(string(step))

	var pc *types.ProcessingContext
	if jc.Job.ProcessingID != "" {
		pc, _ = p.contexts.Get(jc.Job.ProcessingID)
	}
	alg, err := p.algorithms.ForStep(stepType, pc.AlgorithmOverride(stepType))
	if err != nil {
		return "", err
	}

	off := fits.DataOffset(st.frame)
	out, res, err := alg.Apply(jc.Ctx, st.frame[off:], stepParams(pc, stepType))
	if err != nil {
		return "", err
	}
	next := make([]byte, 0, off+len(out))
	next = append(next, st.frame[:off]...)
	next = append(next, out...)
	st.frame = next
	st.calibStats[stepType] = res

	if step == jobs.StepCosmicRayRemoval && res.CosmicRaysRemoved > 0 {
		jc.Metrics.RecordCosmicRays(res.CosmicRaysRemoved)
	}
	jc.Log.Debug("Calibration transform applied",
		"step_type", stepType, "algorithm", alg.Info().ID,
		"pixels_adjusted", res.PixelsAdjusted, "mean_level", res.MeanLevel)

	return p.artifacts.StoreIntermediate(jc.Ctx, jc.Job.SessionID, stepType, jc.Job.InputKey, st.frame, "", "")
}

func (p *Calibration) stepQuality(jc *runtime.Context, st *runState) error {
	if err := p.ensureFrame(jc, st); err != nil {
		return err
	}
	off := fits.DataOffset(st.frame)
	st.quality = qualityScore(st.frame[off:])
	jc.Metrics.RecordImageQuality(st.quality)
	return nil
}

func (p *Calibration) stepThumbnail(jc *runtime.Context, st *runState) (string, error) {
	if err := p.ensureFrame(jc, st); err != nil {
		return "", err
	}
	png, err := calib.RenderThumbnail(st.frame)
	if err != nil {
		return "", err
	}
	base := strings.TrimSuffix(path.Base(jc.Job.InputKey), artifacts.FrameExtension)
	custom := "thumbnails/" + jc.Job.SessionID + "/" + base + ".png"
	full, err := p.artifacts.StoreIntermediate(jc.Ctx, jc.Job.SessionID, "thumbnail", jc.Job.InputKey, png, "", custom)
	if err != nil {
		return "", err
	}
	st.thumbnail = full
	// Thumbnails are side outputs; the calibrated frame stays the pipeline
	// artifact, so the path is recorded on the state and not returned.
	return "", nil
}

func (p *Calibration) stepMetadata(jc *runtime.Context, st *runState) error {
	md := map[string]any{
		"quality_score": st.quality,
	}
	if st.header != nil {
		md["instrument"] = st.meta.Instrument
		md["filter"] = st.meta.Filter
		md["telescope"] = st.meta.Telescope
		md["exposure_secs"] = st.meta.ExposureSecs
		if len(st.meta.Axes) > 0 {
			md["axes"] = st.meta.Axes
		}
	}
	if st.thumbnail != "" {
		md["thumbnail_path"] = st.thumbnail
	}
	for stepType, res := range st.calibStats {
		md[stepType] = res
	}
	return jc.SetMetadata(md)
}

func (p *Calibration) stepUpload(jc *runtime.Context, st *runState) (string, error) {
	if st.lastArtifact == "" {
		return "", apperr.Ef(apperr.KindValidation, nil, "no intermediate artifact to promote")
	}
	job := jc.Job

	finalBucket := job.OutputBucket
	if finalBucket == "" {
		finalBucket = p.processedBucket
	}
	finalKey := job.OutputKey
	if finalKey == "" {
		base := path.Base(job.InputKey)
		if pc, ok := p.contexts.Get(job.ProcessingID); ok {
			finalKey = pc.StoragePrefix() + "/" + base
		} else {
			finalKey = "calibrated/" + job.SessionID + "/" + base
		}
	}

	start := time.Now()
	full, err := p.artifacts.PromoteFinal(jc.Ctx, st.lastArtifact, finalBucket, finalKey)
	if err != nil {
		jc.Metrics.RecordIO("upload", "failed", 0, time.Since(start))
		return "", err
	}
	jc.Metrics.RecordIO("upload", "ok", int64(len(st.frame)), time.Since(start))

	bucket, key, err := objectstore.SplitPath(full)
	if err != nil {
		return "", err
	}
	st.finalBucket = bucket
	st.finalKey = key
	return full, nil
}

// stepCatalog registers the observed object when the header carries a
// position. Frames without RA/DEC cards skip catalog registration.
func (p *Calibration) stepCatalog(jc *runtime.Context, st *runState) error {
	if st.header == nil {
		return nil
	}
	raRaw, raOK := st.header.Get("RA")
	decRaw, decOK := st.header.Get("DEC")
	if !raOK || !decOK || raRaw == "" || decRaw == "" {
		jc.Log.Debug("No position cards in header, skipping catalog update")
		return nil
	}
	ra := st.header.Float("RA", math.NaN())
	dec := st.header.Float("DEC", math.NaN())
	if math.IsNaN(ra) || math.IsNaN(dec) {
		jc.Log.Warn("Unparseable position cards, skipping catalog update", "ra", raRaw, "dec", decRaw)
		return nil
	}

	obj := &types.AstronomicalObject{RA: ra, Dec: dec, Type: types.ObjectTypeUnknown}
	if name, ok := st.header.Get("OBJECT"); ok && name != "" {
		obj.ObjectID = &name
		obj.Name = &name
	}
	if mag := st.header.Float("MAG", math.NaN()); !math.IsNaN(mag) {
		obj.Magnitude = &mag
	}

	det := &types.Detection{
		RA:           ra,
		Dec:          dec,
		Filter:       st.meta.Filter,
		Instrument:   st.meta.Instrument,
		ExposureSecs: st.meta.ExposureSecs,
		QualityFlag:  qualityFlag(st.quality),
	}
	if st.finalBucket != "" {
		det.SourceImagePath = st.finalBucket + "/" + st.finalKey
	}
	return p.catalog.RecordDetection(dbctx.Context{Ctx: jc.Ctx}, obj, det)
}

func (p *Calibration) stepCleanup(jc *runtime.Context, st *runState) error {
	if jc.Job.SessionID == "" {
		return nil
	}
	removed, err := p.artifacts.CleanupSession(jc.Ctx, jc.Job.SessionID, true)
	if err != nil {
		// Cleanup never fails the job; leftovers are swept by the next
		// session-wide cleanup.
		jc.Log.Warn("Session cleanup failed", "error", err)
		return nil
	}
	jc.Log.Debug("Session intermediates cleaned", "removed", removed)
	return nil
}

// ensureFrame reloads the working frame after a resume, preferring the
// newest committed artifact over the original input.
func (p *Calibration) ensureFrame(jc *runtime.Context, st *runState) error {
	if st.frame != nil {
		return nil
	}
	bucket, key := jc.Job.InputBucket, jc.Job.InputKey
	if st.lastArtifact != "" {
		b, k, err := objectstore.SplitPath(st.lastArtifact)
		if err != nil {
			return err
		}
		bucket, key = b, k
	}
	start := time.Now()
	data, err := p.store.Get(jc.Ctx, bucket, key)
	if err != nil {
		jc.Metrics.RecordIO("download", "failed", 0, time.Since(start))
		return err
	}
	jc.Metrics.RecordIO("download", "ok", int64(len(data)), time.Since(start))
	st.frame = data
	return nil
}

// stepParams lifts per-step parameter overrides ("<stepType>.<param>") from
// the processing context into the flat map algorithms consume. The
// ".algorithm" key selects the variant and is not a parameter.
func stepParams(pc *types.ProcessingContext, stepType string) map[string]string {
	if pc == nil || len(pc.ParameterOverrides) == 0 {
		return nil
	}
	prefix := stepType + "."
	var out map[string]string
	for k, v := range pc.ParameterOverrides {
		if !strings.HasPrefix(k, prefix) || k == prefix+"algorithm" {
			continue
		}
		if out == nil {
			out = map[string]string{}
		}
		out[strings.TrimPrefix(k, prefix)] = fmt.Sprint(v)
	}
	return out
}

// qualityFlag buckets a score the way the quality dashboards do:
// excellent >= 80, good >= 60, fair >= 40, else poor.
func qualityFlag(score float64) string {
	switch {
	case score >= 80:
		return "excellent"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	default:
		return "poor"
	}
}

// qualityScore grades the pixel payload on [0,100]. Contrast contributes up
// to 70 points, absence of saturated pixels the remaining 30.
func qualityScore(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum, sumSq float64
	saturated := 0
	for _, b := range data {
		v := float64(b)
		sum += v
		sumSq += v * v
		if b >= 250 {
			saturated++
		}
	}
	n := float64(len(data))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	stddev := math.Sqrt(variance)

	contrast := stddev / 64 * 70
	if contrast > 70 {
		contrast = 70
	}
	satFrac := float64(saturated) / n
	clean := 30 * (1 - 10*satFrac)
	if clean < 0 {
		clean = 0
	}
	return contrast + clean
}
