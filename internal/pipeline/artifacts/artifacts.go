// Package artifacts manages the intermediate frames a calibration job
// hands from step to step, and their promotion to the final output
// location.
package artifacts

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
	"github.com/halcyonsky/astropipe-backend/internal/platform/objectstore"
)

// FrameExtension is the canonical extension appended to derived filenames.
const FrameExtension = ".fits"

const keyTimeLayout = "20060102-150405"

// cleanupParallelism bounds concurrent deletes against the object store.
const cleanupParallelism = 8

// Info describes one stored intermediate, parsed back out of its key.
type Info struct {
	Path      string    `json:"path"`
	SessionID string    `json:"session_id"`
	StepType  string    `json:"step_type"`
	Timestamp time.Time `json:"timestamp"`
	Filename  string    `json:"filename"`
	Final     bool      `json:"final"`
}

type Store struct {
	store  objectstore.Store
	bucket string
	log    *logger.Logger
	now    func() time.Time
}

// NewStore builds an artifact store over the given object store. bucket is
// the default intermediate bucket.
func NewStore(store objectstore.Store, bucket string, baseLog *logger.Logger) *Store {
	return &Store{
		store:  store,
		bucket: bucket,
		log:    baseLog.With("component", "ArtifactStore"),
		now:    time.Now,
	}
}

// derivedFilename keeps the input's basename and guarantees the canonical
// extension.
func derivedFilename(originalInputPath string) string {
	base := path.Base(strings.TrimSuffix(originalInputPath, "/"))
	if base == "." || base == "/" || base == "" {
		base = "frame"
	}
	if !strings.HasSuffix(strings.ToLower(base), FrameExtension) {
		base += FrameExtension
	}
	return base
}

// StoreIntermediate writes a step's output frame and returns its full
// "bucket/key" path. customPath supersedes the structured key; a customPath
// ending in "/" gets the derived basename appended.
func (s *Store) StoreIntermediate(ctx context.Context, sessionID, stepType, originalInputPath string, data []byte, outputBucket, customPath string) (string, error) {
	if sessionID == "" {
		return "", apperr.Ef(apperr.KindValidation, nil, "missing session id")
	}
	if stepType == "" {
		return "", apperr.Ef(apperr.KindValidation, nil, "missing step type")
	}

	bucket := outputBucket
	if bucket == "" {
		bucket = s.bucket
	}

	filename := derivedFilename(originalInputPath)
	var key string
	if customPath != "" {
		key = customPath
		if strings.HasSuffix(key, "/") {
			key += filename
		}
	} else {
		key = fmt.Sprintf("sessions/%s/%s/%s/%s",
			sessionID, stepType, s.now().UTC().Format(keyTimeLayout), filename)
	}

	if err := s.store.Put(ctx, bucket, key, data); err != nil {
		return "", err
	}
	s.log.Debug("stored intermediate",
		"session_id", sessionID, "step_type", stepType, "key", key, "bytes", len(data))
	return bucket + "/" + key, nil
}

// PromoteFinal copies an intermediate to the final output location and
// returns the full final path. A missing intermediate is fatal for the
// promotion. finalPath without the canonical extension gets the original
// basename appended.
func (s *Store) PromoteFinal(ctx context.Context, intermediatePath, finalBucket, finalPath string) (string, error) {
	srcBucket, srcKey, err := objectstore.SplitPath(intermediatePath)
	if err != nil {
		return "", err
	}

	if finalBucket == "" {
		finalBucket = srcBucket
	}
	if finalPath == "" {
		finalPath = "final/" + path.Base(srcKey)
	}
	if !strings.HasSuffix(strings.ToLower(finalPath), FrameExtension) {
		if !strings.HasSuffix(finalPath, "/") {
			finalPath += "/"
		}
		finalPath += path.Base(srcKey)
	}

	data, err := s.store.Get(ctx, srcBucket, srcKey)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return "", apperr.E(apperr.KindNotFound, "intermediate missing at promotion: "+intermediatePath, err)
		}
		return "", err
	}
	if err := s.store.Put(ctx, finalBucket, finalPath, data); err != nil {
		return "", err
	}
	s.log.Info("promoted final output", "from", intermediatePath, "to", finalBucket+"/"+finalPath)
	return finalBucket + "/" + finalPath, nil
}

// Cleanup deletes the listed paths best-effort, logging and continuing past
// individual failures. Deletions fan out over the object store with bounded
// parallelism. Returns how many deletions succeeded.
func (s *Store) Cleanup(ctx context.Context, paths []string) int {
	var deleted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupParallelism)
	for _, p := range paths {
		bucket, key, err := objectstore.SplitPath(p)
		if err != nil {
			s.log.Warn("cleanup: skipping malformed path", "path", p, "error", err)
			continue
		}
		p := p
		g.Go(func() error {
			if err := s.store.Delete(gctx, bucket, key); err != nil {
				s.log.Warn("cleanup: delete failed", "path", p, "error", err)
				return nil
			}
			deleted.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(deleted.Load())
}

// ListSession returns the session's intermediates sorted ascending by the
// timestamp embedded in the key. Entries whose step type is "final" or whose
// key contains "final" are flagged.
func (s *Store) ListSession(ctx context.Context, sessionID string) ([]Info, error) {
	if sessionID == "" {
		return nil, apperr.Ef(apperr.KindValidation, nil, "missing session id")
	}
	prefix := "sessions/" + sessionID + "/"
	keys, err := s.store.List(ctx, s.bucket, prefix)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(keys))
	for _, key := range keys {
		info := parseKey(s.bucket, sessionID, key)
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Timestamp.Equal(infos[j].Timestamp) {
			return infos[i].Path < infos[j].Path
		}
		return infos[i].Timestamp.Before(infos[j].Timestamp)
	})
	return infos, nil
}

// CleanupSession removes a session's intermediates; with keepFinal the
// final-flagged entries survive.
func (s *Store) CleanupSession(ctx context.Context, sessionID string, keepFinal bool) (int, error) {
	infos, err := s.ListSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	var paths []string
	for _, info := range infos {
		if keepFinal && info.Final {
			continue
		}
		paths = append(paths, info.Path)
	}
	return s.Cleanup(ctx, paths), nil
}

func parseKey(bucket, sessionID, key string) Info {
	info := Info{
		Path:      bucket + "/" + key,
		SessionID: sessionID,
		Filename:  path.Base(key),
	}
	// sessions/{sessionId}/{stepType}/{yyyymmdd-HHmmss}/{filename}
	parts := strings.Split(key, "/")
	if len(parts) >= 5 {
		info.StepType = parts[2]
		if ts, err := time.Parse(keyTimeLayout, parts[3]); err == nil {
			info.Timestamp = ts
		}
	}
	if strings.EqualFold(info.StepType, "final") || strings.Contains(strings.ToLower(key), "final") {
		info.Final = true
	}
	return info
}
