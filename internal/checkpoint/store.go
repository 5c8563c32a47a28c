package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/polymarket-ledger/pkg/types"
	"go.uber.org/zap"
)

// FileStore keeps one JSON checkpoint record per stage in a directory.
//
// Reads are deliberately tolerant: a record that is missing or fails to
// parse is reported as absent, never as an error. Restarting a stage from
// scratch is safe because processing is idempotent; trusting a corrupt
// cursor is not.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates the checkpoint directory if needed.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}

	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(stageID string) string {
	return filepath.Join(s.dir, stageID+".json")
}

// Get returns the checkpoint for a stage. ok is false when no usable
// record exists.
func (s *FileStore) Get(stageID string) (types.Checkpoint, bool) {
	data, err := os.ReadFile(s.path(stageID))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("checkpoint-unreadable-treating-as-absent",
				zap.String("stage", stageID),
				zap.Error(err))
		}
		return types.Checkpoint{}, false
	}

	var cp types.Checkpoint
	err = json.Unmarshal(data, &cp)
	if err != nil || cp.StageID != stageID {
		s.logger.Warn("checkpoint-corrupt-treating-as-absent",
			zap.String("stage", stageID),
			zap.Error(err))
		return types.Checkpoint{}, false
	}

	return cp, true
}

// Put durably writes a stage checkpoint. Callers must only invoke this
// after the corresponding stage output has been flushed: advancing the
// cursor before the flush risks silent data loss on crash, while flushing
// without advancing only costs redundant, deduplicated reprocessing.
func (s *FileStore) Put(cp types.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", cp.StageID, err)
	}

	// Write-then-rename keeps the record atomic: a crash mid-write leaves
	// either the old record or the new one, never a torn file.
	tmp := s.path(cp.StageID) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoint temp file: %w", err)
	}

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write checkpoint %s: %w", cp.StageID, err)
	}

	err = os.Rename(tmp, s.path(cp.StageID))
	if err != nil {
		return fmt.Errorf("rename checkpoint %s: %w", cp.StageID, err)
	}

	PutsTotal.Inc()

	return nil
}

// Clear removes one stage's checkpoint. Missing records are not an error.
func (s *FileStore) Clear(stageID string) error {
	err := os.Remove(s.path(stageID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear checkpoint %s: %w", stageID, err)
	}

	return nil
}

// ClearAll removes the checkpoints for the given stages.
func (s *FileStore) ClearAll(stageIDs []string) error {
	for _, id := range stageIDs {
		err := s.Clear(id)
		if err != nil {
			return err
		}
	}

	s.logger.Info("checkpoints-cleared", zap.Int("count", len(stageIDs)))

	return nil
}

// Age returns how long ago a stage completed, or false when the stage has
// no complete checkpoint.
func (s *FileStore) Age(stageID string, now time.Time) (time.Duration, bool) {
	cp, ok := s.Get(stageID)
	if !ok || cp.Status != types.StatusComplete {
		return 0, false
	}

	return now.Sub(cp.CompletedAt), true
}
