package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileRepository keeps each record set in its own file under a data
// directory. Files are replaced through a temp file and a rename, so a
// reader never observes a partially written set.
type FileRepository struct {
	dir    string
	logger *zap.Logger
}

// NewFileRepository returns a repository rooted at dir.
func NewFileRepository(dir string, logger *zap.Logger) *FileRepository {
	return &FileRepository{
		dir:    dir,
		logger: logger,
	}
}

// Dir returns the data directory.
func (r *FileRepository) Dir() string {
	return r.dir
}

// Load reads the three record files. Missing files load as empty sets.
func (r *FileRepository) Load(ctx context.Context) (*Snapshot, *LoadReport, error) {
	var enc Encoded
	var err error

	for _, f := range []struct {
		name string
		dst  *[]byte
	}{
		{AccountsFile, &enc.Accounts},
		{LockBoxesFile, &enc.LockBoxes},
		{ReleaseLogFile, &enc.ReleaseLog},
	} {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if *f.dst, err = r.readFile(f.name); err != nil {
			return nil, nil, err
		}
	}

	snap, report := Decode(enc)
	logReport(r.logger, report)
	return snap, report, nil
}

// Save writes the snapshot's record sets. All three are staged to temp
// files before any is renamed into place. If a rename fails, the files
// already published are put back to their previous content (or removed
// when they did not exist before), so the data directory holds either the
// old snapshot or the new one. Restoring is best effort: a second failure
// while rolling back is joined to the returned error.
func (r *FileRepository) Save(ctx context.Context, snap *Snapshot) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	enc := Encode(snap)
	staged := make([]stagedFile, 0, 3)
	defer func() {
		for _, f := range staged {
			_ = os.Remove(f.tmp)
		}
	}()

	for _, f := range []struct {
		name string
		data []byte
	}{
		{ReleaseLogFile, enc.ReleaseLog},
		{LockBoxesFile, enc.LockBoxes},
		{AccountsFile, enc.Accounts},
	} {
		if err := ctx.Err(); err != nil {
			return err
		}
		tmp, err := stageFile(r.dir, f.name, f.data)
		if err != nil {
			return fmt.Errorf("failed to stage %s: %w", f.name, err)
		}
		staged = append(staged, stagedFile{tmp: tmp, path: filepath.Join(r.dir, f.name)})
	}

	published := make([]previousFile, 0, len(staged))
	for len(staged) > 0 {
		f := staged[0]
		prev, err := capturePrevious(f.path)
		if err == nil {
			err = os.Rename(f.tmp, f.path)
		}
		if err != nil {
			err = fmt.Errorf("failed to publish %s: %w", filepath.Base(f.path), err)
			return errors.Join(err, r.rollback(published))
		}
		published = append(published, prev)
		staged = staged[1:]
	}

	r.logger.Debug("Snapshot saved",
		zap.String("dir", r.dir),
		zap.Int("accounts", len(snap.Accounts)),
		zap.Int("release_events", len(snap.ReleaseLog)),
	)
	return nil
}

// Writable verifies the data directory accepts new files.
func (r *FileRepository) Writable() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(r.dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (r *FileRepository) readFile(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

type stagedFile struct {
	tmp  string
	path string
}

// previousFile is what a target held before Save replaced it.
type previousFile struct {
	path    string
	data    []byte
	existed bool
}

func capturePrevious(path string) (previousFile, error) {
	prev := previousFile{path: path}
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return prev, nil
	}
	if err != nil {
		return prev, err
	}
	if !info.Mode().IsRegular() {
		// The rename over it fails on its own and nothing needs restoring.
		return prev, nil
	}
	if prev.data, err = os.ReadFile(path); err != nil {
		return prev, err
	}
	prev.existed = true
	return prev, nil
}

// rollback restores published files in reverse order.
func (r *FileRepository) rollback(published []previousFile) error {
	var errs []error
	for i := len(published) - 1; i >= 0; i-- {
		p := published[i]
		name := filepath.Base(p.path)

		if !p.existed {
			if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", name, err))
			}
			continue
		}

		tmp, err := stageFile(r.dir, name, p.data)
		if err == nil {
			if err = os.Rename(tmp, p.path); err != nil {
				_ = os.Remove(tmp)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to restore %s: %w", name, err))
			continue
		}
		r.logger.Warn("Restored file after failed save", zap.String("file", name))
	}
	return errors.Join(errs...)
}

// stageFile writes data to a synced temp file next to its final name.
func stageFile(dir, name string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}

func logReport(logger *zap.Logger, report *LoadReport) {
	for _, le := range report.Skipped {
		logger.Warn("Skipping malformed record",
			zap.String("file", le.File),
			zap.Int("line", le.Line),
			zap.Error(le.Err),
		)
	}
	if report.Orphaned > 0 {
		logger.Warn("Dropped lock boxes without an owner",
			zap.Int("count", report.Orphaned),
		)
	}
}
