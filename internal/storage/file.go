package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"neurodecode/internal/model"
)

// ArchiveName is the file holding one aggregate inside its key directory.
const ArchiveName = "patterns.pb"

// FileStore writes every aggregate to <root>/<scope>_<data_id>/patterns.pb.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) ArchivePath(key string) string {
	return filepath.Join(s.root, key, ArchiveName)
}

func (s *FileStore) Init(_ context.Context) error {
	if s.root == "" {
		return errors.New("file store root is required")
	}
	return errors.Wrap(os.MkdirAll(s.root, 0o755), "create store root")
}

func (s *FileStore) SaveResult(ctx context.Context, result model.AggregateResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := EncodeResult(result)
	if err != nil {
		return err
	}
	path := s.ArchivePath(result.Key())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create archive directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write archive")
	}
	return errors.Wrap(os.Rename(tmp, path), "install archive")
}

func (s *FileStore) GetResult(ctx context.Context, key string) (model.AggregateResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.AggregateResult{}, false, err
	}
	payload, err := os.ReadFile(s.ArchivePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return model.AggregateResult{}, false, nil
		}
		return model.AggregateResult{}, false, errors.Wrapf(err, "read archive %s", key)
	}
	result, err := DecodeResult(payload)
	if err != nil {
		return model.AggregateResult{}, false, errors.Wrapf(err, "decode archive %s", key)
	}
	return result, true, nil
}

func (s *FileStore) ListResults(ctx context.Context) ([]ResultInfo, error) {
	paths, err := filepath.Glob(filepath.Join(s.root, "*", ArchiveName))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]ResultInfo, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read archive %s", path)
		}
		result, err := DecodeResult(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "decode archive %s", path)
		}
		out = append(out, infoFor(result, len(payload)))
	}
	return out, nil
}
