package experiment

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// LocalSink writes each document to <dir>/<project>/<app id>/<run label>.json.
type LocalSink struct {
	*baseSink

	dir string
}

func NewLocalSink(dir string) (*LocalSink, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "experiments")
	}

	if err := os.MkdirAll(dir, os.FileMode(0750)); err != nil {
		return nil, err
	}

	return &LocalSink{baseSink: newBaseSink(), dir: dir}, nil
}

// Path returns the file the document under key is written to.
func (s *LocalSink) Path(key Key) string {
	return filepath.Join(s.dir, key.Project, key.ApplicationID, key.RunLabel+".json")
}

func (s *LocalSink) Put(_ context.Context, key Key, doc []byte) error {
	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), os.FileMode(0750)); err != nil {
		return err
	}

	// Write to a temporary file first so that readers never observe a partial document.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, doc, os.FileMode(0640)); err != nil {
		s.logger.Error("Failed to write experiment document.", zap.String("path", tmp), zap.Error(err))
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		s.logger.Error("Failed to move experiment document into place.", zap.String("path", path), zap.Error(err))
		return err
	}

	s.logger.Debug("Wrote experiment document.", zap.String("path", path), zap.Int("num_bytes", len(doc)))
	return nil
}

func (s *LocalSink) Close() error {
	_ = s.logger.Sync()
	return nil
}
