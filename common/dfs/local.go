package dfs

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// LocalProvider resolves experiment locations on the local filesystem under a root directory.
type LocalProvider struct {
	*baseProvider

	root string
}

func NewLocalProvider(root string, project string) *LocalProvider {
	if root == "" {
		root = os.TempDir()
	}

	return &LocalProvider{
		baseProvider: newBaseProvider(project),
		root:         root,
	}
}

func (p *LocalProvider) DefaultFS() string {
	return NormalizeDefaultFS("file:///")
}

func (p *LocalProvider) ExperimentsDir() string {
	return experimentsDir(p.root, p.project)
}

// VersionResources copies every local file into dir, creating dir if needed.
func (p *LocalProvider) VersionResources(_ context.Context, resources []string, dir string) ([]string, error) {
	if len(resources) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(dir, os.FileMode(0750)); err != nil {
		return nil, err
	}

	versioned := make([]string, 0, len(resources))
	for _, resource := range resources {
		dst := filepath.Join(dir, filepath.Base(resource))
		if err := copyFile(resource, dst); err != nil {
			p.logger.Error("Failed to copy resource.", zap.String("resource", resource), zap.String("destination", dst), zap.Error(err))
			return versioned, err
		}
		versioned = append(versioned, dst)
	}

	return versioned, nil
}

func copyFile(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}

func (p *LocalProvider) Close() error {
	return nil
}
