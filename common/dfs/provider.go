// Package dfs resolves the locations that a cluster run writes to on the distributed filesystem.
package dfs

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultProjectName = "default"
	runDirectory       = "cluster"

	ProviderLocal = "local"
	ProviderHdfs  = "hdfs"
)

// ProviderOptions selects and configures the filesystem that run logs are written to.
type ProviderOptions struct {
	FilesystemKind string `name:"dfs" json:"dfs" yaml:"dfs" description:"Filesystem that run logs are written to: local or hdfs."`
	HdfsAddress    string `name:"hdfs-namenode-endpoint" json:"hdfs-namenode-endpoint" yaml:"hdfs-namenode-endpoint" description:"Hostname:port of the HDFS namenode."`
	HdfsUsername   string `name:"hdfs-username" json:"hdfs-username" yaml:"hdfs-username" description:"User to connect to HDFS as."`
	LocalRoot      string `name:"local-dfs-root" json:"local-dfs-root" yaml:"local-dfs-root" description:"Root directory of the local filesystem provider."`
}

// Provider is the read-mostly view of the distributed filesystem used to build log paths.
type Provider interface {
	// DefaultFS returns the URI of the default filesystem.
	DefaultFS() string

	// ProjectName returns the project that experiments are recorded under.
	ProjectName() string

	// ExperimentsDir returns the canonical directory that experiment logs are written under.
	ExperimentsDir() string

	// VersionResources copies the given local files into dir and returns their new paths.
	VersionResources(ctx context.Context, resources []string, dir string) ([]string, error)

	Close() error
}

// NormalizeDefaultFS strips the trailing root slash of a "file:///" URI so that it composes with
// absolute paths the same way an "hdfs://host:port" URI does.
func NormalizeDefaultFS(defaultFS string) string {
	if strings.HasPrefix(defaultFS, "file://") && len(defaultFS) > len("file://") && strings.HasSuffix(defaultFS, "/") {
		return defaultFS[:len(defaultFS)-1]
	}
	return defaultFS
}

// RunLogDir returns the log directory of one run of an application.
func RunLogDir(p Provider, appID string, runID int) string {
	return path.Join(p.ExperimentsDir(), appID, runDirectory, fmt.Sprintf("run.%d", runID))
}

// NewProvider creates the provider described by opts and connects it.
func NewProvider(opts *ProviderOptions, project string) (Provider, error) {
	switch strings.ToLower(opts.FilesystemKind) {
	case "", ProviderLocal:
		return NewLocalProvider(opts.LocalRoot, project), nil
	case ProviderHdfs:
		provider := NewHdfsProvider(opts.HdfsAddress, project)
		if opts.HdfsUsername != "" {
			provider.SetHdfsUsername(opts.HdfsUsername)
		}
		return provider, provider.Connect()
	default:
		return nil, fmt.Errorf("unknown filesystem \"%s\"", opts.FilesystemKind)
	}
}

type baseProvider struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger

	project string
}

func newBaseProvider(project string) *baseProvider {
	if project == "" {
		project = defaultProjectName
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "[ERROR] Failed to create Zap Development logger because: %v\n", err)
		logger = zap.NewNop()
	}

	return &baseProvider{
		logger:        logger,
		sugaredLogger: logger.Sugar(),
		project:       project,
	}
}

func (p *baseProvider) ProjectName() string {
	return p.project
}

func experimentsDir(root string, project string) string {
	return path.Join(root, "Projects", project, "Experiments")
}
