package dfs

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/colinmarc/hdfs/v2"
	"go.uber.org/zap"
)

const (
	defaultHdfsUsername = "hdfs"
)

// HdfsProvider resolves experiment locations on HDFS.
type HdfsProvider struct {
	*baseProvider

	address      string
	hdfsUsername string
	hdfsClient   *hdfs.Client
}

func NewHdfsProvider(address string, project string) *HdfsProvider {
	return &HdfsProvider{
		baseProvider: newBaseProvider(project),
		address:      address,
		hdfsUsername: defaultHdfsUsername,
	}
}

// SetHdfsUsername sets the username to use when connecting to HDFS.
// It has no effect once the provider is connected.
func (p *HdfsProvider) SetHdfsUsername(user string) {
	p.hdfsUsername = user
}

// Connect creates the HDFS client.
func (p *HdfsProvider) Connect() error {
	p.logger.Debug("Connecting to HDFS.", zap.String("address", p.address), zap.String("user", p.hdfsUsername))

	dialer := func(ctx context.Context, network, address string) (net.Conn, error) {
		conn, err := (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext(ctx, network, address)
		if err != nil {
			p.sugaredLogger.Errorf("Failed to dial HDFS at address '%s' with network '%s' because: %v", address, network, err)
			return nil, err
		}
		return conn, nil
	}

	hdfsClient, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses:        []string{p.address},
		User:             p.hdfsUsername,
		NamenodeDialFunc: dialer,
		DatanodeDialFunc: dialer,
	})
	if err != nil {
		p.logger.Error("Failed to create HDFS client.", zap.String("address", p.address), zap.Error(err))
		return err
	}

	p.hdfsClient = hdfsClient
	p.sugaredLogger.Infof("Successfully connected to HDFS at '%s'", p.address)
	return nil
}

func (p *HdfsProvider) DefaultFS() string {
	return NormalizeDefaultFS(fmt.Sprintf("hdfs://%s", p.address))
}

func (p *HdfsProvider) ExperimentsDir() string {
	return experimentsDir("/", p.project)
}

// VersionResources copies every local file into dir on HDFS, creating dir if needed.
func (p *HdfsProvider) VersionResources(_ context.Context, resources []string, dir string) ([]string, error) {
	if len(resources) == 0 {
		return nil, nil
	}

	if err := p.hdfsClient.MkdirAll(dir, os.FileMode(0750)); err != nil {
		p.logger.Error("Failed to create HDFS directory.", zap.String("directory", dir), zap.Error(err))
		return nil, err
	}

	versioned := make([]string, 0, len(resources))
	for _, resource := range resources {
		remote := path.Join(dir, filepath.Base(resource))
		if err := p.hdfsClient.CopyToRemote(resource, remote); err != nil {
			p.logger.Error("Failed to copy resource to HDFS.",
				zap.String("resource", resource), zap.String("remote_path", remote), zap.Error(err))
			return versioned, err
		}

		p.logger.Debug("Versioned resource.", zap.String("resource", resource), zap.String("remote_path", remote))
		versioned = append(versioned, p.DefaultFS()+remote)
	}

	return versioned, nil
}

func (p *HdfsProvider) Close() error {
	if p.hdfsClient == nil {
		return nil
	}
	return p.hdfsClient.Close()
}
