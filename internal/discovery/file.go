package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"wol-go-home/internal/hostdir"
)

// hintsFile is the on-disk format written by an external collector:
//
//	hosts:
//	  "AA:BB:CC:DD:EE:FF":
//	    name: nas
//	    ipv4: [192.168.1.20]
//	    ipv6: ["fe80::1"]
type hintsFile struct {
	Hosts map[string]hostdir.Hint `yaml:"hosts"`
}

// FileSource reads hints from a YAML file on every call, so the collector
// can rewrite it at any time. A missing file yields no hints.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a source reading path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	return &FileSource{path: path, logger: logger.With("component", "discovery", "source", "file")}
}

func (s *FileSource) HostHints(ctx context.Context) (map[string]hostdir.Hint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("hints file not found", "path", s.path)
		return map[string]hostdir.Hint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hints: %w", err)
	}

	var f hintsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse hints %s: %w", s.path, err)
	}
	if f.Hosts == nil {
		f.Hosts = map[string]hostdir.Hint{}
	}
	return f.Hosts, nil
}
