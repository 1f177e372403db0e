// Package filestore is the default FileSink: uploads land as
// uniquely-named files in a single directory.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"deskcast/internal/types"
)

type DirSink struct {
	dir    string
	logger zerolog.Logger
}

// NewDirSink creates the upload directory if needed.
func NewDirSink(dir string, logger zerolog.Logger) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DirSink{dir: dir, logger: logger}, nil
}

// Store writes the payload under a fresh UUID name. The transport is
// accepted for interface parity with other collaborators; no
// acknowledgment message is defined for uploads.
func (s *DirSink) Store(ctx context.Context, data []byte, t types.Transport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := uuid.New().String() + ".bin"
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("store upload: %w", err)
	}

	s.logger.Info().Str("file", name).Int("bytes", len(data)).Msg("upload stored")
	return nil
}
