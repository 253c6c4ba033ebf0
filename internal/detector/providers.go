package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDirectory = errors.New("detector: invalid directory info")

// DirectoryInfo is where a writer puts its files for one staged session.
type DirectoryInfo struct {
	Path           string
	FilenamePrefix string
}

func (d DirectoryInfo) Validate() error {
	if strings.TrimSpace(d.Path) == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidDirectory)
	}
	return nil
}

// DirectoryProvider supplies the directory for the next staged session.
type DirectoryProvider interface {
	Directory() DirectoryInfo
}

// StaticDirectoryProvider always returns the same directory.
type StaticDirectoryProvider struct {
	info DirectoryInfo
}

func NewStaticDirectoryProvider(path, filenamePrefix string) *StaticDirectoryProvider {
	return &StaticDirectoryProvider{info: DirectoryInfo{Path: path, FilenamePrefix: filenamePrefix}}
}

func (p *StaticDirectoryProvider) Directory() DirectoryInfo {
	return p.info
}

// NameProvider names the data key a writer emits.
type NameProvider func() string

// ShapeProvider reports the shape of one frame.
type ShapeProvider func(ctx context.Context) ([]int, error)
