// Package media classifies input files and derives output names.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is the media class of a target file
type Kind int

const (
	Unknown Kind = iota
	Image
	Video
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Video:
		return "video"
	default:
		return "unknown"
	}
}

// Detect sniffs the file content to tell images from videos
func Detect(path string) (Kind, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Unknown, err
	}
	if info.IsDir() {
		return Unknown, fmt.Errorf("%s is a directory", path)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Unknown, fmt.Errorf("failed to detect type of %s: %w", path, err)
	}

	// Walk the parent chain so aliases like application/mp4 still resolve
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return Image, nil
		case strings.HasPrefix(m.String(), "video/"):
			return Video, nil
		}
	}
	return Unknown, nil
}

// OutputPath resolves output when it names a directory: the file becomes
// <source>-<target><target ext> inside it. Other paths are returned as is.
func OutputPath(source, target, output string) string {
	info, err := os.Stat(output)
	if err != nil || !info.IsDir() {
		return output
	}

	targetBase := filepath.Base(target)
	ext := filepath.Ext(targetBase)
	name := strings.TrimSuffix(targetBase, ext)
	if source != "" {
		sourceBase := filepath.Base(source)
		name = strings.TrimSuffix(sourceBase, filepath.Ext(sourceBase)) + "-" + name
	}
	return filepath.Join(output, name+ext)
}
