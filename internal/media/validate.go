package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pion/webrtc/v4"
)

// FileInfo describes a media file to stream.
type FileInfo struct {
	// Path is the absolute path to the file
	Path string

	Name string
	Size int64

	// Kind is audio for Ogg/Opus and video for IVF/VP8.
	Kind webrtc.RTPCodecType
}

// ValidateFiles checks that every path is a readable IVF or Ogg file and
// that no kind appears twice. All problems are reported together.
func ValidateFiles(paths []string) ([]FileInfo, error) {
	var (
		infos    []FileInfo
		problems []string
		seen     = make(map[webrtc.RTPCodecType]string)
	)

	for _, path := range paths {
		info, err := validateSingleFile(path)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if prev, dup := seen[info.Kind]; dup {
			problems = append(problems, fmt.Sprintf("%s: second %s file (already have %s)", path, info.Kind, prev))
			continue
		}
		seen[info.Kind] = path
		infos = append(infos, info)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("media validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return infos, nil
}

func validateSingleFile(path string) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}
	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: is a directory", path)
	}
	if stat.Size() == 0 {
		return FileInfo{}, fmt.Errorf("%s: file is empty", path)
	}

	var kind webrtc.RTPCodecType
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".ivf":
		kind = webrtc.RTPCodecTypeVideo
	case ".ogg", ".opus":
		kind = webrtc.RTPCodecTypeAudio
	default:
		return FileInfo{}, fmt.Errorf("%s: unsupported format (want .ivf or .ogg)", path)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	file.Close()

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Kind: kind,
	}, nil
}
