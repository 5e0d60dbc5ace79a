package media

import (
	"fmt"
	"os/exec"
)

// Tools holds resolved executable paths. It is built once at startup and
// passed to whatever needs it.
type Tools struct {
	FFmpeg  string
	FFprobe string
}

// ResolveTools looks up ffmpeg and ffprobe. Empty names default to "ffmpeg"
// and "ffprobe"; names with a path separator are checked as given.
func ResolveTools(ffmpegName, ffprobeName string) (Tools, error) {
	return resolveTools(exec.LookPath, ffmpegName, ffprobeName)
}

func resolveTools(lookPath func(string) (string, error), ffmpegName, ffprobeName string) (Tools, error) {
	if ffmpegName == "" {
		ffmpegName = "ffmpeg"
	}
	if ffprobeName == "" {
		ffprobeName = "ffprobe"
	}

	ffmpeg, err := lookPath(ffmpegName)
	if err != nil {
		return Tools{}, fmt.Errorf("%w: %s: %w", ErrToolNotFound, ffmpegName, err)
	}
	ffprobe, err := lookPath(ffprobeName)
	if err != nil {
		return Tools{}, fmt.Errorf("%w: %s: %w", ErrToolNotFound, ffprobeName, err)
	}
	return Tools{FFmpeg: ffmpeg, FFprobe: ffprobe}, nil
}
