package deps

import "strings"

// FFmpeg describes the ffmpeg binary used for audio extraction, falling back
// to "ffmpeg" on PATH when unset.
func FFmpeg(configured string) Requirement {
	binary := strings.TrimSpace(configured)
	if binary == "" {
		binary = "ffmpeg"
	}
	return Requirement{
		Name:        "FFmpeg",
		Command:     binary,
		Description: "Required for audio extraction",
		VersionArgs: []string{"-version"},
	}
}

// ResolveFFmpeg reports the ffmpeg binary audio extraction will execute.
func ResolveFFmpeg(configured string) Status {
	return Check(FFmpeg(configured))
}
