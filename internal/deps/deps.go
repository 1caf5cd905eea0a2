package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const (
	versionQueryTimeout = 2 * time.Second
	maxVersionLength    = 120
)

// Requirement defines an external program the transcription worker executes.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// VersionArgs, when set, are passed to the resolved binary and the first
	// output line is recorded as its version.
	VersionArgs []string
}

// Status reports the availability of a dependency. Command holds the
// resolved path when the binary was found.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Version     string
	Detail      string
}

// SpeechBridge describes the recognizer bridge executable.
func SpeechBridge(command string) Requirement {
	return Requirement{
		Name:        "Speech bridge",
		Command:     command,
		Description: "Required for speech recognition",
		VersionArgs: []string{"--version"},
	}
}

// WorkerRequirements lists the binaries a worker needs. Mock recognition
// runs without the speech bridge.
func WorkerRequirements(ffmpegBinary, speechCommand string, mockRecognition bool) []Requirement {
	reqs := []Requirement{FFmpeg(ffmpegBinary)}
	if !mockRecognition {
		reqs = append(reqs, SpeechBridge(speechCommand))
	}
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, Check(req))
	}
	return results
}

// Check resolves one requirement. An absolute or relative path must exist and
// be executable; a bare name is looked up on PATH.
func Check(req Requirement) Status {
	cmd := strings.TrimSpace(req.Command)
	status := Status{
		Name:        req.Name,
		Command:     cmd,
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if cmd == "" {
		status.Detail = "command not configured"
		return status
	}

	if strings.ContainsRune(cmd, os.PathSeparator) {
		info, err := os.Stat(cmd)
		if err != nil || !isExecutable(info) {
			status.Detail = fmt.Sprintf("binary %q is not executable", cmd)
			return status
		}
	} else {
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			return status
		}
		status.Command = resolved
	}

	status.Available = true
	if len(req.VersionArgs) > 0 {
		status.Version = queryVersion(status.Command, req.VersionArgs)
	}
	return status
}

// queryVersion returns the first non-empty output line, or "" when the
// binary prints nothing or fails.
func queryVersion(binary string, args []string) string {
	ctx, cancel := context.WithTimeout(context.Background(), versionQueryTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, binary, args...).CombinedOutput()
	if err != nil {
		return ""
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(line) > maxVersionLength {
			line = line[:maxVersionLength]
		}
		return line
	}
	return ""
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
