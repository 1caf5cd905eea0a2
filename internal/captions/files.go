package captions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths names the files written for one media source.
type Paths struct {
	SRT  string
	VTT  string
	Cues string
}

// OutputPaths derives caption file names from mediaPath by replacing its
// extension. Files land in outDir, or next to the media when outDir is empty.
func OutputPaths(mediaPath, outDir string) Paths {
	base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	if outDir == "" {
		outDir = filepath.Dir(mediaPath)
	}
	stem := filepath.Join(outDir, base)
	return Paths{SRT: stem + ".srt", VTT: stem + ".vtt", Cues: stem + ".cues.json"}
}

// Exists reports whether both caption files are already present.
func (p Paths) Exists() bool {
	for _, path := range []string{p.SRT, p.VTT} {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// WriteFiles renders cues to SRT and WebVTT plus a JSON cue sidecar.
func WriteFiles(paths Paths, cues []Cue, lang string) error {
	if err := os.MkdirAll(filepath.Dir(paths.SRT), 0o755); err != nil {
		return fmt.Errorf("ensure caption dir: %w", err)
	}
	if err := writeAtomic(paths.SRT, []byte(RenderSRT(cues))); err != nil {
		return err
	}
	if err := writeAtomic(paths.VTT, []byte(RenderWebVTT(cues, lang))); err != nil {
		return err
	}
	if paths.Cues == "" {
		return nil
	}
	return WriteCueSidecar(paths.Cues, cues)
}

type sidecarCue struct {
	BeginMS int64  `json:"begin_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// WriteCueSidecar stores cues as JSON so captions can be re-rendered later.
func WriteCueSidecar(path string, cues []Cue) error {
	records := make([]sidecarCue, 0, len(cues))
	for _, cue := range cues {
		records = append(records, sidecarCue{BeginMS: cue.Begin.Milliseconds(), EndMS: cue.End.Milliseconds(), Text: cue.Text})
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cues: %w", err)
	}
	return writeAtomic(path, data)
}

// ReadCueSidecar loads cues written by WriteCueSidecar.
func ReadCueSidecar(path string) ([]Cue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cues: %w", err)
	}
	var records []sidecarCue
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode cues %s: %w", path, err)
	}
	cues := make([]Cue, 0, len(records))
	for _, record := range records {
		cues = append(cues, Cue{Begin: millis(record.BeginMS), End: millis(record.EndMS), Text: record.Text})
	}
	return cues, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize %s: %w", filepath.Base(path), err)
	}
	return nil
}
