// Package readiness implements the Readiness Gate (C8, §4.8): a baseline
// snapshot of each engine's output-file count, used to decide whether a
// report can be composed yet.
package readiness

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Gate tracks per-engine baseline `.md` file counts, persisted atomically
// to baselinePath (§6 "logs/report_baseline.json").
type Gate struct {
	baselinePath string
	forumLogPath string
}

// New builds a Gate persisting its baseline at baselinePath and checking
// the forum log's existence at forumLogPath (§4.8 "ready iff ... AND the
// forum log exists").
func New(baselinePath, forumLogPath string) *Gate {
	return &Gate{baselinePath: baselinePath, forumLogPath: forumLogPath}
}

// Baseline is the persisted snapshot shape (§6): engine name -> count.
type Baseline map[string]int

func (g *Gate) readBaseline() (Baseline, error) {
	b, err := os.ReadFile(g.baselinePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Baseline{}, nil
		}
		return nil, err
	}
	var out Baseline
	if err := json.Unmarshal(b, &out); err != nil {
		return Baseline{}, nil
	}
	return out, nil
}

func (g *Gate) writeBaseline(b Baseline) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(g.baselinePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".baseline-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), g.baselinePath)
}

func countMarkdownFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			n++
		}
	}
	return n, nil
}

// InitializeBaseline records the current `.md` counts for every named
// engine directory, overwriting any prior persisted baseline (§4.8).
func (g *Gate) InitializeBaseline(directories map[string]string) error {
	baseline := make(Baseline, len(directories))
	for engine, dir := range directories {
		n, err := countMarkdownFiles(dir)
		if err != nil {
			return err
		}
		baseline[engine] = n
	}
	return g.writeBaseline(baseline)
}

// EngineDelta is one engine's current count against its baseline.
type EngineDelta struct {
	Baseline int
	Current  int
	Delta    int
}

// Result is Check's return shape (§4.8).
type Result struct {
	Ready   bool
	Deltas  map[string]EngineDelta
	Current map[string]int
}

// Check reports whether every engine's current `.md` count strictly
// exceeds its baseline and the forum log exists (§4.8).
func (g *Gate) Check(directories map[string]string) (Result, error) {
	baseline, err := g.readBaseline()
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Ready:   true,
		Deltas:  make(map[string]EngineDelta, len(directories)),
		Current: make(map[string]int, len(directories)),
	}

	for engine, dir := range directories {
		n, err := countMarkdownFiles(dir)
		if err != nil {
			return Result{}, err
		}
		base := baseline[engine]
		result.Current[engine] = n
		result.Deltas[engine] = EngineDelta{Baseline: base, Current: n, Delta: n - base}
		if n <= base {
			result.Ready = false
		}
	}

	if _, err := os.Stat(g.forumLogPath); err != nil {
		result.Ready = false
	}

	return result, nil
}

// LatestFile is one engine's most recently modified `.md` artifact.
type LatestFile struct {
	Engine  string
	Path    string
	ModTime time.Time
}

// LatestFiles returns, for each engine, the `.md` file with the maximum
// modification timestamp in its directory (§4.8).
func (g *Gate) LatestFiles(directories map[string]string) (map[string]LatestFile, error) {
	out := make(map[string]LatestFile, len(directories))
	for engine, dir := range directories {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		var best LatestFile
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if best.Path == "" || info.ModTime().After(best.ModTime) {
				best = LatestFile{Engine: engine, Path: filepath.Join(dir, e.Name()), ModTime: info.ModTime()}
			}
		}
		if best.Path != "" {
			out[engine] = best
		}
	}
	return out, nil
}
