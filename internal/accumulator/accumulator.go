// Package accumulator implements the File Accumulator (spec §4.3): a
// path-normalized, per-job mapping from file path to content that enforces
// deduplication, filters build artifacts for an "execution view", and
// per-language pre-build cleaning for a "final view". Grounded on the
// teacher's interface-first, mutex-guarded store pattern
// (orchestration/execution_store.go) and on bmatcuk/doublestar for the glob
// matching spec §4.3 requires.
package accumulator

import (
	"path"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/codeforge/orchestrator/internal/logging"
	"github.com/codeforge/orchestrator/internal/model"
)

// buildArtifactGlobs are the default execution-view exclusions (spec §4.3).
var buildArtifactGlobs = []string{
	"**/bin/**", "**/obj/**", "**/.vs/**", "**/node_modules/**", "**/.git/**",
}

// buildArtifactExtensions are compiled/cache extensions excluded from the
// execution view regardless of directory.
var buildArtifactExtensions = map[string]bool{
	".dll": true, ".exe": true, ".pdb": true, ".o": true, ".obj": true,
	".class": true, ".pyc": true, ".cache": true,
}

// LanguagePolicy configures per-language pre-build cleaning (spec §4.3).
type LanguagePolicy struct {
	// Extensions lists the file extensions retained for this language
	// (e.g. [".cs"] for C#). Empty means "retain everything".
	Extensions []string
	// SameBasenameCollision is true when two files sharing a basename but
	// different directories should be canonicalized onto one entry (spec:
	// "for a class-per-file language, yes").
	SameBasenameCollision bool
	// ProjectDescriptorExtensions lists extensions (e.g. ".csproj") whose
	// files are project descriptors: any two of them with the same
	// extension, whatever their basenames, are a multi-project collision
	// rather than duplicate logical files (spec §4.3), and Clean keeps the
	// preferred-name one (non-"Generated", shortest path) instead of the
	// largest-content one.
	ProjectDescriptorExtensions []string
}

// Accumulator is the per-job file store. It is not safe to share across
// jobs; spec §5 requires a single job's Iteration Engine to hold exclusive
// write access, which this type's own mutex enforces defensively even
// though callers should already be serializing access.
type Accumulator struct {
	mu     sync.Mutex
	files  map[string]model.FileChange // keyed by normalized path
	logger logging.Logger
}

// New builds an empty Accumulator.
func New(logger logging.Logger) *Accumulator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Accumulator{files: make(map[string]model.FileChange), logger: logger}
}

// Normalize implements spec §4.3/§8's path normalization: replace "\\" with
// "/", strip a leading "/", collapse "./" segments. It is idempotent:
// Normalize(Normalize(p)) == Normalize(p) (spec §8 invariant).
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	cleaned := path.Clean(p)
	cleaned = strings.TrimPrefix(cleaned, "./")
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// Insert folds change into the accumulator per spec §4.3's insert rules.
func (a *Accumulator) Insert(change model.FileChange, policy LanguagePolicy) {
	change.Path = Normalize(change.Path)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.files[change.Path]; exists {
		a.files[change.Path] = change
		return
	}

	if policy.SameBasenameCollision {
		base := path.Base(change.Path)
		for existingPath := range a.files {
			if path.Base(existingPath) == base {
				a.logger.Info("canonicalizing same-basename file", logging.Fields{
					"existing": existingPath, "incoming": change.Path,
				})
				delete(a.files, existingPath)
				a.files[change.Path] = change
				return
			}
		}
	}

	a.files[change.Path] = change
}

// InsertAll folds every change from a GenerateResponse in order.
func (a *Accumulator) InsertAll(changes []model.FileChange, policy LanguagePolicy) {
	for _, c := range changes {
		a.Insert(c, policy)
	}
}

// FinalView returns every accumulated file (spec §4.3's "final view").
func (a *Accumulator) FinalView() []model.FileChange {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.FileChange, 0, len(a.files))
	for _, f := range a.files {
		out = append(out, f)
	}
	return out
}

// ExecutionView strips build artifacts by path glob and extension
// (spec §4.3).
func (a *Accumulator) ExecutionView() []model.FileChange {
	all := a.FinalView()
	out := make([]model.FileChange, 0, len(all))
	for _, f := range all {
		if isBuildArtifact(f.Path) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isBuildArtifact(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if buildArtifactExtensions[ext] {
		return true
	}
	for _, g := range buildArtifactGlobs {
		if ok, _ := doublestar.Match(g, p); ok {
			return true
		}
	}
	return false
}

// Clean applies spec §4.3's pre-build cleaning: retain only files whose
// extension the language policy lists; among multi-project-descriptor
// collisions and duplicate logical files, keep one per the spec's tie-break
// rules.
func (a *Accumulator) Clean(policy LanguagePolicy) []model.FileChange {
	all := a.FinalView()
	if len(policy.Extensions) > 0 {
		allowed := make(map[string]bool, len(policy.Extensions))
		for _, e := range policy.Extensions {
			allowed[strings.ToLower(e)] = true
		}
		filtered := all[:0:0]
		for _, f := range all {
			if allowed[strings.ToLower(path.Ext(f.Path))] {
				filtered = append(filtered, f)
			}
		}
		all = filtered
	}

	descriptorExt := make(map[string]bool, len(policy.ProjectDescriptorExtensions))
	for _, e := range policy.ProjectDescriptorExtensions {
		descriptorExt[strings.ToLower(e)] = true
	}

	// Collisions come in two flavors (spec §4.3). A multi-project
	// collision (two project-descriptor files of the same extension, any
	// basename) keeps the preferred-name one: non-"Generated", shortest
	// path on a further tie. Everything else collides by basename as a
	// duplicate logical file: keep the largest content, breaking ties by
	// shortest path.
	bestByBasename := map[string]model.FileChange{}
	for _, f := range all {
		key := path.Base(f.Path)
		ext := strings.ToLower(path.Ext(f.Path))
		isDescriptor := descriptorExt[ext]
		if isDescriptor {
			// Every project descriptor of one extension competes for a
			// single slot, whatever its basename.
			key = "\x00project" + ext
		}
		cur, ok := bestByBasename[key]
		if !ok {
			bestByBasename[key] = f
			continue
		}
		if isDescriptor {
			if preferProjectDescriptor(f, cur) {
				bestByBasename[key] = f
			}
			continue
		}
		if len(f.Content) > len(cur.Content) ||
			(len(f.Content) == len(cur.Content) && len(f.Path) < len(cur.Path)) {
			bestByBasename[key] = f
		}
	}

	out := make([]model.FileChange, 0, len(bestByBasename))
	for _, f := range bestByBasename {
		out = append(out, f)
	}
	return out
}

// preferProjectDescriptor reports whether candidate should replace current
// under the multi-project-collision rule: a non-"Generated" name always
// beats a "Generated" one; among two names that agree on that, the
// shorter path wins.
func preferProjectDescriptor(candidate, current model.FileChange) bool {
	candGenerated := strings.Contains(path.Base(candidate.Path), "Generated")
	curGenerated := strings.Contains(path.Base(current.Path), "Generated")
	if candGenerated != curGenerated {
		return curGenerated
	}
	return len(candidate.Path) < len(current.Path)
}

// Len reports how many files are currently accumulated.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.files)
}
