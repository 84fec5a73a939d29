// Package sandbox implements the Execution Sandbox Adapter (spec §4.4):
// given a language manifest and a file set, materialize the files into an
// isolated environment, build, and optionally run, enforcing resource and
// wall-clock limits. Grounded on testcontainers-go (the pack's sandboxed
// test-execution dependency, from C360Studio-semspec) for the isolation
// boundary and on the teacher's executor.go step-runner pattern for the
// build/run/capture-output shape.
package sandbox

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/codeforge/orchestrator/internal/logging"
	"github.com/codeforge/orchestrator/internal/model"
)

// LanguageManifest configures one language's sandbox behavior (spec §4.4).
type LanguageManifest struct {
	Image            string
	FileExtension    string
	BuildCommand     string
	RunCommand       string
	MainFilePatterns []string // globs tried in order to find the entry point
	SkipExecution    bool
	ClassName        string // substituted for {className}; derived from main file if empty

	CPULimit    float64
	MemoryLimit int64 // bytes
	WallClock   time.Duration
}

// errorPatterns are stderr/stdout substrings that indicate a build failure
// even when the exit code is (incorrectly) zero, per spec §4.4 step 4.
var errorPatterns = []string{"error:", "Error:", "FAILED", "error CS", "SyntaxError"}

// Runner materializes and executes a file set against a manifest.
type Runner interface {
	Run(ctx context.Context, manifest LanguageManifest, files []model.FileChange) (model.ExecutionResult, error)
}

// ContainerRunner runs the build/execute steps inside a throwaway container
// per language manifest, via testcontainers-go.
type ContainerRunner struct {
	logger logging.Logger
	// provision creates and starts a container for manifest, returning a
	// handle able to copy files in and exec commands. It is a seam for
	// tests: the default points at newTestcontainer, the real
	// testcontainers-go-backed implementation.
	provision func(ctx context.Context, manifest LanguageManifest) (containerHandle, error)
}

// containerHandle is the minimal surface ContainerRunner needs from a
// testcontainers-go container, kept as an interface so tests can supply an
// in-process fake instead of actually pulling images.
type containerHandle interface {
	CopyFile(ctx context.Context, path, content string) error
	Exec(ctx context.Context, cmd []string) (exitCode int, stdout, stderr string, err error)
	Terminate(ctx context.Context) error
}

// NewContainerRunner builds a Runner backed by real testcontainers-go
// containers.
func NewContainerRunner(logger logging.Logger) *ContainerRunner {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &ContainerRunner{logger: logger, provision: newTestcontainer}
}

// Run implements spec §4.4's full six-step sequence.
func (r *ContainerRunner) Run(ctx context.Context, manifest LanguageManifest, files []model.FileChange) (model.ExecutionResult, error) {
	if manifest.SkipExecution {
		return model.ExecutionResult{Built: true, Executed: false, SkipReason: "language manifest marks execution skipped"}, nil
	}

	mainFile, err := detectMainFile(manifest, files)
	if err != nil {
		return model.ExecutionResult{Built: false, BuildErrors: []string{err.Error()}}, nil
	}
	className := manifest.ClassName
	if className == "" {
		className = strings.TrimSuffix(path.Base(mainFile), path.Ext(mainFile))
	}

	wall := manifest.WallClock
	if wall <= 0 {
		wall = 180 * time.Second // spec §4.2 sandbox default timeout
	}
	ctx, cancel := context.WithTimeout(ctx, wall)
	defer cancel()

	handle, err := r.provision(ctx, manifest)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("sandbox provisioning: %w", err)
	}
	defer handle.Terminate(context.Background())

	for _, f := range files {
		if err := handle.CopyFile(ctx, f.Path, f.Content); err != nil {
			return model.ExecutionResult{}, fmt.Errorf("materializing %s: %w", f.Path, err)
		}
	}

	buildCmd := substitute(manifest.BuildCommand, mainFile, className)
	start := time.Now()
	exitCode, stdout, stderr, err := handle.Exec(ctx, shellSplit(buildCmd))
	if err != nil || exitCode != 0 || containsErrorPattern(stdout, stderr) {
		return model.ExecutionResult{
			Built:       false,
			BuildErrors: buildErrorLines(stdout, stderr),
			Stdout:      stdout,
			Stderr:      stderr,
			DurationMs:  time.Since(start).Milliseconds(),
		}, nil
	}

	runCmd := substitute(manifest.RunCommand, mainFile, className)
	runStart := time.Now()
	exitCode, stdout, stderr, err = handle.Exec(ctx, shellSplit(runCmd))
	result := model.ExecutionResult{
		Built:      true,
		Executed:   true,
		Stdout:     stdout,
		Stderr:     stderr,
		ExitCode:   exitCode,
		DurationMs: time.Since(runStart).Milliseconds(),
	}
	if err != nil && ctx.Err() != nil {
		result.Stderr += "\n(execution hard-killed at wall-clock timeout)"
	}
	return result, nil
}

func detectMainFile(m LanguageManifest, files []model.FileChange) (string, error) {
	for _, pattern := range m.MainFilePatterns {
		for _, f := range files {
			if ok, _ := path.Match(pattern, path.Base(f.Path)); ok {
				return f.Path, nil
			}
		}
	}
	return "", fmt.Errorf("no file matched main-file patterns %v", m.MainFilePatterns)
}

func substitute(cmd, mainFile, className string) string {
	cmd = strings.ReplaceAll(cmd, "{mainFile}", mainFile)
	cmd = strings.ReplaceAll(cmd, "{className}", className)
	return cmd
}

func shellSplit(cmd string) []string {
	return strings.Fields(cmd)
}

func containsErrorPattern(outputs ...string) bool {
	for _, o := range outputs {
		for _, pat := range errorPatterns {
			if strings.Contains(o, pat) {
				return true
			}
		}
	}
	return false
}

func buildErrorLines(stdout, stderr string) []string {
	var lines []string
	for _, l := range strings.Split(stderr+"\n"+stdout, "\n") {
		for _, pat := range errorPatterns {
			if strings.Contains(l, pat) {
				lines = append(lines, strings.TrimSpace(l))
				break
			}
		}
	}
	if len(lines) == 0 && (stderr != "" || stdout != "") {
		lines = []string{strings.TrimSpace(stderr)}
	}
	return lines
}
