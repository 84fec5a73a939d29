package engine

import (
	"github.com/codeforge/orchestrator/internal/accumulator"
	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/model"
	"github.com/codeforge/orchestrator/internal/resilience"
	"github.com/codeforge/orchestrator/internal/sandbox"
)

// Collaborators wires the Iteration Engine to the External Collaborator
// Clients of spec §2 item 2 / §6.1. CodeGen and Thinkers are keyed by
// ModelDescriptor.ID so the Engine can dispatch to whichever model the
// Selector names.
type Collaborators struct {
	Registry   *model.Registry
	CodeGen    map[string]model.CodeGenClient
	Thinkers   map[string]model.ThinkerClient
	Validators map[string]model.ValidatorClient
	Memory     model.MemoryClient
	Sandbox    sandbox.Runner // nil disables EXECUTE entirely (spec §4.5 step 5)
	Envelope   *resilience.Envelope
}

// LanguageConfig bundles the File Accumulator policy and sandbox manifest
// for one language (spec §4.3, §4.4).
type LanguageConfig struct {
	Policy   accumulator.LanguagePolicy
	Manifest sandbox.LanguageManifest
}

// Checkpointer is the Persistence Layer surface the Iteration Engine writes
// through after every phase and iteration (spec §4.5 step 8, §4.7).
// Implemented by internal/store.FileStore.
type Checkpointer interface {
	SaveJob(j *job.Job) error
	CheckpointIteration(jobID string, iteration int, files []model.FileChange) error
	AppendHistory(jobID string, h job.AttemptHistory) error
}
