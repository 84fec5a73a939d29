// Package store implements the Persistence Layer of spec §4.7/§6.4: a
// write-temp-then-rename filesystem layout keyed by job ID, one
// directory per job, with an append-only attempt history and an optional
// Redis mirror for distributed status reads. Grounded on the teacher's
// core/redis_client.go DB-isolation pattern for the mirror and on the
// write-then-rename idiom used throughout the Go ecosystem for durable
// single-writer files (no example repo in the pack implements a file store
// of its own, so this file's on-disk mechanics fall back to the standard
// library; see DESIGN.md).
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/codeforge/orchestrator/internal/accumulator"
	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/logging"
	"github.com/codeforge/orchestrator/internal/model"
	"github.com/codeforge/orchestrator/internal/orcherr"
)

const (
	jobFileName     = "job.json"
	historyFileName = "history.jsonl"
	filesDirName    = "files"
	dirPerm         = 0o755
	filePerm        = 0o644
)

// snapshot is the on-disk projection of a Job. A Job's Accumulator is not
// itself marshalable (spec §9: internals stay unexported), so SaveJob
// flattens it to the FinalView slice and LoadAll replays that slice back
// into a fresh Accumulator on read.
type snapshot struct {
	ID            string
	Request       job.Request
	State         job.State
	Progress      int
	CurrentPhase  string
	Iteration     int
	MaxIterations int
	Timeline      []job.PhaseInfo
	Plan          *job.TaskPlan
	Files         []model.FileChange
	TriedModels   map[model.Purpose]map[string]bool
	History       []job.AttemptHistory
	CloudUsage    model.CloudUsage
	Timestamps    job.Timestamps
	LastError     *job.TaskError
	NeedsHelpFor  string
	Unpersisted   bool

	CloudTierUnlocked bool
	PremiumUnlocked   bool
}

// FileStore implements both job.Store (consumed by the Job Manager) and
// engine.Checkpointer (consumed by the Iteration Engine) over a single
// root directory, laid out per job as:
//
//	<root>/<jobID>/job.json
//	<root>/<jobID>/history.jsonl
//	<root>/<jobID>/files/<iteration>/manifest.json
//
// job.json and manifest.json writes land via a temp file in the same
// directory followed by os.Rename, so a crash mid-write never leaves a torn
// job.json behind (spec §4.7: "a job is never readable in a
// partially-written state"). history.jsonl is appended to in place.
type FileStore struct {
	root   string
	logger logging.Logger

	mu     sync.Mutex // serializes history.jsonl appends across goroutines
	mirror *RedisMirror
}

// New builds a FileStore rooted at dir, creating it if necessary. mirror
// may be nil to disable the Redis status mirror (SPEC_FULL.md Part C).
func New(dir string, logger logging.Logger, mirror *RedisMirror) (*FileStore, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, orcherr.New("store.New", orcherr.KindStorage, "", "creating store root", err)
	}
	return &FileStore{root: dir, logger: logger.WithComponent("orchestrator/store"), mirror: mirror}, nil
}

func (s *FileStore) jobDir(jobID string) string { return filepath.Join(s.root, jobID) }

// writeAtomic writes data to path via a sibling temp file plus rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func toSnapshot(j *job.Job) snapshot {
	return snapshot{
		ID: j.ID, Request: j.Request, State: j.State, Progress: j.Progress,
		CurrentPhase: j.CurrentPhase, Iteration: j.Iteration, MaxIterations: j.MaxIterations,
		Timeline: j.Timeline, Plan: j.Plan, Files: j.Files.FinalView(),
		TriedModels: j.TriedModels, History: j.History, CloudUsage: j.CloudUsage,
		Timestamps: j.Timestamps, LastError: j.LastError, NeedsHelpFor: j.NeedsHelpFor,
		Unpersisted: j.Unpersisted, CloudTierUnlocked: j.CloudTierUnlocked, PremiumUnlocked: j.PremiumUnlocked,
	}
}

func fromSnapshot(s snapshot) *job.Job {
	j := job.NewJob(s.ID, s.Request)
	j.State = s.State
	j.Progress = s.Progress
	j.CurrentPhase = s.CurrentPhase
	j.Iteration = s.Iteration
	j.MaxIterations = s.MaxIterations
	j.Timeline = s.Timeline
	j.Plan = s.Plan
	j.TriedModels = s.TriedModels
	j.History = s.History
	j.CloudUsage = s.CloudUsage
	j.Timestamps = s.Timestamps
	j.LastError = s.LastError
	j.NeedsHelpFor = s.NeedsHelpFor
	j.Unpersisted = s.Unpersisted
	j.CloudTierUnlocked = s.CloudTierUnlocked
	j.PremiumUnlocked = s.PremiumUnlocked
	j.Files.InsertAll(s.Files, accumulator.LanguagePolicy{})
	return j
}

// SaveJob persists j's current metadata and final file view (spec §4.7).
func (s *FileStore) SaveJob(j *job.Job) error {
	data, err := json.MarshalIndent(toSnapshot(j), "", "  ")
	if err != nil {
		return orcherr.New("store.SaveJob", orcherr.KindStorage, j.ID, "marshaling job", err)
	}
	if err := writeAtomic(filepath.Join(s.jobDir(j.ID), jobFileName), data); err != nil {
		return orcherr.New("store.SaveJob", orcherr.KindStorage, j.ID, "writing job.json", err)
	}
	if s.mirror != nil {
		if err := s.mirror.SetStatus(j); err != nil {
			s.logger.Warn("redis mirror write failed", logging.Fields{"job_id": j.ID, "error": err.Error()})
		}
	}
	return nil
}

// CheckpointIteration persists the file set produced by one iteration
// (spec §4.5 step 8), under files/<iteration>/manifest.json.
func (s *FileStore) CheckpointIteration(jobID string, iteration int, files []model.FileChange) error {
	data, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return orcherr.New("store.CheckpointIteration", orcherr.KindStorage, jobID, "marshaling files", err)
	}
	path := filepath.Join(s.jobDir(jobID), filesDirName, strconv.Itoa(iteration), "manifest.json")
	if err := writeAtomic(path, data); err != nil {
		return orcherr.New("store.CheckpointIteration", orcherr.KindStorage, jobID, "writing manifest", err)
	}
	return nil
}

// AppendHistory appends one AttemptHistory record to history.jsonl
// (spec §4.7: "history is append-only; a storage error here does not
// undo the in-memory attempt, only flags the job Unpersisted").
func (s *FileStore) AppendHistory(jobID string, h job.AttemptHistory) error {
	line, err := json.Marshal(h)
	if err != nil {
		return orcherr.New("store.AppendHistory", orcherr.KindStorage, jobID, "marshaling history record", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := s.jobDir(jobID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return orcherr.New("store.AppendHistory", orcherr.KindStorage, jobID, "creating job dir", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, historyFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return orcherr.New("store.AppendHistory", orcherr.KindStorage, jobID, "opening history.jsonl", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return orcherr.New("store.AppendHistory", orcherr.KindStorage, jobID, "appending history record", err)
	}
	return nil
}

// LoadAll scans the store root and reconstructs every persisted Job (spec
// §4.7's restart policy; the Job Manager decides what to do with
// non-terminal jobs it finds).
func (s *FileStore) LoadAll() ([]*job.Job, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcherr.New("store.LoadAll", orcherr.KindStorage, "", "reading store root", err)
	}
	out := make([]*job.Job, 0, len(entries))
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, ent.Name(), jobFileName))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, orcherr.New("store.LoadAll", orcherr.KindStorage, ent.Name(), "reading job.json", err)
		}
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, orcherr.New("store.LoadAll", orcherr.KindStorage, ent.Name(), "parsing job.json", err)
		}
		out = append(out, fromSnapshot(snap))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Timestamps.StartedAt.Before(out[k].Timestamps.StartedAt) })
	return out, nil
}

// Delete removes a job's entire directory (spec §4.7 retention sweep).
func (s *FileStore) Delete(jobID string) error {
	if err := os.RemoveAll(s.jobDir(jobID)); err != nil {
		return orcherr.New("store.Delete", orcherr.KindStorage, jobID, "removing job dir", err)
	}
	if s.mirror != nil {
		if err := s.mirror.Delete(jobID); err != nil {
			s.logger.Warn("redis mirror delete failed", logging.Fields{"job_id": jobID, "error": err.Error()})
		}
	}
	return nil
}
