package chrono

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chronosched/chronosched/codec"
	"github.com/chronosched/chronosched/fsutils"
)

// fileJob is the serializable representation of a Job.
type fileJob struct {
	Name     string `json:"name" xml:"name" yaml:"name"`
	Expr     string `json:"expr" xml:"expr" yaml:"expr"`
	Reboot   bool   `json:"reboot" xml:"reboot" yaml:"reboot"`
	Timezone string `json:"timezone" xml:"timezone" yaml:"timezone"`
	State    int    `json:"state" xml:"state" yaml:"state"`
	Payload  []byte `json:"payload,omitempty" xml:"payload,omitempty" yaml:"payload,omitempty"`
}

func toFileJob(j *Job) *fileJob {
	return &fileJob{
		Name:     j.Name,
		Expr:     j.Sched.Expr,
		Reboot:   j.Sched.Reboot,
		Timezone: j.Timezone,
		State:    int(j.State),
		Payload:  j.Payload,
	}
}

func (fj *fileJob) toJob() *Job {
	return &Job{
		Name:     fj.Name,
		Sched:    Schedule{Expr: fj.Expr, Reboot: fj.Reboot},
		Timezone: fj.Timezone,
		State:    JobState(fj.State),
		Payload:  fj.Payload,
	}
}

// registryFileState is the top-level structure persisted for the catalog.
// Seeded distinguishes "no catalog has ever been written" (ErrNotApplicable,
// so JobRegistry falls back to its caller-supplied seed list) from "the
// catalog was deliberately emptied via Purge" (a real, if empty, catalog) —
// the same distinction InMemoryRegistryStorage tracks with its own seeded
// bool.
type registryFileState struct {
	Jobs   []*fileJob `json:"jobs" xml:"jobs" yaml:"jobs"`
	Seeded bool       `json:"seeded" xml:"seeded" yaml:"seeded"`
}

// FileRegistryStorage is a RegistryStorage that persists the catalog to a
// single file using the package's codec, the serialization format
// (YAML/JSON/XML) being chosen from the file extension.
//
// Every mutation reads the whole file, applies the change, and rewrites it
// through a temp-file-then-rename, so a crash mid-write never corrupts the
// previous state.
type FileRegistryStorage struct {
	mu   sync.Mutex
	path string
	c    codec.Codec
}

// NewFileRegistryStorage creates a FileRegistryStorage persisting to path.
// The directory is created if missing; an empty state file is written if
// path does not already exist.
func NewFileRegistryStorage(path string) (*FileRegistryStorage, error) {
	contentType := fsutils.LookupContentType(path)
	c, err := codec.GetDefault(contentType)
	if err != nil {
		return nil, fmt.Errorf("chrono: unsupported file type %q for %s: %w", contentType, filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	fs := &FileRegistryStorage{path: path, c: c}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if writeErr := fs.writeState(&registryFileState{}); writeErr != nil {
			return nil, writeErr
		}
	}
	return fs, nil
}

func (fs *FileRegistryStorage) readState() (*registryFileState, error) {
	f, err := os.Open(fs.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var state registryFileState
	if err := fs.c.Read(f, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (fs *FileRegistryStorage) writeState(state *registryFileState) error {
	tmp := fs.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := fs.c.Write(state, f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, fs.path)
}

func (fs *FileRegistryStorage) findJob(state *registryFileState, name string) int {
	for i, j := range state.Jobs {
		if j.Name == name {
			return i
		}
	}
	return -1
}

// Jobs loads the persisted catalog. Returns ErrNotApplicable if the file was
// never written through AddJob/UpdateJobState/Purge, so JobRegistry seeds
// from its caller-supplied initial list instead of adopting an empty one.
func (fs *FileRegistryStorage) Jobs(_ context.Context) ([]*Job, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	state, err := fs.readState()
	if err != nil {
		return nil, err
	}
	if !state.Seeded {
		return nil, ErrNotApplicable
	}
	out := make([]*Job, len(state.Jobs))
	for i, j := range state.Jobs {
		out[i] = j.toJob()
	}
	return out, nil
}

// AddJob persists a job (insert or overwrite by name).
func (fs *FileRegistryStorage) AddJob(_ context.Context, job *Job) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	state, err := fs.readState()
	if err != nil {
		return err
	}
	fj := toFileJob(job)
	if idx := fs.findJob(state, job.Name); idx >= 0 {
		state.Jobs[idx] = fj
	} else {
		state.Jobs = append(state.Jobs, fj)
	}
	state.Seeded = true
	return fs.writeState(state)
}

// DeleteJob removes a job by name.
func (fs *FileRegistryStorage) DeleteJob(_ context.Context, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	state, err := fs.readState()
	if err != nil {
		return err
	}
	idx := fs.findJob(state, name)
	if idx < 0 {
		return ErrJobNotFound
	}
	state.Jobs = append(state.Jobs[:idx], state.Jobs[idx+1:]...)
	return fs.writeState(state)
}

// UpdateJobState persists a job's new activation state.
func (fs *FileRegistryStorage) UpdateJobState(_ context.Context, name string, state JobState) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	s, err := fs.readState()
	if err != nil {
		return err
	}
	idx := fs.findJob(s, name)
	if idx < 0 {
		return ErrJobNotFound
	}
	s.Jobs[idx].State = int(state)
	s.Seeded = true
	return fs.writeState(s)
}

// Purge clears the entire persisted catalog. The cleared state is still
// "seeded" (a deliberate empty catalog), so a subsequent Jobs() call does not
// fall back to the caller's initial list.
func (fs *FileRegistryStorage) Purge(_ context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeState(&registryFileState{Seeded: true})
}

// broadcasterFileState is the top-level structure persisted for the watermark.
type broadcasterFileState struct {
	LastExecutionDate time.Time `json:"lastExecutionDate" xml:"lastExecutionDate" yaml:"lastExecutionDate"`
	Set               bool      `json:"set" xml:"set" yaml:"set"`
}

// FileBroadcasterStorage is a BroadcasterStorage that persists the watermark
// to a single file using the package's codec.
type FileBroadcasterStorage struct {
	mu   sync.Mutex
	path string
	c    codec.Codec
}

// NewFileBroadcasterStorage creates a FileBroadcasterStorage persisting to path.
func NewFileBroadcasterStorage(path string) (*FileBroadcasterStorage, error) {
	contentType := fsutils.LookupContentType(path)
	c, err := codec.GetDefault(contentType)
	if err != nil {
		return nil, fmt.Errorf("chrono: unsupported file type %q for %s: %w", contentType, filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	fs := &FileBroadcasterStorage{path: path, c: c}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if writeErr := fs.writeState(&broadcasterFileState{}); writeErr != nil {
			return nil, writeErr
		}
	}
	return fs, nil
}

func (fs *FileBroadcasterStorage) readState() (*broadcasterFileState, error) {
	f, err := os.Open(fs.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var state broadcasterFileState
	if err := fs.c.Read(f, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (fs *FileBroadcasterStorage) writeState(state *broadcasterFileState) error {
	tmp := fs.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := fs.c.Write(state, f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, fs.path)
}

// LastExecutionDate returns the persisted watermark.
func (fs *FileBroadcasterStorage) LastExecutionDate(_ context.Context) (time.Time, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	state, err := fs.readState()
	if err != nil {
		return time.Time{}, false, err
	}
	return state.LastExecutionDate, state.Set, nil
}

// UpdateLastExecutionDate persists a new watermark.
func (fs *FileBroadcasterStorage) UpdateLastExecutionDate(_ context.Context, t time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeState(&broadcasterFileState{LastExecutionDate: t, Set: true})
}
