// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O.
package testutil

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/docbatch/internal/batch"
)

// ─── ObjectStore ───────────────────────────────────────────────────────

// MemStore is an in-memory batch.ObjectStore that counts calls.
// Set FailPut / FailDelete / FailList / FailGet to force errors.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	FailPut    error
	FailDelete map[string]error
	FailList   error
	FailGet    map[string]error

	Puts    []string
	Deletes []string
	Lists   []string
	Gets    []string
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func objectKey(bucket, name string) string { return bucket + "/" + name }

// Seed stores an object without counting it as a Put.
func (m *MemStore) Seed(bucket, name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, name)] = append([]byte(nil), data...)
}

// Has reports whether the object exists.
func (m *MemStore) Has(bucket, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[objectKey(bucket, name)]
	return ok
}

// Len returns the number of stored objects.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// DeleteCount returns how many times name was deleted.
func (m *MemStore) DeleteCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.Deletes {
		if d == name {
			n++
		}
	}
	return n
}

func (m *MemStore) Put(_ context.Context, bucket, key string, data []byte, _ string) (batch.StagingLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Puts = append(m.Puts, key)
	if m.FailPut != nil {
		return batch.StagingLocation{}, m.FailPut
	}
	m.objects[objectKey(bucket, key)] = append([]byte(nil), data...)
	return batch.StagingLocation{Bucket: bucket, Key: key, URI: m.URI(bucket, key)}, nil
}

func (m *MemStore) List(_ context.Context, bucket, prefix string) iter.Seq2[string, error] {
	m.mu.Lock()
	m.Lists = append(m.Lists, prefix)
	fail := m.FailList
	var names []string
	for k := range m.objects {
		name, ok := strings.CutPrefix(k, bucket+"/")
		if ok && strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	m.mu.Unlock()
	sort.Strings(names)

	return func(yield func(string, error) bool) {
		if fail != nil {
			yield("", fail)
			return
		}
		for _, n := range names {
			if !yield(n, nil) {
				return
			}
		}
	}
}

func (m *MemStore) Get(_ context.Context, bucket, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets = append(m.Gets, name)
	if err := m.FailGet[name]; err != nil {
		return nil, err
	}
	data, ok := m.objects[objectKey(bucket, name)]
	if !ok {
		return nil, fmt.Errorf("object %s not found", name)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemStore) Delete(_ context.Context, bucket, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletes = append(m.Deletes, name)
	if err := m.FailDelete[name]; err != nil {
		return err
	}
	delete(m.objects, objectKey(bucket, name))
	return nil
}

func (m *MemStore) URI(bucket, key string) string { return "mem://" + bucket + "/" + key }

// ─── JobInvoker ────────────────────────────────────────────────────────

// StubInvoker is a scripted batch.JobInvoker. Statuses are returned in order;
// the last one repeats. OnSubmit, if set, runs on a successful submission and
// is the place to seed result objects into a MemStore.
type StubInvoker struct {
	Accepted   batch.MIMESet
	Required   []string
	Defaults   map[string]string
	Statuses   []batch.JobState
	StatusErr  error
	SubmitErr  error
	CancelErr  error
	Format     batch.OutputFormat
	OnSubmit   func(req batch.SubmitRequest)
	ProviderID string

	mu          sync.Mutex
	Submits     []batch.SubmitRequest
	StatusCalls int
	Cancels     int
}

func (s *StubInvoker) Name() string {
	if s.ProviderID == "" {
		return "stub"
	}
	return s.ProviderID
}

func (s *StubInvoker) Validate(mimeType string, cfg map[string]string) error {
	accepted := s.Accepted
	if accepted == nil {
		accepted = batch.NewMIMESet("application/pdf", "image/tiff")
	}
	if err := batch.CheckFormat(s.Name(), mimeType, accepted); err != nil {
		return err
	}
	return batch.RequireConfig(s.Name(), batch.MergeConfig(s.Defaults, cfg), s.Required...)
}

func (s *StubInvoker) Submit(_ context.Context, req batch.SubmitRequest) (batch.JobHandle, error) {
	s.mu.Lock()
	s.Submits = append(s.Submits, req)
	s.mu.Unlock()
	if s.SubmitErr != nil {
		return batch.JobHandle{}, s.SubmitErr
	}
	if s.OnSubmit != nil {
		s.OnSubmit(req)
	}
	return batch.JobHandle{ID: "job-1"}, nil
}

func (s *StubInvoker) Status(_ context.Context, _ batch.JobHandle) (batch.JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StatusCalls++
	if s.StatusErr != nil {
		return batch.JobState{}, s.StatusErr
	}
	if len(s.Statuses) == 0 {
		return batch.JobState{Status: batch.StatusSucceeded}, nil
	}
	i := s.StatusCalls - 1
	if i >= len(s.Statuses) {
		i = len(s.Statuses) - 1
	}
	return s.Statuses[i], nil
}

func (s *StubInvoker) Output() batch.OutputFormat {
	if s.Format.Match == nil {
		return batch.OutputFormat{
			Match:       func(name string) bool { return strings.HasSuffix(name, ".json") },
			Collections: batch.DocumentAICollections,
		}
	}
	return s.Format
}

// CancelableInvoker adds batch.Canceler to StubInvoker.
type CancelableInvoker struct {
	*StubInvoker
}

func (c CancelableInvoker) Cancel(_ context.Context, _ batch.JobHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cancels++
	return c.CancelErr
}

// Running returns n Running states followed by a Succeeded one.
func Running(n int) []batch.JobState {
	states := make([]batch.JobState, 0, n+1)
	for i := 0; i < n; i++ {
		states = append(states, batch.JobState{Status: batch.StatusRunning})
	}
	return append(states, batch.JobState{Status: batch.StatusSucceeded})
}

// ─── Clock ─────────────────────────────────────────────────────────────

// FakeClock advances only when Sleep is called.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	Sleeps []time.Duration
}

// NewFakeClock starts at a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sleeps = append(c.Sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// Advance moves time forward without recording a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ─── Recorder ──────────────────────────────────────────────────────────

// RecordingRecorder keeps every transition in memory.
type RecordingRecorder struct {
	mu          sync.Mutex
	Transitions []batch.Transition
	Err         error
}

func (r *RecordingRecorder) Record(_ context.Context, t batch.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Transitions = append(r.Transitions, t)
	return r.Err
}

// States returns the recorded state sequence.
func (r *RecordingRecorder) States() []batch.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]batch.State, len(r.Transitions))
	for i, t := range r.Transitions {
		out[i] = t.State
	}
	return out
}

// Last returns the final transition.
func (r *RecordingRecorder) Last() batch.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Transitions[len(r.Transitions)-1]
}
