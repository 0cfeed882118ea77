package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Phazzie/autoclick/pkg/schema"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
// Everything is copied on the way in and out, so callers can mutate
// what they pass and what they get back.
type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	runOrder []string
	events   []*Event
	seqs     map[string]int64
	nextID   int64
	steps    map[string]*StepState
	cps      map[string]*Checkpoint
	jobs     map[string]*ScheduledJob
	jobOrder []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[string]*Run),
		seqs:  make(map[string]int64),
		steps: make(map[string]*StepState),
		cps:   make(map[string]*Checkpoint),
		jobs:  make(map[string]*ScheduledJob),
	}
}

// --- Runs ---

func (s *MemoryStore) CreateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", run.ID)
	}
	cp := cloneRun(run)
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	cp.UpdatedAt = timeOrNow(cp.UpdatedAt)
	s.runs[run.ID] = cp
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, storeNotFound("run", id)
	}
	return cloneRun(run), nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, id string, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return storeNotFound("run", id)
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.Result != nil {
		run.Result = cloneRaw(update.Result)
	}
	if update.Error != nil {
		run.Error = cloneRaw(update.Error)
	}
	if update.StartedAt != nil {
		t := *update.StartedAt
		run.StartedAt = &t
	}
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		run.CompletedAt = &t
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*Run
	for _, id := range s.runOrder {
		run := s.runs[id]
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		if filter.WorkflowName != "" && run.WorkflowName != filter.WorkflowName {
			continue
		}
		if filter.ScheduleID != "" && run.ScheduleID != filter.ScheduleID {
			continue
		}
		if filter.Since != nil && run.CreatedAt.Before(*filter.Since) {
			continue
		}
		runs = append(runs, cloneRun(run))
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return paginate(runs, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return storeNotFound("run", id)
	}
	delete(s.runs, id)
	for i, rid := range s.runOrder {
		if rid == id {
			s.runOrder = append(s.runOrder[:i], s.runOrder[i+1:]...)
			break
		}
	}
	return nil
}

// --- Events ---

func (s *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seqs[event.RunID]++
	event.Sequence = s.seqs[event.RunID]
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.nextID++
	event.ID = s.nextID

	s.events = append(s.events, cloneEvent(event))
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, runID string, since int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*Event
	for _, e := range s.events {
		if e.RunID == runID && e.Sequence > since {
			events = append(events, cloneEvent(e))
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	return events, nil
}

func (s *MemoryStore) GetEventsByType(_ context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*Event
	for _, e := range s.events {
		if e.Type != eventType {
			continue
		}
		if filter.RunID != "" && e.RunID != filter.RunID {
			continue
		}
		if filter.ActionID != "" && e.ActionID != filter.ActionID {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		events = append(events, cloneEvent(e))
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}
	return events, nil
}

// --- Step state ---

func stepKey(runID, actionID string) string { return runID + "/" + actionID }

func (s *MemoryStore) UpsertStepState(_ context.Context, state *StepState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[stepKey(state.RunID, state.ActionID)] = cloneStepState(state)
	return nil
}

func (s *MemoryStore) GetStepState(_ context.Context, runID, actionID string) (*StepState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ss, ok := s.steps[stepKey(runID, actionID)]
	if !ok {
		return nil, storeNotFound("step_state", runID+"/"+actionID)
	}
	return cloneStepState(ss), nil
}

func (s *MemoryStore) ListStepStates(_ context.Context, runID string) ([]*StepState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var states []*StepState
	for _, ss := range s.steps {
		if ss.RunID == runID {
			states = append(states, cloneStepState(ss))
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ActionID < states[j].ActionID })
	return states, nil
}

// --- Checkpoints ---

func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &Checkpoint{RunID: cp.RunID, Payload: cloneRaw(cp.Payload), TakenAt: timeOrNow(cp.TakenAt)}
	s.cps[cp.RunID] = c
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, runID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.cps[runID]
	if !ok {
		return nil, storeNotFound("checkpoint", runID)
	}
	return &Checkpoint{RunID: cp.RunID, Payload: cloneRaw(cp.Payload), TakenAt: cp.TakenAt}, nil
}

func (s *MemoryStore) DeleteCheckpoint(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cps[runID]; !ok {
		return storeNotFound("checkpoint", runID)
	}
	delete(s.cps, runID)
	return nil
}

// --- Scheduled jobs ---

func (s *MemoryStore) CreateScheduledJob(_ context.Context, job *ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID)
	}
	cp := cloneJob(job)
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	s.jobs[job.ID] = cp
	s.jobOrder = append(s.jobOrder, job.ID)
	return nil
}

func (s *MemoryStore) GetScheduledJob(_ context.Context, id string) (*ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, storeNotFound("scheduled_job", id)
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) UpdateScheduledJob(_ context.Context, id string, update ScheduledJobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return storeNotFound("scheduled_job", id)
	}
	if update.Enabled != nil {
		job.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		t := *update.LastRunAt
		job.LastRunAt = &t
	}
	if update.NextRunAt != nil {
		t := *update.NextRunAt
		job.NextRunAt = &t
	}
	if update.LastRunStatus != "" {
		job.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (s *MemoryStore) ListScheduledJobs(_ context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*ScheduledJob
	for _, id := range s.jobOrder {
		job := s.jobs[id]
		if filter.Enabled != nil && job.Enabled != *filter.Enabled {
			continue
		}
		jobs = append(jobs, cloneJob(job))
	}
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (s *MemoryStore) DeleteScheduledJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return storeNotFound("scheduled_job", id)
	}
	delete(s.jobs, id)
	for i, jid := range s.jobOrder {
		if jid == id {
			s.jobOrder = append(s.jobOrder[:i], s.jobOrder[i+1:]...)
			break
		}
	}
	return nil
}

// --- Maintenance ---

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Vacuum(context.Context) error  { return nil }
func (s *MemoryStore) Close() error                  { return nil }

// --- Clone helpers ---

func cloneRun(run *Run) *Run {
	cp := *run
	cp.Params = copyAnyMap(run.Params)
	cp.Result = cloneRaw(run.Result)
	cp.Error = cloneRaw(run.Error)
	if run.StartedAt != nil {
		t := *run.StartedAt
		cp.StartedAt = &t
	}
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneEvent(e *Event) *Event {
	cp := *e
	cp.Payload = cloneRaw(e.Payload)
	return &cp
}

func cloneStepState(ss *StepState) *StepState {
	cp := *ss
	cp.Output = cloneRaw(ss.Output)
	cp.Error = cloneRaw(ss.Error)
	if ss.StartedAt != nil {
		t := *ss.StartedAt
		cp.StartedAt = &t
	}
	if ss.CompletedAt != nil {
		t := *ss.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneJob(job *ScheduledJob) *ScheduledJob {
	cp := *job
	cp.Params = copyAnyMap(job.Params)
	if job.LastRunAt != nil {
		t := *job.LastRunAt
		cp.LastRunAt = &t
	}
	if job.NextRunAt != nil {
		t := *job.NextRunAt
		cp.NextRunAt = &t
	}
	return &cp
}

func cloneRaw(r []byte) []byte {
	if len(r) == 0 {
		return nil
	}
	return append([]byte(nil), r...)
}

func copyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var _ Store = (*MemoryStore)(nil)
