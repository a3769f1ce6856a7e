package campaign

import (
	"context"
	"sync"
	"time"
)

// Progress is a snapshot of a campaign run.
type Progress struct {
	TaskID     string     `json:"taskId"`
	CampaignID string     `json:"campaignId"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	Batches    int        `json:"batches"`
	Batch      int        `json:"batch"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Running    bool       `json:"running"`
	Cancelled  bool       `json:"cancelled"`
}

// Task is the handle of a running campaign.
type Task struct {
	ID         string
	TenantID   string
	CampaignID string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	progress  Progress
	latencyMs []float64
}

func newTask(parent context.Context, id, tenantID string, req Request, now time.Time) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		ID:         id,
		TenantID:   tenantID,
		CampaignID: req.CampaignID,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		progress: Progress{
			TaskID:     id,
			CampaignID: req.CampaignID,
			Total:      len(req.Contacts),
			Batches:    len(Batches(req.Contacts, req.Intervals.BatchSize)),
			StartedAt:  now,
			Running:    true,
		},
	}
}

// Done is closed when the run has stopped.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the run has stopped.
func (t *Task) Wait() { <-t.done }

// Cancel stops the run at its next wait or send. Contacts not yet processed
// get no outcome.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.progress.Running {
		t.progress.Cancelled = true
	}
	t.mu.Unlock()
	t.cancel()
}

func (t *Task) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.progress
	if p.FinishedAt != nil {
		f := *p.FinishedAt
		p.FinishedAt = &f
	}
	return p
}

func (t *Task) setBatch(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Batch = n
}

func (t *Task) record(sent bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Processed++
	if sent {
		t.progress.Sent++
	} else {
		t.progress.Failed++
	}
}

func (t *Task) observe(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latencyMs = append(t.latencyMs, float64(d)/float64(time.Millisecond))
}

func (t *Task) latencies() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.latencyMs...)
}

func (t *Task) finish(now time.Time) {
	t.once.Do(func() {
		t.mu.Lock()
		t.progress.Running = false
		if t.ctx.Err() != nil && t.progress.Processed < t.progress.Total {
			t.progress.Cancelled = true
		}
		t.progress.FinishedAt = &now
		t.mu.Unlock()
		t.cancel()
		close(t.done)
	})
}
