package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/panjf2000/ants/v2"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/whatsapp"
	"github.com/talkincode/toughwa/pkg/common"
	"github.com/talkincode/toughwa/pkg/metrics"
	"go.uber.org/zap"
)

var (
	ErrNotReady        = whatsapp.ErrNotReady
	ErrCampaignRunning = errors.New("a campaign is already running for this account")
	ErrBusy            = errors.New("campaign capacity exhausted")
)

// Metric names
const (
	MetricSent    = "campaign_sent"
	MetricFailed  = "campaign_failed"
	MetricStarted = "campaign_started"
)

// Sink receives one outcome per processed contact.
type Sink interface {
	ReportOutcome(ctx context.Context, o domain.DeliveryOutcome) error
}

// Target is the session a campaign sends through.
type Target interface {
	TenantID() string
	CheckReady(ctx context.Context) error
	SendText(ctx context.Context, to, text string) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatcher runs campaigns in the background, at most one per tenant.
type Dispatcher struct {
	sink        Sink
	pool        *ants.Pool
	sleep       Sleeper
	now         func() time.Time
	sendTimeout time.Duration

	base context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	running map[string]*Task
	wg      sync.WaitGroup
}

type Option func(*Dispatcher)

func WithSleeper(s Sleeper) Option {
	return func(d *Dispatcher) { d.sleep = s }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithSendTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.sendTimeout = t }
}

// NewDispatcher creates a dispatcher running up to maxConcurrent campaigns.
func NewDispatcher(sink Sink, maxConcurrent int, opts ...Option) (*Dispatcher, error) {
	pool, err := ants.NewPool(maxConcurrent,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			zap.S().Errorf("campaign: run panic: %v", p)
		}),
	)
	if err != nil {
		return nil, err
	}
	base, stop := context.WithCancel(context.Background())
	d := &Dispatcher{
		sink:        sink,
		pool:        pool,
		sleep:       sleep,
		now:         time.Now,
		sendTimeout: 30 * time.Second,
		base:        base,
		stop:        stop,
		running:     make(map[string]*Task),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Start validates req, checks that target is ready and launches the
// campaign in the background. The returned task is already running.
func (d *Dispatcher) Start(ctx context.Context, target Target, req Request) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := target.CheckReady(ctx); err != nil {
		if !errors.Is(err, ErrNotReady) {
			err = fmt.Errorf("%w: %v", ErrNotReady, err)
		}
		return nil, err
	}

	tenantID := target.TenantID()
	d.mu.Lock()
	if cur, ok := d.running[tenantID]; ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCampaignRunning, cur.CampaignID)
	}
	task := newTask(d.base, common.UUID(), tenantID, req, d.now())
	d.running[tenantID] = task
	d.wg.Add(1)
	d.mu.Unlock()

	err := d.pool.Submit(func() {
		defer d.wg.Done()
		d.run(task, target, req)
	})
	if err != nil {
		d.release(task)
		d.wg.Done()
		task.finish(d.now())
		if errors.Is(err, ants.ErrPoolOverload) {
			return nil, ErrBusy
		}
		return nil, err
	}
	metrics.Incr(MetricStarted, 1)
	zap.L().Info("campaign: accepted",
		zap.String("tenant", tenantID), zap.String("campaign", req.CampaignID),
		zap.Int("contacts", len(req.Contacts)), zap.String("task", task.ID))
	return task, nil
}

func (d *Dispatcher) release(t *Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.running[t.TenantID]; ok && cur == t {
		delete(d.running, t.TenantID)
	}
}

// Running returns the tenant's running campaign.
func (d *Dispatcher) Running(tenantID string) (*Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.running[tenantID]
	return t, ok
}

// RunningCount returns the number of campaigns in progress.
func (d *Dispatcher) RunningCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

// Cancel stops the tenant's running campaign.
func (d *Dispatcher) Cancel(tenantID string) (*Task, bool) {
	t, ok := d.Running(tenantID)
	if ok {
		t.Cancel()
	}
	return t, ok
}

// Close cancels every campaign and waits for them to stop.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.stop()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	defer d.pool.Release()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(t *Task, target Target, req Request) {
	log := zap.L().With(zap.String("tenant", t.TenantID), zap.String("campaign", req.CampaignID))
	defer func() {
		d.release(t)
		t.finish(d.now())
		p := t.Progress()
		fields := []zap.Field{
			zap.Int("total", p.Total), zap.Int("processed", p.Processed),
			zap.Int("sent", p.Sent), zap.Int("failed", p.Failed), zap.Bool("cancelled", p.Cancelled),
		}
		if lat := t.latencies(); len(lat) > 0 {
			mean, _ := stats.Mean(lat)
			p95, _ := stats.Percentile(lat, 95)
			fields = append(fields, zap.Float64("send_ms_mean", mean), zap.Float64("send_ms_p95", p95))
		}
		log.Info("campaign: finished", fields...)
	}()

	batches := Batches(req.Contacts, req.Intervals.BatchSize)
	log.Info("campaign: started", zap.Int("contacts", len(req.Contacts)), zap.Int("batches", len(batches)))
	for i, batch := range batches {
		t.setBatch(i + 1)
		log.Debug("campaign: processing batch", zap.Int("batch", i+1), zap.Int("size", len(batch)))
		for _, c := range batch {
			if t.ctx.Err() != nil {
				return
			}
			if !d.deliver(t, target, req, c, log) {
				return
			}
			if err := d.sleep(t.ctx, req.Intervals.MessageWait()); err != nil {
				return
			}
		}
		if i < len(batches)-1 {
			log.Info("campaign: batch done, resting", zap.Int("batch", i+1), zap.Duration("rest", req.Intervals.RestWait()))
			if err := d.sleep(t.ctx, req.Intervals.RestWait()); err != nil {
				return
			}
		}
	}
}

// deliver processes one contact and reports its outcome. It returns false
// when the task was cancelled during the send, leaving the contact unreported.
func (d *Dispatcher) deliver(t *Task, target Target, req Request, c Contact, log *zap.Logger) bool {
	err := func() error {
		if err := target.CheckReady(t.ctx); err != nil {
			return err
		}
		addr, err := whatsapp.FormatAddress(c.Phone)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(t.ctx, d.sendTimeout)
		defer cancel()
		start := time.Now()
		err = target.SendText(ctx, addr, req.Message)
		t.observe(time.Since(start))
		return err
	}()
	if err != nil && t.ctx.Err() != nil {
		return false
	}

	outcome := domain.DeliveryOutcome{
		CampaignId: req.CampaignID,
		ContactId:  c.ID,
		Status:     domain.DeliverySent,
		Timestamp:  d.now().UTC(),
	}
	if err != nil {
		outcome.Status = domain.DeliveryFailed
		outcome.Error = err.Error()
		log.Warn("campaign: send failed", zap.String("contact", c.ID.String()), zap.String("phone", c.Phone), zap.Error(err))
		metrics.Incr(MetricFailed, 1)
	} else {
		log.Debug("campaign: message sent", zap.String("contact", c.ID.String()), zap.String("phone", c.Phone))
		metrics.Incr(MetricSent, 1)
	}
	t.record(err == nil)

	if serr := d.sink.ReportOutcome(context.WithoutCancel(t.ctx), outcome); serr != nil {
		log.Error("campaign: report outcome failed", zap.String("contact", c.ID.String()), zap.Error(serr))
	}
	return true
}
