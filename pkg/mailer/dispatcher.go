package mailer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	jobVerification    = "verification"
	jobPasswordReset   = "password_reset"
	jobPasswordChanged = "password_changed"
)

type mailJob struct {
	kind    string
	email   string
	name    string
	token   string
	attempt int
}

// DispatcherConfig configures the background delivery pool. OnEnqueue, when
// set, is invoked once per freshly enqueued mail (not per retry).
type DispatcherConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	OnEnqueue  func()
}

// Dispatcher is an asynchronous Mailer. Send methods enqueue and return
// immediately; worker goroutines perform the actual SMTP delivery with
// bounded retries. Delivery failures are logged, never propagated to the
// operation that triggered the mail.
type Dispatcher struct {
	sink Mailer

	workers    int
	bufferSize int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
	onEnqueue  func()

	jobs    chan mailJob
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewDispatcher wraps a synchronous Mailer in a worker pool.
func NewDispatcher(sink Mailer, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Dispatcher{
		sink:       sink,
		workers:    cfg.Workers,
		bufferSize: cfg.BufferSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		onEnqueue:  cfg.OnEnqueue,
		jobs:       make(chan mailJob, cfg.BufferSize),
	}
}

// Start begins worker consumption. Safe to call once.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.started = true
	d.logger.Sugar().Infow("mail dispatcher started", "workers", d.workers)
}

// Stop cancels workers and waits for them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
	d.logger.Sugar().Infow("mail dispatcher stopped")
}

// SendVerificationEmail enqueues a verification mail.
func (d *Dispatcher) SendVerificationEmail(ctx context.Context, email, name, token string) error {
	return d.enqueue(mailJob{kind: jobVerification, email: email, name: name, token: token})
}

// SendPasswordResetEmail enqueues a password-reset mail.
func (d *Dispatcher) SendPasswordResetEmail(ctx context.Context, email, name, token string) error {
	return d.enqueue(mailJob{kind: jobPasswordReset, email: email, name: name, token: token})
}

// SendPasswordChangedEmail enqueues a password-changed notice.
func (d *Dispatcher) SendPasswordChangedEmail(ctx context.Context, email, name string) error {
	return d.enqueue(mailJob{kind: jobPasswordChanged, email: email, name: name})
}

func (d *Dispatcher) enqueue(job mailJob) error {
	d.mu.Lock()
	ctx := d.ctx
	started := d.started
	d.mu.Unlock()

	if !started {
		return fmt.Errorf("mail dispatcher not started")
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("mail dispatcher stopped: %w", ctx.Err())
	case d.jobs <- job:
		if d.onEnqueue != nil && job.attempt == 0 {
			d.onEnqueue()
		}
		return nil
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case job := <-d.jobs:
			if err := d.deliver(job); err != nil {
				d.handleFailure(job, err)
			}
		}
	}
}

func (d *Dispatcher) deliver(job mailJob) error {
	switch job.kind {
	case jobVerification:
		return d.sink.SendVerificationEmail(d.ctx, job.email, job.name, job.token)
	case jobPasswordReset:
		return d.sink.SendPasswordResetEmail(d.ctx, job.email, job.name, job.token)
	case jobPasswordChanged:
		return d.sink.SendPasswordChangedEmail(d.ctx, job.email, job.name)
	default:
		return fmt.Errorf("unknown mail job kind %q", job.kind)
	}
}

func (d *Dispatcher) handleFailure(job mailJob, err error) {
	job.attempt++
	if job.attempt > d.maxRetries {
		d.logger.Sugar().Errorw("mail delivery exceeded retries", "kind", job.kind, "to", job.email, "error", err)
		return
	}
	d.logger.Sugar().Warnw("mail delivery failed, retrying", "kind", job.kind, "to", job.email, "attempt", job.attempt, "error", err)

	// The requeue goroutine joins the WaitGroup so Stop does not return
	// while a retry is still pending.
	d.wg.Add(1)
	go func(j mailJob) {
		defer d.wg.Done()
		timer := time.NewTimer(d.retryDelay)
		defer timer.Stop()
		select {
		case <-d.ctx.Done():
			return
		case <-timer.C:
			if err := d.enqueue(j); err != nil {
				d.logger.Sugar().Errorw("failed to requeue mail job", "kind", j.kind, "error", err)
			}
		}
	}(job)
}
