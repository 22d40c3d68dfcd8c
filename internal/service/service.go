// Package service is the print boundary used by the ordering application:
// one request at a time, open, encode, print, cut, close.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereceipt/printer-bridge/internal/driver"
	"github.com/thereceipt/printer-bridge/internal/printer"
	"github.com/thereceipt/printer-bridge/internal/receipt"
)

var (
	// ErrQueueFull is returned when too many requests are waiting for the printer
	ErrQueueFull = errors.New("print queue is full")

	// ErrStopped is returned for requests made after Stop
	ErrStopped = errors.New("print service stopped")
)

// PrintError reports a print or cut call that kept failing
type PrintError struct {
	Op               string // printText or cutPaper
	Line             int    // index of the failed line, -1 for cut
	Code             int
	RetriesExhausted bool
}

func (e *PrintError) Error() string {
	if e.RetriesExhausted {
		return fmt.Sprintf("print error: %s line %d failed with code %d after retry", e.Op, e.Line, e.Code)
	}
	return fmt.Sprintf("print error: %s failed with code %d", e.Op, e.Code)
}

// PrintResult is the outcome of one print request
type PrintResult struct {
	JobID      string `json:"job_id"`
	Success    bool   `json:"success"`
	NativeCode int    `json:"native_code"`
	Message    string `json:"error,omitempty"`

	// Err is the typed failure: *printer.ConnectionError,
	// *receipt.EncodingError, *PrintError or a queue error
	Err error `json:"-"`
}

func failure(jobID string, code int, err error) PrintResult {
	return PrintResult{
		JobID:      jobID,
		Success:    false,
		NativeCode: code,
		Message:    err.Error(),
		Err:        err,
	}
}

// Config is the fixed device configuration and pipeline tuning
type Config struct {
	Port      string
	Baud      int
	ModelID   int
	CutFeed   int
	QueueSize int

	// ReceiptOptions apply to every job, before per-request options
	ReceiptOptions []receipt.Option
}

// Observer is notified of every finished job
type Observer func(PrintResult)

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithObserver registers fn to receive every finished job's result
func WithObserver(fn Observer) Option {
	return func(s *Service) {
		s.observers = append(s.observers, fn)
	}
}

type job struct {
	id        string
	ctx       context.Context
	build     func() (receipt.PrintJob, error)
	result    chan PrintResult
	createdAt time.Time
}

// Service serializes print requests through a single worker so the device
// only ever sees one open/print/close sequence at a time.
type Service struct {
	manager   *printer.Manager
	cfg       Config
	logger    *zap.Logger
	observers []Observer

	jobs chan *job

	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the service and starts its worker
func New(manager *printer.Manager, cfg Config, opts ...Option) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		manager: manager,
		cfg:     cfg,
		logger:  zap.NewNop(),
		jobs:    make(chan *job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.worker()

	return s
}

// Receive prints an order receipt and waits for the outcome. Failures are
// reported in the result, never as a panic or separate error.
func (s *Service) Receive(ctx context.Context, order receipt.Order, opts ...receipt.Option) PrintResult {
	opts = append(append([]receipt.Option(nil), s.cfg.ReceiptOptions...), opts...)
	return s.submit(ctx, func() (receipt.PrintJob, error) {
		return receipt.Build(order, opts...)
	})
}

// ReceiveText prints free text and waits for the outcome
func (s *Service) ReceiveText(ctx context.Context, text string, opts ...receipt.Option) PrintResult {
	opts = append(append([]receipt.Option(nil), s.cfg.ReceiptOptions...), opts...)
	return s.submit(ctx, func() (receipt.PrintJob, error) {
		return receipt.BuildText(text, opts...)
	})
}

// Pending returns the number of requests waiting for the printer
func (s *Service) Pending() int {
	return len(s.jobs)
}

// Stop stops the worker. Requests still queued are answered with ErrStopped.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) submit(ctx context.Context, build func() (receipt.PrintJob, error)) PrintResult {
	j := &job{
		id:        uuid.New().String(),
		ctx:       ctx,
		build:     build,
		result:    make(chan PrintResult, 1),
		createdAt: time.Now(),
	}

	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return failure(j.id, 0, ErrStopped)
	}
	select {
	case s.jobs <- j:
		s.mu.RUnlock()
	default:
		s.mu.RUnlock()
		s.logger.Warn("print request rejected", zap.String("job_id", j.id), zap.Error(ErrQueueFull))
		return failure(j.id, 0, ErrQueueFull)
	}

	select {
	case res := <-j.result:
		return res
	case <-ctx.Done():
		return failure(j.id, 0, ctx.Err())
	}
}

// worker processes print jobs
func (s *Service) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.drain()
			return
		case j := <-s.jobs:
			j.result <- s.process(j)
		}
	}
}

func (s *Service) drain() {
	for {
		select {
		case j := <-s.jobs:
			j.result <- failure(j.id, 0, ErrStopped)
		default:
			return
		}
	}
}

func (s *Service) process(j *job) PrintResult {
	if err := j.ctx.Err(); err != nil {
		s.logger.Info("print request abandoned before printing", zap.String("job_id", j.id), zap.Error(err))
		return failure(j.id, 0, err)
	}

	start := time.Now()
	res := s.print(j)

	fields := []zap.Field{
		zap.String("job_id", j.id),
		zap.Bool("success", res.Success),
		zap.Int("code", res.NativeCode),
		zap.Duration("queued", start.Sub(j.createdAt)),
		zap.Duration("took", time.Since(start)),
	}
	if res.Success {
		s.logger.Info("print job completed", fields...)
	} else {
		s.logger.Warn("print job failed", append(fields, zap.Error(res.Err))...)
	}

	for _, observe := range s.observers {
		observe(res)
	}
	return res
}

// print runs one open/print/cut/close sequence. The connection is closed on
// every return path.
func (s *Service) print(j *job) PrintResult {
	defer s.manager.Close()

	if err := s.manager.Open(s.cfg.Port, s.cfg.Baud, s.cfg.ModelID); err != nil {
		code := driver.CodeOpenFailed
		var connErr *printer.ConnectionError
		if errors.As(err, &connErr) {
			code = connErr.Code
		}
		return failure(j.id, code, err)
	}

	pj, err := j.build()
	if err != nil {
		return failure(j.id, 0, err)
	}

	for i, line := range pj.Lines() {
		if err := s.printLine(i, line); err != nil {
			return failure(j.id, err.Code, err)
		}
	}

	if pj.CutPaper() {
		code, err := s.manager.CutPaper(s.cfg.CutFeed)
		if err != nil {
			return failure(j.id, code, err)
		}
		if code != driver.CodeOK {
			return failure(j.id, code, &PrintError{Op: "cutPaper", Line: -1, Code: code})
		}
	}

	return PrintResult{JobID: j.id, Success: true, NativeCode: driver.CodeOK}
}

// printLine prints one line, retrying a failed call exactly once
func (s *Service) printLine(index int, line receipt.Line) *PrintError {
	align, err := driver.ParseAlign(string(line.Align))
	if err != nil {
		align = driver.AlignLeft
	}

	code, err := s.manager.PrintText(line.Text, align, line.Bold, line.Underline)
	if err == nil && code == driver.CodeOK {
		return nil
	}

	s.logger.Warn("print call failed, retrying",
		zap.Int("line", index),
		zap.Int("code", code))

	retryCode, err := s.manager.PrintText(line.Text, align, line.Bold, line.Underline)
	if err == nil && retryCode == driver.CodeOK {
		return nil
	}
	if err == nil {
		code = retryCode
	}

	return &PrintError{Op: "printText", Line: index, Code: code, RetriesExhausted: true}
}
