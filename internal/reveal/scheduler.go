// Package reveal presents a fully received reply a few characters at a time.
package reveal

import (
	"sync"
	"time"
	"unicode/utf8"
)

// Config paces a reveal.
type Config struct {
	Tick   time.Duration // delay between chunks
	Chunk  int           // characters added per tick
	Settle time.Duration // pause between the last chunk and the commit
}

// DefaultConfig is 3 characters every 5ms with a 100ms settle.
func DefaultConfig() Config {
	return Config{Tick: 5 * time.Millisecond, Chunk: 3, Settle: 100 * time.Millisecond}
}

func (c Config) normalized() Config {
	if c.Chunk < 1 {
		c.Chunk = 1
	}
	if c.Tick <= 0 {
		c.Tick = time.Millisecond
	}
	if c.Settle < 0 {
		c.Settle = 0
	}
	return c
}

// Steps returns the successive shown lengths, in characters, for revealing
// full in chunks of the given size. Steps("ABCDEFGH", 3) is [3 6 8].
func Steps(full string, chunk int) []int {
	if chunk < 1 {
		chunk = 1
	}
	total := utf8.RuneCountInString(full)
	steps := make([]int, 0, total/chunk+1)
	for shown := 0; shown < total; {
		shown = min(shown+chunk, total)
		steps = append(steps, shown)
	}
	return steps
}

// Prefix returns the first n characters of s.
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Job is one message to reveal. OnProgress receives each growing prefix;
// OnCommit receives the full text exactly once, either when the reveal ends
// or when the scheduler is stopped.
type Job struct {
	ID         string
	Full       string
	OnProgress func(id, shown string)
	OnCommit   func(id, full string)
}

// Scheduler runs one reveal at a time on its own goroutine. Jobs started
// while another is active are queued and run in order.
type Scheduler struct {
	cfg Config

	mu      sync.Mutex
	active  *Job
	queue   []Job
	stopped bool
	quit    chan struct{}
	running sync.WaitGroup
	pending sync.WaitGroup
}

// NewScheduler creates a scheduler with the given pacing.
func NewScheduler(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg.normalized(), quit: make(chan struct{})}
}

// Start reveals job, or queues it behind the active one. After Stop the job
// is committed immediately.
func (s *Scheduler) Start(job Job) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		commit(job)
		return
	}

	s.pending.Add(1)
	if s.active != nil {
		s.queue = append(s.queue, job)
		s.mu.Unlock()
		return
	}

	s.active = &job
	s.running.Add(1)
	s.mu.Unlock()

	go s.run(job)
}

// Active reports the id of the message currently being revealed.
func (s *Scheduler) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.ID, true
}

// Wait blocks until every started job has been committed.
func (s *Scheduler) Wait() {
	s.pending.Wait()
}

// Stop halts ticking and commits the full text of the active and queued
// jobs. Stop must not be called from a job callback.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.quit)
	s.mu.Unlock()

	s.running.Wait()

	s.mu.Lock()
	var remaining []Job
	if s.active != nil {
		remaining = append(remaining, *s.active)
		s.active = nil
	}
	remaining = append(remaining, s.queue...)
	s.queue = nil
	s.mu.Unlock()

	for _, job := range remaining {
		commit(job)
		s.pending.Done()
	}
}

func (s *Scheduler) run(job Job) {
	defer s.running.Done()

	for {
		if !s.reveal(job) {
			return
		}

		commit(job)

		s.mu.Lock()
		s.active = nil
		s.pending.Done()
		if s.stopped || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		job = s.queue[0]
		s.queue = s.queue[1:]
		s.active = &job
		s.mu.Unlock()
	}
}

// reveal ticks through job and reports false if the scheduler was stopped
// before the settle delay elapsed.
func (s *Scheduler) reveal(job Job) bool {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for _, shown := range Steps(job.Full, s.cfg.Chunk) {
		select {
		case <-s.quit:
			return false
		case <-ticker.C:
		}
		if job.OnProgress != nil {
			job.OnProgress(job.ID, Prefix(job.Full, shown))
		}
	}

	if s.cfg.Settle == 0 {
		select {
		case <-s.quit:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(s.cfg.Settle)
	defer timer.Stop()
	select {
	case <-s.quit:
		return false
	case <-timer.C:
		return true
	}
}

func commit(job Job) {
	if job.OnCommit != nil {
		job.OnCommit(job.ID, job.Full)
	}
}
