// ABOUTME: Background job scheduler shared by every extension.
// ABOUTME: One-shot, cron, and interval triggers on a bounded worker pool with overlap suppression.

package sched

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultWorkers is the size of the shared worker pool.
const DefaultWorkers = 10

// shutdownGrace bounds how long Shutdown(wait=true) blocks on in-flight jobs.
const shutdownGrace = 30 * time.Second

// JobInfo is the externally visible identity of a scheduled job.
type JobInfo struct {
	ID      string
	Owner   string
	Name    string
	Trigger string // "cron <spec>", "interval <d>", "once <t>"
	NextRun time.Time
	Running bool
}

type job struct {
	id      string
	owner   string
	name    string
	trigger string
	fn      func()
	sched   cron.Schedule // nil for one-shot
	runAt   time.Time     // one-shot fire time
	once    bool

	next    time.Time
	running bool
}

// Scheduler owns all background jobs. Extensions never spawn unmanaged
// goroutines; recurring or deferred work is registered here so the host can
// drain it uniformly on stop.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	loc     *time.Location
	parser  cron.Parser
	wake    chan struct{}
	stop    chan struct{}
	work    chan *job
	wg      sync.WaitGroup // in-flight job executions
	started bool
	stopped bool
	workers int
}

// New creates a scheduler using the given timezone for cron evaluation.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		jobs:    make(map[string]*job),
		loc:     loc,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		work:    make(chan *job),
		workers: DefaultWorkers,
	}
}

// Start launches the timer loop and worker pool. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	for i := 0; i < s.workers; i++ {
		go s.worker()
	}
	go s.loop()
}

// Shutdown stops future fires. With wait=true it blocks, bounded, until
// in-flight jobs return. Idempotent.
func (s *Scheduler) Shutdown(wait bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stop)
	s.mu.Unlock()

	if !wait {
		return
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Printf("scheduler: shutdown grace expired with jobs still running")
	}
}

// AddCron registers a job with standard 5-field cron semantics. An invalid
// expression is rejected here with a user-surfaceable error; no job is
// added.
func (s *Scheduler) AddCron(owner, name, spec string, fn func()) (string, error) {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return "", fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return s.add(&job{
		owner:   owner,
		name:    name,
		trigger: "cron " + spec,
		fn:      fn,
		sched:   schedule,
	}), nil
}

// AddInterval registers a fixed-interval job.
func (s *Scheduler) AddInterval(owner, name string, every time.Duration, fn func()) (string, error) {
	if every <= 0 {
		return "", fmt.Errorf("invalid interval %s", every)
	}
	return s.add(&job{
		owner:   owner,
		name:    name,
		trigger: "interval " + every.String(),
		fn:      fn,
		sched:   cron.Every(every),
	}), nil
}

// AddOnce registers a one-shot job at the given time. A time in the past
// fires immediately.
func (s *Scheduler) AddOnce(owner, name string, runAt time.Time, fn func()) (string, error) {
	return s.add(&job{
		owner:   owner,
		name:    name,
		trigger: "once " + runAt.In(s.loc).Format(time.RFC3339),
		fn:      fn,
		runAt:   runAt,
		once:    true,
	}), nil
}

func (s *Scheduler) add(j *job) string {
	j.id = uuid.NewString()
	now := time.Now().In(s.loc)
	if j.once {
		j.next = j.runAt
		if j.next.Before(now) {
			j.next = now
		}
	} else {
		j.next = j.sched.Next(now)
	}

	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()
	s.kick()
	return j.id
}

// Remove halts future fires of one job. An in-flight fire quiesces on its
// own; Shutdown bounds the wait.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	s.kick()
}

// RemoveOwner removes every job carrying the owner tag.
func (s *Scheduler) RemoveOwner(owner string) {
	s.mu.Lock()
	for id, j := range s.jobs {
		if j.owner == owner {
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()
	s.kick()
}

// Jobs lists all registered jobs sorted by next run.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, JobInfo{
			ID:      j.id,
			Owner:   j.owner,
			Name:    j.name,
			Trigger: j.trigger,
			NextRun: j.next,
			Running: j.running,
		})
	}
	sort.Slice(infos, func(i, k int) bool { return infos[i].NextRun.Before(infos[k].NextRun) })
	return infos
}

// OwnerJobs lists the jobs held by one owner.
func (s *Scheduler) OwnerJobs(owner string) []JobInfo {
	var out []JobInfo
	for _, info := range s.Jobs() {
		if info.Owner == owner {
			out = append(out, info)
		}
	}
	return out
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop sleeps until the soonest next fire, dispatches due jobs, and
// coalesces anything missed during a long sleep into the single next fire.
func (s *Scheduler) loop() {
	for {
		now := time.Now().In(s.loc)
		var due []*job
		next := now.Add(time.Hour)

		s.mu.Lock()
		for _, j := range s.jobs {
			if !j.next.After(now) {
				if j.running {
					// Overlap suppression: a running job skips this tick.
					if j.once {
						delete(s.jobs, j.id)
						continue
					}
					j.next = j.sched.Next(now)
				} else {
					j.running = true
					due = append(due, j)
					if j.once {
						// Fires once; removed when the run returns.
						j.next = now.Add(24 * time.Hour)
					} else {
						j.next = j.sched.Next(now)
					}
				}
			}
			if j.next.Before(next) {
				next = j.next
			}
		}
		s.mu.Unlock()

		for _, j := range due {
			// Counted before the handoff so Shutdown(wait) never misses a
			// job a worker has dequeued but not yet started.
			s.wg.Add(1)
			select {
			case s.work <- j:
			case <-s.stop:
				s.wg.Done()
				return
			}
		}

		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) worker() {
	for {
		select {
		case <-s.stop:
			return
		case j := <-s.work:
			s.runJob(j)
			s.wg.Done()
		}
	}
}

// runJob executes one fire with the catch-at-the-boundary rule: a panic is
// logged and never crashes the pool.
func (s *Scheduler) runJob(j *job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: job %q (owner %s) panicked: %v", j.name, j.owner, r)
		}
		now := time.Now().In(s.loc)
		s.mu.Lock()
		if cur, ok := s.jobs[j.id]; ok {
			cur.running = false
			if cur.once {
				delete(s.jobs, j.id)
			} else {
				cur.next = cur.sched.Next(now)
			}
		}
		s.mu.Unlock()
		s.kick()
	}()
	j.fn()
}
