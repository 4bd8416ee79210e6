// Package schedule runs pipeline jobs on cron schedules.
package schedule

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Daemon runs jobs on standard 5-field cron expressions. A job never
// overlaps itself, and no two jobs run at the same time.
type Daemon struct {
	cron   *cron.Cron
	parser cron.Parser

	mu  sync.Mutex // held while any job runs
	ctx context.Context
}

// New creates a daemon with no jobs.
func New() *Daemon {
	logger := cron.PrintfLogger(log.Default())
	return &Daemon{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		ctx:    context.Background(),
	}
}

// Add schedules job under name. An empty spec leaves the job disabled.
func (d *Daemon) Add(name, spec string, job Job) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		log.Printf("%s disabled (no schedule)", name)
		return nil
	}
	sched, err := d.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
	}
	d.cron.Schedule(sched, cron.FuncJob(func() { d.run(name, job) }))
	log.Printf("%s scheduled (cron: %s), next at %s", name, spec, sched.Next(time.Now()).Format("Mon Jan 2 15:04"))
	return nil
}

// Run starts the scheduler and blocks until ctx is done. It returns after
// any running job has finished.
func (d *Daemon) Run(ctx context.Context) {
	d.ctx = ctx
	d.cron.Start()
	<-ctx.Done()
	log.Println("Stopping scheduler, waiting for running jobs...")
	<-d.cron.Stop().Done()
}

func (d *Daemon) run(name string, job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		return
	}

	start := time.Now()
	log.Printf("%s started", name)
	if err := job(d.ctx); err != nil {
		log.Printf("%s failed after %s: %v", name, time.Since(start).Round(time.Second), err)
		return
	}
	log.Printf("%s finished in %s", name, time.Since(start).Round(time.Second))
}
