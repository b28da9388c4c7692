package services

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"meshforge-backend/internal/models"
)

// StaleLister is the repository slice the sweeper needs on top of Repository.
// *database.Client satisfies it.
type StaleLister interface {
	ListStaleTasks(cutoff time.Time, limit int) ([]models.GenerationTask, error)
}

// Sweeper periodically re-polls tasks the webhook never resolved: vendor
// callbacks get lost, and abandoned tasks would otherwise sit non-terminal
// forever with no refund and no asset.
type Sweeper struct {
	finalizer *Finalizer
	lister    StaleLister
	minAge    time.Duration
	batchSize int
	cron      *cron.Cron
}

func NewSweeper(finalizer *Finalizer, lister StaleLister, minAge time.Duration) *Sweeper {
	return &Sweeper{
		finalizer: finalizer,
		lister:    lister,
		minAge:    minAge,
		batchSize: 50,
	}
}

// Start schedules the sweep at the given interval. Stop with Stop().
func (s *Sweeper) Start(interval time.Duration) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every "+interval.String(), s.Sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("Sweeper started, interval %s", interval)
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep polls one batch of stale tasks. Each poll runs the same idempotent
// transition path as the webhook, so overlap with competing triggers is safe.
func (s *Sweeper) Sweep() {
	tasks, err := s.lister.ListStaleTasks(time.Now().Add(-s.minAge), s.batchSize)
	if err != nil {
		log.Printf("sweep: listing stale tasks failed: %v", err)
		return
	}

	for _, t := range tasks {
		if _, state, err := s.finalizer.Poll(t.TaskID); err != nil {
			log.Printf("sweep: task %s poll failed: %v", t.TaskID, err)
		} else if state.IsTerminal() {
			log.Printf("sweep: task %s reached %s", t.TaskID, state)
		}
	}
}
