// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartStallSweeper runs the pending-analysis rescue every minute. A row can
// get stuck there if the process crashed mid-adjudication or the analyzer
// response was lost; the sweeper moves anything older than the adjudication
// budget (plus slack) into pending-review with absent verdicts.
func (s *ParticipationService) StartStallSweeper() {
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Printf("❌ Failed to create stall sweeper scheduler: %v", err)
		return
	}
	sched.Start()

	deadline := s.Policy.AdjudicationBudget + 30*time.Second

	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			rescued, err := s.RescueStalled(deadline)
			if err != nil {
				log.Printf("[Sweeper] DB error: %v", err)
				return
			}
			if rescued > 0 {
				log.Printf("🩹 Rescued %d stalled participation(s) into pending-review", rescued)
			}
		}),
	)
	if err != nil {
		log.Printf("❌ Failed to schedule stall sweeper job: %v", err)
	}
}
