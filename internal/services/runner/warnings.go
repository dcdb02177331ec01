package runner

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// WarningStep is one broadcast in the countdown before the server stops.
type WarningStep struct {
	Delay    time.Duration // wait before sending
	LeadTime int           // minutes remaining when sent
	Message  string
}

// WarningSchedule is the countdown derived from a set of lead-times.
type WarningSchedule struct {
	Steps  []WarningStep
	Settle time.Duration // wait after the last message before stopping
}

// Total returns the full wall-clock wait of the schedule.
func (w WarningSchedule) Total() time.Duration {
	total := w.Settle
	for _, step := range w.Steps {
		total += step.Delay
	}
	return total
}

// WarningMessage returns the broadcast text for a lead-time.
func WarningMessage(minutes int) string {
	return fmt.Sprintf("Server backup in %d minute(s)! Please prepare.", minutes)
}

// BuildWarningSchedule sorts lead-times descending and spaces the messages so the
// total wait equals the largest lead-time. Duplicates become zero-delay repeats.
func BuildWarningSchedule(leadTimes []int) WarningSchedule {
	if len(leadTimes) == 0 {
		return WarningSchedule{}
	}

	sorted := make([]int, len(leadTimes))
	copy(sorted, leadTimes)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	steps := make([]WarningStep, len(sorted))
	for i, minutes := range sorted {
		var delay time.Duration
		if i > 0 {
			delay = time.Duration(sorted[i-1]-minutes) * time.Minute
		}
		steps[i] = WarningStep{
			Delay:    delay,
			LeadTime: minutes,
			Message:  WarningMessage(minutes),
		}
	}

	return WarningSchedule{
		Steps:  steps,
		Settle: time.Duration(sorted[len(sorted)-1]) * time.Minute,
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sendWarnings broadcasts the countdown. Delivery failures are ignored; only
// cancellation aborts the countdown.
func (s *Impl) sendWarnings(ctx context.Context, container string, schedule WarningSchedule) error {
	if len(schedule.Steps) == 0 {
		s.logger.Info().Msg("no warnings configured, proceeding to stop")
		return nil
	}

	s.logger.Info().
		Int("warnings", len(schedule.Steps)).
		Str("total_wait", schedule.Total().String()).
		Msg("starting warning countdown")

	for _, step := range schedule.Steps {
		if err := s.sleep(ctx, step.Delay); err != nil {
			return fmt.Errorf("countdown interrupted: %w", err)
		}
		s.logger.Info().Int("minutes", step.LeadTime).Msg("broadcasting warning")
		s.containerSvc.Console(ctx, container, "say "+step.Message)
	}

	if err := s.sleep(ctx, schedule.Settle); err != nil {
		return fmt.Errorf("countdown interrupted: %w", err)
	}
	return nil
}
