package bot

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fastdl4u/fastdl/metrics"
)

type Deleter interface {
	Delete(chatID int64, messageID int) error
}

// Scheduler deletes messages after a delay. Pending deletions can be
// cancelled one by one or all at once on shutdown.
type Scheduler struct {
	del Deleter

	mu     sync.Mutex
	tasks  map[uint64]*Task
	next   uint64
	closed bool
	wg     sync.WaitGroup
}

type Task struct {
	ChatID     int64
	MessageIDs []int

	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel drops the deletion if it did not happen yet.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed once the task deleted its messages or was cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func NewScheduler(del Deleter) *Scheduler {
	return &Scheduler{
		del:   del,
		tasks: make(map[uint64]*Task),
	}
}

// Schedule deletes the given messages of chatID once delay elapses.
// Deletion errors (message already gone, missing rights) are logged only.
func (s *Scheduler) Schedule(chatID int64, delay time.Duration, messageIDs ...int) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		ChatID:     chatID,
		MessageIDs: messageIDs,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		close(t.done)
		log.Debug().Int64("chat_id", chatID).Ints("message_ids", messageIDs).
			Msg("scheduler closed, deletion dropped")
		return t
	}
	id := s.next
	s.next++
	s.tasks[id] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(t.done)
		defer func() {
			s.mu.Lock()
			delete(s.tasks, id)
			s.mu.Unlock()
		}()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			metrics.Deletions.WithLabelValues("cancelled").Add(float64(len(messageIDs)))
			return
		case <-timer.C:
		}

		for _, msgID := range messageIDs {
			err := s.del.Delete(chatID, msgID)
			metrics.Deletions.WithLabelValues(metrics.Result(err)).Inc()
			if err != nil {
				log.Debug().Err(err).Int64("chat_id", chatID).Int("message_id", msgID).
					Msg("scheduled deletion failed")
			}
		}
	}()
	return t
}

// Pending returns how many deletions are still waiting.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown cancels every pending deletion and waits for the tasks to exit.
// Later calls to Schedule are no-ops.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for _, t := range s.tasks {
		t.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
