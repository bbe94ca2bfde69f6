package rendertask

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/semaphore"
)

type TaskStatus int

const (
	TaskStatusQueued     TaskStatus = 1
	TaskStatusInProgress TaskStatus = 2
	TaskStatusDone       TaskStatus = 3
	TaskStatusFailed     TaskStatus = 4
	TaskStatusCanceled   TaskStatus = 5
)

var taskStatusNames = []string{
	"",
	"Queued",
	"In Progress",
	"Done",
	"Failed",
	"Canceled",
}

func (s TaskStatus) String() string {
	return taskStatusNames[s]
}

type QueueItem struct {
	ID             int
	Task           *RenderTask
	Status         TaskStatus
	Err            errorsx.Error
	TimeInProgress time.Duration
}

// RenderQueue runs render tasks on a bounded pool of workers. Each item is
// run exactly once; its task's Finished listeners are invoked from the
// worker goroutine.
type RenderQueue struct {
	items  []*QueueItem
	mu     *sync.RWMutex
	sema   *semaphore.Semaphore
	wg     *sync.WaitGroup
	nextID int
}

func NewRenderQueue(maxConcurrentRenders uint) *RenderQueue {
	return &RenderQueue{nil, new(sync.RWMutex), semaphore.NewSemaphore(maxConcurrentRenders), new(sync.WaitGroup), 0}
}

// GetItems returns a snapshot of every queue item, taken under the queue
// lock so in-flight status updates don't tear.
func (q *RenderQueue) GetItems() []QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	items := make([]QueueItem, 0, len(q.items))
	for _, item := range q.items {
		items = append(items, *item)
	}
	return items
}

// GetItem returns a copy of the item with the given ID, like GetItems taken
// under the queue lock.
func (q *RenderQueue) GetItem(id int) (QueueItem, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	item := q.findItem(id)
	if item == nil {
		return QueueItem{}, false
	}
	return *item, true
}

// findItem must be called with q.mu held.
func (q *RenderQueue) findItem(id int) *QueueItem {
	for _, item := range q.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// AddTaskToQueue schedules the task and returns its queue item immediately.
func (q *RenderQueue) AddTaskToQueue(ctx context.Context, task *RenderTask) *QueueItem {
	q.mu.Lock()
	q.nextID++
	item := &QueueItem{
		ID:     q.nextID,
		Task:   task,
		Status: TaskStatusQueued,
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.wg.Add(1)

	go func() {
		defer q.wg.Done()

		q.sema.Add()
		defer q.sema.Done()

		q.setStatus(item, TaskStatusInProgress, nil)

		startTime := time.Now()
		err := task.Run(ctx)

		q.mu.Lock()
		item.TimeInProgress = time.Since(startTime)
		q.mu.Unlock()

		switch {
		case err == nil:
			q.setStatus(item, TaskStatusDone, nil)
		case errorsx.Cause(err) == ErrCanceled:
			q.setStatus(item, TaskStatusCanceled, err)
		default:
			log.Printf("render task %d failed. Error: %q\nStack: %s\n", item.ID, err.Error(), err.Stack())
			q.setStatus(item, TaskStatusFailed, err)
		}

		task.Finished(err)
	}()

	return item
}

// CancelItem requests cancellation of a queued or in-progress item. It
// returns immediately; the item reaches the Canceled status once its worker
// observes the request.
func (q *RenderQueue) CancelItem(id int) errorsx.Error {
	q.mu.RLock()
	item := q.findItem(id)
	q.mu.RUnlock()

	if item == nil {
		return errorsx.Errorf("no queue item with ID %d", id)
	}

	item.Task.Cancel()

	return nil
}

// Wait blocks until every scheduled item has finished.
func (q *RenderQueue) Wait() {
	q.wg.Wait()
}

func (q *RenderQueue) setStatus(item *QueueItem, status TaskStatus, err errorsx.Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.Status = status
	item.Err = err
}
