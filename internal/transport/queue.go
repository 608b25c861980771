package transport

import (
	"time"

	"golang.org/x/time/rate"
)

type Priority int

const (
	PriorityRoom Priority = iota
	PriorityPrivate
)

// PriorityOf puts private messages and rings in the low class.
func PriorityOf(c Command) Priority {
	switch c.(type) {
	case SayPrivate, Ring:
		return PriorityPrivate
	}
	return PriorityRoom
}

// Queue holds outbound commands under a send budget of Budget commands per
// Window. Room commands always go before private messages; each class is
// strictly FIFO. Not safe for concurrent use.
type Queue struct {
	limiter *rate.Limiter
	room    []Command
	private []Command
}

func NewQueue(budget int, window time.Duration) *Queue {
	if budget <= 0 {
		return &Queue{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Queue{limiter: rate.NewLimiter(rate.Every(window/time.Duration(budget)), budget)}
}

func (q *Queue) Push(c Command) {
	if PriorityOf(c) == PriorityPrivate {
		q.private = append(q.private, c)
		return
	}
	q.room = append(q.room, c)
}

// Flush sends as many queued commands as the budget allows at now. A send
// error stops the flush and leaves the failed command at the head.
func (q *Queue) Flush(now time.Time, send func(Command) error) (int, error) {
	sent := 0
	for {
		head := &q.room
		if len(*head) == 0 {
			head = &q.private
		}
		if len(*head) == 0 {
			return sent, nil
		}
		if !q.limiter.AllowN(now, 1) {
			return sent, nil
		}
		if err := send((*head)[0]); err != nil {
			return sent, err
		}
		*head = (*head)[1:]
		sent++
	}
}

func (q *Queue) Len() (room, private int) {
	return len(q.room), len(q.private)
}

// Reset drops everything queued, used when the connection is lost.
func (q *Queue) Reset() {
	q.room = nil
	q.private = nil
}
