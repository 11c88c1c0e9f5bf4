package ratelimit

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"time"
)

// Priority - приоритет запроса к бирже
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// Priorities - все уровни от высшего к низшему
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority разбирает строковое имя приоритета
func ParsePriority(s string) (Priority, error) {
	for _, p := range Priorities {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// result - итог выполнения запроса
type result struct {
	value interface{}
	err   error
}

// Request - запрос, ожидающий токенов
type Request struct {
	Priority   Priority
	Weight     float64
	EnqueuedAt time.Time

	seq  uint64
	ctx  context.Context
	fn   func(ctx context.Context) (interface{}, error)
	done chan result
}

// requestHeap упорядочивает по приоритету (desc), времени постановки и порядковому номеру
type requestHeap []*Request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if !h[i].EnqueuedAt.Equal(h[j].EnqueuedAt) {
		return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x interface{}) { *h = append(*h, x.(*Request)) }

func (h *requestHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue - очередь с приоритетами, FIFO внутри уровня.
// Не потокобезопасна: синхронизацию обеспечивает Limiter.
type Queue struct {
	items requestHeap
	seq   uint64
}

// NewQueue создаёт пустую очередь
func NewQueue() *Queue {
	return &Queue{}
}

// Push добавляет запрос, присваивая ему порядковый номер
func (q *Queue) Push(r *Request) {
	q.seq++
	r.seq = q.seq
	heap.Push(&q.items, r)
}

// Pop извлекает запрос с наивысшим приоритетом, nil если очередь пуста
func (q *Queue) Pop() *Request {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*Request)
}

// Peek возвращает голову очереди без извлечения
func (q *Queue) Peek() *Request {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Len возвращает размер очереди
func (q *Queue) Len() int {
	return len(q.items)
}

// Clear очищает очередь и возвращает выброшенные запросы
func (q *Queue) Clear() []*Request {
	dropped := q.items
	q.items = nil
	return dropped
}

// CountByPriority считает запросы по уровням
func (q *Queue) CountByPriority() map[Priority]int {
	counts := make(map[Priority]int, len(Priorities))
	for _, p := range Priorities {
		counts[p] = 0
	}
	for _, r := range q.items {
		counts[r.Priority]++
	}
	return counts
}
