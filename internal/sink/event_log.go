package sink

import "sync"

// EventLog keeps the most recent event rows in memory for operators.
type EventLog struct {
	mu   sync.Mutex
	rows []EventRow
	next int
	full bool
}

// NewEventLog creates a log holding at most size rows.
func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = 1
	}
	return &EventLog{rows: make([]EventRow, size)}
}

// WriteEvent implements EventWriter.
func (l *EventLog) WriteEvent(row EventRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.push(row)
	return nil
}

// WriteEvents appends a batch under one lock.
func (l *EventLog) WriteEvents(rows []EventRow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range rows {
		l.push(r)
	}
	return nil
}

func (l *EventLog) push(row EventRow) {
	l.rows[l.next] = row
	l.next = (l.next + 1) % len(l.rows)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns up to n of the newest rows, oldest first. n <= 0 returns
// everything held.
func (l *EventLog) Recent(n int) []EventRow {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := l.next
	if l.full {
		count = len(l.rows)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]EventRow, 0, n)
	for i := count - n; i < count; i++ {
		idx := i
		if l.full {
			idx = (l.next + i) % len(l.rows)
		}
		out = append(out, l.rows[idx])
	}
	return out
}
