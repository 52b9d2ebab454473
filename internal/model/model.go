// Package model defines the entities exchanged during a sync: categories,
// tasks and efforts, together with their local sync status.
package model

import (
	"time"
)

// Kind identifies an entity kind.
type Kind int

const (
	// KindCategory is a (possibly nested) task category.
	KindCategory Kind = iota + 1
	// KindTask is a (possibly nested) task.
	KindTask
	// KindEffort is a time record booked on a task.
	KindEffort
)

// Kinds lists every kind in transfer order.
var Kinds = []Kind{KindCategory, KindTask, KindEffort}

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindCategory:
		return "category"
	case KindTask:
		return "task"
	case KindEffort:
		return "effort"
	default:
		return "unknown"
	}
}

// Status is the local sync status of a record. For incoming records it
// names the change being applied.
type Status int

const (
	// StatusSynced marks a record identical on both sides.
	StatusSynced Status = iota
	// StatusNew marks a record created since the last sync.
	StatusNew
	// StatusModified marks a record changed since the last sync.
	StatusModified
	// StatusDeleted marks a record deleted since the last sync. It is kept
	// until the deletion has been sent.
	StatusDeleted
)

// StatusAll selects every live record regardless of status.
const StatusAll Status = -1

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusNew:
		return "new"
	case StatusModified:
		return "modified"
	case StatusDeleted:
		return "deleted"
	case StatusAll:
		return "all"
	default:
		return "unknown"
	}
}

// Meta carries the identity and status shared by every record.
type Meta struct {
	// LocalID is the store's numeric id; zero for records not stored yet.
	LocalID int64
	// RemoteID is the desktop's id; empty until the record has been synced.
	RemoteID string
	Status   Status
}

// Base returns the record metadata.
func (m *Meta) Base() *Meta { return m }

// Record is implemented by *Category, *Task and *Effort.
type Record interface {
	Kind() Kind
	Base() *Meta
}

// Category is a task category. Categories nest.
type Category struct {
	Meta
	Name string
	// ParentLocal is the local id of the parent category, zero for roots.
	ParentLocal int64
	// ParentRemote is the remote id of the parent category when known.
	ParentRemote string
}

// Kind implements Record.
func (*Category) Kind() Kind { return KindCategory }

// Recurrence describes how a task repeats.
type Recurrence struct {
	Unit   RecurrenceUnit
	Amount int
	// Max is the maximum number of recurrences, zero for unbounded.
	Max int
}

// RecurrenceUnit is the period of a recurrence.
type RecurrenceUnit int

const (
	RecurNone RecurrenceUnit = iota
	RecurDaily
	RecurWeekly
	RecurMonthly
	RecurYearly
)

// Task is a task. Dates are calendar days in UTC; the zero time means unset.
type Task struct {
	Meta
	Subject     string
	Description string
	Start       time.Time
	Due         time.Time
	Completed   time.Time
	Reminder    time.Time
	Priority    int
	Recurrence  Recurrence

	ParentLocal  int64
	ParentRemote string

	CategoryLocals  []int64
	CategoryRemotes []string
}

// Kind implements Record.
func (*Task) Kind() Kind { return KindTask }

// IsCompleted reports whether the task has a completion date.
func (t *Task) IsCompleted() bool { return !t.Completed.IsZero() }

// Effort is a span of time spent on a task. Ended is zero while tracking.
type Effort struct {
	Meta
	TaskLocal   int64
	TaskRemote  string
	Started     time.Time
	Ended       time.Time
	Description string
}

// Kind implements Record.
func (*Effort) Kind() Kind { return KindEffort }

// Duration returns the tracked time, measured up to now for a running effort.
func (e *Effort) Duration(now time.Time) time.Duration {
	end := e.Ended
	if end.IsZero() {
		end = now
	}
	if end.Before(e.Started) {
		return 0
	}
	return end.Sub(e.Started)
}

// Deleted returns a record of kind k carrying only a remote id, as
// transferred for deletions.
func Deleted(k Kind, remoteID string) Record {
	meta := Meta{RemoteID: remoteID, Status: StatusDeleted}
	switch k {
	case KindCategory:
		return &Category{Meta: meta}
	case KindTask:
		return &Task{Meta: meta}
	default:
		return &Effort{Meta: meta}
	}
}
