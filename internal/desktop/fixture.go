package desktop

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vkucera/task-coach/internal/model"
)

// Fixture seeds a File. Records refer to each other by key.
type Fixture struct {
	GUID       string            `yaml:"guid"`
	Categories []FixtureCategory `yaml:"categories"`
	Tasks      []FixtureTask     `yaml:"tasks"`
	Efforts    []FixtureEffort   `yaml:"efforts"`
}

// FixtureCategory is a category; Parent is the key of another category.
type FixtureCategory struct {
	Key    string `yaml:"key"`
	Name   string `yaml:"name"`
	Parent string `yaml:"parent"`
}

// FixtureTask is a task; Parent and Categories hold keys.
type FixtureTask struct {
	Key         string            `yaml:"key"`
	Subject     string            `yaml:"subject"`
	Description string            `yaml:"description"`
	Start       *time.Time        `yaml:"start"`
	Due         *time.Time        `yaml:"due"`
	Completed   *time.Time        `yaml:"completed"`
	Reminder    *time.Time        `yaml:"reminder"`
	Priority    int               `yaml:"priority"`
	Recurrence  FixtureRecurrence `yaml:"recurrence"`
	Parent      string            `yaml:"parent"`
	Categories  []string          `yaml:"categories"`
}

// FixtureRecurrence names its unit: daily, weekly, monthly or yearly.
type FixtureRecurrence struct {
	Unit   string `yaml:"unit"`
	Amount int    `yaml:"amount"`
	Max    int    `yaml:"max"`
}

// FixtureEffort is an effort booked on the task with key Task.
type FixtureEffort struct {
	Task        string     `yaml:"task"`
	Started     time.Time  `yaml:"started"`
	Ended       *time.Time `yaml:"ended"`
	Description string     `yaml:"description"`
}

var recurrenceUnits = map[string]model.RecurrenceUnit{
	"":        model.RecurNone,
	"none":    model.RecurNone,
	"daily":   model.RecurDaily,
	"weekly":  model.RecurWeekly,
	"monthly": model.RecurMonthly,
	"yearly":  model.RecurYearly,
}

// LoadFixture reads a fixture file and builds a File from it.
func LoadFixture(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	return ReadFixture(fd)
}

// ReadFixture builds a File from a YAML fixture.
func ReadFixture(r io.Reader) (*File, error) {
	var fx Fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return fx.Build()
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// Build creates a File holding the fixture records, all new to devices.
func (fx *Fixture) Build() (*File, error) {
	f := NewFile()
	if fx.GUID != "" {
		f = NewFileWithGUID(fx.GUID)
	}

	categories := map[string]string{}
	for _, c := range fx.Categories {
		parent, ok := categories[c.Parent]
		if c.Parent != "" && !ok {
			return nil, fmt.Errorf("category %q: unknown parent %q", c.Name, c.Parent)
		}
		id := f.Add(&model.Category{Name: c.Name, ParentRemote: parent})
		if c.Key != "" {
			categories[c.Key] = id
		}
	}

	tasks := map[string]string{}
	for _, t := range fx.Tasks {
		unit, ok := recurrenceUnits[t.Recurrence.Unit]
		if !ok {
			return nil, fmt.Errorf("task %q: unknown recurrence %q", t.Subject, t.Recurrence.Unit)
		}
		task := &model.Task{
			Subject:     t.Subject,
			Description: t.Description,
			Start:       deref(t.Start),
			Due:         deref(t.Due),
			Completed:   deref(t.Completed),
			Reminder:    deref(t.Reminder),
			Priority:    t.Priority,
			Recurrence:  model.Recurrence{Unit: unit, Amount: t.Recurrence.Amount, Max: t.Recurrence.Max},
		}
		if t.Parent != "" {
			if task.ParentRemote, ok = tasks[t.Parent]; !ok {
				return nil, fmt.Errorf("task %q: unknown parent %q", t.Subject, t.Parent)
			}
		}
		for _, key := range t.Categories {
			id, ok := categories[key]
			if !ok {
				return nil, fmt.Errorf("task %q: unknown category %q", t.Subject, key)
			}
			task.CategoryRemotes = append(task.CategoryRemotes, id)
		}
		id := f.Add(task)
		if t.Key != "" {
			tasks[t.Key] = id
		}
	}

	for _, e := range fx.Efforts {
		task, ok := tasks[e.Task]
		if !ok {
			return nil, fmt.Errorf("effort %q: unknown task %q", e.Description, e.Task)
		}
		f.Add(&model.Effort{
			TaskRemote:  task,
			Started:     e.Started.UTC(),
			Ended:       deref(e.Ended),
			Description: e.Description,
		})
	}
	return f, nil
}
