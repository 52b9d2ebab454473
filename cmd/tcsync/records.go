package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vkucera/task-coach/internal/model"
)

const dateLayout = "2006-01-02"

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return t, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

func parseTime(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return t, fmt.Errorf("invalid time %q, want RFC 3339", s)
	}
	return t.UTC(), nil
}

func argID(c *cli.Context, i int) (int64, error) {
	id, err := strconv.ParseInt(c.Args().Get(i), 10, 64)
	if err != nil || id <= 0 {
		return 0, cli.Exit(fmt.Sprintf("invalid id %q", c.Args().Get(i)), 1)
	}
	return id, nil
}

var recurrenceUnits = map[string]model.RecurrenceUnit{
	"":        model.RecurNone,
	"daily":   model.RecurDaily,
	"weekly":  model.RecurWeekly,
	"monthly": model.RecurMonthly,
	"yearly":  model.RecurYearly,
}

var addCategoryCmd = &cli.Command{
	Name:      "add-category",
	Usage:     "add a category",
	ArgsUsage: "<name>",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "parent", Usage: "Id of the parent category"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("Usage: add-category [--parent id] <name>", 1)
		}
		s, _, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := s.AddCategory(c.Context, &model.Category{Name: c.Args().First(), ParentLocal: c.Int64("parent")})
		if err != nil {
			return fmt.Errorf("failed to add category: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "Category %d added\n", id)
		return nil
	},
}

var addTaskCmd = &cli.Command{
	Name:      "add-task",
	Usage:     "add a task",
	ArgsUsage: "<subject>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Task description"},
		&cli.StringFlag{Name: "start", Usage: "Start date (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "due", Usage: "Due date (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "reminder", Usage: "Reminder time (RFC 3339)"},
		&cli.IntFlag{Name: "priority", Aliases: []string{"p"}, Usage: "Priority"},
		&cli.StringFlag{Name: "recurrence", Usage: "Recurrence unit (daily, weekly, monthly, yearly)"},
		&cli.IntFlag{Name: "every", Value: 1, Usage: "Recurrence amount"},
		&cli.IntFlag{Name: "max-recurrences", Usage: "Maximum number of recurrences, 0 for unbounded"},
		&cli.Int64Flag{Name: "parent", Usage: "Id of the parent task"},
		&cli.Int64SliceFlag{Name: "category", Aliases: []string{"C"}, Usage: "Id of a category of the task"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("Usage: add-task [options] <subject>", 1)
		}
		task := &model.Task{
			Subject:        c.Args().First(),
			Description:    c.String("description"),
			Priority:       c.Int("priority"),
			ParentLocal:    c.Int64("parent"),
			CategoryLocals: c.Int64Slice("category"),
		}
		var err error
		if task.Start, err = parseDate(c.String("start")); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		if task.Due, err = parseDate(c.String("due")); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		if task.Reminder, err = parseTime(c.String("reminder"), time.Time{}); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		unit, ok := recurrenceUnits[c.String("recurrence")]
		if !ok {
			return cli.Exit(fmt.Sprintf("unknown recurrence %q", c.String("recurrence")), 1)
		}
		if unit != model.RecurNone {
			task.Recurrence = model.Recurrence{Unit: unit, Amount: c.Int("every"), Max: c.Int("max-recurrences")}
		}

		s, _, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := s.AddTask(c.Context, task)
		if err != nil {
			return fmt.Errorf("failed to add task: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "Task %d added\n", id)
		return nil
	},
}

var addEffortCmd = &cli.Command{
	Name:      "add-effort",
	Usage:     "book time on a task",
	ArgsUsage: "<task-id>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "started", Usage: "Start time (RFC 3339), default now"},
		&cli.StringFlag{Name: "ended", Usage: "End time (RFC 3339), empty while tracking"},
		&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Effort description"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("Usage: add-effort [options] <task-id>", 1)
		}
		taskID, err := argID(c, 0)
		if err != nil {
			return err
		}
		effort := &model.Effort{TaskLocal: taskID, Description: c.String("description")}
		if effort.Started, err = parseTime(c.String("started"), time.Now().UTC().Truncate(time.Second)); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		if effort.Ended, err = parseTime(c.String("ended"), time.Time{}); err != nil {
			return cli.Exit(err.Error(), 1)
		}

		s, _, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := s.AddEffort(c.Context, effort)
		if err != nil {
			return fmt.Errorf("failed to add effort: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "Effort %d added\n", id)
		return nil
	},
}

var completeCmd = &cli.Command{
	Name:      "complete",
	Usage:     "mark a task completed today",
	ArgsUsage: "<task-id>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("Usage: complete <task-id>", 1)
		}
		id, err := argID(c, 0)
		if err != nil {
			return err
		}
		s, _, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		task, err := s.Task(c.Context, id)
		if err != nil {
			return fmt.Errorf("failed to load task %d: %w", id, err)
		}
		task.Completed = time.Now().UTC().Truncate(24 * time.Hour)
		if err := s.UpdateTask(c.Context, task); err != nil {
			return fmt.Errorf("failed to complete task %d: %w", id, err)
		}
		fmt.Fprintf(c.App.Writer, "Task %d completed\n", id)
		return nil
	},
}

func parseKind(s string) (model.Kind, bool) {
	for _, k := range model.Kinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

var deleteCmd = &cli.Command{
	Name:      "delete",
	Usage:     "delete a category, task or effort",
	ArgsUsage: "<category|task|effort> <id>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("Usage: delete <category|task|effort> <id>", 1)
		}
		k, ok := parseKind(c.Args().First())
		if !ok {
			return cli.Exit(fmt.Sprintf("unknown kind %q", c.Args().First()), 1)
		}
		id, err := argID(c, 1)
		if err != nil {
			return err
		}
		s, _, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Delete(c.Context, k, id); err != nil {
			return fmt.Errorf("failed to delete %s %d: %w", k, id, err)
		}
		fmt.Fprintf(c.App.Writer, "%s %d deleted\n", strings.ToUpper(k.String()[:1])+k.String()[1:], id)
		return nil
	},
}

func day(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}

var listCmd = &cli.Command{
	Name:  "list",
	Usage: "list categories, tasks and efforts",
	Action: func(c *cli.Context) error {
		s, _, err := openStore(c)
		if err != nil {
			return err
		}
		defer s.Close()

		cats, err := s.Categories(c.Context)
		if err != nil {
			return fmt.Errorf("failed to list categories: %w", err)
		}
		tasks, err := s.Tasks(c.Context)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		efforts, err := s.Efforts(c.Context)
		if err != nil {
			return fmt.Errorf("failed to list efforts: %w", err)
		}

		w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tNAME\tPARENT\tSTATUS")
		for _, cat := range cats {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", cat.LocalID, cat.Name, cat.ParentLocal, cat.Status)
		}
		fmt.Fprintln(w, "\nTASK\tSUBJECT\tDUE\tDONE\tPRIORITY\tSTATUS")
		for _, t := range tasks {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", t.LocalID, t.Subject, day(t.Due), day(t.Completed), t.Priority, t.Status)
		}
		fmt.Fprintln(w, "\nEFFORT\tTASK\tSTARTED\tDURATION\tSTATUS")
		now := time.Now()
		for _, e := range efforts {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", e.LocalID, e.TaskLocal, e.Started.Format(time.RFC3339), e.Duration(now).Round(time.Second), e.Status)
		}
		return w.Flush()
	},
}
