package protocol

import (
	"fmt"
	"time"

	"github.com/vkucera/task-coach/internal/codec"
	"github.com/vkucera/task-coach/internal/crypto"
	"github.com/vkucera/task-coach/internal/model"
)

// Supported protocol versions.
const (
	MinVersion = 3
	MaxVersion = 5
)

// MaxAuthAttempts is the number of rejected passwords after which the
// device gives up.
const MaxAuthAttempts = 3

// Fixed messages shared by every version.
var (
	AckDesc       = codec.Int32
	IDDesc        = codec.Text
	ChallengeDesc = &codec.RawBytes{N: crypto.ChallengeSize}
	DigestDesc    = &codec.RawBytes{N: crypto.DigestSize}
	IdentityDesc  = codec.NewComposite("identity",
		codec.Field{Name: "name", Desc: codec.Text},
		codec.Field{Name: "device", Desc: codec.Text},
		codec.Field{Name: "guid", Desc: codec.Text},
	)
)

// Tag precedes every transferred record and names its kind and change.
type Tag int32

// TagFor returns the tag for a record of kind k with change s.
func TagFor(k model.Kind, s model.Status) Tag {
	return Tag(int(k-1)*3 + int(s))
}

// Split returns the kind and change named by t.
func (t Tag) Split() (model.Kind, model.Status, bool) {
	if t < 1 || t > 9 {
		return 0, 0, false
	}
	return model.Kind(int(t-1)/3 + 1), model.Status(int(t-1)%3 + 1), true
}

func (t Tag) String() string {
	k, s, ok := t.Split()
	if !ok {
		return fmt.Sprintf("tag(%d)", int32(t))
	}
	return s.String() + " " + k.String()
}

// Step is one transfer sub-phase: Count records of Kind with change Status.
type Step struct {
	Kind   model.Kind
	Status model.Status
	Count  int
}

// Schema is the record layout of one protocol version.
type Schema struct {
	Version  int
	Category *codec.Composite
	Task     *codec.Composite
	// Effort is nil for versions without effort sync.
	Effort      *codec.Composite
	Deleted     *codec.Composite
	FullCounts  *codec.Composite
	DeltaCounts *codec.Composite
}

var registry = map[int]*Schema{}

func init() {
	for v := MinVersion; v <= MaxVersion; v++ {
		registry[v] = buildSchema(v)
	}
}

// SchemaFor returns the layout of version v.
func SchemaFor(v int) (*Schema, error) {
	s, ok := registry[v]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrVersionUnsupported, v)
	}
	return s, nil
}

func buildSchema(v int) *Schema {
	s := &Schema{Version: v}
	s.Category = codec.NewComposite("category",
		codec.Field{Name: "name", Desc: codec.Text},
		codec.Field{Name: "id", Desc: codec.Text},
		codec.Field{Name: "parent", Desc: codec.Text},
	)

	task := []codec.Field{
		{Name: "subject", Desc: codec.Text},
		{Name: "id", Desc: codec.Text},
		{Name: "description", Desc: codec.Text},
		{Name: "start", Desc: codec.Day},
		{Name: "due", Desc: codec.Day},
		{Name: "completed", Desc: codec.Day},
		{Name: "parent", Desc: codec.Text},
		{Name: "categories", Desc: codec.NewList(codec.Text)},
	}
	if v >= 4 {
		task = append(task,
			codec.Field{Name: "priority", Desc: codec.Int32},
			codec.Field{Name: "reminder", Desc: codec.Timestamp},
		)
		s.Effort = codec.NewComposite("effort",
			codec.Field{Name: "id", Desc: codec.Text},
			codec.Field{Name: "task", Desc: codec.Text},
			codec.Field{Name: "started", Desc: codec.Timestamp},
			codec.Field{Name: "ended", Desc: codec.Timestamp},
			codec.Field{Name: "description", Desc: codec.Text},
		)
	}
	if v >= 5 {
		task = append(task, codec.Field{Name: "recurrence", Desc: codec.NewComposite("recurrence",
			codec.Field{Name: "unit", Desc: codec.Int32},
			codec.Field{Name: "amount", Desc: codec.Int32},
			codec.Field{Name: "max", Desc: codec.Int32},
		)})
	}
	s.Task = codec.NewComposite("task", task...)
	s.Deleted = codec.NewComposite("deleted", codec.Field{Name: "id", Desc: codec.Text})

	var full, delta []codec.Field
	for _, k := range s.Kinds() {
		full = append(full, codec.Field{Name: k.String(), Desc: codec.Int32})
		for _, st := range changes {
			delta = append(delta, codec.Field{Name: st.String() + " " + k.String(), Desc: codec.Int32})
		}
	}
	s.FullCounts = codec.NewComposite("full counts", full...)
	s.DeltaCounts = codec.NewComposite("delta counts", delta...)
	return s
}

var changes = []model.Status{model.StatusNew, model.StatusModified, model.StatusDeleted}

// Kinds returns the entity kinds synced by this version, in transfer order.
func (s *Schema) Kinds() []model.Kind {
	if s.Effort == nil {
		return model.Kinds[:2]
	}
	return model.Kinds
}

// Record returns the descriptor of a record of kind k carrying change st.
func (s *Schema) Record(k model.Kind, st model.Status) *codec.Composite {
	if st == model.StatusDeleted {
		return s.Deleted
	}
	switch k {
	case model.KindCategory:
		return s.Category
	case model.KindTask:
		return s.Task
	default:
		return s.Effort
	}
}

// FullSteps returns the sub-phases of a full transfer for the given counts.
func (s *Schema) FullSteps(counts codec.Value) []Step {
	var steps []Step
	for i, k := range s.Kinds() {
		steps = append(steps, Step{Kind: k, Status: model.StatusNew, Count: int(counts.At(i).Int())})
	}
	return steps
}

// DeltaSteps returns the sub-phases of a two-way transfer for the given counts.
func (s *Schema) DeltaSteps(counts codec.Value) []Step {
	var steps []Step
	i := 0
	for _, k := range s.Kinds() {
		for _, st := range changes {
			steps = append(steps, Step{Kind: k, Status: st, Count: int(counts.At(i).Int())})
			i++
		}
	}
	return steps
}

// CountsValue encodes the announced counts of steps, in step order.
func CountsValue(steps []Step) codec.Value {
	items := make([]codec.Value, 0, len(steps))
	for _, st := range steps {
		items = append(items, codec.Int(int64(st.Count)))
	}
	return codec.Tuple(items...)
}

// Value converts rec to its wire form. References must already carry
// remote ids.
func (s *Schema) Value(rec model.Record) (codec.Value, error) {
	meta := rec.Base()
	if meta.Status == model.StatusDeleted {
		return codec.Tuple(codec.Str(meta.RemoteID)), nil
	}
	switch r := rec.(type) {
	case *model.Category:
		return codec.Tuple(codec.Str(r.Name), codec.Str(r.RemoteID), codec.Str(r.ParentRemote)), nil

	case *model.Task:
		fields := []codec.Value{
			codec.Str(r.Subject),
			codec.Str(r.RemoteID),
			codec.Str(r.Description),
			codec.Time(day(r.Start)),
			codec.Time(day(r.Due)),
			codec.Time(day(r.Completed)),
			codec.Str(r.ParentRemote),
			codec.Strings(r.CategoryRemotes),
		}
		if s.Version >= 4 {
			fields = append(fields, codec.Int(int64(r.Priority)), codec.Time(second(r.Reminder)))
		}
		if s.Version >= 5 {
			fields = append(fields, codec.Tuple(
				codec.Int(int64(r.Recurrence.Unit)),
				codec.Int(int64(r.Recurrence.Amount)),
				codec.Int(int64(r.Recurrence.Max)),
			))
		}
		return codec.Tuple(fields...), nil

	case *model.Effort:
		if s.Effort == nil {
			return codec.Value{}, fmt.Errorf("protocol: version %d does not sync efforts", s.Version)
		}
		return codec.Tuple(
			codec.Str(r.RemoteID),
			codec.Str(r.TaskRemote),
			codec.Time(second(r.Started)),
			codec.Time(second(r.Ended)),
			codec.Str(r.Description),
		), nil

	default:
		return codec.Value{}, fmt.Errorf("protocol: cannot encode %T", rec)
	}
}

// Decode converts a received record of kind k with change st. References
// are left as remote ids.
func (s *Schema) Decode(k model.Kind, st model.Status, v codec.Value) model.Record {
	if st == model.StatusDeleted {
		return model.Deleted(k, s.Deleted.Get(v, "id").Str())
	}
	switch k {
	case model.KindCategory:
		c := s.Category
		return &model.Category{
			Meta:         model.Meta{RemoteID: c.Get(v, "id").Str(), Status: st},
			Name:         c.Get(v, "name").Str(),
			ParentRemote: c.Get(v, "parent").Str(),
		}

	case model.KindTask:
		t := s.Task
		task := &model.Task{
			Meta:            model.Meta{RemoteID: t.Get(v, "id").Str(), Status: st},
			Subject:         t.Get(v, "subject").Str(),
			Description:     t.Get(v, "description").Str(),
			Start:           t.Get(v, "start").Time(),
			Due:             t.Get(v, "due").Time(),
			Completed:       t.Get(v, "completed").Time(),
			ParentRemote:    t.Get(v, "parent").Str(),
			CategoryRemotes: t.Get(v, "categories").StringItems(),
		}
		if t.Has("priority") {
			task.Priority = int(t.Get(v, "priority").Int())
			task.Reminder = t.Get(v, "reminder").Time()
		}
		if t.Has("recurrence") {
			rec := t.Get(v, "recurrence")
			task.Recurrence = model.Recurrence{
				Unit:   model.RecurrenceUnit(rec.At(0).Int()),
				Amount: int(rec.At(1).Int()),
				Max:    int(rec.At(2).Int()),
			}
		}
		return task

	default:
		e := s.Effort
		return &model.Effort{
			Meta:        model.Meta{RemoteID: e.Get(v, "id").Str(), Status: st},
			TaskRemote:  e.Get(v, "task").Str(),
			Started:     e.Get(v, "started").Time(),
			Ended:       e.Get(v, "ended").Time(),
			Description: e.Get(v, "description").Str(),
		}
	}
}

// day truncates t to its UTC calendar day, keeping the zero time.
func day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// second truncates t to whole UTC seconds, keeping the zero time.
func second(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Second)
}
