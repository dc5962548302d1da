package comparator

import (
	"cmp"
	"strings"

	"github.com/psantana5/ffqueue/pkg/models"
)

type keyKind uint8

const (
	kindNull keyKind = iota
	kindNumber
	kindString
)

// Key is a primitive sort key: a number, a string, or null
type Key struct {
	kind keyKind
	num  float64
	str  string
}

// Null is the absent key
var Null = Key{}

// Number wraps a numeric key
func Number(v float64) Key { return Key{kind: kindNumber, num: v} }

// String wraps a string key; strings compare case-insensitively
func String(v string) Key { return Key{kind: kindString, str: strings.ToLower(v)} }

// IsNull reports whether the key is absent
func (k Key) IsNull() bool { return k.kind == kindNull }

func optInt(p *int64) Key {
	if p == nil {
		return Null
	}
	return Number(float64(*p))
}

func optFloat(p *float64) Key {
	if p == nil {
		return Null
	}
	return Number(*p)
}

// ValueOf maps a job and field to its sort key
func ValueOf(job *models.Job, field SortField) Key {
	switch field {
	case FieldFilename:
		name := job.BaseName()
		if name == "" {
			return Null
		}
		return String(name)
	case FieldStatus:
		return Number(float64(models.StatusRank(job.Status)))
	case FieldType:
		if job.Type == "" {
			return Null
		}
		return String(string(job.Type))
	case FieldPreset:
		if job.PresetID == "" {
			return Null
		}
		return String(job.PresetID)
	case FieldProgress:
		return Number(job.Progress)
	case FieldElapsed:
		return elapsedKey(job)
	case FieldAddedTime:
		return optInt(job.StartTime)
	case FieldStartedTime:
		return optInt(job.ProcessingStartedMs)
	case FieldFinishedTime:
		return optInt(job.EndTime)
	case FieldCreatedTime:
		return optInt(job.CreatedTimeMs)
	case FieldModifiedTime:
		return optInt(job.ModifiedTimeMs)
	case FieldInputSize:
		if v, ok := job.EffectiveSizeMB(); ok {
			return Number(v)
		}
		return Null
	case FieldOutputSize:
		return optFloat(job.OutputSizeMB)
	case FieldDuration:
		if job.MediaInfo == nil {
			return Null
		}
		return optFloat(job.MediaInfo.DurationSeconds)
	case FieldQueueOrder:
		if v, ok := job.EffectiveQueueOrder(); ok {
			return Number(float64(v))
		}
		return Null
	default:
		return Null
	}
}

func elapsedKey(job *models.Job) Key {
	if job.ElapsedMs != nil && *job.ElapsedMs >= 0 {
		return Number(float64(*job.ElapsedMs))
	}
	if job.EndTime == nil {
		return Null
	}
	start := job.ProcessingStartedMs
	if start == nil {
		start = job.StartTime
	}
	if start == nil {
		return Null
	}
	d := *job.EndTime - *start
	if d <= 0 {
		return Null
	}
	return Number(float64(d))
}

// CompareKeys orders two keys. Null sorts after every defined key no matter
// the direction; direction only flips the order of two defined keys.
func CompareKeys(a, b Key, dir Direction) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return 1
	case b.IsNull():
		return -1
	}

	var c int
	switch {
	case a.kind != b.kind:
		// numbers before strings; only reachable for mixed custom keys
		c = cmp.Compare(a.kind, b.kind)
	case a.kind == kindNumber:
		c = cmp.Compare(a.num, b.num)
	default:
		c = strings.Compare(a.str, b.str)
	}
	if dir == Desc {
		return -c
	}
	return c
}

// Compare orders two jobs by a single field
func Compare(a, b *models.Job, field SortField, dir Direction) int {
	if field == FieldNone {
		return 0
	}
	return CompareKeys(ValueOf(a, field), ValueOf(b, field), dir)
}

// TieBreak makes the job order total: queue order (missing last), then
// start time (missing counts as 0), then id.
func TieBreak(a, b *models.Job) int {
	if c := compareQueueOrder(a, b); c != 0 {
		return c
	}
	if c := cmp.Compare(startOrZero(a), startOrZero(b)); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func compareQueueOrder(a, b *models.Job) int {
	return CompareKeys(ValueOf(a, FieldQueueOrder), ValueOf(b, FieldQueueOrder), Asc)
}

func startOrZero(j *models.Job) int64 {
	if j.StartTime == nil {
		return 0
	}
	return *j.StartTime
}

// CompareJobs orders two jobs under cfg, always ending in TieBreak
func CompareJobs(a, b *models.Job, cfg SortConfig) int {
	if c := Compare(a, b, cfg.Primary, cfg.PrimaryDirection); c != 0 {
		return c
	}
	if cfg.Secondary != cfg.Primary {
		if c := Compare(a, b, cfg.Secondary, cfg.SecondaryDirection); c != 0 {
			return c
		}
	}
	return TieBreak(a, b)
}

// CompareWaitingGroup orders queued/paused jobs: explicit queue order first,
// the configured keys only break ties between equal (usually absent) orders.
func CompareWaitingGroup(a, b *models.Job, cfg SortConfig) int {
	if c := compareQueueOrder(a, b); c != 0 {
		return c
	}
	return CompareJobs(a, b, cfg)
}

// Func returns a comparison closure for cfg
func Func(cfg SortConfig) func(a, b *models.Job) int {
	return func(a, b *models.Job) int { return CompareJobs(a, b, cfg) }
}

// WaitingGroupFunc returns a waiting-group comparison closure for cfg
func WaitingGroupFunc(cfg SortConfig) func(a, b *models.Job) int {
	return func(a, b *models.Job) int { return CompareWaitingGroup(a, b, cfg) }
}

func queueGroup(j *models.Job) int {
	switch {
	case models.IsActive(j.Status):
		return 0
	case models.IsWaitingGroup(j.Status):
		return 1
	default:
		return 2
	}
}

// CompareQueueMode orders processing jobs first, then the waiting group by
// CompareWaitingGroup, then everything else by CompareJobs.
func CompareQueueMode(a, b *models.Job, cfg SortConfig) int {
	ga, gb := queueGroup(a), queueGroup(b)
	if ga != gb {
		return cmp.Compare(ga, gb)
	}
	if ga == 1 {
		return CompareWaitingGroup(a, b, cfg)
	}
	return CompareJobs(a, b, cfg)
}

// QueueModeFunc returns a queue-mode comparison closure for cfg
func QueueModeFunc(cfg SortConfig) func(a, b *models.Job) int {
	return func(a, b *models.Job) int { return CompareQueueMode(a, b, cfg) }
}
