package filter

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/psantana5/ffqueue/pkg/models"
)

// SizeOp is the comparison of a size token
type SizeOp string

const (
	SizeGreater      SizeOp = ">"
	SizeLess         SizeOp = "<"
	SizeGreaterEqual SizeOp = ">="
	SizeLessEqual    SizeOp = "<="
	SizeEqual        SizeOp = "="
)

var sizeTokenRe = regexp.MustCompile(`(?i)^size(>=|<=|>|<|=)?([0-9]+(?:\.[0-9]+)?)(kb|mb|gb)?$`)

// SizeFilter compares a job's effective size in megabytes
type SizeFilter struct {
	Op          SizeOp
	ThresholdMB float64
	// ToleranceMB widens "=" to half a unit of what the user typed
	ToleranceMB float64
}

// ParseSizeToken recognizes size(<op>)?<number>(unit)?; op defaults to ">"
// and unit to mb.
func ParseSizeToken(token string) (SizeFilter, bool) {
	m := sizeTokenRe.FindStringSubmatch(token)
	if m == nil {
		return SizeFilter{}, false
	}
	value, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return SizeFilter{}, false
	}

	op := SizeOp(m[1])
	if op == "" {
		op = SizeGreater
	}

	unitMB := 1.0
	switch strings.ToLower(m[3]) {
	case "kb":
		unitMB = 1.0 / 1024
	case "gb":
		unitMB = 1024
	}

	return SizeFilter{
		Op:          op,
		ThresholdMB: value * unitMB,
		ToleranceMB: unitMB / 2,
	}, true
}

// Match fails for jobs without a resolvable size
func (f SizeFilter) Match(job *models.Job) bool {
	size, ok := job.EffectiveSizeMB()
	if !ok {
		return false
	}
	switch f.Op {
	case SizeGreater:
		return size > f.ThresholdMB
	case SizeLess:
		return size < f.ThresholdMB
	case SizeGreaterEqual:
		return size >= f.ThresholdMB
	case SizeLessEqual:
		return size <= f.ThresholdMB
	case SizeEqual:
		return math.Abs(size-f.ThresholdMB) <= f.ToleranceMB
	default:
		return false
	}
}
