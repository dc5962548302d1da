package comparator

import (
	"fmt"
	"strings"
)

// SortField names a sortable job attribute
type SortField string

const (
	FieldNone         SortField = ""
	FieldFilename     SortField = "filename"
	FieldStatus       SortField = "status"
	FieldType         SortField = "type"
	FieldPreset       SortField = "preset"
	FieldProgress     SortField = "progress"
	FieldElapsed      SortField = "elapsed"
	FieldAddedTime    SortField = "addedTime"
	FieldStartedTime  SortField = "startedTime"
	FieldFinishedTime SortField = "finishedTime"
	FieldCreatedTime  SortField = "createdTime"
	FieldModifiedTime SortField = "modifiedTime"
	FieldInputSize    SortField = "inputSize"
	FieldOutputSize   SortField = "outputSize"
	FieldDuration     SortField = "duration"
	FieldQueueOrder   SortField = "queueOrder"
)

var knownFields = []SortField{
	FieldFilename, FieldStatus, FieldType, FieldPreset, FieldProgress, FieldElapsed,
	FieldAddedTime, FieldStartedTime, FieldFinishedTime, FieldCreatedTime,
	FieldModifiedTime, FieldInputSize, FieldOutputSize, FieldDuration, FieldQueueOrder,
}

// KnownFields returns every supported sort field
func KnownFields() []SortField {
	return append([]SortField(nil), knownFields...)
}

// IsVolatile reports whether the field changes at progress-tick frequency
func IsVolatile(f SortField) bool {
	return f == FieldProgress || f == FieldElapsed
}

// Direction of a sort key
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SortConfig is the two-key sort configuration chosen by the user
type SortConfig struct {
	Primary            SortField `json:"primary" yaml:"primary"`
	PrimaryDirection   Direction `json:"primaryDirection" yaml:"primaryDirection"`
	Secondary          SortField `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	SecondaryDirection Direction `json:"secondaryDirection,omitempty" yaml:"secondaryDirection,omitempty"`
}

// DefaultSortConfig orders by when jobs were added
func DefaultSortConfig() SortConfig {
	return SortConfig{
		Primary:            FieldAddedTime,
		PrimaryDirection:   Asc,
		Secondary:          FieldFilename,
		SecondaryDirection: Asc,
	}
}

// HasVolatileKey reports whether either key is volatile
func (c SortConfig) HasVolatileKey() bool {
	return IsVolatile(c.Primary) || IsVolatile(c.Secondary)
}

// ParseSortField validates a field name (case-insensitive)
func ParseSortField(s string) (SortField, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return FieldNone, nil
	}
	for _, f := range knownFields {
		if strings.EqualFold(string(f), s) {
			return f, nil
		}
	}
	return FieldNone, fmt.Errorf("unknown sort field: %q", s)
}

// ParseDirection accepts asc/desc, defaulting to asc for empty input
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Asc, nil
	case "desc", "descending":
		return Desc, nil
	default:
		return "", fmt.Errorf("unknown sort direction: %q", s)
	}
}

// ParseSortSpec parses "field" or "field:dir"
func ParseSortSpec(spec string) (SortField, Direction, error) {
	name, dir, _ := strings.Cut(spec, ":")
	f, err := ParseSortField(name)
	if err != nil {
		return FieldNone, "", err
	}
	d, err := ParseDirection(dir)
	if err != nil {
		return FieldNone, "", err
	}
	return f, d, nil
}
