package queuesync

import (
	"slices"

	"github.com/psantana5/ffqueue/pkg/models"
)

// Change classifies what a patch touched
type Change uint8

const (
	// ChangeCosmetic fields are neither sorted nor filtered on
	ChangeCosmetic Change = 1 << iota
	// ChangeVolatile covers progress and elapsed time
	ChangeVolatile
	// ChangeStructural covers everything ordering or filtering depends on
	ChangeStructural
)

// Has reports whether c includes other
func (c Change) Has(other Change) bool { return c&other != 0 }

func patchVal[T comparable](dst *T, src T) bool {
	if *dst == src {
		return false
	}
	*dst = src
	return true
}

// patchPtr keeps the existing pointer when both sides hold equal values
func patchPtr[T comparable](dst **T, src *T) bool {
	switch {
	case *dst == nil && src == nil:
		return false
	case *dst != nil && src != nil && **dst == *src:
		return false
	}
	*dst = src
	return true
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func mediaInfoEqual(a, b *models.MediaInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return ptrEqual(a.DurationSeconds, b.DurationSeconds) &&
		ptrEqual(a.Width, b.Width) &&
		ptrEqual(a.Height, b.Height) &&
		ptrEqual(a.FrameRate, b.FrameRate) &&
		ptrEqual(a.SizeMB, b.SizeMB) &&
		a.VideoCodec == b.VideoCodec &&
		a.AudioCodec == b.AudioCodec
}

// PatchJob writes src into dst field by field. Nested values that are equal
// keep their existing reference, so observers keyed on identity see no
// change for cosmetically identical updates.
func PatchJob(dst, src *models.Job) Change {
	var c Change
	mark := func(changed bool, kind Change) {
		if changed {
			c |= kind
		}
	}

	mark(patchVal(&dst.Filename, src.Filename), ChangeStructural)
	mark(patchVal(&dst.Type, src.Type), ChangeStructural)
	mark(patchVal(&dst.Source, src.Source), ChangeStructural)
	mark(patchPtr(&dst.QueueOrder, src.QueueOrder), ChangeStructural)
	mark(patchVal(&dst.OriginalSizeMB, src.OriginalSizeMB), ChangeStructural)
	mark(patchPtr(&dst.OutputSizeMB, src.OutputSizeMB), ChangeStructural)
	mark(patchVal(&dst.PresetID, src.PresetID), ChangeStructural)
	mark(patchVal(&dst.Status, src.Status), ChangeStructural)
	mark(patchPtr(&dst.StartTime, src.StartTime), ChangeStructural)
	mark(patchPtr(&dst.EndTime, src.EndTime), ChangeStructural)
	mark(patchPtr(&dst.ProcessingStartedMs, src.ProcessingStartedMs), ChangeStructural)
	mark(patchPtr(&dst.CreatedTimeMs, src.CreatedTimeMs), ChangeStructural)
	mark(patchPtr(&dst.ModifiedTimeMs, src.ModifiedTimeMs), ChangeStructural)
	mark(patchVal(&dst.InputPath, src.InputPath), ChangeStructural)
	mark(patchVal(&dst.BatchID, src.BatchID), ChangeStructural)
	if !mediaInfoEqual(dst.MediaInfo, src.MediaInfo) {
		dst.MediaInfo = src.MediaInfo
		c |= ChangeStructural
	}

	mark(patchVal(&dst.Progress, src.Progress), ChangeVolatile)
	mark(patchPtr(&dst.ElapsedMs, src.ElapsedMs), ChangeVolatile)

	mark(patchVal(&dst.OriginalCodec, src.OriginalCodec), ChangeCosmetic)
	mark(patchVal(&dst.WaitRequestPending, src.WaitRequestPending), ChangeCosmetic)
	mark(patchVal(&dst.OutputPath, src.OutputPath), ChangeCosmetic)
	mark(patchVal(&dst.SkipReason, src.SkipReason), ChangeCosmetic)
	mark(patchVal(&dst.FailureReason, src.FailureReason), ChangeCosmetic)
	if !slices.Equal(dst.Logs, src.Logs) {
		dst.Logs = src.Logs
		c |= ChangeCosmetic
	}
	return c
}

// ApplyPatch writes the high-frequency fields of a delta patch
func ApplyPatch(dst *models.Job, p models.JobPatch) Change {
	var c Change
	if p.Status != nil && patchVal(&dst.Status, *p.Status) {
		c |= ChangeStructural
	}
	if p.Progress != nil && patchVal(&dst.Progress, *p.Progress) {
		c |= ChangeVolatile
	}
	if p.ElapsedMs != nil && patchPtr(&dst.ElapsedMs, p.ElapsedMs) {
		c |= ChangeVolatile
	}
	return c
}
