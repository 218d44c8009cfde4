// Package diffengine computes minimal LSP content-change edits between two
// document snapshots, abortable on a time budget so a whole-file paste can
// never stall the broker (spec.md §4.1, component C1).
package diffengine

import (
	"context"
	"sort"
	"time"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/span"
)

// DefaultBudget is the abort deadline before the caller falls back to a
// single full-text replace.
const DefaultBudget = 20 * time.Millisecond

// bufferURI is a synthetic span.URI; diffengine never touches the
// filesystem, it only uses gotextdiff's Myers-diff machinery over in-memory
// strings.
const bufferURI = span.URI("lspmux://diffengine/buffer")

// Change is one LSP-shaped content-replacement edit, expressed as a
// half-open [StartLine:StartChar, EndLine:EndChar) range over the OLD text
// plus the replacement text. RangeLength is the UTF-16 code unit count LSP
// expects for the range being replaced.
type Change struct {
	StartLine, StartChar uint32
	EndLine, EndChar     uint32
	RangeLength          uint32
	Text                 string
}

// FullReplace returns the single Change that replaces all of old with new.
// Callers use this as the fallback when Diff fails or aborts.
func FullReplace(old, new string) []Change {
	if old == new {
		return nil
	}
	lines := splitLines(old)
	lastLine := uint32(0)
	lastChar := uint32(0)
	if n := len(lines); n > 0 {
		lastLine = uint32(n - 1)
		lastChar = uint32(utf16Len(lines[n-1]))
	}
	return []Change{{
		StartLine: 0, StartChar: 0,
		EndLine: lastLine, EndChar: lastChar,
		RangeLength: uint32(utf16Len(old)),
		Text:        new,
	}}
}

// Diff computes the minimal ordered sequence of content changes turning old
// into new, applied in reverse text order so earlier edits don't invalidate
// the offsets of later ones (spec.md §4.1). It aborts if the computation
// does not finish within budget; the caller should fall back to
// FullReplace in that case. Diff never blocks past budget even though the
// underlying Myers diff itself cannot be interrupted mid-step: the
// computation runs in a subordinate goroutine and Diff simply stops
// waiting on it, rather than checking a wall clock after the fact.
func Diff(ctx context.Context, old, new string, budget time.Duration) ([]Change, error) {
	if old == new {
		return nil, nil
	}
	if budget <= 0 {
		budget = DefaultBudget
	}

	type result struct {
		changes []Change
		err     error
	}
	done := make(chan result, 1)
	go func() {
		changes, err := compute(old, new)
		done <- result{changes, err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.changes, r.err
	case <-timer.C:
		return nil, errTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var errTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "diffengine: diff exceeded time budget" }

// IsTimeout reports whether err is the budget-exceeded error Diff returns.
func IsTimeout(err error) bool {
	_, ok := err.(*timeoutError)
	return ok
}

func compute(old, new string) ([]Change, error) {
	edits := gotextdiff.ComputeEdits(bufferURI, old, new)
	if len(edits) == 0 {
		return nil, nil
	}

	lineStarts := lineStartOffsets(old)

	changes := make([]Change, 0, len(edits))
	for _, e := range edits {
		start := e.Span.Start().Offset()
		end := e.Span.End().Offset()
		sl, sc := offsetToPosition(old, lineStarts, start)
		el, ec := offsetToPosition(old, lineStarts, end)
		changes = append(changes, Change{
			StartLine: sl, StartChar: sc,
			EndLine: el, EndChar: ec,
			RangeLength: uint32(utf16Len(old[start:end])),
			Text:        e.NewText,
		})
	}

	changes = coalesceAdjacent(changes)

	// Reverse so that applying top-down on the old text yields new text:
	// edits later in the document must be applied first so that earlier
	// edits' offsets remain valid.
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].StartLine != changes[j].StartLine {
			return changes[i].StartLine > changes[j].StartLine
		}
		return changes[i].StartChar > changes[j].StartChar
	})

	return changes, nil
}

// coalesceAdjacent merges edits that gotextdiff emitted as separate ops but
// that land at the same offset (e.g. a delete immediately followed by an
// insert at the same point), so the broker never sends two changes for one
// logical edit.
func coalesceAdjacent(changes []Change) []Change {
	if len(changes) < 2 {
		return changes
	}
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].StartLine != changes[j].StartLine {
			return changes[i].StartLine < changes[j].StartLine
		}
		return changes[i].StartChar < changes[j].StartChar
	})

	out := changes[:1]
	for _, c := range changes[1:] {
		last := &out[len(out)-1]
		if last.EndLine == c.StartLine && last.EndChar == c.StartChar {
			last.EndLine, last.EndChar = c.EndLine, c.EndChar
			last.RangeLength += c.RangeLength
			last.Text += c.Text
			continue
		}
		out = append(out, c)
	}
	return out
}

// lineStartOffsets builds the line-length table used to convert absolute
// byte offsets into (line, character) positions, consistent between this
// conversion and splitLines so trailing-newline handling never diverges
// (spec.md §4.1 edge case).
func lineStartOffsets(text string) []int {
	starts := []int{0}
	for i, r := range text {
		if r == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func offsetToPosition(text string, lineStarts []int, offset int) (line, char uint32) {
	i := sort.Search(len(lineStarts), func(i int) bool { return lineStarts[i] > offset }) - 1
	if i < 0 {
		i = 0
	}
	lineStart := lineStarts[i]
	return uint32(i), uint32(utf16Len(text[lineStart:offset]))
}

// splitLines splits text the same way lineStartOffsets does, so that
// FullReplace's computed end position is consistent with Diff's.
func splitLines(text string) []string {
	var lines []string
	start := 0
	for i, r := range text {
		if r == '\n' {
			lines = append(lines, text[start:i+1])
			start = i + 1
		}
	}
	lines = append(lines, text[start:])
	return lines
}

// utf16Len returns the length of s in UTF-16 code units, as LSP positions
// require (surrogate pairs for astral-plane runes count as 2).
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}
