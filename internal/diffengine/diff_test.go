package diffengine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// apply mimics how the broker would fold Changes onto old text: changes are
// already ordered in reverse text order, so applying them top-down is safe.
func apply(t *testing.T, old string, changes []Change) string {
	t.Helper()
	lines := splitLinesForTest(old)
	for _, c := range changes {
		before := joinPrefix(lines, c.StartLine, c.StartChar)
		after := joinSuffix(lines, c.EndLine, c.EndChar)
		old = before + c.Text + after
		lines = splitLinesForTest(old)
	}
	return old
}

func splitLinesForTest(s string) []string {
	if s == "" {
		return []string{""}
	}
	lines := strings.SplitAfter(s, "\n")
	return lines
}

func joinPrefix(lines []string, line, char uint32) string {
	var b strings.Builder
	for i := uint32(0); i < line && int(i) < len(lines); i++ {
		b.WriteString(lines[i])
	}
	if int(line) < len(lines) {
		row := []rune(lines[line])
		// char is a UTF-16 offset; for ASCII test fixtures rune count and
		// UTF-16 length coincide, which is all these table tests need.
		n := int(char)
		if n > len(row) {
			n = len(row)
		}
		b.WriteString(string(row[:n]))
	}
	return b.String()
}

func joinSuffix(lines []string, line, char uint32) string {
	var b strings.Builder
	if int(line) < len(lines) {
		row := []rune(lines[line])
		n := int(char)
		if n > len(row) {
			n = len(row)
		}
		b.WriteString(string(row[n:]))
	}
	for i := line + 1; int(i) < len(lines); i++ {
		b.WriteString(lines[i])
	}
	return b.String()
}

func TestDiffRoundTrip(t *testing.T) {
	cases := []struct{ old, new string }{
		{"", ""},
		{"hello", "hello"},
		{"hello world", "hello there world"},
		{"line one\nline two\nline three\n", "line one\nline TWO\nline three\n"},
		{"abc", ""},
		{"", "abc"},
		{"a\nb\nc", "a\nb\nc\nd"},
		{"multi\nline\ndoc\n", "single line doc"},
	}

	for _, tc := range cases {
		changes, err := Diff(context.Background(), tc.old, tc.new, 50*time.Millisecond)
		require.NoError(t, err)
		got := apply(t, tc.old, changes)
		require.Equal(t, tc.new, got, "old=%q new=%q", tc.old, tc.new)
	}
}

func TestDiffIdenticalInputYieldsNoChanges(t *testing.T) {
	changes, err := Diff(context.Background(), "same text\n", "same text\n", 50*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestDiffTimeoutFallsBackToFullReplace(t *testing.T) {
	old := strings.Repeat("x", 1<<20)
	new := strings.Repeat("y", 1<<20)

	_, err := Diff(context.Background(), old, new, 1*time.Nanosecond)
	require.Error(t, err)
	require.True(t, IsTimeout(err))

	changes := FullReplace(old, new)
	require.Len(t, changes, 1)
	got := apply(t, old, changes)
	require.Equal(t, new, got)
}

func TestFullReplaceRoundTrip(t *testing.T) {
	old := "abc\ndef\n"
	new := "completely different\ncontent\n"
	changes := FullReplace(old, new)
	got := apply(t, old, changes)
	require.Equal(t, new, got)
}
