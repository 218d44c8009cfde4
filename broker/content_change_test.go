package broker

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

func TestApplyContentChangesFullReplace(t *testing.T) {
	got := applyContentChanges("old text", []protocol.TextDocumentContentChangeEvent{
		{Text: "new text"},
	})
	require.Equal(t, "new text", got)
}

func TestApplyContentChangesIncrementalRange(t *testing.T) {
	text := "hello world\nsecond line\n"
	got := applyContentChanges(text, []protocol.TextDocumentContentChangeEvent{
		{
			Range: &protocol.Range{
				Start: protocol.Position{Line: 0, Character: 6},
				End:   protocol.Position{Line: 0, Character: 11},
			},
			Text: "there",
		},
	})
	want := "hello there\nsecond line\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("applyContentChanges mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyContentChangesMultilineRange(t *testing.T) {
	text := "line one\nline two\nline three\n"
	got := applyContentChanges(text, []protocol.TextDocumentContentChangeEvent{
		{
			Range: &protocol.Range{
				Start: protocol.Position{Line: 0, Character: 5},
				End:   protocol.Position{Line: 2, Character: 4},
			},
			Text: "ONE\nTWO\nTHREE",
		},
	})
	want := "line ONE\nTWO\nTHREE three\n"
	require.Equal(t, want, got)
}

// TestApplyContentChangesSequential verifies that multiple changes in one
// notification are applied in order against the state left by the
// previous one, not all against the original text.
func TestApplyContentChangesSequential(t *testing.T) {
	text := "abc\n"
	got := applyContentChanges(text, []protocol.TextDocumentContentChangeEvent{
		{
			Range: &protocol.Range{
				Start: protocol.Position{Line: 0, Character: 0},
				End:   protocol.Position{Line: 0, Character: 0},
			},
			Text: "X",
		},
		{
			Range: &protocol.Range{
				Start: protocol.Position{Line: 0, Character: 0},
				End:   protocol.Position{Line: 0, Character: 1},
			},
			Text: "Y",
		},
	})
	require.Equal(t, "Yabc\n", got)
}

func TestApplyContentChangesIdenticalInputYieldsSameText(t *testing.T) {
	text := "unchanged\n"
	got := applyContentChanges(text, nil)
	require.Equal(t, text, got)
}

// TestUTF16PrefixSurrogatePair verifies positions are counted in UTF-16
// code units, so an astral-plane rune (a surrogate pair) counts as 2, not
// 1 rune.
func TestUTF16PrefixSurrogatePair(t *testing.T) {
	s := "a\U0001F600b" // a, grinning-face emoji (2 UTF-16 units), b
	require.Equal(t, "a", utf16Prefix(s, 1))
	require.Equal(t, "a\U0001F600", utf16Prefix(s, 3))
	require.Equal(t, "b", utf16Suffix(s, 3))
}
