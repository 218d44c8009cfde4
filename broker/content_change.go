package broker

import (
	"strings"

	"go.lsp.dev/protocol"
)

// applyContentChanges folds a client's textDocument/didChange payload onto
// text, applying each change in the order the client sent them (LSP
// requires incremental ranges to be interpreted against the document state
// left by the preceding change in the same notification). A change with a
// nil Range is a full-document replace.
func applyContentChanges(text string, changes []protocol.TextDocumentContentChangeEvent) string {
	for _, c := range changes {
		if c.Range == nil {
			text = c.Text
			continue
		}
		text = applyRange(text, *c.Range, c.Text)
	}
	return text
}

func applyRange(text string, r protocol.Range, replacement string) string {
	lines := splitKeepEnds(text)
	before := prefixUpTo(lines, r.Start.Line, r.Start.Character)
	after := suffixFrom(lines, r.End.Line, r.End.Character)
	return before + replacement + after
}

func splitKeepEnds(s string) []string {
	if s == "" {
		return []string{""}
	}
	return strings.SplitAfter(s, "\n")
}

func prefixUpTo(lines []string, line, char uint32) string {
	var b strings.Builder
	for i := uint32(0); i < line && int(i) < len(lines); i++ {
		b.WriteString(lines[i])
	}
	if int(line) < len(lines) {
		b.WriteString(utf16Prefix(lines[line], char))
	}
	return b.String()
}

func suffixFrom(lines []string, line, char uint32) string {
	var b strings.Builder
	if int(line) < len(lines) {
		b.WriteString(utf16Suffix(lines[line], char))
	}
	for i := line + 1; int(i) < len(lines); i++ {
		b.WriteString(lines[i])
	}
	return b.String()
}

// utf16Prefix/utf16Suffix split s at the nth UTF-16 code unit, matching the
// units LSP positions are expressed in (surrogate pairs for astral-plane
// runes count as 2).
func utf16Prefix(s string, n uint32) string {
	i, units := 0, uint32(0)
	for _, r := range s {
		if units >= n {
			break
		}
		if r > 0xFFFF {
			units += 2
		} else {
			units++
		}
		i += len(string(r))
	}
	return s[:i]
}

func utf16Suffix(s string, n uint32) string {
	return s[len(utf16Prefix(s, n)):]
}
