package broker

import (
	"encoding/json"

	"github.com/rlch/lspmux/internal/capabilities"
)

// documentSelectorOptions is the shape shared by every
// TextDocumentRegistrationOptions-derived registerOptions payload: a
// documentSelector plus whatever method-specific fields. RegisterOptions
// arrives as a generic interface{} (the wire layer does not know the
// concrete registerOptions type ahead of the method name), so it is
// re-marshaled and decoded into the shape each method actually needs,
// the same two-step decode the pack's other LSP clients use for
// registerOptions.
type documentSelectorOptions struct {
	DocumentSelector []documentFilterWire `json:"documentSelector"`
}

type documentFilterWire struct {
	Language string `json:"language"`
	Scheme   string `json:"scheme"`
	Pattern  string `json:"pattern"`
}

type watchedFilesOptions struct {
	Watchers []struct {
		GlobPattern string `json:"globPattern"`
		Kind        *int   `json:"kind"`
	} `json:"watchers"`
}

func selectorFromRegisterOptions(method string, raw any) capabilities.DocumentSelector {
	if raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var opts documentSelectorOptions
	if err := json.Unmarshal(b, &opts); err != nil || opts.DocumentSelector == nil {
		return nil
	}
	sel := make(capabilities.DocumentSelector, 0, len(opts.DocumentSelector))
	for _, f := range opts.DocumentSelector {
		sel = append(sel, capabilities.DocumentFilter{
			Language: f.Language,
			Scheme:   f.Scheme,
			Pattern:  capabilities.Pattern{Glob: f.Pattern},
		})
	}
	return sel
}

func watchersFromRegisterOptions(method string, raw any) []capabilities.FileSystemWatcher {
	if method != capabilities.MethodDidChangeWatched || raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var opts watchedFilesOptions
	if err := json.Unmarshal(b, &opts); err != nil {
		return nil
	}
	out := make([]capabilities.FileSystemWatcher, 0, len(opts.Watchers))
	for _, w := range opts.Watchers {
		fw := capabilities.FileSystemWatcher{GlobPattern: capabilities.Pattern{Glob: w.GlobPattern}}
		if w.Kind != nil {
			fw.Kind = capabilities.FileChangeKind(*w.Kind)
		}
		out = append(out, fw)
	}
	return out
}
