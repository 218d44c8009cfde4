package capabilities

// TransformForClient computes the text-document-sync options advertised
// downstream to a freshly-attached Binding's client, per spec.md §4.2
// "Transformed view to clients": the broker always performs incremental
// sync against the server itself regardless of what any client sends it,
// so clients are always told openClose+incremental, willSave is always
// forced off (the broker owns save forwarding decisions per-client), and
// save/willSaveWaitUntil are stripped entirely when save notifications are
// suppressed.
func TransformForClient(suppressSave bool) TextDocumentSyncOptions {
	opts := TextDocumentSyncOptions{
		OpenClose: true,
		Change:    SyncIncremental,
		WillSave:  false,
	}
	if !suppressSave {
		opts.Save = &SaveOptions{IncludeText: false}
	}
	return opts
}
