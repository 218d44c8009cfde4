package doctracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerOpenChangeClose(t *testing.T) {
	tr := New()

	var opened []TrackedDocument
	tr.OnDidOpen.On(func(d TrackedDocument) { opened = append(opened, d) })

	var changed []ContentChange
	tr.OnDidChangeContent.On(func(c ContentChange) { changed = append(changed, c) })

	var closed []string
	tr.OnDidClose.On(func(uri string) { closed = append(closed, uri) })

	tr.Open("file:///a.json", "json", "{}", 1)
	require.Len(t, opened, 1)
	require.Equal(t, TrackedDocument{URI: "file:///a.json", LanguageID: "json", Text: "{}", Version: 1}, opened[0])

	got, ok := tr.Get("file:///a.json")
	require.True(t, ok)
	require.Equal(t, int32(1), got.Version)

	tr.Change("file:///a.json", `{"k":1}`, 2)
	require.Len(t, changed, 1)
	require.Equal(t, ContentChange{URI: "file:///a.json", Text: `{"k":1}`}, changed[0])

	got, ok = tr.Get("file:///a.json")
	require.True(t, ok)
	require.Equal(t, int32(2), got.Version)
	require.Equal(t, `{"k":1}`, got.Text)

	tr.Close("file:///a.json")
	require.Equal(t, []string{"file:///a.json"}, closed)
	_, ok = tr.Get("file:///a.json")
	require.False(t, ok)
}

func TestTrackerChangeOnUnknownURIIsNoop(t *testing.T) {
	tr := New()

	var changed []ContentChange
	tr.OnDidChangeContent.On(func(c ContentChange) { changed = append(changed, c) })

	tr.Change("file:///missing.json", "new text", 5)
	require.Empty(t, changed)
}

func TestTrackerCloseUnknownURIDoesNotFire(t *testing.T) {
	tr := New()

	var closed []string
	tr.OnDidClose.On(func(uri string) { closed = append(closed, uri) })

	tr.Close("file:///never-opened.json")
	require.Empty(t, closed)
}

func TestTrackerAllSnapshotsCurrentDocuments(t *testing.T) {
	tr := New()

	tr.Open("file:///a.json", "json", "a", 1)
	tr.Open("file:///b.json", "json", "b", 1)
	require.Len(t, tr.All(), 2)

	tr.Close("file:///a.json")
	all := tr.All()
	require.Len(t, all, 1)
	require.Equal(t, "file:///b.json", all[0].URI)
}

func TestTrackerWillSaveAndSave(t *testing.T) {
	tr := New()

	var willSaved []string
	tr.OnWillSave.On(func(uri string) { willSaved = append(willSaved, uri) })

	var saved []SaveEvent
	tr.OnDidSave.On(func(ev SaveEvent) { saved = append(saved, ev) })

	tr.WillSave("file:///a.json")
	require.Equal(t, []string{"file:///a.json"}, willSaved)

	tr.Save("file:///a.json", "saved text")
	require.Equal(t, []SaveEvent{{URI: "file:///a.json", Text: "saved text"}}, saved)
}
