package log

import (
	"path/filepath"
	"testing"
	"time"

	"scenekeeper.ai/internal/events"
)

func TestEventLogger_RotatesHourlyAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir, nil)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	l.OnEvent(events.Event{Tick: 1, Kind: events.SceneUnloaded, Scene: "menu"})
	l.OnEvent(events.Event{Tick: 2, Kind: events.GameStateChanged, WorldState: "PAUSE", GuiState: "PAUSE"})
	clock = clock.Add(2 * time.Minute)
	l.OnEvent(events.Event{Tick: 9, Kind: events.SceneLoaded, Scene: "level_b", LoadID: "abc"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, "events"), "events")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 hourly files, got %v", files)
	}
	if filepath.Base(files[0]) != "events-2026-03-01-10.jsonl.zst" {
		t.Fatalf("file name: %s", files[0])
	}

	var got []EventEntry
	for _, f := range files {
		if err := ReadEvents(f, func(e EventEntry) error {
			got = append(got, e)
			return nil
		}); err != nil {
			t.Fatalf("ReadEvents: %v", err)
		}
	}
	if len(got) != 3 {
		t.Fatalf("entries: %d", len(got))
	}
	if got[0].Kind != events.SceneUnloaded || got[1].WorldState != "PAUSE" || got[2].LoadID != "abc" {
		t.Fatalf("entries: %+v", got)
	}
	if got[2].Time != "2026-03-01T11:01:00Z" {
		t.Fatalf("time: %s", got[2].Time)
	}
}

func TestCommandLogger_Write(t *testing.T) {
	dir := t.TempDir()
	l := NewCommandLogger(dir)
	if err := l.WriteCommand(CommandEntry{Tick: 4, Type: "LOAD_SCENE", Detail: "menu", Accepted: true}); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	files, err := ListFiles(filepath.Join(dir, "commands"), "commands")
	if err != nil || len(files) != 1 {
		t.Fatalf("files: %v %v", files, err)
	}
}
