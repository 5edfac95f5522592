package activity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestJournal_RecordRecentClear(t *testing.T) {
	ctx := context.Background()

	j, err := Open(filepath.Join(t.TempDir(), "nested", "activity.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer j.Close()

	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	j.now = func() time.Time {
		tick++

		return base.Add(time.Duration(tick) * time.Minute)
	}

	entries := []struct {
		level   Level
		action  string
		subject string
	}{
		{LevelInfo, "ingest", "https://news.example.com/a"},
		{LevelError, "ingest", "https://news.example.com/b"},
		{LevelWarn, "mail", "INBOX"},
	}

	for _, e := range entries {
		if err := j.Record(ctx, e.level, e.action, e.subject, "msg"); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 || got[0].Action != "mail" || got[1].Level != LevelError {
		t.Errorf("Recent(2) = %+v", got)
	}

	if !got[0].Time.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("Time = %v", got[0].Time)
	}

	all, err := j.Recent(ctx, 0)
	if err != nil || len(all) != 3 {
		t.Errorf("Recent(0) = %d entries, %v", len(all), err)
	}

	n, err := j.Clear(ctx)
	if err != nil || n != 3 {
		t.Errorf("Clear() = %d, %v", n, err)
	}

	if rest, _ := j.Recent(ctx, 0); len(rest) != 0 {
		t.Errorf("entries after clear = %d", len(rest))
	}
}

func TestJournal_Closed(t *testing.T) {
	j, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}

	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	if err := j.Record(context.Background(), LevelInfo, "x", "", ""); !errors.Is(err, ErrClosed) {
		t.Errorf("error = %v, want ErrClosed", err)
	}

	var nilJournal *Journal
	if _, err := nilJournal.Recent(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("nil journal error = %v", err)
	}
}
