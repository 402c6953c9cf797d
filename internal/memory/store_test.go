package memory

import (
	"testing"
)

func TestRememberAndRecall(t *testing.T) {
	store := NewStore(t.TempDir())

	if _, err := store.Remember("the deploy script lives in scripts/deploy.sh", []string{"deploy"}); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if _, err := store.Remember("staging database is on port 5433", []string{"infra", "database"}); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	matched, err := store.Recall("deploy")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(matched) != 1 || matched[0].Tags[0] != "deploy" {
		t.Fatalf("recall deploy: %v", matched)
	}

	// Tag match, case-insensitive.
	matched, err = store.Recall("DATABASE")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("recall by tag: %v", matched)
	}

	all, err := store.Recall("")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("recall all: %d entries", len(all))
	}
}

func TestRecallEmptyStore(t *testing.T) {
	store := NewStore(t.TempDir())
	matched, err := store.Recall("anything")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(matched) != 0 {
		t.Fatalf("expected no matches, got %v", matched)
	}
}

func TestForget(t *testing.T) {
	store := NewStore(t.TempDir())
	entry, err := store.Remember("temporary note", nil)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	removed, err := store.Forget(entry.ID)
	if err != nil || !removed {
		t.Fatalf("Forget: removed=%v err=%v", removed, err)
	}
	removed, err = store.Forget(entry.ID)
	if err != nil || removed {
		t.Fatalf("second Forget: removed=%v err=%v", removed, err)
	}
}

func TestCategorize(t *testing.T) {
	cases := []struct {
		content string
		want    string
	}{
		{"the deploy target is the staging server", "infra"},
		{"found a bug in the retry function", "code"},
		{"use tabs instead of spaces here", "preference"},
		{"sam asked about the rollout", "people"},
		{"random fact with no keywords", "note"},
	}
	for _, tc := range cases {
		if got := Categorize(tc.content); got != tc.want {
			t.Errorf("Categorize(%q) = %q, want %q", tc.content, got, tc.want)
		}
	}
}

func TestWorkLog(t *testing.T) {
	store := NewStore(t.TempDir())

	for _, note := range []string{"started refactor", "tests passing", "shipped"} {
		if _, err := store.AppendWorkLog(note, "sess-1"); err != nil {
			t.Fatalf("AppendWorkLog: %v", err)
		}
	}

	status, err := store.WorkStatus(2)
	if err != nil {
		t.Fatalf("WorkStatus: %v", err)
	}
	if len(status) != 2 {
		t.Fatalf("got %d entries, want 2", len(status))
	}
	if status[0].Session != "sess-1" {
		t.Fatalf("session lost: %+v", status[0])
	}
}
