package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already migrated; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if result.Dirty {
		t.Error("schema should not be dirty")
	}
}

func TestValueRoundTrip(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.GetValue(KeyAccessToken); err != nil || ok {
		t.Fatalf("GetValue on empty store = ok %v, err %v", ok, err)
	}
	if err := db.SetValue(KeyAccessToken, "t1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetValue(KeyAccessToken, "t2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.GetValue(KeyAccessToken)
	if err != nil || !ok || v != "t2" {
		t.Errorf("GetValue = %q, %v, %v; want t2, true, nil", v, ok, err)
	}

	if err := db.DeleteValue(KeyAccessToken); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteValue(KeyAccessToken); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
	if _, ok, _ := db.GetValue(KeyAccessToken); ok {
		t.Error("value still present after delete")
	}
}

func TestJSONValue(t *testing.T) {
	db := testDB(t)

	type marker struct {
		UserID    int64  `json:"userId"`
		StartedAt string `json:"startedAt"`
	}
	if err := db.SetJSON(KeyAttendanceActive, marker{UserID: 42, StartedAt: "2026-10-15T08:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	var got marker
	ok, err := db.GetJSON(KeyAttendanceActive, &got)
	if err != nil || !ok {
		t.Fatalf("GetJSON = %v, %v", ok, err)
	}
	if got.UserID != 42 || got.StartedAt != "2026-10-15T08:00:00Z" {
		t.Errorf("marker = %+v", got)
	}

	if err := db.SetValue(KeyMeUser, "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetJSON(KeyMeUser, &got); err == nil {
		t.Error("GetJSON should fail on malformed JSON")
	}
}

func TestEnqueueAndDrainInOrder(t *testing.T) {
	db := testDB(t)

	for i := 1; i <= 3; i++ {
		p := &PendingLocation{UserID: 42, Latitude: float64(i), Longitude: -float64(i), RecordedAt: "2026-10-15T08:00:00Z"}
		evicted, err := db.EnqueueLocation(p, 10)
		if err != nil {
			t.Fatal(err)
		}
		if evicted != 0 {
			t.Errorf("evicted = %d, want 0", evicted)
		}
		if p.ID == 0 {
			t.Error("ID not assigned")
		}
	}

	due, err := db.DuePendingLocations(time.Now(), false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 3 {
		t.Fatalf("got %d due, want 3", len(due))
	}
	for i, p := range due {
		if p.Latitude != float64(i+1) {
			t.Errorf("due[%d].Latitude = %v, want %d", i, p.Latitude, i+1)
		}
	}

	if err := db.DeletePendingLocation(due[0].ID); err != nil {
		t.Fatal(err)
	}
	n, err := db.PendingLocationCount()
	if err != nil || n != 2 {
		t.Errorf("PendingLocationCount = %d, %v; want 2", n, err)
	}
}

func TestEnqueueEvictsOldestAtCapacity(t *testing.T) {
	db := testDB(t)

	for i := 1; i <= 3; i++ {
		if _, err := db.EnqueueLocation(&PendingLocation{UserID: 1, Latitude: float64(i), RecordedAt: "x"}, 3); err != nil {
			t.Fatal(err)
		}
	}
	evicted, err := db.EnqueueLocation(&PendingLocation{UserID: 1, Latitude: 4, RecordedAt: "x"}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}

	due, err := db.DuePendingLocations(time.Now(), true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 3 {
		t.Fatalf("got %d rows, want 3", len(due))
	}
	if due[0].Latitude != 2 || due[2].Latitude != 4 {
		t.Errorf("queue = %v..%v, want oldest (1) evicted", due[0].Latitude, due[2].Latitude)
	}
}

func TestMarkPendingFailedDefersUntilDue(t *testing.T) {
	db := testDB(t)

	p := &PendingLocation{UserID: 7, Latitude: 1, Longitude: 2, RecordedAt: "x"}
	if _, err := db.EnqueueLocation(p, 0); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := db.MarkPendingFailed(p.ID, now.Add(time.Minute), "503"); err != nil {
		t.Fatal(err)
	}

	due, err := db.DuePendingLocations(now, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("got %d due before retry time, want 0", len(due))
	}

	forced, err := db.DuePendingLocations(now, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(forced) != 1 {
		t.Fatalf("forced = %d rows, want 1", len(forced))
	}
	if forced[0].Attempts != 1 || forced[0].LastError != "503" {
		t.Errorf("row = %+v, want attempts=1 last_error=503", forced[0])
	}

	later, err := db.DuePendingLocations(now.Add(2*time.Minute), false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(later) != 1 {
		t.Errorf("got %d due after retry time, want 1", len(later))
	}
}
