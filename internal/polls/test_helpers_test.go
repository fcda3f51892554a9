package polls

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polls_test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Poll{}, &Option{}, &VoteRecord{}, &UpvoteRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	if clock == nil {
		clock = func() time.Time { return time.Unix(1700000000, 0) }
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

// steppingClock returns a clock that advances one second per call, so records
// created in sequence carry strictly increasing timestamps.
func steppingClock(start int64) func() time.Time {
	current := start
	return func() time.Time {
		value := current
		current++
		return time.Unix(value, 0)
	}
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustPollID(t *testing.T, value string) PollID {
	t.Helper()
	id, err := NewPollID(value)
	if err != nil {
		t.Fatalf("unexpected poll id error: %v", err)
	}
	return id
}

func mustOptionID(t *testing.T, value string) OptionID {
	t.Helper()
	id, err := NewOptionID(value)
	if err != nil {
		t.Fatalf("unexpected option id error: %v", err)
	}
	return id
}

func mustCreatePoll(t *testing.T, service *Service, question string, options []string) PollID {
	t.Helper()
	pollID, err := service.Create(context.Background(), question, options)
	if err != nil {
		t.Fatalf("failed to create poll: %v", err)
	}
	return pollID
}

func mustGetPoll(t *testing.T, service *Service, pollID PollID) PollView {
	t.Helper()
	view, found, err := service.Get(context.Background(), pollID)
	if err != nil {
		t.Fatalf("failed to load poll: %v", err)
	}
	if !found {
		t.Fatalf("expected poll %s to exist", pollID)
	}
	return view
}
