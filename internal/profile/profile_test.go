package profile

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DmitrySonora/chimera-ltm/internal/cache"
	"github.com/DmitrySonora/chimera-ltm/internal/memory"
)

type fakeStorage struct {
	profiles map[string]*memory.Profile
	getErr   error
	creates  int
	updates  int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{profiles: make(map[string]*memory.Profile)}
}

func (f *fakeStorage) GetProfile(_ context.Context, userID string) (*memory.Profile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStorage) CreateProfile(_ context.Context, p *memory.Profile) error {
	f.creates++
	if _, exists := f.profiles[p.UserID]; exists {
		return nil // mirrors ON CONFLICT DO NOTHING
	}
	cp := *p
	f.profiles[p.UserID] = &cp
	return nil
}

func (f *fakeStorage) UpdateProfile(_ context.Context, p *memory.Profile) error {
	f.updates++
	cp := *p
	f.profiles[p.UserID] = &cp
	return nil
}

func newTestStore(st *fakeStorage) *Store {
	keys := cache.Keys{Prefix: "test"}
	return New(st, cache.Disabled(zap.NewNop()), keys, time.Hour, zap.NewNop())
}

func TestGetOrCreateFirstContact(t *testing.T) {
	st := newFakeStorage()
	s := newTestStore(st)

	p, err := s.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if p.UserID != "u1" || p.TotalMessages != 0 {
		t.Errorf("unexpected fresh profile: %+v", p)
	}
	if p.Percentile90 != memory.DefaultPercentile90 {
		t.Errorf("percentile = %.2f, want default", p.Percentile90)
	}
	if st.creates != 1 {
		t.Errorf("creates = %d, want 1", st.creates)
	}
}

func TestGetOrCreateReturnsExisting(t *testing.T) {
	st := newFakeStorage()
	existing := memory.NewProfile("u1")
	existing.TotalMessages = 42
	st.profiles["u1"] = existing

	s := newTestStore(st)
	p, err := s.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if p.TotalMessages != 42 {
		t.Errorf("total messages = %d, want 42", p.TotalMessages)
	}
	if st.creates != 0 {
		t.Errorf("creates = %d, want 0", st.creates)
	}
}

func TestGetOrCreateConvergesOnStoredRow(t *testing.T) {
	// When the insert races and loses, the re-read must win.
	st := newFakeStorage()
	winner := memory.NewProfile("u1")
	winner.TotalMessages = 7
	st.profiles["u1"] = winner
	st.getErr = errors.New("transient")

	s := newTestStore(st)
	if _, err := s.GetOrCreate(context.Background(), "u1"); err == nil {
		t.Fatal("storage outage not surfaced")
	}

	st.getErr = nil
	p, err := s.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrCreate after recovery: %v", err)
	}
	if p.TotalMessages != 7 {
		t.Errorf("total messages = %d, want stored row's 7", p.TotalMessages)
	}
}

func TestUpdatePersists(t *testing.T) {
	st := newFakeStorage()
	s := newTestStore(st)

	p, err := s.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	p.TotalMessages = 5
	p.RecordTags([]string{"work"})
	if err := s.Update(context.Background(), p); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if st.updates != 1 {
		t.Errorf("updates = %d, want 1", st.updates)
	}

	reread, err := s.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if reread.TotalMessages != 5 || reread.TagFrequencies["work"] != 1 {
		t.Errorf("persisted profile lost state: %+v", reread)
	}
}
