package refill

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateThenGetStartsAtStart(t *testing.T) {
	store := NewSessionStore()

	created := store.Create("patient-001")
	if created.CurrentState != StateStart {
		t.Errorf("created state = %s, want START", created.CurrentState)
	}
	if created.SessionID == "" {
		t.Error("created session has no id")
	}

	got, err := store.Get(created.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentState != StateStart {
		t.Errorf("state = %s, want START", got.CurrentState)
	}
	if got.PatientID != "patient-001" {
		t.Errorf("patient id = %s, want patient-001", got.PatientID)
	}
}

func TestGetUnknownSession(t *testing.T) {
	store := NewSessionStore()
	if _, err := store.Get("sess-nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPutRoundTrip(t *testing.T) {
	store := NewSessionStore()
	ctx := store.Create("patient-001")

	ctx.CurrentState = StateConfirmDosage
	ctx.Medication = &MedicationSlot{Name: "metformin", RefillsRemaining: 2}
	if err := store.Put(ctx); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentState != StateConfirmDosage {
		t.Errorf("state = %s, want CONFIRM_DOSAGE", got.CurrentState)
	}
	if got.Medication == nil || got.Medication.Name != "metformin" {
		t.Errorf("medication = %+v, want metformin", got.Medication)
	}
}

func TestPutAfterDeleteFails(t *testing.T) {
	store := NewSessionStore()
	ctx := store.Create("patient-001")

	if err := store.Delete(ctx.SessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Put(ctx); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := store.Delete(ctx.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("double delete: expected ErrSessionNotFound, got %v", err)
	}
}

func TestStoreCopiesDoNotAlias(t *testing.T) {
	store := NewSessionStore()
	ctx := store.Create("patient-001")
	ctx.Medication = &MedicationSlot{Name: "metformin"}
	if err := store.Put(ctx); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Mutating the caller's copy must not touch the stored context.
	ctx.Medication.Name = "mangled"
	ctx.CurrentState = StateError

	got, _ := store.Get(ctx.SessionID)
	if got.Medication.Name != "metformin" {
		t.Errorf("stored medication mutated through caller copy: %s", got.Medication.Name)
	}
	if got.CurrentState != StateStart {
		t.Errorf("stored state mutated through caller copy: %s", got.CurrentState)
	}

	// And mutating one Get result must not affect the next.
	got.History = append(got.History, TurnRecord{UserText: "x"})
	again, _ := store.Get(ctx.SessionID)
	if len(again.History) != 0 {
		t.Errorf("history mutated through a read copy: %d records", len(again.History))
	}
}

func TestExpireOlderThan(t *testing.T) {
	store := NewSessionStore()

	stale := store.Create("patient-001")
	stale.LastUpdated = time.Now().UTC().Add(-2 * time.Hour)
	if err := store.Put(stale); err != nil {
		t.Fatalf("Put: %v", err)
	}
	fresh := store.Create("patient-002")

	expired := store.ExpireOlderThan(time.Hour)
	if len(expired) != 1 || expired[0].SessionID != stale.SessionID {
		t.Errorf("expired = %v, want [%s]", expired, stale.SessionID)
	}

	if _, err := store.Get(stale.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("stale session should be gone, got %v", err)
	}
	if _, err := store.Get(fresh.SessionID); err != nil {
		t.Errorf("fresh session should survive, got %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestListSummaries(t *testing.T) {
	store := NewSessionStore()
	a := store.Create("patient-001")
	b := store.Create("patient-002")

	b.CurrentState = StateConfirmOrder
	b.Medication = &MedicationSlot{Name: "atorvastatin"}
	if err := store.Put(b); err != nil {
		t.Fatalf("Put: %v", err)
	}

	summaries := store.List()
	if len(summaries) != 2 {
		t.Fatalf("List returned %d summaries, want 2", len(summaries))
	}
	byID := map[string]Summary{}
	for _, s := range summaries {
		byID[s.SessionID] = s
	}
	if byID[a.SessionID].State != StateStart {
		t.Errorf("session a state = %s, want START", byID[a.SessionID].State)
	}
	if byID[b.SessionID].Medication != "atorvastatin" {
		t.Errorf("session b medication = %s, want atorvastatin", byID[b.SessionID].Medication)
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	store := NewSessionStore()
	machine := NewMachine(store, nil)

	const sessions = 16
	ids := make([]string, sessions)
	for i := range ids {
		ids[i] = store.Create("patient-001").SessionID
	}

	var wg sync.WaitGroup
	errs := make(chan error, sessions)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			release, err := store.Acquire(id)
			if err != nil {
				errs <- err
				return
			}
			defer release()
			if _, err := machine.Transition(id, TriggerMedicationMentioned, SlotUpdates{}); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent turn failed: %v", err)
	}

	for _, id := range ids {
		got, err := store.Get(id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if got.CurrentState != StateIdentifyMedication {
			t.Errorf("session %s state = %s, want IDENTIFY_MEDICATION", id, got.CurrentState)
		}
	}
}

func TestAcquireSerializesSameSession(t *testing.T) {
	store := NewSessionStore()
	ctx := store.Create("patient-001")

	release, err := store.Acquire(ctx.SessionID)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		r2, err := store.Acquire(ctx.SessionID)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		r2()
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire succeeded while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never proceeded after release")
	}
}

func TestAcquireUnknownSession(t *testing.T) {
	store := NewSessionStore()
	if _, err := store.Acquire("sess-nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
