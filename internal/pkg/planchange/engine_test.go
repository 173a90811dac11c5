package planchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/internal/pkg/entitlements"
)

// fakeFormStore keeps forms in a slice and mimics the repository ordering:
// ActiveByUser and LockedByUser return most-recent-first.
type fakeFormStore struct {
	forms  []*models.Form
	counts map[uint]int64
}

func newFakeFormStore(userID uint, activeCount, lockedCount int) *fakeFormStore {
	s := &fakeFormStore{counts: map[uint]int64{}}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id := uint(0)
	for i := 0; i < activeCount; i++ {
		id++
		s.forms = append(s.forms, &models.Form{
			ID: id, UUID: fmt.Sprintf("uuid-%d", id), UserID: userID,
			Name: fmt.Sprintf("form %d", id), FormType: models.FormTypeCustom,
			IsActive: true, CreatedAt: base.Add(time.Duration(id) * time.Hour),
		})
	}
	for i := 0; i < lockedCount; i++ {
		id++
		lockedAt := base
		s.forms = append(s.forms, &models.Form{
			ID: id, UUID: fmt.Sprintf("uuid-%d", id), UserID: userID,
			Name: fmt.Sprintf("form %d", id), FormType: models.FormTypeCustom,
			IsActive: true, LockedAt: &lockedAt, LockReason: "old downgrade",
			CreatedAt: base.Add(time.Duration(id) * time.Hour),
		})
	}
	return s
}

func (s *fakeFormStore) byUser(userID uint, locked bool) []models.Form {
	var out []models.Form
	for i := len(s.forms) - 1; i >= 0; i-- {
		f := s.forms[i]
		if f.UserID == userID && f.IsActive && f.IsLocked() == locked {
			out = append(out, *f)
		}
	}
	return out
}

func (s *fakeFormStore) ActiveByUser(userID uint) ([]models.Form, error) {
	return s.byUser(userID, false), nil
}

func (s *fakeFormStore) LockedByUser(userID uint) ([]models.Form, error) {
	return s.byUser(userID, true), nil
}

func (s *fakeFormStore) LockByIDs(ids []uint, reason string, at time.Time) (int64, error) {
	var n int64
	for _, f := range s.forms {
		for _, id := range ids {
			if f.ID == id && !f.IsLocked() {
				when := at
				f.LockedAt = &when
				f.LockReason = reason
				n++
			}
		}
	}
	return n, nil
}

func (s *fakeFormStore) UnlockByIDs(ids []uint) (int64, error) {
	var n int64
	for _, f := range s.forms {
		for _, id := range ids {
			if f.ID == id && f.IsLocked() {
				f.LockedAt = nil
				f.LockReason = ""
				n++
			}
		}
	}
	return n, nil
}

func (s *fakeFormStore) SubmissionCounts(formIDs []uint) (map[uint]int64, error) {
	out := map[uint]int64{}
	for _, id := range formIDs {
		out[id] = s.counts[id]
	}
	return out, nil
}

func (s *fakeFormStore) lockedIDs() []uint {
	var out []uint
	for _, f := range s.forms {
		if f.IsLocked() {
			out = append(out, f.ID)
		}
	}
	return out
}

func TestDowngradeLocksOldestExcess(t *testing.T) {
	store := newFakeFormStore(1, 4, 0)
	engine := NewEngine(store)

	result, err := engine.Apply(context.Background(), 1, entitlements.PlanStandard, entitlements.PlanBasic, true)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.ChangeType != "downgrade" {
		t.Fatalf("expected downgrade, got %s", result.ChangeType)
	}
	if !result.AutoHandled || result.UpdatedCount != 3 {
		t.Fatalf("expected 3 locks applied, got %+v", result)
	}

	// IDs 1..4 in creation order: the newest (4) stays, the oldest three lock.
	locked := store.lockedIDs()
	if len(locked) != 3 {
		t.Fatalf("expected 3 locked forms, got %v", locked)
	}
	for _, id := range []uint{1, 2, 3} {
		found := false
		for _, l := range locked {
			if l == id {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected form %d locked, have %v", id, locked)
		}
	}

	for _, f := range store.forms {
		if f.IsLocked() && !strings.Contains(f.LockReason, "basic") {
			t.Fatalf("lock reason must name the plan: %q", f.LockReason)
		}
	}
}

func TestDowngradeWithinLimitIsNoop(t *testing.T) {
	store := newFakeFormStore(1, 1, 0)
	engine := NewEngine(store)

	result, err := engine.Apply(context.Background(), 1, entitlements.PlanPremium, entitlements.PlanStandard, true)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.ExcessFormCount != 0 || result.UpdatedCount != 0 {
		t.Fatalf("expected no-op, got %+v", result)
	}
	if len(store.lockedIDs()) != 0 {
		t.Fatal("no forms must be locked")
	}
}

func TestDowngradeDryRunReportsCandidates(t *testing.T) {
	store := newFakeFormStore(1, 4, 0)
	store.counts[2] = 17
	engine := NewEngine(store)

	result, err := engine.Apply(context.Background(), 1, entitlements.PlanStandard, entitlements.PlanBasic, false)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.RequiresAction {
		t.Fatal("dry run over limit must require action")
	}
	if result.ExcessFormCount != 3 {
		t.Fatalf("expected excess 3, got %d", result.ExcessFormCount)
	}
	if len(result.CandidateForms) != 4 {
		t.Fatalf("all active forms are candidates, got %d", len(result.CandidateForms))
	}
	if len(store.lockedIDs()) != 0 {
		t.Fatal("dry run must not mutate")
	}
	for _, c := range result.CandidateForms {
		if c.ID == 2 && c.SubmissionCount != 17 {
			t.Fatalf("candidate must carry its submission count, got %d", c.SubmissionCount)
		}
	}
}

func TestUpgradeUnlocksNewestFirst(t *testing.T) {
	// 1 active + 3 locked, upgrading basic -> standard leaves 4 spare slots,
	// so all 3 locked forms fit.
	store := newFakeFormStore(1, 1, 3)
	engine := NewEngine(store)

	result, err := engine.Apply(context.Background(), 1, entitlements.PlanBasic, entitlements.PlanStandard, true)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.ChangeType != "upgrade" || !result.AutoHandled {
		t.Fatalf("expected auto-handled upgrade, got %+v", result)
	}
	if result.UpdatedCount != 3 {
		t.Fatalf("expected 3 unlocks, got %d", result.UpdatedCount)
	}
	if len(store.lockedIDs()) != 0 {
		t.Fatalf("expected everything unlocked, still locked: %v", store.lockedIDs())
	}
}

func TestUpgradeUnlockBoundedBySpareSlots(t *testing.T) {
	// 4 active + 3 locked, standard allows 5: only one slot is spare.
	store := newFakeFormStore(1, 4, 3)
	engine := NewEngine(store)

	result, err := engine.Apply(context.Background(), 1, entitlements.PlanBasic, entitlements.PlanStandard, true)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.UnlockableCount != 1 || result.UpdatedCount != 1 {
		t.Fatalf("expected a single unlock, got %+v", result)
	}
	// The newest locked form (highest ID, 7) is unlocked first.
	for _, id := range store.lockedIDs() {
		if id == 7 {
			t.Fatal("newest locked form should have been unlocked")
		}
	}
	if len(store.lockedIDs()) != 2 {
		t.Fatalf("expected 2 forms still locked, got %v", store.lockedIDs())
	}
}

func TestSamePlanIsInformational(t *testing.T) {
	store := newFakeFormStore(1, 3, 1)
	engine := NewEngine(store)

	result, err := engine.Apply(context.Background(), 1, entitlements.PlanStandard, entitlements.PlanStandard, true)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.ChangeType != "same" || result.AutoHandled || result.UpdatedCount != 0 {
		t.Fatalf("same plan must not act, got %+v", result)
	}
}

func TestUnknownBaselineTakesNoAction(t *testing.T) {
	store := newFakeFormStore(1, 10, 0)
	engine := NewEngine(store)

	result, err := engine.Apply(context.Background(), 1, "", entitlements.PlanBasic, true)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.ChangeType != "unknown" || result.UpdatedCount != 0 {
		t.Fatalf("no baseline means no action, got %+v", result)
	}
	if len(store.lockedIDs()) != 0 {
		t.Fatal("must not lock without a baseline")
	}
}

func TestApplySelection(t *testing.T) {
	store := newFakeFormStore(1, 4, 0)
	engine := NewEngine(store)

	// Keep forms 1 and 3 on the standard plan.
	result, err := engine.ApplySelection(context.Background(), 1, []uint{1, 3}, entitlements.PlanStandard)
	if err != nil {
		t.Fatalf("selection: %v", err)
	}
	if result.UpdatedCount != 2 {
		t.Fatalf("expected 2 locks, got %d", result.UpdatedCount)
	}
	if len(result.ActiveForms) != 2 || len(result.LockedForms) != 2 {
		t.Fatalf("expected 2 active / 2 locked, got %d/%d", len(result.ActiveForms), len(result.LockedForms))
	}

	// Reapplying the identical selection converges to zero changes.
	again, err := engine.ApplySelection(context.Background(), 1, []uint{1, 3}, entitlements.PlanStandard)
	if err != nil {
		t.Fatalf("reapply: %v", err)
	}
	if again.UpdatedCount != 0 {
		t.Fatalf("idempotent reapply must touch nothing, got %d", again.UpdatedCount)
	}
}

func TestApplySelectionRejectsOversizedSelection(t *testing.T) {
	store := newFakeFormStore(1, 4, 0)
	engine := NewEngine(store)

	_, err := engine.ApplySelection(context.Background(), 1, []uint{1, 2}, entitlements.PlanBasic)
	if !errors.Is(err, ErrSelectionExceedsLimit) {
		t.Fatalf("expected ErrSelectionExceedsLimit, got %v", err)
	}
}

func TestApplySelectionRejectsForeignForms(t *testing.T) {
	store := newFakeFormStore(1, 2, 0)
	engine := NewEngine(store)

	_, err := engine.ApplySelection(context.Background(), 1, []uint{99}, entitlements.PlanStandard)
	if !errors.Is(err, ErrFormNotOwned) {
		t.Fatalf("expected ErrFormNotOwned, got %v", err)
	}
}
