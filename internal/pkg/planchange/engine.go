package planchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/internal/pkg/entitlements"
	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/lo"
)

var (
	// ErrSelectionExceedsLimit means the user picked more forms than the
	// new plan allows.
	ErrSelectionExceedsLimit = errors.New("selected forms exceed the plan limit")
	// ErrFormNotOwned means a selected form does not belong to the user.
	ErrFormNotOwned = errors.New("selected form does not belong to user")
)

// FormStore is the slice of form persistence the engine needs. Satisfied by
// repository.FormRepository. Lock/unlock are set-based so re-running a bulk
// operation converges to the same end state.
type FormStore interface {
	ActiveByUser(userID uint) ([]models.Form, error)
	LockedByUser(userID uint) ([]models.Form, error)
	LockByIDs(ids []uint, reason string, at time.Time) (int64, error)
	UnlockByIDs(ids []uint) (int64, error)
	SubmissionCounts(formIDs []uint) (map[uint]int64, error)
}

// CandidateForm is what a caller needs to render a "pick which forms to
// keep" dialog.
type CandidateForm struct {
	ID              uint      `json:"id"`
	UUID            string    `json:"uuid"`
	Name            string    `json:"name"`
	FormType        string    `json:"form_type"`
	CreatedAt       time.Time `json:"created_at"`
	SubmissionCount int64     `json:"submission_count"`
}

// Result is the outcome of one protection run. Partial bulk failures keep
// the counts of what did apply; the operation is re-runnable to the same
// fixed point.
type Result struct {
	Change           entitlements.Change `json:"-"`
	ChangeType       string              `json:"change_type"`
	RequiresAction   bool                `json:"requires_action"`
	AutoHandled      bool                `json:"auto_handled"`
	CurrentFormCount int                 `json:"current_form_count"`
	NewPlanLimit     int                 `json:"new_plan_limit"`
	ExcessFormCount  int                 `json:"excess_form_count"`
	UnlockableCount  int                 `json:"unlockable_count"`
	CandidateForms   []CandidateForm     `json:"candidate_forms,omitempty"`
	LockedFormIDs    []uint              `json:"locked_form_ids,omitempty"`
	UnlockedFormIDs  []uint              `json:"unlocked_form_ids,omitempty"`
	UpdatedCount     int64               `json:"updated_count"`
}

// SelectionResult is returned when a user-chosen retention set is applied.
type SelectionResult struct {
	ActiveForms  []CandidateForm `json:"active_forms"`
	LockedForms  []CandidateForm `json:"locked_forms"`
	UpdatedCount int64           `json:"updated_count"`
}

// Engine decides and applies lock/unlock actions when a user's form quota
// changes.
type Engine struct {
	forms FormStore
}

func NewEngine(forms FormStore) *Engine {
	return &Engine{forms: forms}
}

// Apply evaluates the transition from previousPlan to newPlan for a user.
// With autoHandle it mutates forms directly; otherwise it only reports what
// a mutation would do, so callers can ask the user to pick.
//
// The recency tie-break: on downgrade the oldest forms are locked and the
// newest stay active; on upgrade the most-recently-created locked forms are
// unlocked first.
func (e *Engine) Apply(ctx context.Context, userID uint, previousPlan, newPlan string, autoHandle bool) (*Result, error) {
	_ = ctx
	change := entitlements.Compare(previousPlan, newPlan)
	result := &Result{Change: change, ChangeType: change.String()}
	if change == entitlements.ChangeUnknown {
		// No baseline, no safe action.
		return result, nil
	}

	ent, ok := entitlements.LimitsFor(newPlan)
	if !ok {
		return result, fmt.Errorf("plan %q is not registered", newPlan)
	}
	result.NewPlanLimit = ent.FormLimit

	active, err := e.forms.ActiveByUser(userID)
	if err != nil {
		return result, err
	}
	locked, err := e.forms.LockedByUser(userID)
	if err != nil {
		return result, err
	}
	result.CurrentFormCount = len(active)

	switch change {
	case entitlements.ChangeUpgrade:
		return e.applyUpgrade(result, active, locked, autoHandle)
	case entitlements.ChangeDowngrade:
		return e.applyDowngrade(userID, newPlan, result, active, autoHandle)
	default:
		// Same plan: informational only.
		return result, nil
	}
}

func (e *Engine) applyUpgrade(result *Result, active, locked []models.Form, autoHandle bool) (*Result, error) {
	spare := result.NewPlanLimit - len(active)
	canUnlock := min(spare, len(locked))
	if canUnlock <= 0 {
		return result, nil
	}
	result.UnlockableCount = canUnlock

	if !autoHandle {
		result.RequiresAction = true
		result.CandidateForms = e.candidates(locked)
		return result, nil
	}

	// locked is ordered most-recent-first; unlock from the front.
	ids := lo.Map(locked[:canUnlock], func(f models.Form, _ int) uint { return f.ID })
	updated, err := e.forms.UnlockByIDs(ids)
	result.UpdatedCount = updated
	if err != nil {
		log.Errorf("plan change: unlock of %d forms applied %d rows: %v", len(ids), updated, err)
		return result, err
	}
	result.AutoHandled = true
	result.UnlockedFormIDs = ids
	return result, nil
}

func (e *Engine) applyDowngrade(userID uint, newPlan string, result *Result, active []models.Form, autoHandle bool) (*Result, error) {
	excess := len(active) - result.NewPlanLimit
	if excess <= 0 {
		// Downgrade without violation: surfaced so a confirmation UI can
		// still be shown, but nothing to do.
		return result, nil
	}
	result.ExcessFormCount = excess

	if !autoHandle {
		result.RequiresAction = true
		result.CandidateForms = e.candidates(active)
		return result, nil
	}

	// active is ordered most-recent-first; the oldest excess forms are at
	// the tail. The newest NewPlanLimit forms stay active.
	victims := active[result.NewPlanLimit:]
	ids := lo.Map(victims, func(f models.Form, _ int) uint { return f.ID })
	reason := lockReason(newPlan, result.NewPlanLimit)
	updated, err := e.forms.LockByIDs(ids, reason, time.Now())
	result.UpdatedCount = updated
	if err != nil {
		log.Errorf("plan change: lock of %d forms for user %d applied %d rows: %v", len(ids), userID, updated, err)
		return result, err
	}
	result.AutoHandled = true
	result.LockedFormIDs = ids
	return result, nil
}

// ApplySelection locks every form not in the retained selection and unlocks
// every form in it. Reapplying the same selection is a no-op: the set-based
// updates only touch rows whose lock state actually differs.
func (e *Engine) ApplySelection(ctx context.Context, userID uint, selectedIDs []uint, newPlan string) (*SelectionResult, error) {
	_ = ctx
	ent, ok := entitlements.LimitsFor(newPlan)
	if !ok {
		return nil, fmt.Errorf("plan %q is not registered", newPlan)
	}
	if len(selectedIDs) > ent.FormLimit {
		return nil, fmt.Errorf("%w: selected %d, limit %d", ErrSelectionExceedsLimit, len(selectedIDs), ent.FormLimit)
	}

	active, err := e.forms.ActiveByUser(userID)
	if err != nil {
		return nil, err
	}
	locked, err := e.forms.LockedByUser(userID)
	if err != nil {
		return nil, err
	}
	all := append(append([]models.Form{}, active...), locked...)
	owned := lo.SliceToMap(all, func(f models.Form) (uint, struct{}) { return f.ID, struct{}{} })
	for _, id := range selectedIDs {
		if _, ok := owned[id]; !ok {
			return nil, fmt.Errorf("%w: form %d", ErrFormNotOwned, id)
		}
	}

	selected := lo.SliceToMap(selectedIDs, func(id uint) (uint, struct{}) { return id, struct{}{} })
	toLock := lo.FilterMap(all, func(f models.Form, _ int) (uint, bool) {
		_, keep := selected[f.ID]
		return f.ID, !keep
	})

	var updated int64
	lockedCount, err := e.forms.LockByIDs(toLock, lockReason(newPlan, ent.FormLimit), time.Now())
	updated += lockedCount
	if err != nil {
		return &SelectionResult{UpdatedCount: updated}, err
	}
	unlockedCount, err := e.forms.UnlockByIDs(selectedIDs)
	updated += unlockedCount
	if err != nil {
		return &SelectionResult{UpdatedCount: updated}, err
	}

	activeAfter, err := e.forms.ActiveByUser(userID)
	if err != nil {
		return &SelectionResult{UpdatedCount: updated}, err
	}
	lockedAfter, err := e.forms.LockedByUser(userID)
	if err != nil {
		return &SelectionResult{UpdatedCount: updated}, err
	}
	return &SelectionResult{
		ActiveForms:  e.candidates(activeAfter),
		LockedForms:  e.candidates(lockedAfter),
		UpdatedCount: updated,
	}, nil
}

func (e *Engine) candidates(forms []models.Form) []CandidateForm {
	ids := lo.Map(forms, func(f models.Form, _ int) uint { return f.ID })
	counts, err := e.forms.SubmissionCounts(ids)
	if err != nil {
		// Candidate lists are advisory; missing counts must not block the
		// protection flow.
		log.Warnf("plan change: submission counts unavailable: %v", err)
		counts = map[uint]int64{}
	}
	out := make([]CandidateForm, 0, len(forms))
	for _, f := range forms {
		out = append(out, CandidateForm{
			ID:              f.ID,
			UUID:            f.UUID,
			Name:            f.Name,
			FormType:        f.FormType,
			CreatedAt:       f.CreatedAt,
			SubmissionCount: counts[f.ID],
		})
	}
	return out
}

func lockReason(plan string, limit int) string {
	return fmt.Sprintf("exceeds %s plan limit of %d active forms", plan, limit)
}
