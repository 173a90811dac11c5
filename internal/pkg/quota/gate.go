package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/app/repository"
	"github.com/FormLoom/FormLoom/internal/pkg/entitlements"
	"github.com/samber/lo"
)

// Decision is the outcome of a quota check. Denials carry enough context
// for a useful error message without another query.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Current  int64  `json:"current"`
	Limit    int64  `json:"limit"`
	PlanName string `json:"plan_name"`
}

// Reason renders a denial explanation. Meaningless when Allowed.
func (d *Decision) Reason(what string) string {
	if d.PlanName == "" {
		return fmt.Sprintf("no active plan allows creating %s", what)
	}
	return fmt.Sprintf("the %s plan includes %d %s, %d in use", d.PlanName, d.Limit, what, d.Current)
}

// Gate enforces plan quotas at the moment of resource creation. Decisions
// are made on authoritative local counts, never on the async meter audit.
type Gate struct {
	calc        *entitlements.Calculator
	forms       repository.FormRepository
	submissions repository.SubmissionRepository
}

func NewGate(calc *entitlements.Calculator, forms repository.FormRepository, submissions repository.SubmissionRepository) *Gate {
	return &Gate{calc: calc, forms: forms, submissions: submissions}
}

// CanCreateForm checks the caller's active-form count against their plan.
// A user with no entitling subscription has a limit of zero.
func (g *Gate) CanCreateForm(ctx context.Context, userID uint) (*Decision, error) {
	ent, err := g.calc.Limits(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, err := g.forms.CountActiveByUser(userID)
	if err != nil {
		return nil, err
	}
	return &Decision{
		Allowed:  current < int64(ent.FormLimit),
		Current:  current,
		Limit:    int64(ent.FormLimit),
		PlanName: ent.PlanName,
	}, nil
}

// CanAcceptSubmission checks the form OWNER's monthly submission count
// against the owner's plan. Submitters are anonymous; the quota always
// belongs to whoever owns the form.
func (g *Gate) CanAcceptSubmission(ctx context.Context, ownerID uint) (*Decision, error) {
	ent, err := g.calc.Limits(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	active, err := g.forms.ActiveByUser(ownerID)
	if err != nil {
		return nil, err
	}
	formIDs := lo.Map(active, func(f models.Form, _ int) uint { return f.ID })

	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	current, err := g.submissions.CountByFormsSince(formIDs, monthStart)
	if err != nil {
		return nil, err
	}
	return &Decision{
		Allowed:  current < int64(ent.SubmissionLimit),
		Current:  current,
		Limit:    int64(ent.SubmissionLimit),
		PlanName: ent.PlanName,
	}, nil
}
