package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/app/repository"
	"github.com/FormLoom/FormLoom/internal/pkg/cache"
	"github.com/FormLoom/FormLoom/internal/pkg/entitlements"
	"github.com/FormLoom/FormLoom/internal/pkg/planchange"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// PaymentFailureGracePeriod is how long a past_due subscription keeps its
// entitlements while the provider retries the charge.
const PaymentFailureGracePeriod = 7 * 24 * time.Hour

var (
	// ErrMalformedPayload means the webhook body could not be decoded.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrUnknownPlan means the payload names a plan the registry does not
	// know. The event fails loudly; there is no default plan.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrCustomerMappingNotFound means the provider customer could not be
	// resolved to a local user after the bounded retry. The claim is
	// released so the provider's redelivery becomes the outer retry loop.
	ErrCustomerMappingNotFound = errors.New("no local user for provider customer")
)

// PlanChanger applies form lock/unlock protection on plan transitions.
type PlanChanger interface {
	Apply(ctx context.Context, userID uint, previousPlan, newPlan string, autoHandle bool) (*planchange.Result, error)
}

// MeterResetter resets usage counters when a new entitlement period starts.
type MeterResetter interface {
	ResetCounters(ctx context.Context, userID uint) error
}

// LockNotifier tells a user their forms were locked by a downgrade.
type LockNotifier interface {
	FormsLocked(user *models.User, plan string, lockedCount int) error
}

// ProcessResult summarizes one webhook run for the transport layer.
type ProcessResult struct {
	Duplicate bool   `json:"duplicate"`
	Kind      string `json:"kind"`
}

// SweepStats reports what the daily maintenance sweep did.
type SweepStats struct {
	ExpiredSubscriptions int64 `json:"expired_subscriptions"`
	MirroredUsers        int   `json:"mirrored_users"`
	PurgedWebhooks       int64 `json:"purged_webhooks"`
}

// Service is the webhook processing pipeline: claim, normalize, transition
// the canonical subscription record, then mirror the coarse state onto the
// user aggregate.
type Service struct {
	repo     Repository
	subs     repository.SubscriptionRepository
	users    repository.UserRepository
	engine   PlanChanger
	meters   MeterResetter
	notifier LockNotifier

	mappingRetry RetryPolicy
	now          func() time.Time
}

// NewService wires the billing service. meters and notifier may be nil.
func NewService(
	repo Repository,
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	engine PlanChanger,
	meters MeterResetter,
	notifier LockNotifier,
) *Service {
	return &Service{
		repo:         repo,
		subs:         subs,
		users:        users,
		engine:       engine,
		meters:       meters,
		notifier:     notifier,
		mappingRetry: DefaultMappingRetry(),
		now:          time.Now,
	}
}

// ProcessWebhook runs one verified webhook delivery through the pipeline.
// The idempotency claim is inserted before any business logic: the insert
// is the gate, and a duplicate delivery short-circuits here. Business
// failures after the claim keep the claim and are recorded on it; only the
// customer-mapping race releases it, because there the provider's
// redelivery is the intended retry loop.
func (s *Service) ProcessWebhook(ctx context.Context, provider, webhookID string, body []byte) (*ProcessResult, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	source, err := ParseEvent(provider, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	kind := source.Kind()

	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		log.Warnf("billing: %s event %q has no webhook id, processing without replay protection", provider, env.Type)
	} else {
		created, err := s.repo.ClaimWebhook(&models.ProcessedWebhook{
			WebhookID: webhookID,
			Provider:  provider,
			EventType: env.Type,
		})
		if err != nil {
			return nil, err
		}
		if !created {
			log.Infof("billing: webhook %s already processed, skipping", webhookID)
			return &ProcessResult{Duplicate: true, Kind: kind.String()}, nil
		}
	}

	err = s.dispatch(ctx, source)
	if err != nil && webhookID != "" {
		if errors.Is(err, ErrCustomerMappingNotFound) {
			if relErr := s.repo.ReleaseWebhook(webhookID); relErr != nil {
				log.Errorf("billing: could not release webhook %s for redelivery: %v", webhookID, relErr)
			}
		} else if recErr := s.repo.RecordWebhookError(webhookID, err.Error()); recErr != nil {
			log.Errorf("billing: could not record error on webhook %s: %v", webhookID, recErr)
		}
	}
	if err != nil {
		return nil, err
	}
	return &ProcessResult{Kind: kind.String()}, nil
}

func (s *Service) dispatch(ctx context.Context, source SubscriptionSource) error {
	switch source.Kind() {
	case KindCheckout:
		return s.handleCheckout(ctx, source)
	case KindSubscriptionActivated:
		return s.handleActivation(ctx, source)
	case KindSubscriptionUpdated:
		return s.handleUpdate(ctx, source)
	case KindSubscriptionCancelled:
		return s.handleCancellation(ctx, source)
	case KindSubscriptionRevoked:
		return s.handleRevocation(ctx, source)
	case KindPaymentFailed:
		return s.handlePaymentFailure(ctx, source)
	case KindOrderRefunded:
		return s.handleRefund(ctx, source)
	default:
		log.Debugf("billing: ignoring %s event of unknown kind", source.Provider())
		return nil
	}
}

// handleCheckout records payment provenance. Orders never change
// entitlements, so a missing customer mapping only degrades the audit row.
func (s *Service) handleCheckout(ctx context.Context, source SubscriptionSource) error {
	_ = ctx
	order, err := source.Order()
	if err != nil {
		return err
	}

	payment := &models.Payment{
		Provider:        order.Provider,
		ProviderOrderID: order.ProviderOrderID,
		PlanName:        entitlements.NormalizePlan(order.PlanName),
		Amount:          order.Amount,
		Currency:        order.Currency,
		Status:          order.Status,
		RawPayloadJSON:  order.RawJSON,
	}
	if customer, err := s.repo.GetExternalCustomer(order.Provider, order.ProviderCustomerID); err == nil {
		payment.UserID = customer.UserID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.repo.UpsertPayment(payment)
}

// handleActivation is the renewal/upgrade/create trident. A payload that
// matches the current subscription (same provider id, same plan, no upgrade
// flag) extends it in place and appends to the renewal history. Anything
// else supersedes the current row: cancel it, create the new one linked via
// PreviousPlanID, then run form protection.
func (s *Service) handleActivation(ctx context.Context, source SubscriptionSource) error {
	norm, err := source.Subscription()
	if err != nil {
		return err
	}
	user, err := s.resolveUser(ctx, norm)
	if err != nil {
		return err
	}
	plan, err := s.resolvePlan(norm)
	if err != nil {
		return err
	}

	now := s.now()
	existing, err := s.subs.CurrentActive(user.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if existing != nil &&
		existing.Provider == norm.Provider &&
		existing.ProviderSubscriptionID == norm.ProviderSubscriptionID &&
		existing.PlanName == plan &&
		!norm.ImmediateUpgrade {
		if _, err := s.updateSubscription(existing.ID, func(sub *models.Subscription) error {
			sub.Status = models.SubscriptionStatusActive
			if norm.EndsAt != nil {
				sub.SubscriptionEnd = norm.EndsAt
			}
			if sub.SubscriptionStart == nil {
				sub.SubscriptionStart = norm.StartsAt
			}
			sub.AutoRenew = norm.AutoRenew
			sub.CancelAtPeriodEnd = norm.CancelAtPeriodEnd
			sub.GracePeriodEndsAt = nil
			if !norm.Amount.IsZero() {
				sub.Amount = norm.Amount
			}
			return sub.AppendRenewal(norm.PaymentID, now)
		}); err != nil {
			return err
		}
		log.Infof("billing: renewed %s subscription %s for user %d", norm.Provider, norm.ProviderSubscriptionID, user.ID)
		return s.mirrorUser(user.ID)
	}

	var previousPlan string
	var previousID *uint
	if existing != nil {
		previousPlan = existing.PlanName
		previousID = &existing.ID
		if _, err := s.updateSubscription(existing.ID, func(sub *models.Subscription) error {
			sub.Status = models.SubscriptionStatusCancelled
			sub.CancelledAt = &now
			sub.SubscriptionEnd = &now
			sub.AutoRenew = false
			return nil
		}); err != nil {
			return err
		}
	}

	sub := s.newSubscription(norm, user.ID, plan)
	sub.PreviousPlanID = previousID
	if err := s.subs.Create(sub); err != nil {
		return err
	}
	log.Infof("billing: user %d moved to %s plan via %s", user.ID, plan, norm.Provider)

	// The subscription row is already correct at this point. A protection
	// failure is recorded on the claim but must not undo the transition:
	// the lock/unlock pass converges when re-run by an operator.
	var protectionErr error
	if previousPlan != "" {
		protectionErr = s.protectForms(ctx, user, previousPlan, plan)
	}
	if err := s.mirrorUser(user.ID); err != nil {
		return err
	}
	return protectionErr
}

// handleUpdate applies the provider's view of an existing subscription.
// The provider payload wins over local state: conflicts surface as version
// mismatches and resolve by re-reading and re-applying.
func (s *Service) handleUpdate(ctx context.Context, source SubscriptionSource) error {
	norm, err := source.Subscription()
	if err != nil {
		return err
	}
	sub, err := s.subs.GetByProviderSubscriptionID(norm.Provider, norm.ProviderSubscriptionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Providers can deliver updated before the activation it belongs to.
		return s.handleActivation(ctx, source)
	}
	if err != nil {
		return err
	}
	plan, err := s.resolvePlan(norm)
	if err != nil {
		return err
	}

	previousPlan := sub.PlanName
	updated, err := s.updateSubscription(sub.ID, func(sub *models.Subscription) error {
		sub.Status = norm.Status
		if norm.EndsAt != nil {
			sub.SubscriptionEnd = norm.EndsAt
		}
		sub.CancelAtPeriodEnd = norm.CancelAtPeriodEnd
		sub.AutoRenew = norm.AutoRenew
		if !norm.Amount.IsZero() {
			sub.Amount = norm.Amount
		}
		if sub.PlanName != plan {
			sub.PlanName = plan
			applyEntitlementSnapshot(sub, plan)
		}
		sub.RawPayloadJSON = norm.RawJSON
		return nil
	})
	if err != nil {
		return err
	}

	var protectionErr error
	if plan != previousPlan {
		user, err := s.users.GetByID(updated.UserID)
		if err != nil {
			return err
		}
		protectionErr = s.protectForms(ctx, user, previousPlan, plan)
	}
	if err := s.mirrorUser(updated.UserID); err != nil {
		return err
	}
	return protectionErr
}

// handleCancellation ends auto-renewal. With cancel_at_period_end the row
// stays entitling until the period runs out; otherwise access ends now.
// Forms are never locked here: the daily sweep expires the row and the
// quota gate stops new activity.
func (s *Service) handleCancellation(ctx context.Context, source SubscriptionSource) error {
	_ = ctx
	norm, err := source.Subscription()
	if err != nil {
		return err
	}
	sub, err := s.subs.GetByProviderSubscriptionID(norm.Provider, norm.ProviderSubscriptionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("billing: cancellation for unknown %s subscription %s", norm.Provider, norm.ProviderSubscriptionID)
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now()
	updated, err := s.updateSubscription(sub.ID, func(sub *models.Subscription) error {
		sub.Status = models.SubscriptionStatusCancelled
		sub.CancelledAt = &now
		sub.AutoRenew = false
		sub.CancelAtPeriodEnd = norm.CancelAtPeriodEnd
		switch {
		case norm.CancelAtPeriodEnd && norm.EndsAt != nil && norm.EndsAt.After(now):
			sub.SubscriptionEnd = norm.EndsAt
		case sub.SubscriptionEnd == nil || sub.SubscriptionEnd.After(now):
			end := now
			sub.SubscriptionEnd = &end
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.mirrorUser(updated.UserID)
}

// handleRevocation ends access immediately. Forms stay in their current
// lock state; only the entitlement goes away.
func (s *Service) handleRevocation(ctx context.Context, source SubscriptionSource) error {
	_ = ctx
	norm, err := source.Subscription()
	if err != nil {
		return err
	}
	sub, err := s.subs.GetByProviderSubscriptionID(norm.Provider, norm.ProviderSubscriptionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("billing: revocation for unknown %s subscription %s", norm.Provider, norm.ProviderSubscriptionID)
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now()
	updated, err := s.updateSubscription(sub.ID, func(sub *models.Subscription) error {
		sub.Status = models.SubscriptionStatusExpired
		sub.SubscriptionEnd = &now
		sub.GracePeriodEndsAt = nil
		sub.AutoRenew = false
		return nil
	})
	if err != nil {
		return err
	}
	return s.mirrorUser(updated.UserID)
}

// handlePaymentFailure moves the subscription to past_due with a grace
// window. Entitlements survive until the window closes; the provider keeps
// retrying the charge in the meantime.
func (s *Service) handlePaymentFailure(ctx context.Context, source SubscriptionSource) error {
	_ = ctx
	norm, err := source.Subscription()
	if err != nil {
		return err
	}
	sub, err := s.subs.GetByProviderSubscriptionID(norm.Provider, norm.ProviderSubscriptionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("billing: payment failure for unknown %s subscription %s", norm.Provider, norm.ProviderSubscriptionID)
		return nil
	}
	if err != nil {
		return err
	}

	graceEnd := s.now().Add(PaymentFailureGracePeriod)
	updated, err := s.updateSubscription(sub.ID, func(sub *models.Subscription) error {
		sub.Status = models.SubscriptionStatusPastDue
		sub.GracePeriodEndsAt = &graceEnd
		return nil
	})
	if err != nil {
		return err
	}
	return s.mirrorUser(updated.UserID)
}

// handleRefund flips the payment provenance and revokes the active
// subscription of the refunded customer.
func (s *Service) handleRefund(ctx context.Context, source SubscriptionSource) error {
	_ = ctx
	order, err := source.Order()
	if err != nil {
		return err
	}
	if err := s.repo.MarkPaymentRefunded(order.Provider, order.ProviderOrderID); err != nil {
		return err
	}

	customer, err := s.repo.GetExternalCustomer(order.Provider, order.ProviderCustomerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("billing: refund for unmapped %s customer %s", order.Provider, order.ProviderCustomerID)
		return nil
	}
	if err != nil {
		return err
	}
	sub, err := s.subs.CurrentActive(customer.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now()
	if _, err := s.updateSubscription(sub.ID, func(sub *models.Subscription) error {
		sub.Status = models.SubscriptionStatusRefunded
		sub.SubscriptionEnd = &now
		sub.GracePeriodEndsAt = nil
		sub.AutoRenew = false
		return nil
	}); err != nil {
		return err
	}
	return s.mirrorUser(customer.UserID)
}

// SweepExpired is the daily maintenance pass: expire subscriptions whose
// end or grace window has passed, re-mirror the affected users, and purge
// idempotency ledger rows past the provider redelivery horizon.
func (s *Service) SweepExpired(ctx context.Context) (*SweepStats, error) {
	_ = ctx
	now := s.now()
	stats := &SweepStats{}

	userIDs, err := s.subs.ListUsersWithEndedEntitlements(now)
	if err != nil {
		return stats, err
	}
	expired, err := s.subs.ExpireEnded(now)
	if err != nil {
		return stats, err
	}
	stats.ExpiredSubscriptions = expired

	for _, userID := range userIDs {
		if err := s.mirrorUser(userID); err != nil {
			log.Errorf("billing: sweep could not mirror user %d: %v", userID, err)
			continue
		}
		stats.MirroredUsers++
	}

	purged, err := s.repo.PurgeProcessedWebhooksBefore(now.Add(-models.ProcessedWebhookRetention))
	if err != nil {
		return stats, err
	}
	stats.PurgedWebhooks = purged
	return stats, nil
}

// resolveUser maps the normalized payload to a local user. Manual events
// address users directly; webhook sources go through the external customer
// mapping with a bounded retry, because the subscription event can race the
// provider's customer-creation call.
func (s *Service) resolveUser(ctx context.Context, norm *NormalizedSubscription) (*models.User, error) {
	if norm.UserID != 0 {
		return s.users.GetByID(norm.UserID)
	}

	var customer *models.ExternalCustomer
	err := s.mappingRetry.Do(ctx, func() error {
		found, err := s.repo.GetExternalCustomer(norm.Provider, norm.ProviderCustomerID)
		if err != nil {
			return err
		}
		customer = found
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s customer %s", ErrCustomerMappingNotFound, norm.Provider, norm.ProviderCustomerID)
		}
		return nil, err
	}
	return s.users.GetByID(customer.UserID)
}

// resolvePlan turns a provider plan reference into an internal plan name.
// The mapping table wins; the payload's plan name is the fallback. Unknown
// plans fail loudly.
func (s *Service) resolvePlan(norm *NormalizedSubscription) (string, error) {
	if strings.TrimSpace(norm.ProviderPlanRef) != "" {
		mapping, err := s.repo.FindActivePlanMapping(norm.Provider, norm.ProviderPlanRef, norm.BillingPeriod)
		if err == nil {
			plan := entitlements.NormalizePlan(mapping.InternalPlan)
			if plan == "" {
				return "", fmt.Errorf("%w: mapping %d points at %q", ErrUnknownPlan, mapping.ID, mapping.InternalPlan)
			}
			return plan, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", err
		}
	}

	plan := entitlements.NormalizePlan(norm.PlanName)
	if plan == "" {
		return "", fmt.Errorf("%w: %q from %s", ErrUnknownPlan, norm.PlanName, norm.Provider)
	}
	return plan, nil
}

func (s *Service) newSubscription(norm *NormalizedSubscription, userID uint, plan string) *models.Subscription {
	sub := &models.Subscription{
		UserID:                 userID,
		Provider:               norm.Provider,
		ProviderSubscriptionID: norm.ProviderSubscriptionID,
		PlanName:               plan,
		BillingPeriod:          norm.BillingPeriod,
		Amount:                 norm.Amount,
		Currency:               norm.Currency,
		Status:                 norm.Status,
		SubscriptionStart:      norm.StartsAt,
		SubscriptionEnd:        norm.EndsAt,
		CancelAtPeriodEnd:      norm.CancelAtPeriodEnd,
		AutoRenew:              norm.AutoRenew,
		UpgradeReason:          norm.UpgradeReason,
		RawPayloadJSON:         norm.RawJSON,
	}
	if sub.Status == "" {
		sub.Status = models.SubscriptionStatusActive
	}
	applyEntitlementSnapshot(sub, plan)
	return sub
}

// updateSubscription re-reads, mutates and conditionally writes a
// subscription row, retrying on version conflicts. Re-applying the mutation
// on a fresh read is what makes the provider payload win over concurrent
// local writes.
func (s *Service) updateSubscription(id uint, mutate func(*models.Subscription) error) (*models.Subscription, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		sub, err := s.subs.GetByID(id)
		if err != nil {
			return nil, err
		}
		if err := mutate(sub); err != nil {
			return nil, err
		}
		if err := s.subs.UpdateWithVersion(sub); err != nil {
			if errors.Is(err, repository.ErrStaleSubscription) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return sub, nil
	}
	return nil, lastErr
}

// protectForms runs the plan-change engine and its side effects: lock
// notifications on downgrades, meter resets on upgrades.
func (s *Service) protectForms(ctx context.Context, user *models.User, previousPlan, newPlan string) error {
	result, err := s.engine.Apply(ctx, user.ID, previousPlan, newPlan, true)
	if err != nil {
		log.Errorf("billing: plan change protection for user %d (%s -> %s): %v", user.ID, previousPlan, newPlan, err)
		return err
	}

	if len(result.LockedFormIDs) > 0 {
		s.notifyLock(user, newPlan, len(result.LockedFormIDs))
	}
	if result.Change == entitlements.ChangeUpgrade && s.meters != nil {
		if err := s.meters.ResetCounters(ctx, user.ID); err != nil {
			log.Warnf("billing: meter reset for user %d failed: %v", user.ID, err)
		}
	}
	return nil
}

func (s *Service) notifyLock(user *models.User, plan string, lockedCount int) {
	if s.notifier == nil {
		return
	}
	settings, err := s.repo.GetOrCreateUserSettings(user.ID)
	if err != nil || !settings.NotifyOnLock {
		return
	}
	if err := s.notifier.FormsLocked(user, plan, lockedCount); err != nil {
		log.Warnf("billing: lock notification for user %d failed: %v", user.ID, err)
	}
}

// mirrorUser rewrites the coarse billing mirror on the user aggregate from
// the latest entitling subscription. The canonical record is always the
// subscription row; the mirror only exists for cheap display queries.
func (s *Service) mirrorUser(userID uint) error {
	planStatus := "none"
	plan := ""
	sub, err := s.subs.LatestEntitling(userID, s.now())
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err == nil && sub != nil {
		planStatus = sub.Status
		plan = sub.PlanName
	}

	user, err := s.users.GetByID(userID)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePlanStatus(userID, user.Status, planStatus); err != nil {
		return err
	}

	settings, err := s.repo.GetOrCreateUserSettings(userID)
	if err != nil {
		return err
	}
	settings.Plan = plan
	if err := s.repo.SaveUserSettings(settings); err != nil {
		return err
	}

	// The cached snapshot is stale the moment the mirror changes.
	cache.InvalidateEntitlement(userID)
	return nil
}

func applyEntitlementSnapshot(sub *models.Subscription, plan string) {
	ent, ok := entitlements.LimitsFor(plan)
	if !ok {
		return
	}
	sub.FormLimit = ent.FormLimit
	sub.SubmissionLimit = ent.SubmissionLimit
	sub.ImageUpload = ent.ImageUpload
	sub.EmployeeManagement = ent.EmployeeManagement
}
