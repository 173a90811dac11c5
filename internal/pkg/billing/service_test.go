package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/app/repository"
	"github.com/FormLoom/FormLoom/internal/pkg/entitlements"
	"github.com/FormLoom/FormLoom/internal/pkg/planchange"
	"gorm.io/gorm"
)

type fakeBillingRepo struct {
	claims    map[string]*models.ProcessedWebhook
	customers map[string]*models.ExternalCustomer
	mappings  map[string]*models.PlanMapping
	payments  map[string]*models.Payment
	settings  map[uint]*models.UserSettings
	released  []string
	errors    map[string]string
}

func newFakeBillingRepo() *fakeBillingRepo {
	return &fakeBillingRepo{
		claims:    map[string]*models.ProcessedWebhook{},
		customers: map[string]*models.ExternalCustomer{},
		mappings:  map[string]*models.PlanMapping{},
		payments:  map[string]*models.Payment{},
		settings:  map[uint]*models.UserSettings{},
		errors:    map[string]string{},
	}
}

func (r *fakeBillingRepo) ClaimWebhook(event *models.ProcessedWebhook) (bool, error) {
	if _, exists := r.claims[event.WebhookID]; exists {
		return false, nil
	}
	r.claims[event.WebhookID] = event
	return true, nil
}

func (r *fakeBillingRepo) RecordWebhookError(webhookID, processingError string) error {
	r.errors[webhookID] = processingError
	return nil
}

func (r *fakeBillingRepo) ReleaseWebhook(webhookID string) error {
	delete(r.claims, webhookID)
	r.released = append(r.released, webhookID)
	return nil
}

func (r *fakeBillingRepo) PurgeProcessedWebhooksBefore(cutoff time.Time) (int64, error) {
	var purged int64
	for id, claim := range r.claims {
		if claim.ProcessedAt.Before(cutoff) {
			delete(r.claims, id)
			purged++
		}
	}
	return purged, nil
}

func customerKey(provider, id string) string { return provider + "/" + id }

func (r *fakeBillingRepo) GetExternalCustomer(provider, providerCustomerID string) (*models.ExternalCustomer, error) {
	if c, ok := r.customers[customerKey(provider, providerCustomerID)]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeBillingRepo) UpsertExternalCustomer(customer *models.ExternalCustomer) error {
	r.customers[customerKey(customer.Provider, customer.ProviderCustomerID)] = customer
	return nil
}

func (r *fakeBillingRepo) FindActivePlanMapping(provider, ref, period string) (*models.PlanMapping, error) {
	if m, ok := r.mappings[provider+"/"+ref+"/"+period]; ok {
		return m, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeBillingRepo) UpsertPayment(payment *models.Payment) error {
	r.payments[payment.Provider+"/"+payment.ProviderOrderID] = payment
	return nil
}

func (r *fakeBillingRepo) MarkPaymentRefunded(provider, orderID string) error {
	if p, ok := r.payments[provider+"/"+orderID]; ok {
		p.Status = models.PaymentStatusRefunded
	}
	return nil
}

func (r *fakeBillingRepo) GetOrCreateUserSettings(userID uint) (*models.UserSettings, error) {
	if s, ok := r.settings[userID]; ok {
		return s, nil
	}
	s := &models.UserSettings{UserID: userID, NotifyOnLock: true}
	r.settings[userID] = s
	return s, nil
}

func (r *fakeBillingRepo) SaveUserSettings(us *models.UserSettings) error {
	r.settings[us.UserID] = us
	return nil
}

type fakeSubscriptionRepo struct {
	subs   []*models.Subscription
	nextID uint
}

func (r *fakeSubscriptionRepo) Create(sub *models.Subscription) error {
	r.nextID++
	sub.ID = r.nextID
	if sub.Version == 0 {
		sub.Version = 1
	}
	copied := *sub
	r.subs = append(r.subs, &copied)
	return nil
}

func (r *fakeSubscriptionRepo) GetByID(id uint) (*models.Subscription, error) {
	for _, s := range r.subs {
		if s.ID == id {
			copied := *s
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSubscriptionRepo) GetByProviderSubscriptionID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	for i := len(r.subs) - 1; i >= 0; i-- {
		s := r.subs[i]
		if s.Provider == provider && s.ProviderSubscriptionID == providerSubscriptionID {
			copied := *s
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSubscriptionRepo) LatestEntitling(userID uint, now time.Time) (*models.Subscription, error) {
	for i := len(r.subs) - 1; i >= 0; i-- {
		s := r.subs[i]
		if s.UserID == userID && s.IsEntitling(now) {
			copied := *s
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSubscriptionRepo) CurrentActive(userID uint) (*models.Subscription, error) {
	for i := len(r.subs) - 1; i >= 0; i-- {
		s := r.subs[i]
		if s.UserID == userID && (s.Status == models.SubscriptionStatusActive || s.Status == models.SubscriptionStatusTrialing || s.Status == models.SubscriptionStatusPastDue) {
			copied := *s
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSubscriptionRepo) ListByUser(userID uint) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, s := range r.subs {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSubscriptionRepo) UpdateWithVersion(sub *models.Subscription) error {
	for i, s := range r.subs {
		if s.ID == sub.ID {
			if s.Version != sub.Version {
				return repository.ErrStaleSubscription
			}
			copied := *sub
			copied.Version = sub.Version + 1
			r.subs[i] = &copied
			sub.Version = copied.Version
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeSubscriptionRepo) ExpireEnded(now time.Time) (int64, error) {
	var n int64
	for _, s := range r.subs {
		if !s.IsEntitling(now) && s.Status != models.SubscriptionStatusExpired &&
			s.Status != models.SubscriptionStatusRefunded && s.Status != models.SubscriptionStatusPending {
			s.Status = models.SubscriptionStatusExpired
			n++
		}
	}
	return n, nil
}

func (r *fakeSubscriptionRepo) ListUsersWithEndedEntitlements(now time.Time) ([]uint, error) {
	seen := map[uint]bool{}
	var out []uint
	for _, s := range r.subs {
		if !s.IsEntitling(now) && !seen[s.UserID] {
			seen[s.UserID] = true
			out = append(out, s.UserID)
		}
	}
	return out, nil
}

type fakeUserRepo struct {
	users        map[uint]*models.User
	planStatuses map[uint]string
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	r := &fakeUserRepo{users: map[uint]*models.User{}, planStatuses: map[uint]string{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) Create(user *models.User) error { r.users[user.ID] = user; return nil }

func (r *fakeUserRepo) GetByID(id uint) (*models.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetByEmail(email string) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error) {
	return nil, nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) Update(user *models.User) error { r.users[user.ID] = user; return nil }

func (r *fakeUserRepo) UpdatePlanStatus(userID uint, status, planStatus string) error {
	r.planStatuses[userID] = planStatus
	return nil
}

func (r *fakeUserRepo) List(offset, limit int) ([]models.User, error) { return nil, nil }
func (r *fakeUserRepo) Count() (int64, error)                         { return int64(len(r.users)), nil }

type fakeEngine struct {
	calls []string
}

func (e *fakeEngine) Apply(ctx context.Context, userID uint, previousPlan, newPlan string, autoHandle bool) (*planchange.Result, error) {
	e.calls = append(e.calls, fmt.Sprintf("%d:%s->%s:auto=%v", userID, previousPlan, newPlan, autoHandle))
	change := entitlements.Compare(previousPlan, newPlan)
	return &planchange.Result{Change: change, ChangeType: change.String()}, nil
}

type fakeMeters struct {
	resets []uint
}

func (m *fakeMeters) ResetCounters(ctx context.Context, userID uint) error {
	m.resets = append(m.resets, userID)
	return nil
}

type serviceFixture struct {
	repo   *fakeBillingRepo
	subs   *fakeSubscriptionRepo
	users  *fakeUserRepo
	engine *fakeEngine
	meters *fakeMeters
	svc    *Service
}

func newServiceFixture() *serviceFixture {
	repo := newFakeBillingRepo()
	subs := &fakeSubscriptionRepo{}
	users := newFakeUserRepo(&models.User{ID: 1, Name: "ada", Email: "ada@example.com", Status: models.STATUS_ACTIVE})
	engine := &fakeEngine{}
	meters := &fakeMeters{}

	repo.customers[customerKey(models.SubscriptionProviderPolar, "cus_1")] = &models.ExternalCustomer{
		UserID: 1, Provider: models.SubscriptionProviderPolar, ProviderCustomerID: "cus_1",
	}

	svc := NewService(repo, subs, users, engine, meters, nil)
	svc.mappingRetry = RetryPolicy{MaxAttempts: 1, Delay: 0}
	return &serviceFixture{repo: repo, subs: subs, users: users, engine: engine, meters: meters, svc: svc}
}

func polarActivationBody(subID, productName string) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "subscription.active",
		"data": {
			"id": %q,
			"customer_id": "cus_1",
			"product": {"name": %q},
			"amount": 900,
			"currency": "usd",
			"recurring_interval": "month",
			"status": "active"
		}
	}`, subID, productName))
}

func TestProcessWebhookDuplicateDelivery(t *testing.T) {
	f := newServiceFixture()
	body := polarActivationBody("sub_1", "Standard")

	first, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_1", body)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first delivery must not be a duplicate")
	}

	second, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_1", body)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("second delivery must short-circuit as duplicate")
	}
	if len(f.subs.subs) != 1 {
		t.Fatalf("expected exactly one subscription, got %d", len(f.subs.subs))
	}
}

func TestProcessWebhookActivationCreatesAndMirrors(t *testing.T) {
	f := newServiceFixture()

	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_1", polarActivationBody("sub_1", "Standard")); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(f.subs.subs) != 1 {
		t.Fatalf("expected one subscription, got %d", len(f.subs.subs))
	}
	sub := f.subs.subs[0]
	if sub.PlanName != entitlements.PlanStandard {
		t.Fatalf("expected standard plan, got %s", sub.PlanName)
	}
	if sub.FormLimit != 5 || sub.SubmissionLimit != 1000 {
		t.Fatalf("entitlement snapshot wrong: %+v", sub)
	}
	if f.users.planStatuses[1] != models.SubscriptionStatusActive {
		t.Fatalf("user mirror not updated: %q", f.users.planStatuses[1])
	}
	if f.repo.settings[1].Plan != entitlements.PlanStandard {
		t.Fatalf("settings plan mirror not updated: %q", f.repo.settings[1].Plan)
	}
}

func TestProcessWebhookRenewalExtendsInPlace(t *testing.T) {
	f := newServiceFixture()

	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_1", polarActivationBody("sub_1", "Standard")); err != nil {
		t.Fatalf("activation: %v", err)
	}

	renewal := []byte(`{
		"type": "subscription.active",
		"data": {
			"id": "sub_1",
			"customer_id": "cus_1",
			"product": {"name": "Standard"},
			"status": "active",
			"current_period_end": "2026-10-01T00:00:00Z",
			"metadata": {"payment_id": "pay_2"}
		}
	}`)
	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_2", renewal); err != nil {
		t.Fatalf("renewal: %v", err)
	}

	if len(f.subs.subs) != 1 {
		t.Fatalf("renewal must not create a new row, got %d rows", len(f.subs.subs))
	}
	sub := f.subs.subs[0]
	renewals := sub.Renewals()
	if len(renewals) != 1 || renewals[0].PaymentID != "pay_2" {
		t.Fatalf("expected one renewal entry with pay_2, got %+v", renewals)
	}
	if sub.SubscriptionEnd == nil || sub.SubscriptionEnd.Year() != 2026 {
		t.Fatalf("expected extended end, got %v", sub.SubscriptionEnd)
	}
}

func TestProcessWebhookPlanChangeSupersedes(t *testing.T) {
	f := newServiceFixture()

	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_1", polarActivationBody("sub_1", "Basic")); err != nil {
		t.Fatalf("basic activation: %v", err)
	}
	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_2", polarActivationBody("sub_2", "Premium")); err != nil {
		t.Fatalf("premium activation: %v", err)
	}

	if len(f.subs.subs) != 2 {
		t.Fatalf("expected two rows, got %d", len(f.subs.subs))
	}
	old, current := f.subs.subs[0], f.subs.subs[1]
	if old.Status != models.SubscriptionStatusCancelled {
		t.Fatalf("old row must be cancelled, got %s", old.Status)
	}
	if current.PreviousPlanID == nil || *current.PreviousPlanID != old.ID {
		t.Fatalf("new row must link its predecessor, got %v", current.PreviousPlanID)
	}
	if len(f.engine.calls) != 1 {
		t.Fatalf("expected one protection run, got %v", f.engine.calls)
	}
	if f.engine.calls[0] != "1:basic->premium:auto=true" {
		t.Fatalf("unexpected protection call %q", f.engine.calls[0])
	}
	if len(f.meters.resets) != 1 || f.meters.resets[0] != 1 {
		t.Fatalf("upgrade must reset meters, got %v", f.meters.resets)
	}
}

func TestProcessWebhookMappingRaceReleasesClaim(t *testing.T) {
	f := newServiceFixture()
	body := []byte(`{
		"type": "subscription.active",
		"data": {
			"id": "sub_x",
			"customer_id": "cus_unknown",
			"product": {"name": "Standard"},
			"status": "active"
		}
	}`)

	_, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_race", body)
	if !errors.Is(err, ErrCustomerMappingNotFound) {
		t.Fatalf("expected mapping error, got %v", err)
	}
	if _, claimed := f.repo.claims["wh_race"]; claimed {
		t.Fatal("claim must be released so the provider redelivery is reprocessed")
	}
	if len(f.repo.released) != 1 {
		t.Fatalf("expected one release, got %v", f.repo.released)
	}

	// Mapping arrives, redelivery succeeds.
	f.repo.customers[customerKey(models.SubscriptionProviderPolar, "cus_unknown")] = &models.ExternalCustomer{
		UserID: 1, Provider: models.SubscriptionProviderPolar, ProviderCustomerID: "cus_unknown",
	}
	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_race", body); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(f.subs.subs) != 1 {
		t.Fatalf("expected subscription after redelivery, got %d", len(f.subs.subs))
	}
}

func TestProcessWebhookUnknownPlanKeepsClaim(t *testing.T) {
	f := newServiceFixture()
	body := polarActivationBody("sub_1", "Enterprise")

	_, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_bad", body)
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected unknown plan error, got %v", err)
	}
	if _, claimed := f.repo.claims["wh_bad"]; !claimed {
		t.Fatal("business failures keep the claim")
	}
	if f.repo.errors["wh_bad"] == "" {
		t.Fatal("failure must be recorded on the claim")
	}
}

func TestProcessWebhookPlanMappingWinsOverName(t *testing.T) {
	f := newServiceFixture()
	f.repo.mappings["polar/prod_x/monthly"] = &models.PlanMapping{
		ID: 1, Provider: "polar", ProviderPlanRef: "prod_x",
		InternalPlan: entitlements.PlanPremium, BillingPeriod: models.BillingPeriodMonthly, IsActive: true,
	}

	body := []byte(`{
		"type": "subscription.active",
		"data": {
			"id": "sub_m",
			"customer_id": "cus_1",
			"product_id": "prod_x",
			"product": {"name": "Some Legacy Label"},
			"recurring_interval": "month",
			"status": "active"
		}
	}`)
	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_m", body); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.subs.subs[0].PlanName != entitlements.PlanPremium {
		t.Fatalf("mapping table must win, got %s", f.subs.subs[0].PlanName)
	}
}

func TestProcessWebhookCancellationAtPeriodEnd(t *testing.T) {
	f := newServiceFixture()
	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_1", polarActivationBody("sub_1", "Standard")); err != nil {
		t.Fatalf("activation: %v", err)
	}

	future := time.Now().Add(30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	cancel := []byte(fmt.Sprintf(`{
		"type": "subscription.canceled",
		"data": {
			"id": "sub_1",
			"customer_id": "cus_1",
			"product": {"name": "Standard"},
			"status": "canceled",
			"cancel_at_period_end": true,
			"current_period_end": %q
		}
	}`, future))
	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_2", cancel); err != nil {
		t.Fatalf("cancellation: %v", err)
	}

	sub := f.subs.subs[0]
	if sub.Status != models.SubscriptionStatusCancelled {
		t.Fatalf("expected cancelled, got %s", sub.Status)
	}
	if !sub.IsEntitling(time.Now()) {
		t.Fatal("cancelled-at-period-end must keep entitling until the end date")
	}
	// Mirror still reflects the entitling row.
	if f.users.planStatuses[1] != models.SubscriptionStatusCancelled {
		t.Fatalf("mirror: %q", f.users.planStatuses[1])
	}
}

func TestProcessWebhookPaymentFailedGrantsGrace(t *testing.T) {
	f := newServiceFixture()
	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_1", polarActivationBody("sub_1", "Standard")); err != nil {
		t.Fatalf("activation: %v", err)
	}

	failed := []byte(`{
		"type": "subscription.past_due",
		"data": {
			"id": "sub_1",
			"customer_id": "cus_1",
			"product": {"name": "Standard"},
			"status": "past_due"
		}
	}`)
	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_2", failed); err != nil {
		t.Fatalf("payment failure: %v", err)
	}

	sub := f.subs.subs[0]
	if sub.Status != models.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %s", sub.Status)
	}
	if sub.GracePeriodEndsAt == nil {
		t.Fatal("expected grace window")
	}
	if !sub.IsEntitling(time.Now()) {
		t.Fatal("past_due must keep entitling inside the grace window")
	}
	if sub.IsEntitling(time.Now().Add(8 * 24 * time.Hour)) {
		t.Fatal("entitlement must lapse after the grace window")
	}
}

func TestProcessWebhookMissingIDProcessesWithoutClaim(t *testing.T) {
	f := newServiceFixture()
	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "", polarActivationBody("sub_1", "Standard")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.repo.claims) != 0 {
		t.Fatal("no claim must be written without a webhook id")
	}
	if len(f.subs.subs) != 1 {
		t.Fatal("event must still be processed")
	}
}

func TestProcessWebhookMalformedBody(t *testing.T) {
	f := newServiceFixture()
	_, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderPolar, "wh_1", []byte("not json"))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected malformed payload error, got %v", err)
	}
	if len(f.repo.claims) != 0 {
		t.Fatal("malformed bodies must not burn a claim")
	}
}

func TestSweepExpired(t *testing.T) {
	f := newServiceFixture()
	past := time.Now().Add(-48 * time.Hour)
	f.subs.Create(&models.Subscription{
		UserID: 1, Provider: models.SubscriptionProviderPolar, ProviderSubscriptionID: "sub_old",
		PlanName: entitlements.PlanBasic, Status: models.SubscriptionStatusActive, SubscriptionEnd: &past,
	})
	f.repo.claims["wh_ancient"] = &models.ProcessedWebhook{
		WebhookID: "wh_ancient", ProcessedAt: time.Now().Add(-8 * 24 * time.Hour),
	}

	stats, err := f.svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.ExpiredSubscriptions != 1 {
		t.Fatalf("expected one expiry, got %d", stats.ExpiredSubscriptions)
	}
	if f.subs.subs[0].Status != models.SubscriptionStatusExpired {
		t.Fatalf("expected expired, got %s", f.subs.subs[0].Status)
	}
	if f.users.planStatuses[1] != "none" {
		t.Fatalf("mirror after expiry: %q", f.users.planStatuses[1])
	}
	if stats.PurgedWebhooks != 1 {
		t.Fatalf("expected ledger purge, got %d", stats.PurgedWebhooks)
	}
}

func TestProcessWebhookManualAssignAndRevoke(t *testing.T) {
	f := newServiceFixture()

	assign := []byte(`{"type":"manual.plan_assigned","data":{"user_id":1,"plan":"premium","reason":"support goodwill"}}`)
	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderManual, "manual-a", assign); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(f.subs.subs) != 1 || f.subs.subs[0].PlanName != entitlements.PlanPremium {
		t.Fatalf("manual assign failed: %+v", f.subs.subs)
	}
	if f.subs.subs[0].ProviderSubscriptionID != "manual-1" {
		t.Fatalf("expected synthetic id, got %s", f.subs.subs[0].ProviderSubscriptionID)
	}

	revoke := []byte(`{"type":"manual.plan_revoked","data":{"user_id":1,"plan":"premium"}}`)
	if _, err := f.svc.ProcessWebhook(context.Background(), models.SubscriptionProviderManual, "manual-b", revoke); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if f.subs.subs[0].Status != models.SubscriptionStatusExpired {
		t.Fatalf("expected expired after revoke, got %s", f.subs.subs[0].Status)
	}
	if f.users.planStatuses[1] != "none" {
		t.Fatalf("mirror after revoke: %q", f.users.planStatuses[1])
	}
}
