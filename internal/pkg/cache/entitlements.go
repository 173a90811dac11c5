package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FormLoom/FormLoom/internal/pkg/entitlements"
)

// entitlementTTL bounds staleness when an invalidation is lost. Every
// subscription transition invalidates explicitly; the TTL is the backstop.
const entitlementTTL = 5 * time.Minute

func entitlementKey(userID uint) string {
	return fmt.Sprintf("entitlement:user:%d", userID)
}

// EntitlementCache adapts the shared redis client to the entitlement
// calculator's snapshot cache. The zero value is ready to use.
type EntitlementCache struct{}

// Entitlements returns the redis-backed snapshot cache.
func Entitlements() EntitlementCache {
	return EntitlementCache{}
}

func (EntitlementCache) Get(userID uint) (entitlements.Entitlement, bool) {
	raw, ok := Get(context.Background(), entitlementKey(userID))
	if !ok {
		return entitlements.Entitlement{}, false
	}
	var ent entitlements.Entitlement
	if err := json.Unmarshal([]byte(raw), &ent); err != nil {
		return entitlements.Entitlement{}, false
	}
	return ent, true
}

func (EntitlementCache) Set(userID uint, ent entitlements.Entitlement) {
	raw, err := json.Marshal(ent)
	if err != nil {
		return
	}
	Set(context.Background(), entitlementKey(userID), string(raw), entitlementTTL)
}

// InvalidateEntitlement drops a user's cached snapshot so the next read
// re-fills it from the subscription row. Called on every transition.
func InvalidateEntitlement(userID uint) {
	Delete(context.Background(), entitlementKey(userID))
}
