package claims

import "sort"

// Permission is one capability in the global static catalogue. The
// role→permission table below is the single source of truth: user rows
// cache a derived permission set, and the entitlement reconciler recomputes
// that cache wholesale from this table whenever roles change.
type Permission string

const (
	PermCatalogBrowse   Permission = "catalog:browse"
	PermOrderPlace      Permission = "order:place"
	PermProductPublish  Permission = "product:publish"
	PermProductFeature  Permission = "product:feature"
	PermPayoutStandard  Permission = "payout:standard"
	PermPayoutInstant   Permission = "payout:instant"
	PermDeliveryHandle  Permission = "delivery:handle"
	PermAccountsManage  Permission = "accounts:manage"
	PermAnalyticsBasic  Permission = "analytics:basic"
	PermAnalyticsFull   Permission = "analytics:full"
	PermSupportPriority Permission = "support:priority"
)

var rolePermissions = map[string][]Permission{
	RoleUser: {
		PermCatalogBrowse,
		PermOrderPlace,
	},
	RoleSeller: {
		PermProductPublish,
		PermPayoutStandard,
		PermAnalyticsBasic,
	},
	RoleSellerPro: {
		PermProductPublish,
		PermProductFeature,
		PermPayoutStandard,
		PermPayoutInstant,
		PermAnalyticsBasic,
		PermAnalyticsFull,
		PermSupportPriority,
	},
	RoleCourier: {
		PermDeliveryHandle,
	},
	RoleAdmin: {
		PermCatalogBrowse,
		PermAccountsManage,
		PermAnalyticsFull,
	},
}

// PermissionsFor resolves the full permission set for a role membership:
// the sorted, deduplicated union over the catalogue. Callers replace any
// cached set with the result rather than patching it incrementally.
func PermissionsFor(roles []string) []string {
	set := make(map[Permission]struct{})
	for _, role := range roles {
		for _, p := range rolePermissions[role] {
			set[p] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}
