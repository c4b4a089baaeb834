package claims

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPermissionsForUnion(t *testing.T) {
	got := PermissionsFor([]string{RoleUser, RoleSeller})

	want := []string{
		string(PermAnalyticsBasic),
		string(PermCatalogBrowse),
		string(PermOrderPlace),
		string(PermPayoutStandard),
		string(PermProductPublish),
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("permission set mismatch (-want +got):\n%s", diff)
	}
}

func TestPermissionsForDeduplicates(t *testing.T) {
	// SELLER and SELLER_PRO overlap; the union must not repeat entries.
	got := PermissionsFor([]string{RoleSeller, RoleSellerPro})

	seen := map[string]bool{}
	for _, p := range got {
		if seen[p] {
			t.Fatalf("permission %q appears twice", p)
		}
		seen[p] = true
	}

	for _, p := range []Permission{PermProductFeature, PermPayoutInstant, PermSupportPriority} {
		if !seen[string(p)] {
			t.Fatalf("expected elevated permission %q", p)
		}
	}
}

func TestPermissionsForRevocation(t *testing.T) {
	before := PermissionsFor([]string{RoleUser, RoleSeller, RoleSellerPro})
	after := PermissionsFor([]string{RoleUser, RoleSeller})

	for _, p := range after {
		if p == string(PermPayoutInstant) || p == string(PermProductFeature) {
			t.Fatalf("elevated permission %q survived wholesale recompute", p)
		}
	}

	if len(after) >= len(before) {
		t.Fatalf("recompute after revocation should shrink the set: %d -> %d", len(before), len(after))
	}
}

func TestPermissionsForUnknownRole(t *testing.T) {
	if got := PermissionsFor([]string{"GHOST"}); len(got) != 0 {
		t.Fatalf("unknown role resolved to %v", got)
	}
}
