package econ

import (
	"bytes"
	"encoding/json"
	"testing"
)

// Closed companies admit nobody. A standing invitation does not override
// the privacy setting.
func TestJoinOutcome(t *testing.T) {
	cases := []struct {
		privacy   string
		invited   bool
		member    bool
		requested bool
		err       error
	}{
		{"public", false, true, false, nil},
		{"public", true, true, false, nil},
		{"request", false, false, true, nil},
		{"request", true, true, false, nil},
		{"closed", false, false, false, ErrCompanyClosed},
		{"closed", true, false, false, ErrCompanyClosed},
	}
	for _, tc := range cases {
		member, requested, err := joinOutcome(tc.privacy, tc.invited)
		if member != tc.member || requested != tc.requested || err != tc.err {
			t.Fatalf("joinOutcome(%q, invited=%v) = (%v, %v, %v), want (%v, %v, %v)",
				tc.privacy, tc.invited, member, requested, err, tc.member, tc.requested, tc.err)
		}
	}
}

// Vote counts live on the active project, not the company row.
func TestCompanyViewOmitsVotes(t *testing.T) {
	raw, err := json.Marshal(CompanyView{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if bytes.Contains(raw, []byte(`"votes"`)) {
		t.Fatalf("company view should not carry a votes field: %s", raw)
	}
	raw, err = json.Marshal(ProjectView{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"votes"`)) {
		t.Fatalf("project view should carry the votes field: %s", raw)
	}
}

func TestProjectCatalog(t *testing.T) {
	seen := map[string]bool{}
	for _, spec := range projectCatalog {
		if seen[spec.Key] {
			t.Fatalf("duplicate project key %q", spec.Key)
		}
		seen[spec.Key] = true
		if spec.EarningsCents <= spec.CostCents {
			t.Fatalf("project %q does not pay out more than it costs", spec.Key)
		}
		if spec.VotesRequired <= 0 || spec.MinLevel <= 0 {
			t.Fatalf("project %q has non-positive gates: %+v", spec.Key, spec)
		}
	}
	if _, ok := projectByKey("moonbase"); ok {
		t.Fatalf("unknown project resolved")
	}
	spec, ok := projectByKey("warehouse")
	if !ok || spec.Key != "warehouse" {
		t.Fatalf("warehouse lookup failed")
	}
}
