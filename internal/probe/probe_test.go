// SPDX-License-Identifier: MIT
package probe

import "testing"

func TestWsrepLocalState(t *testing.T) {
	cases := map[int]ReplicationState{
		4: StateSynced,
		2: StateDonor,
		1: StateJoining,
		3: StateJoined,
		0: StateUndefined,
		9: StateUndefined,
	}

	for n, want := range cases {
		if got := wsrepLocalState(n); got != want {
			t.Errorf("wsrepLocalState(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestParseStatusSynced(t *testing.T) {
	status := map[string]string{
		"wsrep_local_state":        "4",
		"wsrep_ready":              "ON",
		"wsrep_cluster_status":     "Primary",
		"wsrep_cluster_size":       "3",
		"wsrep_incoming_addresses": "10.0.0.1:3306,10.0.0.2:3306,10.0.0.3:3306",
	}

	cs := parseStatus(status, nil)

	if !cs.IsPrimary {
		t.Errorf("expected IsPrimary=true")
	}
	if !cs.IsSynced {
		t.Errorf("expected IsSynced=true")
	}
	if cs.IsDonor {
		t.Errorf("expected IsDonor=false")
	}
	if cs.ClusterSize != 3 {
		t.Errorf("ClusterSize = %d, want 3", cs.ClusterSize)
	}
	if len(cs.ClusterNodes) != 3 {
		t.Errorf("ClusterNodes = %v, want 3 entries", cs.ClusterNodes)
	}
}

func TestParseStatusFallsBackToSeeds(t *testing.T) {
	status := map[string]string{
		"wsrep_local_state": "4",
		"wsrep_ready":       "ON",
	}

	cs := parseStatus(status, []string{"seed1:3306", "seed2:3306"})

	if len(cs.ClusterNodes) != 2 {
		t.Errorf("ClusterNodes = %v, want seeds as fallback", cs.ClusterNodes)
	}
}

func TestParseStatusDonor(t *testing.T) {
	status := map[string]string{
		"wsrep_local_state":    "2",
		"wsrep_ready":          "ON",
		"wsrep_cluster_status": "Primary",
	}

	cs := parseStatus(status, nil)

	if !cs.IsDonor {
		t.Errorf("expected IsDonor=true")
	}
	if cs.IsSynced {
		t.Errorf("expected IsSynced=false")
	}
}

func TestReplicationStateString(t *testing.T) {
	if StateSynced.String() != "synced" {
		t.Errorf("String() = %q, want synced", StateSynced.String())
	}
	if StateDonor.String() != "donor/desync" {
		t.Errorf("String() = %q, want donor/desync", StateDonor.String())
	}
}
