package election

import "testing"

func TestParsePeers(t *testing.T) {
	table, err := ParsePeers([]string{"10.0.0.1:22122", "10.0.0.2:22123"})
	if err != nil {
		t.Fatalf("ParsePeers: %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("got %d peers, want 2", len(table))
	}
	if table[0].IP != "10.0.0.1" || table[0].Port != 22122 {
		t.Errorf("got peer 0 %+v, want 10.0.0.1:22122", table[0])
	}
	if table[1].Addr() != "10.0.0.2:22123" {
		t.Errorf("got addr %q, want 10.0.0.2:22123", table[1].Addr())
	}
}

func TestParsePeersRejectsMalformed(t *testing.T) {
	if _, err := ParsePeers([]string{"not-an-address"}); err == nil {
		t.Fatal("expected error for malformed address")
	}
	if _, err := ParsePeers([]string{"10.0.0.1:not-a-port"}); err == nil {
		t.Fatal("expected error for malformed port")
	}
}

func TestDetermineSelfOrdinalExplicitLocalAddrs(t *testing.T) {
	table, err := ParsePeers([]string{"10.0.0.1:22122", "10.0.0.2:22122", "10.0.0.3:22122"})
	if err != nil {
		t.Fatalf("ParsePeers: %v", err)
	}

	ordinal, err := DetermineSelfOrdinal(table, []string{"10.0.0.2"})
	if err != nil {
		t.Fatalf("DetermineSelfOrdinal: %v", err)
	}
	if ordinal != 1 {
		t.Errorf("got ordinal %d, want 1", ordinal)
	}
}

func TestDetermineSelfOrdinalLoopbackFallback(t *testing.T) {
	table, err := ParsePeers([]string{"10.0.0.1:22122", "127.0.0.1:22122"})
	if err != nil {
		t.Fatalf("ParsePeers: %v", err)
	}

	// No localAddrs configured and no private IP in the table: falls back
	// to matching the loopback candidates, which the second entry satisfies.
	ordinal, err := DetermineSelfOrdinal(table, nil)
	if err != nil {
		t.Fatalf("DetermineSelfOrdinal: %v", err)
	}
	if ordinal != 1 {
		t.Errorf("got ordinal %d, want 1", ordinal)
	}
}

func TestDetermineSelfOrdinalNoMatch(t *testing.T) {
	table, err := ParsePeers([]string{"10.0.0.1:22122", "10.0.0.2:22122"})
	if err != nil {
		t.Fatalf("ParsePeers: %v", err)
	}

	if _, err := DetermineSelfOrdinal(table, []string{"192.168.1.1"}); err == nil {
		t.Fatal("expected error when no table entry matches local addresses")
	}
}
