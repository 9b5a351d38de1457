package splinterid

import "testing"

func TestIsValidCircuitId(t *testing.T) {
	valid := []string{"alpha-bravo", "abcde-12345", "AbCdE-fGhIj"}
	for _, id := range valid {
		if !IsValidCircuitId(id) {
			t.Errorf("expected %q to be a valid circuit id", id)
		}
	}

	invalid := []string{"", "alpha", "alpha-bra", "alpha--bravo", "alph1-bravo2", "alpha_bravo-charl"}
	for _, id := range invalid {
		if IsValidCircuitId(id) {
			t.Errorf("expected %q to be an invalid circuit id", id)
		}
	}
}

func TestIsValidServiceId(t *testing.T) {
	valid := []string{"abcd", "AB12", "0000"}
	for _, id := range valid {
		if !IsValidServiceId(id) {
			t.Errorf("expected %q to be a valid service id", id)
		}
	}

	invalid := []string{"", "abc", "abcde", "ab-d"}
	for _, id := range invalid {
		if IsValidServiceId(id) {
			t.Errorf("expected %q to be an invalid service id", id)
		}
	}
}

func TestPeerAuthTokenEquality(t *testing.T) {
	a := TrustToken("node1")
	b := TrustToken("node1")
	c := TrustToken("node2")
	if !a.Equal(b) {
		t.Fatal("expected equal trust tokens to compare equal")
	}
	if a.Equal(c) {
		t.Fatal("expected different trust tokens to compare unequal")
	}

	x := ChallengeToken("deadbeef")
	if a.Equal(x) {
		t.Fatal("trust and challenge tokens must never compare equal")
	}
}

func TestPeerTokenPairKey(t *testing.T) {
	p1 := PeerTokenPair{Remote: TrustToken("a"), Local: TrustToken("b")}
	p2 := PeerTokenPair{Remote: TrustToken("a"), Local: TrustToken("b")}
	m := map[PeerTokenPair]int{}
	m[p1.Key()] = 1
	if v, ok := m[p2.Key()]; !ok || v != 1 {
		t.Fatal("expected PeerTokenPair to be usable as a map key")
	}
}
