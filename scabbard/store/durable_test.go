package store

import (
	"testing"

	"splinterd.io/server/model"
	"splinterd.io/server/splinterid"
)

func TestRowKeyIsStableAndDistinct(t *testing.T) {
	a := rowKey("alpha-bravo", "s0")
	b := rowKey("alpha-bravo", "s1")
	if string(a) == string(b) {
		t.Fatal("expected distinct keys for distinct services")
	}
	if string(rowKey("alpha-bravo", "s0")) != string(a) {
		t.Fatal("expected rowKey to be stable across calls")
	}
}

func TestSplitRowKeyReversesRowKey(t *testing.T) {
	k := rowKey("alpha-bravo", "s0")
	circuit, service, ok := splitRowKey(k)
	if !ok || circuit != "alpha-bravo" || service != "s0" {
		t.Fatalf("expected round trip, got circuit=%q service=%q ok=%v", circuit, service, ok)
	}
	if _, _, ok := splitRowKey([]byte("no-separator")); ok {
		t.Fatal("expected ok=false for a key with no separator")
	}
}

func TestGobRoundTripsConsensusContext(t *testing.T) {
	ctx := model.NewConsensusContext("s0", []splinterid.ServiceId{"s1", "s2"})
	ctx.Epoch = 3
	ctx.Votes = map[splinterid.ServiceId]bool{"s1": true}

	data, err := gobEncode(ctx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got model.ConsensusContext
	if err := gobDecode(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Epoch != 3 || !got.Votes["s1"] {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
