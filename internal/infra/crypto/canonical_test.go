package crypto

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestSerializeJSONKeyOrderIndependent(t *testing.T) {
	a := []byte(`{"b":1,"a":{"y":true,"x":"v"},"c":[1,2,3]}`)
	b := []byte(`{"c":[1,2,3],"a":{"x":"v","y":true},"b":1}`)

	ca, err := SerializeJSON(a)
	if err != nil {
		t.Fatalf("serialize a: %v", err)
	}
	cb, err := SerializeJSON(b)
	if err != nil {
		t.Fatalf("serialize b: %v", err)
	}
	if !bytes.Equal(ca, cb) {
		t.Fatalf("canonical bytes differ: %s vs %s", ca, cb)
	}
	if got, want := string(ca), `{"a":{"x":"v","y":true},"b":1,"c":[1,2,3]}`; got != want {
		t.Fatalf("canonical form = %s, want %s", got, want)
	}
}

func TestSerializeUnicodeNormalizationInsensitive(t *testing.T) {
	// U+00E9 (precomposed) vs U+0065 U+0301 (decomposed).
	nfc := map[string]any{"name": "café"}
	nfd := map[string]any{"name": "café"}

	ha, err := Hash(nfc)
	if err != nil {
		t.Fatalf("hash nfc: %v", err)
	}
	hb, err := Hash(nfd)
	if err != nil {
		t.Fatalf("hash nfd: %v", err)
	}
	if ha != hb {
		t.Fatalf("hashes differ across normalization forms: %s vs %s", ha, hb)
	}
}

func TestSerializeNormalizesKeys(t *testing.T) {
	nfc, err := Serialize(map[string]any{"café": 1})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	nfd, err := Serialize(map[string]any{"café": 1})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !bytes.Equal(nfc, nfd) {
		t.Fatalf("key normalization mismatch: %s vs %s", nfc, nfd)
	}
}

func TestHashIsHexLowercaseSHA256(t *testing.T) {
	h, err := Hash(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if len(h) != 64 {
		t.Fatalf("digest length = %d, want 64", len(h))
	}
	if h != strings.ToLower(h) {
		t.Fatalf("digest is not lowercase: %s", h)
	}
}

func TestHashStableAcrossCalls(t *testing.T) {
	record := map[string]any{
		"type":    "transfer",
		"payload": map[string]any{"amount": 100, "memo": "q̈"},
	}
	first, err := Hash(record)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	for i := 0; i < 10; i++ {
		h, err := Hash(record)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		if h != first {
			t.Fatalf("hash unstable on run %d: %s vs %s", i, h, first)
		}
	}
}

func TestEventLeafHashVersionDependent(t *testing.T) {
	payload := map[string]any{"amount": 100}
	leaf, err := EventLeafHash("transfer", payload, "alice", "sig")
	if err != nil {
		t.Fatalf("leaf hash: %v", err)
	}
	// Same fields hashed without the version participants must differ.
	plain, err := Hash(map[string]any{
		"type":      "transfer",
		"payload":   payload,
		"signer":    "alice",
		"signature": "sig",
	})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if leaf == plain {
		t.Fatal("version fields do not participate in the leaf hash")
	}
}

func TestSerializeJSONRejectsTrailingData(t *testing.T) {
	if _, err := SerializeJSON([]byte(`{"a":1} junk`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestSerializeRejectsNonFiniteNumbers(t *testing.T) {
	if _, err := Serialize(map[string]any{"x": math.Inf(1)}); err == nil {
		t.Fatal("expected error for infinite number")
	}
}

func TestSerializeRejectsKeysCollidingAfterNormalization(t *testing.T) {
	// U+00E9 and U+0065 U+0301 are distinct map keys that both normalize
	// to the same NFC string; collapsing them would silently drop a value.
	obj := map[string]any{
		"café":  "precomposed",
		"café": "decomposed",
	}
	if _, err := Serialize(obj); err == nil {
		t.Fatal("colliding keys accepted")
	}
}
