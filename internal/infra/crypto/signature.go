package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Timestamped signatures are accepted inside [now-5m, now+60s]; the
	// forward slack absorbs client clock skew.
	signatureMaxAge  = 5 * time.Minute
	signatureMaxSkew = time.Minute

	// Legacy bare signatures carry no timestamp; the expected value is
	// recomputed at every 30-second bucket across the acceptance window.
	legacyBucket = 30 * time.Second
)

// SignatureVerifier checks event submission signatures against a
// server-held HMAC secret.
type SignatureVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewSignatureVerifier(secret string, now func() time.Time) *SignatureVerifier {
	if now == nil {
		now = time.Now
	}
	return &SignatureVerifier{secret: []byte(secret), now: now}
}

// Verify validates a signature over {type, payload, signer, timestamp}.
// Two formats are supported: "<hex>:<unix-ms>" where the embedded
// timestamp is checked against the acceptance window, and a legacy bare
// hex signature matched against recomputed bucket timestamps. Any failure
// returns a non-nil error and the event must not be persisted.
func (v *SignatureVerifier) Verify(eventType string, payload map[string]any, signer, signature string) error {
	if signature == "" {
		return fmt.Errorf("empty signature")
	}
	if idx := strings.LastIndexByte(signature, ':'); idx >= 0 {
		return v.verifyTimestamped(eventType, payload, signer, signature[:idx], signature[idx+1:])
	}
	return v.verifyLegacy(eventType, payload, signer, signature)
}

func (v *SignatureVerifier) verifyTimestamped(eventType string, payload map[string]any, signer, sigHex, tsPart string) error {
	millis, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp: %w", err)
	}
	ts := time.UnixMilli(millis)
	now := v.now()
	if ts.Before(now.Add(-signatureMaxAge)) || ts.After(now.Add(signatureMaxSkew)) {
		return fmt.Errorf("signature timestamp outside acceptance window")
	}
	expected, err := v.compute(eventType, payload, signer, millis)
	if err != nil {
		return err
	}
	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("signature is not hex: %w", err)
	}
	if !hmac.Equal(provided, expected) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func (v *SignatureVerifier) verifyLegacy(eventType string, payload map[string]any, signer, sigHex string) error {
	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("signature is not hex: %w", err)
	}
	now := v.now()
	start := now.Add(-signatureMaxAge).Truncate(legacyBucket)
	end := now.Add(signatureMaxSkew)
	for ts := start; !ts.After(end); ts = ts.Add(legacyBucket) {
		expected, err := v.compute(eventType, payload, signer, ts.UnixMilli())
		if err != nil {
			return err
		}
		if hmac.Equal(provided, expected) {
			return nil
		}
	}
	return fmt.Errorf("signature mismatch")
}

func (v *SignatureVerifier) compute(eventType string, payload map[string]any, signer string, millis int64) ([]byte, error) {
	canonical, err := Serialize(map[string]any{
		"type":      eventType,
		"payload":   payload,
		"signer":    signer,
		"timestamp": millis,
	})
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(canonical)
	return mac.Sum(nil), nil
}

// Sign produces a timestamped signature for the given fields. Exported for
// clients and tests; the server only verifies.
func (v *SignatureVerifier) Sign(eventType string, payload map[string]any, signer string, at time.Time) (string, error) {
	millis := at.UnixMilli()
	sum, err := v.compute(eventType, payload, signer, millis)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum) + ":" + strconv.FormatInt(millis, 10), nil
}

// SignLegacy produces a bare hex signature at a bucket-aligned timestamp.
func (v *SignatureVerifier) SignLegacy(eventType string, payload map[string]any, signer string, at time.Time) (string, error) {
	sum, err := v.compute(eventType, payload, signer, at.Truncate(legacyBucket).UnixMilli())
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}
