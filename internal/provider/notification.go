package provider

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/escrowdesk/platform/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-nowpayments-sig"

// Sign returns the hex HMAC-SHA512 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks sig against the HMAC of the raw, unparsed body in
// constant time. Hex case is ignored.
func VerifySignature(secret string, body []byte, sig string) bool {
	if secret == "" || sig == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(sig))))
}

// ParseNotification normalizes a webhook body. The legacy payment_id and
// payment_status keys win over the current id and status keys.
func ParseNotification(body []byte) (domain.PaymentNotification, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return domain.PaymentNotification{}, domain.ErrMalformedResponse("notification body is not a JSON object")
	}
	return notificationFromFields(fields)
}

func notificationFromFields(fields map[string]json.RawMessage) (domain.PaymentNotification, error) {
	id, ok := extractID(fields, "payment_id", "id")
	if !ok {
		return domain.PaymentNotification{}, domain.ErrMalformedResponse("missing payment id")
	}
	raw, ok := extractString(fields, "payment_status", "status")
	if !ok {
		return domain.PaymentNotification{}, domain.ErrMalformedResponse("missing payment status")
	}
	status, ok := domain.ParseProcessorStatus(strings.ToLower(raw))
	if !ok {
		return domain.PaymentNotification{}, domain.ErrMalformedResponse("unknown payment status " + raw)
	}
	return domain.PaymentNotification{PaymentID: id, Status: status, RawStatus: raw}, nil
}

// extractID returns the first non-empty key, accepting a JSON string or number.
func extractID(fields map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		if s, ok := decodeString(v); ok && s != "" {
			return s, true
		}
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		var n json.Number
		if err := dec.Decode(&n); err == nil && n.String() != "" && n.String() != "0" {
			return n.String(), true
		}
	}
	return "", false
}

// extractString returns the first non-empty string value among keys.
func extractString(fields map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			if s, ok := decodeString(v); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func decodeString(v json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}
