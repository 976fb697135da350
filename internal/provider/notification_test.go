package provider

import (
	"testing"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"payment_id":"5077125051","payment_status":"finished"}`)
	sig := Sign("ipn-secret", body)

	assert.True(t, VerifySignature("ipn-secret", body, sig))
	assert.False(t, VerifySignature("other-secret", body, sig))
	assert.False(t, VerifySignature("ipn-secret", append(body, ' '), sig), "signature covers the raw bytes")
	assert.False(t, VerifySignature("ipn-secret", body, ""))
	assert.False(t, VerifySignature("", body, sig))
	assert.Len(t, sig, 128)
}

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantID     string
		wantStatus domain.PaymentStatus
		wantErr    bool
	}{
		{"legacy shape", `{"payment_id":"5077125051","payment_status":"finished"}`, "5077125051", domain.PaymentStatusConfirmed, false},
		{"current shape", `{"id":"5077125051","status":"confirming"}`, "5077125051", domain.PaymentStatusConfirming, false},
		{"numeric id", `{"payment_id":5077125051,"payment_status":"waiting"}`, "5077125051", domain.PaymentStatusPending, false},
		{"legacy wins", `{"payment_id":"a","id":"b","payment_status":"expired","status":"finished"}`, "a", domain.PaymentStatusExpired, false},
		{"mixed shapes", `{"id":"b","payment_status":"failed"}`, "b", domain.PaymentStatusFailed, false},
		{"empty legacy falls back", `{"payment_id":"","id":"c","status":"refunded"}`, "c", domain.PaymentStatusFailed, false},
		{"upper-case status", `{"id":"d","status":"FINISHED"}`, "d", domain.PaymentStatusConfirmed, false},
		{"missing id", `{"payment_status":"finished"}`, "", "", true},
		{"missing status", `{"payment_id":"x"}`, "", "", true},
		{"unknown status", `{"payment_id":"x","payment_status":"exploded"}`, "", "", true},
		{"not json", `payment_id=x`, "", "", true},
		{"array", `[]`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseNotification([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.HasCode(err, domain.CodeMalformedResponse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, n.PaymentID)
			assert.Equal(t, tt.wantStatus, n.Status)
		})
	}
}
