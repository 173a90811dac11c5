package billing

import (
	"errors"
	"testing"
)

func TestVerifySignatureRoundTrip(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"subscription.active","data":{"id":"sub_1"}}`)
	sig := SignPayload(secret, "wh_1", "1735732800", body)

	if err := VerifySignature(secret, "wh_1", "1735732800", sig, body); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"subscription.active"}`)
	sig := SignPayload(secret, "wh_1", "1735732800", body)

	cases := []struct {
		name      string
		webhookID string
		timestamp string
		body      []byte
	}{
		{"changed body", "wh_1", "1735732800", []byte(`{"type":"subscription.canceled"}`)},
		{"changed id", "wh_2", "1735732800", body},
		{"changed timestamp", "wh_1", "1735732801", body},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySignature(secret, tc.webhookID, tc.timestamp, sig, tc.body)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestVerifySignatureFailsClosed(t *testing.T) {
	body := []byte(`{}`)
	sig := SignPayload("whsec_test", "wh_1", "1735732800", body)

	if err := VerifySignature("", "wh_1", "1735732800", sig, body); err == nil {
		t.Fatal("expected error with empty secret")
	}
	if err := VerifySignature("whsec_test", "", "1735732800", sig, body); !errors.Is(err, ErrMissingSignatureHeaders) {
		t.Fatalf("expected ErrMissingSignatureHeaders, got %v", err)
	}
	if err := VerifySignature("whsec_test", "wh_1", "", sig, body); !errors.Is(err, ErrMissingSignatureHeaders) {
		t.Fatalf("expected ErrMissingSignatureHeaders, got %v", err)
	}
	if err := VerifySignature("whsec_test", "wh_1", "1735732800", "", body); !errors.Is(err, ErrMissingSignatureHeaders) {
		t.Fatalf("expected ErrMissingSignatureHeaders, got %v", err)
	}
}

func TestVerifySignatureRejectsWrongScheme(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{}`)
	sig := SignPayload(secret, "wh_1", "1735732800", body)
	wrongScheme := "v2," + sig[len("v1,"):]

	if err := VerifySignature(secret, "wh_1", "1735732800", wrongScheme, body); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for wrong scheme, got %v", err)
	}
	if err := VerifySignature(secret, "wh_1", "1735732800", "not-base64!!", body); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for garbage, got %v", err)
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	body := []byte(`{}`)
	sig := SignPayload("whsec_a", "wh_1", "1735732800", body)
	if err := VerifySignature("whsec_b", "wh_1", "1735732800", sig, body); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
