package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{0, KindTransient},   // transport error, no response
		{429, KindTransient}, // rate limited
		{500, KindTransient},
		{503, KindTransient},
		{400, KindPermanent},
		{401, KindPermanent},
		{404, KindPermanent},
		{422, KindPermanent},
	}
	for _, tc := range cases {
		got := classify("p", "op", tc.status, errors.New("boom"))
		if got.Kind != tc.want {
			t.Fatalf("status %d: expected %s, got %s", tc.status, tc.want, got.Kind)
		}
	}
}

func TestIsTransientUnwrapsNestedErrors(t *testing.T) {
	inner := Transient("gemini", "edit", errors.New("status 503"))
	wrapped := fmt.Errorf("editing: %w", inner)
	if !IsTransient(wrapped) {
		t.Fatal("expected wrapped transient error to be detected")
	}
	if IsPermanent(wrapped) {
		t.Fatal("transient error misreported as permanent")
	}
}

func TestIsTransientTreatsDeadlineExpiryAsTransient(t *testing.T) {
	err := fmt.Errorf("call: %w", context.DeadlineExceeded)
	if !IsTransient(err) {
		t.Fatal("deadline expiry should be retryable")
	}
}

func TestUnclassifiedErrorsAreNeitherKind(t *testing.T) {
	err := errors.New("disk full")
	if IsTransient(err) || IsPermanent(err) {
		t.Fatal("plain errors must stay unclassified")
	}
}

func TestErrorStringCarriesProviderAndOp(t *testing.T) {
	err := Permanent("qwen", "edit", errors.New("unsupported content"))
	got := err.Error()
	want := "qwen: edit: permanent: unsupported content"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
