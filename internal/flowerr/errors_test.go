package flowerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_Classified(t *testing.T) {
	err := New(KindTimeout, "relay call exceeded deadline")
	if KindOf(err) != KindTimeout {
		t.Errorf("expected %s, got %s", KindTimeout, KindOf(err))
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	inner := Wrap(KindNetwork, "connection refused", errors.New("dial tcp"))
	outer := fmt.Errorf("submit failed: %w", inner)
	if KindOf(outer) != KindNetwork {
		t.Errorf("expected wrapped error to keep kind %s, got %s", KindNetwork, KindOf(outer))
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if KindOf(errors.New("something")) != KindUnexpectedFormat {
		t.Error("unclassified errors should map to unexpected_format")
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindNetwork, true},
		{KindTimeout, true},
		{KindValidation, false},
		{KindAuthentication, false},
		{KindPermission, false},
		{KindUpstream, false},
		{KindUnexpectedFormat, false},
	}
	for _, c := range cases {
		if got := Retryable(New(c.kind, "x")); got != c.want {
			t.Errorf("Retryable(%s) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestFromStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{401, KindAuthentication},
		{403, KindPermission},
		{408, KindTimeout},
		{504, KindTimeout},
		{429, KindNetwork},
		{500, KindNetwork},
		{503, KindNetwork},
		{418, KindUnexpectedFormat},
	}
	for _, c := range cases {
		err := FromStatus(c.status, "upstream said no")
		if err.Kind != c.want {
			t.Errorf("FromStatus(%d) kind = %s, want %s", c.status, err.Kind, c.want)
		}
		if err.Status != c.status {
			t.Errorf("FromStatus(%d) status = %d", c.status, err.Status)
		}
	}
}
