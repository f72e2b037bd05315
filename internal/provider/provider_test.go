package provider

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain error", errors.New("boom"), KindUnknown},
		{"provider error", NewError(KindInvalidCredentials, "invalid_credentials", "Invalid login credentials"), KindInvalidCredentials},
		{"wrapped", fmt.Errorf("sign in: %w", NewError(KindEmailNotConfirmed, "email_not_confirmed", "Email not confirmed")), KindEmailNotConfirmed},
		{"unavailable", Unavailable(errors.New("dial tcp: refused")), KindUnavailable},
		{"profile not found", ErrProfileNotFound, KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageOf(t *testing.T) {
	err := fmt.Errorf("sign up: %w", NewError(KindUserAlreadyExists, "user_already_exists", "User already registered"))
	if got := MessageOf(err); got != "User already registered" {
		t.Errorf("MessageOf() = %q", got)
	}
	if got := MessageOf(errors.New("boom")); got != "boom" {
		t.Errorf("MessageOf(plain) = %q", got)
	}
	if got := MessageOf(nil); got != "" {
		t.Errorf("MessageOf(nil) = %q", got)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable(cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}

func TestAccessToken_RoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	issued := time.Now().Truncate(time.Second)

	token, err := SignAccessToken(secret, "u1", "a@b.com", issued, time.Hour)
	if err != nil {
		t.Fatalf("SignAccessToken() error = %v", err)
	}

	claims, err := ParseAccessToken(token, secret)
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "a@b.com" || claims.Role != "authenticated" {
		t.Errorf("claims = %+v", claims)
	}
	if got := ExpiryOf(token); !got.Equal(issued.Add(time.Hour)) {
		t.Errorf("ExpiryOf() = %v, want %v", got, issued.Add(time.Hour))
	}

	if _, err := ParseAccessToken(token, []byte("other")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: error = %v, want ErrInvalidToken", err)
	}
}

// TestParseAccessToken_ExpiredIsNotAnError は失効判定を呼び出し側に委ねることを検証する。
func TestParseAccessToken_ExpiredIsNotAnError(t *testing.T) {
	secret := []byte("s3cret")
	token, err := SignAccessToken(secret, "u1", "", time.Now().Add(-2*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("SignAccessToken() error = %v", err)
	}
	if _, err := ParseAccessToken(token, secret); err != nil {
		t.Errorf("ParseAccessToken() error = %v", err)
	}
	if _, err := ParseAccessToken(token, nil); err != nil {
		t.Errorf("ParseAccessToken(unverified) error = %v", err)
	}
}

func TestParseAccessToken_Garbage(t *testing.T) {
	if _, err := ParseAccessToken("", nil); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty: error = %v", err)
	}
	if _, err := ParseAccessToken("not.a.jwt", nil); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: error = %v", err)
	}
	if got := ExpiryOf("garbage"); !got.IsZero() {
		t.Errorf("ExpiryOf(garbage) = %v", got)
	}
}

func TestListeners_EmitInOrderAndUnsubscribe(t *testing.T) {
	var l Listeners
	var got []string

	unA := l.Add(func(ev ChangeEvent) { got = append(got, "a:"+string(ev.Event)) })
	l.Add(func(ev ChangeEvent) { got = append(got, "b:"+string(ev.Event)) })

	l.Emit(ChangeEvent{Event: EventSignedIn})
	unA()
	l.Emit(ChangeEvent{Event: EventSignedOut})

	want := []string{"a:SIGNED_IN", "b:SIGNED_IN", "b:SIGNED_OUT"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

// TestListeners_EmitWithoutLock はコールバック内から購読解除してもデッドロックしないことを検証する。
func TestListeners_EmitWithoutLock(t *testing.T) {
	var l Listeners
	var unsubscribe func()
	calls := 0
	unsubscribe = l.Add(func(ChangeEvent) {
		calls++
		unsubscribe()
	})

	l.Emit(ChangeEvent{Event: EventSignedIn})
	l.Emit(ChangeEvent{Event: EventSignedIn})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now.Add(time.Minute)}
	if s.Expired(now) {
		t.Error("expected not expired")
	}
	if !s.Expired(now.Add(time.Minute)) {
		t.Error("expected expired at boundary")
	}
	if (&Session{}).Expired(now) {
		t.Error("zero expiry should never expire")
	}
}
