package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/solostream/coordinator/internals/presence"
)

func TestHMACResolver_RoundTrip(t *testing.T) {
	r := NewHMACResolver("test-secret")

	want := Identity{UserID: 42, Role: presence.RoleStreamer}
	token, err := r.Sign(want, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, err := r.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != want {
		t.Errorf("Resolve: got %+v, want %+v", got, want)
	}
}

func TestHMACResolver_NoExpiryTokenIsAccepted(t *testing.T) {
	r := NewHMACResolver("test-secret")

	token, err := r.Sign(Identity{UserID: 7, Role: presence.RoleViewer}, 0)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := r.Resolve(context.Background(), token); err != nil {
		t.Errorf("token without exp should resolve: %v", err)
	}
}

func TestHMACResolver_ExpiredToken(t *testing.T) {
	r := NewHMACResolver("test-secret")

	token, err := r.Sign(Identity{UserID: 7, Role: presence.RoleViewer}, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := r.Resolve(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Resolve past exp: got %v, want ErrTokenExpired", err)
	}
}

func TestHMACResolver_TamperedBodyRejected(t *testing.T) {
	r := NewHMACResolver("test-secret")

	token, _ := r.Sign(Identity{UserID: 7, Role: presence.RoleViewer}, time.Hour)
	body, sig, _ := strings.Cut(token, ".")

	forged := base64.RawURLEncoding.EncodeToString(
		[]byte(`{"user_id":8,"role":"viewer","exp":9999999999}`),
	)
	if forged == body {
		t.Fatal("fixture must differ from the signed body")
	}
	if _, err := r.Resolve(context.Background(), forged+"."+sig); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered body: got %v, want ErrInvalidToken", err)
	}
}

func TestHMACResolver_WrongSecretRejected(t *testing.T) {
	token, _ := NewHMACResolver("secret-a").Sign(Identity{UserID: 7, Role: presence.RoleViewer}, time.Hour)

	if _, err := NewHMACResolver("secret-b").Resolve(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("cross-secret token: got %v, want ErrInvalidToken", err)
	}
}

func TestHMACResolver_MalformedTokens(t *testing.T) {
	r := NewHMACResolver("test-secret")

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no separator", "abcdef"},
		{"bad signature encoding", "Zm9v.!!!"},
		{"bad body encoding", "!!!." + base64.RawURLEncoding.EncodeToString([]byte("sig"))},
		{"garbage", "a.b.c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Resolve(context.Background(), tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("got %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestHMACResolver_BadClaimsRejected(t *testing.T) {
	r := NewHMACResolver("test-secret")

	sign := func(claims string) string {
		body := base64.RawURLEncoding.EncodeToString([]byte(claims))
		sig := base64.RawURLEncoding.EncodeToString(r.sign(body))
		return body + "." + sig
	}

	cases := []struct {
		name   string
		claims string
	}{
		{"unknown role", `{"user_id":7,"role":"moderator"}`},
		{"zero user id", `{"user_id":0,"role":"viewer"}`},
		{"negative user id", `{"user_id":-3,"role":"streamer"}`},
		{"not json", `user_id=7`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Resolve(context.Background(), sign(tc.claims)); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("got %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestStaticDirectory(t *testing.T) {
	dir := NewStaticDirectory(5, 6)

	if ok, _ := dir.StreamerExists(context.Background(), 5); !ok {
		t.Error("known streamer rejected")
	}
	if ok, _ := dir.StreamerExists(context.Background(), 9); ok {
		t.Error("unknown streamer accepted")
	}
}
