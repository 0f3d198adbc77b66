package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTokenServerTest(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c, err := NewClient(Config{BaseURL: srv.URL, ClientID: "web"})
	if err != nil {
		srv.Close()
		t.Fatalf("new client: %v", err)
	}
	return c, srv.Close
}

func TestLoginWithPasswordSendsPasswordGrant(t *testing.T) {
	c, done := newTokenServerTest(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/connect/token" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		want := map[string]string{
			"username":   "ada",
			"password":   "s3cret",
			"client_id":  "web",
			"grant_type": "password",
			"scope":      DefaultScope,
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("form %s = %q, want %q", k, got, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id_token":"i","access_token":"a","refresh_token":"r","expires_in":3600,"token_type":"Bearer"}`))
	})
	defer done()

	resp, err := c.LoginWithPassword(context.Background(), "ada", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.IDToken != "i" || resp.AccessToken != "a" || resp.RefreshToken != "r" || resp.ExpiresIn != 3600 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestLoginWithPasswordReportsOAuthError(t *testing.T) {
	c, done := newTokenServerTest(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"invalid_username_or_password"}`))
	})
	defer done()

	_, err := c.LoginWithPassword(context.Background(), "ada", "wrong")
	var re *ResponseError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ResponseError, got %T %v", err, err)
	}
	if re.StatusCode != http.StatusBadRequest || re.Code != "invalid_grant" || re.Description != "invalid_username_or_password" {
		t.Fatalf("unexpected error fields %+v", re)
	}
	if re.HTTPURL() != c.Endpoint() {
		t.Fatalf("unexpected url %q", re.HTTPURL())
	}
}

func TestLoginWithPasswordUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c, err := NewClient(Config{BaseURL: srv.URL, ClientID: "web"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	srv.Close()

	_, err = c.LoginWithPassword(context.Background(), "ada", "pw")
	var re *ResponseError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ResponseError, got %T %v", err, err)
	}
	if re.HTTPStatus() != 0 || re.Unwrap() == nil {
		t.Fatalf("expected network failure, got %+v", re)
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	cases := []Config{
		{ClientID: "web"},
		{BaseURL: "not a url", ClientID: "web"},
		{BaseURL: "https://id.example.com"},
	}
	for _, cfg := range cases {
		if _, err := NewClient(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("NewClient(%+v): expected ErrInvalidConfig, got %v", cfg, err)
		}
	}

	c, err := NewClient(Config{BaseURL: "https://id.example.com/", ClientID: "web", TokenPath: "oauth/token"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.Endpoint() != "https://id.example.com/oauth/token" {
		t.Fatalf("unexpected endpoint %q", c.Endpoint())
	}
}
