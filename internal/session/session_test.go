package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPAdapterResolvesUser(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"u1","name":"Rajesh","office_location":"Tech Park, Bangalore"}`))
	}))
	defer ts.Close()

	a := NewHTTPAdapter(ts.URL, time.Second)
	u, err := a.CurrentUser(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if u.ID != "u1" || u.OfficeLocation != "Tech Park, Bangalore" {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := a.CurrentUser(context.Background(), "bad"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestHTTPAdapterTimeoutFailsOperation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	a := NewHTTPAdapter(ts.URL, 20*time.Millisecond)
	if _, err := a.CurrentUser(context.Background(), "tok-1"); err == nil {
		t.Fatal("expected timeout error")
	}
}
