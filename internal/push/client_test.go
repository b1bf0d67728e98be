package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "medichine/pkg/logx"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New("tok", fixedClock{t: time.Date(2025, 3, 3, 8, 5, 0, 0, time.UTC)}, logx.Nop())
	c.SetBaseURL(srv.URL)
	return c
}

func TestNotifyDispensing(t *testing.T) {
	t.Parallel()
	var gotToken string
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pushes" {
			t.Errorf("path: %q", r.URL.Path)
		}
		gotToken = r.Header.Get("Access-Token")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	if err := c.NotifyDispensing(context.Background(), 3, "Time to take your medicine!"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotToken != "tok" {
		t.Errorf("token: %q", gotToken)
	}
	if gotBody["title"] != "Dispensing on container 3" {
		t.Errorf("title: %q", gotBody["title"])
	}
	if !strings.Contains(gotBody["body"], "Time to take your medicine!") {
		t.Errorf("body missing message: %q", gotBody["body"])
	}
	if !strings.Contains(gotBody["body"], "03/03/2025 08:05 AM") {
		t.Errorf("body missing local stamp: %q", gotBody["body"])
	}
}

func TestCustomDispensingMessage(t *testing.T) {
	t.Parallel()
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	c.SetDispensingMessage("Lunch dose, grandma!")
	if err := c.NotifyDispensing(context.Background(), 1, "default message"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(gotBody["body"], "Lunch dose, grandma!") {
		t.Errorf("custom message not used: %q", gotBody["body"])
	}
}

func TestSendWithoutToken(t *testing.T) {
	t.Parallel()
	c := New("", fixedClock{t: time.Now()}, logx.Nop())
	if err := c.NotifyDispensing(context.Background(), 1, "x"); err == nil {
		t.Fatal("want error without token")
	}
}

func TestTestEndpoint(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me" {
			t.Errorf("path: %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := c.Test(context.Background()); err != nil {
		t.Fatalf("test: %v", err)
	}
}

func TestSendErrorStatus(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if err := c.SendAlert(context.Background(), "disk full"); err == nil {
		t.Fatal("want error on 401")
	}
}
