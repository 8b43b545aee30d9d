package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kalambet/roamr/internal/profile"
	"github.com/kalambet/roamr/internal/swipe"
)

var ctx = context.Background()

func TestRecordSwipe(t *testing.T) {
	var body swipe.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/swipes" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer srv.Close()

	ms := int64(3000)
	err := New(srv.URL, "tok").RecordSwipe(ctx, swipe.Event{
		DestinationID: "d1", Action: profile.ActionSaved, TimeSpentMs: &ms,
	})
	if err != nil {
		t.Fatalf("RecordSwipe: %v", err)
	}
	if body.DestinationID != "d1" || body.Action != profile.ActionSaved || *body.TimeSpentMs != 3000 {
		t.Errorf("server got %+v", body)
	}
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"action is required","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	err := New(srv.URL, "tok").RecordSwipe(ctx, swipe.Event{DestinationID: "d1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != 400 || apiErr.Type != "invalid_request_error" || apiErr.Message != "action is required" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestSavedRemote(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.EscapedPath())
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `{"destinations":["a","b"]}`)
			return
		}
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	if err := c.Save(ctx, "d 1"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := c.Unsave(ctx, "d2"); err != nil {
		t.Fatalf("Unsave: %v", err)
	}
	ids, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v", ids)
	}

	want := []string{"PUT /saved/d%201", "DELETE /saved/d2", "GET /saved"}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestPreferences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user_id":"u1","preferences":{"beach":0.56,"city":0.5,"adventure":0.5,"culture":0.5,"nightlife":0.5,"nature":0.5,"food":0.5}}`)
	}))
	defer srv.Close()

	v, err := New(srv.URL, "tok").Preferences(ctx)
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if v[0] != 0.56 {
		t.Errorf("beach = %v, want 0.56", v[0])
	}
}

func TestGuestClient(t *testing.T) {
	c := New("http://127.0.0.1:1", "")
	if c.Authenticated() {
		t.Error("guest client reports authenticated")
	}
	if err := c.Save(ctx, "d1"); !errors.Is(err, ErrNoToken) {
		t.Errorf("err = %v, want ErrNoToken", err)
	}
}
