package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/deskpilot/internal/auth"
	"github.com/fentz26/deskpilot/internal/models"
)

func TestClient_SessionCalls(t *testing.T) {
	var gotAuth, gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"s1","user_id":"alice","status":"idle"}`)
	})
	mux.HandleFunc("/sessions/s1/approve", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":"no task awaiting approval"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL+"/", &auth.Credentials{Token: "s3cret"})
	view, err := c.EnableSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", view.ID)
	assert.Equal(t, models.StatusIdle, view.Status)
	assert.Equal(t, "Bearer s3cret", gotAuth)
	assert.JSONEq(t, `{"session_id":"s1"}`, gotBody)

	err = c.Approve(context.Background(), "s1", "a-1")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusConflict))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "no task awaiting approval", apiErr.Message)
	assert.JSONEq(t, `{"action_id":"a-1"}`, gotBody)
}

func TestClient_HealthUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"ok":false,"db":"sql: database is closed","version":"1.0.0"}`)
	}))
	defer ts.Close()

	health, err := New(ts.URL, nil).Health(context.Background())
	require.Error(t, err)
	require.NotNil(t, health)
	assert.False(t, health.OK)
	assert.Equal(t, "1.0.0", health.Version)
}

func TestClient_Events(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/s1/events", r.URL.Path)
		assert.Equal(t, "bob", r.Header.Get(auth.UserHeader))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		for _, kind := range []models.EventKind{models.EventStatusChanged, models.EventActionPlanned, models.EventTaskCompleted} {
			data, _ := json.Marshal(models.Event{Kind: kind, SessionID: "s1", Timestamp: time.Unix(1, 0)})
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data)
		}
	}))
	defer ts.Close()

	var kinds []models.EventKind
	err := New(ts.URL, &auth.Credentials{User: "bob"}).Events(context.Background(), "s1", func(ev models.Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []models.EventKind{models.EventStatusChanged, models.EventActionPlanned, models.EventTaskCompleted}, kinds)
}

func TestClient_EventsStopsOnCallbackError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "data: {\"kind\":\"screenshot\",\"session_id\":\"s1\"}\n\n")
		}
	}))
	defer ts.Close()

	stop := errors.New("stop")
	calls := 0
	err := New(ts.URL, nil).Events(context.Background(), "s1", func(ev models.Event) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestClient_EventsForbidden(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":"session belongs to another user"}`)
	}))
	defer ts.Close()

	err := New(ts.URL, nil).Events(context.Background(), "s1", func(models.Event) error { return nil })
	assert.True(t, IsStatus(err, http.StatusForbidden))
}

func TestClient_FollowSignalsOpen(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sessions/gone/events" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"session not found"}`)
			return
		}
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "data: {\"kind\":\"task_completed\",\"session_id\":\"s1\"}\n\n")
	}))
	defer ts.Close()
	c := New(ts.URL, nil)

	opened := 0
	var got []models.EventKind
	err := c.Follow(context.Background(), "s1", func() { opened++ }, func(ev models.Event) error {
		assert.Equal(t, 1, opened)
		got = append(got, ev.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, opened)
	assert.Equal(t, []models.EventKind{models.EventTaskCompleted}, got)

	opened = 0
	err = c.Follow(context.Background(), "gone", func() { opened++ }, func(models.Event) error { return nil })
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Zero(t, opened)
}
