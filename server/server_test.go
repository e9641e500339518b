package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

type call struct {
	conversationID string
	channel        statex.Channel
	restaurant     string
	customer       string
	utterance      string
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []call
	ended map[string]statex.CommitState
	err   error
}

func (f *fakeEngine) HandleTurn(ctx context.Context, conversationID string, channel statex.Channel, restaurantKey, customer, utterance string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{conversationID, channel, restaurantKey, customer, utterance})
	if f.err != nil {
		return "", false, f.err
	}
	return "echo: " + utterance, utterance == "bye", nil
}

func (f *fakeEngine) EndSession(ctx context.Context, conversationID string) (statex.CommitState, bool) {
	state, ok := f.ended[conversationID]
	return state, ok
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHandleTurn(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	s := New(eng, Config{})

	rec := do(t, s, http.MethodPost, "/v1/turns",
		`{"conversation_id":"c1","channel":"sms","restaurant":"+15550100","customer":"+15559876","utterance":"bye"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp turnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Text != "echo: bye" || !resp.Ended {
		t.Fatalf("response = %+v", resp)
	}
	if len(eng.calls) != 1 || eng.calls[0].channel != statex.ChannelText || eng.calls[0].customer != "+15559876" {
		t.Fatalf("calls = %+v", eng.calls)
	}
}

func TestHandleTurn_BadRequests(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{"conversation_id":`},
		{"missing conversation", `{"restaurant":"r1","utterance":"hi"}`},
		{"missing restaurant", `{"conversation_id":"c1","utterance":"hi"}`},
		{"unknown channel", `{"conversation_id":"c1","restaurant":"r1","channel":"fax"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			eng := &fakeEngine{}
			rec := do(t, New(eng, Config{}), http.MethodPost, "/v1/turns", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if len(eng.calls) != 0 {
				t.Fatalf("engine called for a bad request")
			}
		})
	}
}

func TestHandleTurn_EngineErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: empty", contractx.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: gone", contractx.ErrTurnCancelled), http.StatusRequestTimeout},
		{fmt.Errorf("registry closed"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		eng := &fakeEngine{err: tc.err}
		rec := do(t, New(eng, Config{}), http.MethodPost, "/v1/turns", `{"conversation_id":"c1","restaurant":"r1","utterance":"hi"}`)
		if rec.Code != tc.want {
			t.Fatalf("err %v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestEndSession(t *testing.T) {
	t.Parallel()

	s := New(&fakeEngine{ended: map[string]statex.CommitState{"c1": statex.CommitAbandoned}}, Config{})

	rec := do(t, s, http.MethodPost, "/v1/sessions/c1/end", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp endResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.CommitState != string(statex.CommitAbandoned) {
		t.Fatalf("response = %+v", resp)
	}

	if rec := do(t, s, http.MethodPost, "/v1/sessions/unknown/end", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	if rec := do(t, New(&fakeEngine{}, Config{}), http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
