package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vantris/erpagent/engine"
	"github.com/vantris/erpagent/types"
)

// fakeEngine scripts the orchestration surface for handler tests.
type fakeEngine struct {
	handleFn    func(ctx context.Context, threadID, text string) (*engine.TurnResult, error)
	resumeFn    func(ctx context.Context, threadID string, resp types.ConsentResponse) (*engine.TurnResult, error)
	interruptFn func(ctx context.Context, threadID string) (*types.PendingToolCall, error)
	deleteFn    func(ctx context.Context, threadID string) error
}

func (f *fakeEngine) HandleMessage(ctx context.Context, threadID, text string) (*engine.TurnResult, error) {
	return f.handleFn(ctx, threadID, text)
}

func (f *fakeEngine) Resume(ctx context.Context, threadID string, resp types.ConsentResponse) (*engine.TurnResult, error) {
	return f.resumeFn(ctx, threadID, resp)
}

func (f *fakeEngine) InterruptStatus(ctx context.Context, threadID string) (*types.PendingToolCall, error) {
	return f.interruptFn(ctx, threadID)
}

func (f *fakeEngine) DeleteThread(ctx context.Context, threadID string) error {
	return f.deleteFn(ctx, threadID)
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestChatHandler(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("reply", func(t *testing.T) {
		eng := &fakeEngine{
			handleFn: func(ctx context.Context, threadID, text string) (*engine.TurnResult, error) {
				assert.Equal(t, "t1", threadID)
				assert.Equal(t, "hello", text)
				return &engine.TurnResult{ThreadID: threadID, Reply: "hi"}, nil
			},
		}
		h := NewChatHandler(eng, logger)

		rec := postJSON(t, h.HandleChat, `{"thread_id":"t1","message":"hello"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeEnvelope(t, rec)
		assert.True(t, resp.Success)
	})

	t.Run("omitted thread_id mints one", func(t *testing.T) {
		var minted string
		eng := &fakeEngine{
			handleFn: func(ctx context.Context, threadID, text string) (*engine.TurnResult, error) {
				minted = threadID
				return &engine.TurnResult{ThreadID: threadID, Reply: "hi"}, nil
			},
		}
		h := NewChatHandler(eng, logger)

		rec := postJSON(t, h.HandleChat, `{"message":"hello"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.HasPrefix(minted, "thread-"))
		// The generated id comes back so the client can keep the thread.
		assert.Contains(t, rec.Body.String(), minted)
	})

	t.Run("blank thread_id mints one", func(t *testing.T) {
		eng := &fakeEngine{
			handleFn: func(ctx context.Context, threadID, text string) (*engine.TurnResult, error) {
				assert.NotEmpty(t, strings.TrimSpace(threadID))
				return &engine.TurnResult{ThreadID: threadID, Reply: "hi"}, nil
			},
		}
		h := NewChatHandler(eng, logger)
		rec := postJSON(t, h.HandleChat, `{"thread_id":"  ","message":"hello"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing message", func(t *testing.T) {
		h := NewChatHandler(&fakeEngine{}, logger)
		rec := postJSON(t, h.HandleChat, `{"thread_id":"t1"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		h := NewChatHandler(&fakeEngine{}, logger)
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		h.HandleChat(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		h := NewChatHandler(&fakeEngine{}, logger)
		rec := postJSON(t, h.HandleChat, `{"thread_id":"t1","message":"x","bogus":1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("consent pending conflict", func(t *testing.T) {
		eng := &fakeEngine{
			handleFn: func(ctx context.Context, threadID, text string) (*engine.TurnResult, error) {
				return nil, types.NewError(types.ErrConsentPending, "pending").WithHTTPStatus(409)
			},
		}
		h := NewChatHandler(eng, logger)
		rec := postJSON(t, h.HandleChat, `{"thread_id":"t1","message":"hello"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		resp := decodeEnvelope(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "CONSENT_PENDING", resp.Error.Code)
	})

	t.Run("awaiting consent payload", func(t *testing.T) {
		eng := &fakeEngine{
			handleFn: func(ctx context.Context, threadID, text string) (*engine.TurnResult, error) {
				return &engine.TurnResult{
					ThreadID:        threadID,
					AwaitingConsent: true,
					Interrupt: &types.PendingToolCall{
						Specialist: "sales",
						Call:       types.ToolCall{ID: "call_1", Name: "create_doc"},
					},
				}, nil
			},
		}
		h := NewChatHandler(eng, logger)
		rec := postJSON(t, h.HandleChat, `{"thread_id":"t1","message":"create an order"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"awaiting_consent":true`)
		assert.Contains(t, rec.Body.String(), "create_doc")
	})
}

func TestConsentHandler(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("accept", func(t *testing.T) {
		var got types.ConsentResponse
		eng := &fakeEngine{
			resumeFn: func(ctx context.Context, threadID string, resp types.ConsentResponse) (*engine.TurnResult, error) {
				got = resp
				return &engine.TurnResult{ThreadID: threadID, Reply: "done"}, nil
			},
		}
		h := NewConsentHandler(eng, logger)
		rec := postJSON(t, h.HandleResolve, `{"thread_id":"t1","type":"accept"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, types.ConsentAccept, got.Kind)
	})

	t.Run("edit carries new args", func(t *testing.T) {
		var got types.ConsentResponse
		eng := &fakeEngine{
			resumeFn: func(ctx context.Context, threadID string, resp types.ConsentResponse) (*engine.TurnResult, error) {
				got = resp
				return &engine.TurnResult{ThreadID: threadID, Reply: "done"}, nil
			},
		}
		h := NewConsentHandler(eng, logger)
		rec := postJSON(t, h.HandleResolve, `{"thread_id":"t1","type":"edit","new_args":{"qty":5}}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, types.ConsentEdit, got.Kind)
		assert.JSONEq(t, `{"qty":5}`, string(got.NewArgs))
	})

	t.Run("missing thread_id", func(t *testing.T) {
		h := NewConsentHandler(&fakeEngine{}, logger)
		rec := postJSON(t, h.HandleResolve, `{"type":"accept"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("already resolved", func(t *testing.T) {
		eng := &fakeEngine{
			resumeFn: func(ctx context.Context, threadID string, resp types.ConsentResponse) (*engine.TurnResult, error) {
				return nil, types.NewError(types.ErrConsentResolved, "nothing pending").WithHTTPStatus(409)
			},
		}
		h := NewConsentHandler(eng, logger)
		rec := postJSON(t, h.HandleResolve, `{"thread_id":"t1","type":"accept"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func newTestRouter(t *testing.T, eng Engine, signal engine.Signal) *httptest.Server {
	t.Helper()
	mux := NewRouter(RouterConfig{
		Engine:  eng,
		Signal:  signal,
		Logger:  zaptest.NewLogger(t),
		Version: "test",
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestThreadInterruptStatus(t *testing.T) {
	pending := &types.PendingToolCall{
		Specialist: "sales",
		Call:       types.ToolCall{ID: "call_1", Name: "submit_doc"},
	}
	eng := &fakeEngine{
		interruptFn: func(ctx context.Context, threadID string) (*types.PendingToolCall, error) {
			if threadID == "t1" {
				return pending, nil
			}
			return nil, types.NewError(types.ErrNotFound, "unknown thread").WithHTTPStatus(404)
		},
	}
	srv := newTestRouter(t, eng, nil)

	resp, err := http.Get(srv.URL + "/v1/threads/t1/interrupt")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.True(t, envelope.Success)

	resp2, err := http.Get(srv.URL + "/v1/threads/missing/interrupt")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestThreadDelete(t *testing.T) {
	deleted := ""
	eng := &fakeEngine{
		deleteFn: func(ctx context.Context, threadID string) error {
			deleted = threadID
			return nil
		},
	}
	srv := newTestRouter(t, eng, nil)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/threads/t9", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "t9", deleted)
}

func TestThreadWatch(t *testing.T) {
	signal := engine.NewMemorySignal()
	eng := &fakeEngine{
		interruptFn: func(ctx context.Context, threadID string) (*types.PendingToolCall, error) {
			return nil, nil
		},
	}
	srv := newTestRouter(t, eng, signal)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/threads/t1/interrupt/watch"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// Initial snapshot: nothing pending.
	var event InterruptEvent
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, "cleared", event.Event)

	// Raising an interrupt pushes a pending frame.
	pending := types.PendingToolCall{
		Specialist: "sales",
		Call:       types.ToolCall{ID: "call_1", Name: "create_doc"},
	}
	require.NoError(t, signal.Set(ctx, "t1", pending))

	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, "pending", event.Event)
	require.NotNil(t, event.Interrupt)
	assert.Equal(t, "create_doc", event.Interrupt.Call.Name)

	// Clearing pushes a cleared frame.
	require.NoError(t, signal.Clear(ctx, "t1"))
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, "cleared", event.Event)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestRouter(t, &fakeEngine{}, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var envelope Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.True(t, envelope.Success)
}

func TestReadyReportsFailingCheck(t *testing.T) {
	logger := zaptest.NewLogger(t)
	health := NewHealthHandler(logger)
	health.RegisterCheck(NewPingCheck("store", func(ctx context.Context) error {
		return assert.AnError
	}))

	rec := httptest.NewRecorder()
	health.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrConsentPending, http.StatusConflict},
		{types.ErrConsentResolved, http.StatusConflict},
		{types.ErrThreadBusy, http.StatusConflict},
		{types.ErrRateLimited, http.StatusTooManyRequests},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrCheckpointFailed, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, mapErrorCodeToHTTPStatus(tc.code), string(tc.code))
	}
}
