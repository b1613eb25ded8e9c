package server_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/conductor/internal/assert/helpers"
	"github.com/kode4food/conductor/internal/engine/planopt"
	"github.com/kode4food/conductor/internal/server"
	"github.com/kode4food/conductor/pkg/api"
)

const wsReadTimeout = 2 * time.Second

func withWebSocket(
	t *testing.T, fn func(*helpers.TestEngineEnv, *websocket.Conn),
) {
	t.Helper()
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		srv := server.NewServer(env.Engine)
		ts := httptest.NewServer(srv.SetupRoutes())
		defer ts.Close()
		defer srv.CloseWebSockets()

		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/engine/ws"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		assert.NoError(t, err)
		defer func() { _ = conn.Close() }()

		fn(env, conn)
	})
}

func TestWebSocketStreamsNotifications(t *testing.T) {
	withWebSocket(t, func(env *helpers.TestEngineEnv, conn *websocket.Conn) {
		id := api.PlanExecutionID("ws-plan")
		assert.NoError(t, conn.WriteJSON(api.SubscribeRequest{
			Type:            "subscribe",
			PlanExecutionID: id,
		}))

		// The subscription is opened asynchronously by the server
		time.Sleep(100 * time.Millisecond)

		_, err := env.Engine.StartPlan(t.Context(),
			helpers.NewChainPlan("a"), planopt.WithExecutionID(id),
		)
		assert.NoError(t, err)

		var seen []api.Status
		for !containsStatus(seen, api.StatusSucceeded) {
			_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			var n api.StatusNotification
			if !assert.NoError(t, conn.ReadJSON(&n)) {
				return
			}
			assert.Equal(t, id, n.PlanExecutionID)
			assert.Equal(t, api.PlanNodeID("a"), n.PlanNodeID)
			seen = append(seen, n.Status)
		}
		assert.Equal(t, []api.Status{
			api.StatusRunning, api.StatusSucceeded,
		}, seen)
	})
}

func TestWebSocketFiltersOtherPlans(t *testing.T) {
	withWebSocket(t, func(env *helpers.TestEngineEnv, conn *websocket.Conn) {
		assert.NoError(t, conn.WriteJSON(api.SubscribeRequest{
			Type:            "subscribe",
			PlanExecutionID: "watched",
		}))
		time.Sleep(100 * time.Millisecond)

		other := api.PlanExecutionID("ignored")
		done := env.SubscribeToPlanCompletion(other)
		_, err := env.Engine.StartPlan(t.Context(),
			helpers.NewChainPlan("a"), planopt.WithExecutionID(other),
		)
		assert.NoError(t, err)
		done.Wait(t, helpers.DefaultWaitTimeout)

		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		var n api.StatusNotification
		assert.Error(t, conn.ReadJSON(&n))
	})
}

func TestWebSocketIgnoresBadMessages(t *testing.T) {
	withWebSocket(t, func(env *helpers.TestEngineEnv, conn *websocket.Conn) {
		assert.NoError(t, conn.WriteMessage(
			websocket.TextMessage, []byte("not json"),
		))
		assert.NoError(t, conn.WriteJSON(api.SubscribeRequest{
			Type: "subscribe",
		}))
		time.Sleep(100 * time.Millisecond)

		_, err := env.Engine.StartPlan(t.Context(),
			helpers.NewChainPlan("a"), planopt.WithExecutionID("any-plan"),
		)
		assert.NoError(t, err)

		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		var n api.StatusNotification
		assert.NoError(t, conn.ReadJSON(&n))
		assert.Equal(t, api.PlanExecutionID("any-plan"), n.PlanExecutionID)
	})
}

func containsStatus(statuses []api.Status, s api.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}
