package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	chatdomain "github.com/beatgate/beatgate/internal/app/domain/chat"
	"github.com/beatgate/beatgate/internal/app/storage/memory"
	"github.com/beatgate/beatgate/pkg/logger"
)

func TestPostValidation(t *testing.T) {
	svc := New(memory.New(), nil, logger.Nop())
	ctx := context.Background()

	_, err := svc.Post(ctx, "st1", "", "dj", "   ")
	require.Error(t, err)

	_, err = svc.Post(ctx, "st1", "", "dj", strings.Repeat("x", 501))
	require.Error(t, err)

	msg, err := svc.Post(ctx, "st1", "", "", "hello")
	require.NoError(t, err)
	require.Equal(t, "anon", msg.Author)
}

func TestHistory(t *testing.T) {
	svc := New(memory.New(), nil, logger.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Post(ctx, "st1", "", "dj", "msg")
		require.NoError(t, err)
	}
	msgs, err := svc.History(ctx, "st1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestWebSocketFanout(t *testing.T) {
	svc := New(memory.New(), nil, logger.Nop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc.ServeWS(w, r, "st1", "sess1", "listener")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the server loop a moment to join the room.
	require.Eventually(t, func() bool {
		return svc.hub.RoomSize("st1") == 1
	}, time.Second, 10*time.Millisecond)

	_, err = svc.Post(context.Background(), "st1", "", "dj", "now playing: rain")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var got chatdomain.Message
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "now playing: rain", got.Body)
	require.Equal(t, "dj", got.Author)
}

func TestConcurrentPostsDeliverIntactFrames(t *testing.T) {
	svc := New(memory.New(), nil, logger.Nop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc.ServeWS(w, r, "st1", "sess1", "listener")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool {
		return svc.hub.RoomSize("st1") == 1
	}, time.Second, 10*time.Millisecond)

	// Concurrent posters must not interleave writes on the subscriber's
	// connection; every frame arrives whole.
	const posts = 8
	var wg sync.WaitGroup
	for i := 0; i < posts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Post(context.Background(), "st1", "", "dj", fmt.Sprintf("drop-%d", i))
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	bodies := make(map[string]bool, posts)
	for i := 0; i < posts; i++ {
		var got chatdomain.Message
		require.NoError(t, conn.ReadJSON(&got))
		bodies[got.Body] = true
	}
	for i := 0; i < posts; i++ {
		require.True(t, bodies[fmt.Sprintf("drop-%d", i)], "missing frame drop-%d", i)
	}
}
