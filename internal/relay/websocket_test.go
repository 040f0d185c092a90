package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHubDeliversFrames(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dialHub(t, srv, "node=watch-1&name=Wrist")
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	eps, err := hub.Reachable(context.Background(), Capability)
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "watch-1", eps[0].ID)
	assert.Equal(t, "Wrist", eps[0].Name)

	none, err := hub.Reachable(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, hub.Send(context.Background(), eps[0], MessagePath, []byte{0x01, 0x02}))

	var frame Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, MessagePath, frame.Path)
	assert.Equal(t, []byte{0x01, 0x02}, frame.Payload)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv, "node=watch-1")
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 10*time.Millisecond)

	err := hub.Send(context.Background(), models.Endpoint{ID: "watch-1"}, MessagePath, nil)
	assert.True(t, utils.HasCode(err, utils.ErrCodeRelay))
}

func TestHubRequiresNode(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
