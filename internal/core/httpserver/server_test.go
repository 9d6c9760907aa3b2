package httpserver

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServer_StartStop 测试启动、请求与关闭
func TestServer_StartStop(t *testing.T) {
	s := New("test", "127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))
	assert.Empty(t, s.Addr())

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrStarted)

	resp, err := http.Get("http://" + s.Addr())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	_, err = http.Get("http://" + s.Addr())
	assert.Error(t, err)

	t.Log("✅ HTTP 服务生命周期正常")
}

// TestServer_ListenError 测试端口冲突
func TestServer_ListenError(t *testing.T) {
	a := New("a", "127.0.0.1:0", http.NotFoundHandler())
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop(context.Background())

	b := New("b", a.Addr(), http.NotFoundHandler())
	assert.Error(t, b.Start(context.Background()))
}
