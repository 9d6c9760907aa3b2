package gwclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskpet/pet-gateway/internal/core/httpcall"
)

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(httpcall.New(srv.Client(), nil), Options{BaseURL: srv.URL, Token: "tk", Timeout: time.Second})
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

// TestClient_SendOK 测试 200 解析与请求格式
func TestClient_SendOK(t *testing.T) {
	var got SendRequest
	var token string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SendPath, r.URL.Path)
		token = r.Header.Get(HeaderInternalToken)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"reason":"SENT"}`))
	})

	res, err := c.Send(context.Background(), SendRequest{DeviceID: "pet001", Topic: "pet/pet001/cmd", QoS: 1, Payload: `{"reqId":"r1"}`})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.OK)
	assert.Equal(t, "SENT", res.Reason)
	assert.Equal(t, "tk", token)
	assert.Equal(t, "pet/pet001/cmd", got.Topic)
	assert.Equal(t, `{"reqId":"r1"}`, got.Payload)

	t.Log("✅ 200 响应解析正常")
}

// TestClient_Send409 测试 409 作为结构化结果返回
func TestClient_Send409(t *testing.T) {
	c := newClient(t, reply(http.StatusConflict, `{"ok":false,"reason":"OFFLINE"}`))

	res, err := c.Send(context.Background(), SendRequest{DeviceID: "pet001"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.OK)
	assert.Equal(t, "OFFLINE", res.Reason)
}

// TestClient_Send409Unparsable 测试 409 空响应体返回 nil
func TestClient_Send409Unparsable(t *testing.T) {
	for _, body := range []string{"", "not json"} {
		c := newClient(t, reply(http.StatusConflict, body))
		res, err := c.Send(context.Background(), SendRequest{DeviceID: "pet001"})
		require.NoError(t, err)
		assert.Nil(t, res, "body %q", body)
	}
}

// TestClient_SendStatusError 测试其他状态码作为错误返回
func TestClient_SendStatusError(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusBadRequest, http.StatusInternalServerError} {
		c := newClient(t, reply(status, `{"ok":false,"reason":"DISPATCH_FAILED"}`))
		res, err := c.Send(context.Background(), SendRequest{DeviceID: "pet001"})
		assert.Nil(t, res)

		var se *StatusError
		require.True(t, errors.As(err, &se), "status %d", status)
		assert.Equal(t, status, se.StatusCode)
	}
}

// TestClient_SendTransportError 测试网关不可达
func TestClient_SendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(httpcall.New(http.DefaultClient, nil), Options{BaseURL: url, Timeout: time.Second})
	res, err := c.Send(context.Background(), SendRequest{DeviceID: "pet001"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, httpcall.ErrTransport)

	t.Log("✅ 传输失败正确上报")
}
