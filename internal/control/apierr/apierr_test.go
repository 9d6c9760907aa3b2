package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWrite_BusinessError 测试业务错误响应
func TestWrite_BusinessError(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, New(CommandNotRetryable).WithDetails(map[string]any{"status": "SENT"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "A0441", body.Code)
	assert.Equal(t, "Command is not retryable", body.Message)
	assert.Equal(t, "SENT", body.Details["status"])

	t.Log("✅ 业务错误响应格式正确")
}

// TestWrite_UnknownError 测试未知错误按内部错误处理
func TestWrite_UnknownError(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"code":"B0001","message":"Internal server error","details":null}`, rec.Body.String())
}

// TestError_IsAndWrap 测试错误比较与包装
func TestError_IsAndWrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("dispatch: %w", Wrap(GatewayUnavailable, cause))

	assert.ErrorIs(t, err, New(GatewayUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, New(CommandNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, CodeOf(err).Status)
	assert.Equal(t, InternalError, CodeOf(cause))

	assert.Equal(t, "A0400 deviceId mismatch", Newf(InvalidRequest, "deviceId mismatch").Error())
}
