package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestClassify 测试上行主题授权与分类
func TestClassify(t *testing.T) {
	tests := []struct {
		topic string
		kind  Kind
		ok    bool
	}{
		{"pet/pet001/telemetry", Telemetry, true},
		{"pet/pet001/cmd/ack", Ack, true},
		{"pet/pet001/event", Event, true},
		{"pet/pet002/telemetry", 0, false},
		{"pet/pet001/cmd", 0, false},
		{"pet/pet001/telemetry/extra", 0, false},
		{"pet/+/telemetry", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		kind, ok := Classify("pet001", tt.topic)
		assert.Equal(t, tt.ok, ok, tt.topic)
		assert.Equal(t, tt.kind, kind, tt.topic)
	}
}

// TestCanSubscribe 测试订阅授权
func TestCanSubscribe(t *testing.T) {
	assert.True(t, CanSubscribe("pet001", "pet/pet001/cmd"))
	assert.False(t, CanSubscribe("pet001", "pet/pet002/cmd"))
	assert.False(t, CanSubscribe("pet001", "pet/#"))
	assert.False(t, CanSubscribe("pet001", "pet/pet001/cmd/ack"))
}

// TestKind_String 测试类别名
func TestKind_String(t *testing.T) {
	assert.Equal(t, "telemetry", Telemetry.String())
	assert.Equal(t, "ack", Ack.String())
	assert.Equal(t, "event", Event.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
