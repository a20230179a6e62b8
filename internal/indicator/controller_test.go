package indicator

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCommandPublisher 仅用于单元测试
type fakeCommandPublisher struct {
	mu       sync.Mutex
	commands []publishedCommand
	failOn   string // 匹配的 indicator 值发布失败
}

type publishedCommand struct {
	topic string
	state desiredState
}

func (f *fakeCommandPublisher) Publish(topic string, payload []byte) error {
	var state desiredState
	if err := json.Unmarshal(payload, &state); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == state.Indicator {
		return errors.New("publish failed")
	}
	f.commands = append(f.commands, publishedCommand{topic: topic, state: state})
	return nil
}

func (f *fakeCommandPublisher) snapshot() []publishedCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedCommand(nil), f.commands...)
}

func TestActivate_PulseThenScheduledOff(t *testing.T) {
	publisher := &fakeCommandPublisher{}
	controller := NewController(publisher, "geolock/device/%s/command", 5, 20*time.Millisecond, zap.NewNop())

	controller.Activate("device-1")

	commands := publisher.snapshot()
	require.Len(t, commands, 1)
	assert.Equal(t, "geolock/device/device-1/command", commands[0].topic)
	assert.Equal(t, "pulse", commands[0].state.Indicator)
	assert.Equal(t, 5, commands[0].state.Repeat)

	// 等待延迟关闭指令
	assert.Eventually(t, func() bool {
		return len(publisher.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	commands = publisher.snapshot()
	assert.Equal(t, "off", commands[1].state.Indicator)
	assert.Equal(t, 0, commands[1].state.Repeat)
}

func TestActivate_OffSentEvenWhenActivationFails(t *testing.T) {
	publisher := &fakeCommandPublisher{failOn: "pulse"}
	controller := NewController(publisher, "geolock/device/%s/command", 5, 20*time.Millisecond, zap.NewNop())

	controller.Activate("device-1")

	// 激活失败不取消延迟关闭
	assert.Eventually(t, func() bool {
		commands := publisher.snapshot()
		return len(commands) == 1 && commands[0].state.Indicator == "off"
	}, time.Second, 5*time.Millisecond)
}

func TestActivate_DeactivationFailureOnlyLogged(t *testing.T) {
	publisher := &fakeCommandPublisher{failOn: "off"}
	controller := NewController(publisher, "geolock/device/%s/command", 5, 10*time.Millisecond, zap.NewNop())

	controller.Activate("device-1")

	time.Sleep(50 * time.Millisecond)

	// 只有激活指令成功，关闭失败不重试
	commands := publisher.snapshot()
	require.Len(t, commands, 1)
	assert.Equal(t, "pulse", commands[0].state.Indicator)
}
