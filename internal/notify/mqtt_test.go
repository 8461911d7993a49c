package notify

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/config"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(mqtt.Token)
}

func (m *mockClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

// doneToken is an already completed token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func TestMQTTNotifier_PublishStatus(t *testing.T) {
	client := &mockClient{}
	n := NewNotifier(client, config.MQTTConfig{Topic: "openpadcore/status/", QoS: 1}, zap.NewNop())

	rec := storage.PadStatus{PadCode: "D1", CurrentStatus: "app started", RunCount: 2}
	client.On("Publish", "openpadcore/status/D1", byte(1), true, mock.MatchedBy(func(payload []byte) bool {
		var got storage.PadStatus
		if err := json.Unmarshal(payload, &got); err != nil {
			return false
		}
		return got.CurrentStatus == "app started" && got.RunCount == 2
	})).Return(doneToken{}).Once()

	n.PublishStatus(rec)
	client.AssertExpectations(t)
}

func TestMQTTNotifier_PublishFailureIsNotFatal(t *testing.T) {
	client := &mockClient{}
	n := NewNotifier(client, config.MQTTConfig{Topic: "pads"}, zap.NewNop())

	client.On("Publish", "pads/D2", byte(0), true, mock.Anything).
		Return(doneToken{err: errors.New("not connected")}).Twice()

	require.NotPanics(t, func() {
		n.PublishStatus(storage.PadStatus{PadCode: "D2"})
		n.PublishStatus(storage.PadStatus{PadCode: "D2"})
	})
	client.AssertNumberOfCalls(t, "Publish", 2)
}

func TestMQTTNotifier_Close(t *testing.T) {
	client := &mockClient{}
	client.On("Disconnect", uint(disconnectQuiesce)).Return().Once()

	n := NewNotifier(client, config.MQTTConfig{Topic: "pads"}, zap.NewNop())
	assert.Equal(t, "pads/D1", n.Topic("D1"))
	n.Close()
	client.AssertExpectations(t)
}
