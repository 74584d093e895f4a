package presenter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAPNSClient struct {
	mu        sync.Mutex
	pushed    []*apns2.Notification
	responses map[string]*apns2.Response
	errs      map[string]error
}

func (f *fakeAPNSClient) PushWithContext(_ apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, n)
	if err := f.errs[n.DeviceToken]; err != nil {
		return nil, err
	}
	if res, ok := f.responses[n.DeviceToken]; ok {
		return res, nil
	}
	return &apns2.Response{StatusCode: apns2.StatusSent, ApnsID: "id-" + n.DeviceToken}, nil
}

func TestAPNSSender_Send(t *testing.T) {
	client := &fakeAPNSClient{
		responses: map[string]*apns2.Response{
			"gone": {StatusCode: 410, Reason: apns2.ReasonUnregistered},
			"bad":  {StatusCode: 400, Reason: apns2.ReasonBadDeviceToken},
		},
	}
	s := newAPNSSenderWithClient(client, "com.example.app", zap.NewNop())

	invalid, err := s.Send(context.Background(), []string{"ok1", "gone", "ok2", "bad"}, testMessage)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gone", "bad"}, invalid)

	require.Len(t, client.pushed, 4)
	for _, n := range client.pushed {
		assert.Equal(t, "com.example.app", n.Topic)
		assert.Equal(t, apns2.PriorityHigh, n.Priority)
		assert.Equal(t, apns2.PushTypeAlert, n.PushType)
	}
}

func TestAPNSSender_Failures(t *testing.T) {
	client := &fakeAPNSClient{
		responses: map[string]*apns2.Response{
			"throttled": {StatusCode: 429, Reason: apns2.ReasonTooManyRequests},
		},
		errs: map[string]error{"down": errors.New("dial tcp: timeout")},
	}
	s := newAPNSSenderWithClient(client, "com.example.app", zap.NewNop())

	invalid, err := s.Send(context.Background(), []string{"ok", "throttled", "down"}, testMessage)
	require.Error(t, err)
	assert.Empty(t, invalid)
	assert.ErrorContains(t, err, "2 из 3")
}

func TestBuildAPNSPayload(t *testing.T) {
	msg := testMessage
	msg.Image = "https://img"

	raw, err := json.Marshal(buildAPNSPayload(msg))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	aps, ok := decoded["aps"].(map[string]any)
	require.True(t, ok)
	alert, ok := aps["alert"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "New chapter", alert["title"])
	assert.Equal(t, "Read now", alert["body"])
	assert.EqualValues(t, 1, aps["mutable-content"])
	assert.Equal(t, "https://img", decoded["image"])
	assert.Equal(t, "s1", decoded["story_id"])
}
