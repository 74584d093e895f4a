package presenter

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"push-relay/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockTokenProvider struct{ mock.Mock }

func (m *mockTokenProvider) GetUserDeviceTokens(ctx context.Context, userID string) ([]DeviceToken, error) {
	args := m.Called(ctx, userID)
	tokens, _ := args.Get(0).([]DeviceToken)
	return tokens, args.Error(1)
}

type mockSender struct {
	mock.Mock
	platforms []string
}

func (m *mockSender) Platforms() []string { return m.platforms }

func (m *mockSender) Send(ctx context.Context, tokens []string, msg Message) ([]string, error) {
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	args := m.Called(ctx, sorted, msg)
	invalid, _ := args.Get(0).([]string)
	return invalid, args.Error(1)
}

type mockTopicSender struct{ mock.Mock }

func (m *mockTopicSender) SendToTopic(ctx context.Context, topic string, msg Message) error {
	return m.Called(ctx, topic, msg).Error(0)
}

type recordingReporter struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (r *recordingReporter) PublishTokenDeletion(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	return r.err
}

var testNotification = relay.DisplayNotification{
	UserID: "u1",
	Title:  "New chapter",
	Options: relay.NotificationOptions{
		Body: "Read now",
		Data: map[string]string{"story_id": "s1"},
	},
}

var testMessage = Message{Title: "New chapter", Body: "Read now", Data: map[string]string{"story_id": "s1"}}

func TestPlatformPresenter_GroupsByPlatform(t *testing.T) {
	tokens := &mockTokenProvider{}
	tokens.On("GetUserDeviceTokens", mock.Anything, "u1").Return([]DeviceToken{
		{Token: "a2", Platform: PlatformAndroid},
		{Token: "i1", Platform: PlatformIOS},
		{Token: "a1", Platform: PlatformAndroid},
		{Token: "w1", Platform: PlatformWeb},
		{Token: "x1", Platform: "windows"},
	}, nil)

	fcm := &mockSender{platforms: []string{PlatformAndroid, PlatformWeb}}
	fcm.On("Send", mock.Anything, []string{"a1", "a2"}, testMessage).Return([]string{"a2"}, nil).Once()
	fcm.On("Send", mock.Anything, []string{"w1"}, testMessage).Return(nil, nil).Once()
	apns := &mockSender{platforms: []string{PlatformIOS}}
	apns.On("Send", mock.Anything, []string{"i1"}, testMessage).Return([]string{"i1"}, nil).Once()

	reporter := &recordingReporter{}
	p := NewPlatformPresenter(tokens, zap.NewNop(), []PlatformSender{fcm, apns}, WithInvalidTokenReporter(reporter))

	require.NoError(t, p.ShowNotification(context.Background(), testNotification))

	tokens.AssertExpectations(t)
	fcm.AssertExpectations(t)
	apns.AssertExpectations(t)
	assert.ElementsMatch(t, []string{"a2", "i1"}, reporter.tokens)
}

func TestPlatformPresenter_NoTokens(t *testing.T) {
	tokens := &mockTokenProvider{}
	tokens.On("GetUserDeviceTokens", mock.Anything, "u1").Return(nil, nil)
	fcm := &mockSender{platforms: []string{PlatformAndroid}}

	p := NewPlatformPresenter(tokens, nil, []PlatformSender{fcm, nil})
	require.NoError(t, p.ShowNotification(context.Background(), testNotification))
	fcm.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestPlatformPresenter_TokenLookupError(t *testing.T) {
	tokens := &mockTokenProvider{}
	tokens.On("GetUserDeviceTokens", mock.Anything, "u1").Return(nil, errors.New("auth down"))

	p := NewPlatformPresenter(tokens, zap.NewNop(), nil)
	err := p.ShowNotification(context.Background(), testNotification)
	assert.ErrorIs(t, err, ErrTokenLookup)
	assert.ErrorContains(t, err, "auth down")
}

func TestPlatformPresenter_SendError(t *testing.T) {
	tokens := &mockTokenProvider{}
	tokens.On("GetUserDeviceTokens", mock.Anything, "u1").Return([]DeviceToken{
		{Token: "a1", Platform: PlatformAndroid},
		{Token: "i1", Platform: PlatformIOS},
	}, nil)

	sendErr := errors.New("fcm unavailable")
	fcm := &mockSender{platforms: []string{PlatformAndroid}}
	fcm.On("Send", mock.Anything, []string{"a1"}, testMessage).Return(nil, sendErr)
	apns := &mockSender{platforms: []string{PlatformIOS}}
	apns.On("Send", mock.Anything, []string{"i1"}, testMessage).Return(nil, nil)

	p := NewPlatformPresenter(tokens, zap.NewNop(), []PlatformSender{fcm, apns})
	err := p.ShowNotification(context.Background(), testNotification)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSend)
	assert.ErrorIs(t, err, sendErr)
	apns.AssertExpectations(t)
}

func TestPlatformPresenter_ReporterErrorIsNotFatal(t *testing.T) {
	tokens := &mockTokenProvider{}
	tokens.On("GetUserDeviceTokens", mock.Anything, "u1").Return([]DeviceToken{{Token: "i1", Platform: PlatformIOS}}, nil)
	apns := &mockSender{platforms: []string{PlatformIOS}}
	apns.On("Send", mock.Anything, []string{"i1"}, testMessage).Return([]string{"i1"}, nil)

	reporter := &recordingReporter{err: errors.New("amqp closed")}
	p := NewPlatformPresenter(tokens, zap.NewNop(), []PlatformSender{apns}, WithInvalidTokenReporter(reporter))

	require.NoError(t, p.ShowNotification(context.Background(), testNotification))
	assert.Equal(t, []string{"i1"}, reporter.tokens)
}

func TestPlatformPresenter_Broadcast(t *testing.T) {
	broadcast := testNotification
	broadcast.UserID = ""

	t.Run("topic configured", func(t *testing.T) {
		topic := &mockTopicSender{}
		topic.On("SendToTopic", mock.Anything, "all", testMessage).Return(nil).Once()
		tokens := &mockTokenProvider{}

		p := NewPlatformPresenter(tokens, zap.NewNop(), nil, WithBroadcast("all", topic))
		require.NoError(t, p.ShowNotification(context.Background(), broadcast))
		topic.AssertExpectations(t)
		tokens.AssertNotCalled(t, "GetUserDeviceTokens", mock.Anything, mock.Anything)
	})

	t.Run("topic error", func(t *testing.T) {
		topic := &mockTopicSender{}
		topic.On("SendToTopic", mock.Anything, "all", testMessage).Return(errors.New("quota"))

		p := NewPlatformPresenter(&mockTokenProvider{}, zap.NewNop(), nil, WithBroadcast("all", topic))
		assert.ErrorIs(t, p.ShowNotification(context.Background(), broadcast), ErrSend)
	})

	t.Run("no topic", func(t *testing.T) {
		p := NewPlatformPresenter(&mockTokenProvider{}, zap.NewNop(), nil)
		assert.NoError(t, p.ShowNotification(context.Background(), broadcast))
	})
}

func TestTokenPrefix(t *testing.T) {
	assert.Equal(t, "short", tokenPrefix("short"))
	assert.Equal(t, "0123456789...", tokenPrefix("0123456789abcdef"))
}
