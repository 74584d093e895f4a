package presenter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	firebase "firebase.google.com/go/v4"
	fcm "firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type fakeFCMClient struct {
	batches   [][]string
	failToken string
	err       error
	topicMsg  *fcm.Message
}

func (f *fakeFCMClient) SendEachForMulticast(_ context.Context, m *fcm.MulticastMessage) (*fcm.BatchResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, m.Tokens)
	br := &fcm.BatchResponse{}
	for _, token := range m.Tokens {
		if token == f.failToken {
			br.FailureCount++
			br.Responses = append(br.Responses, &fcm.SendResponse{Error: errors.New("internal error")})
			continue
		}
		br.SuccessCount++
		br.Responses = append(br.Responses, &fcm.SendResponse{Success: true, MessageID: "m-" + token})
	}
	return br, nil
}

func (f *fakeFCMClient) Send(_ context.Context, m *fcm.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.topicMsg = m
	return "topic-msg", nil
}

func tokensN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("t%04d", i)
	}
	return out
}

func TestFCMSender_Batches(t *testing.T) {
	client := &fakeFCMClient{}
	s := newFCMSenderWithClient(client, zap.NewNop())

	invalid, err := s.Send(context.Background(), tokensN(1201), testMessage)
	require.NoError(t, err)
	assert.Empty(t, invalid)

	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[0], 500)
	assert.Len(t, client.batches[1], 500)
	assert.Len(t, client.batches[2], 201)
	assert.Equal(t, "t1200", client.batches[2][200])
}

func TestFCMSender_DeliveryFailure(t *testing.T) {
	client := &fakeFCMClient{failToken: "t0001"}
	s := newFCMSenderWithClient(client, zap.NewNop())

	_, err := s.Send(context.Background(), tokensN(3), testMessage)
	assert.ErrorContains(t, err, "1 из 3")
}

func TestFCMSender_RequestError(t *testing.T) {
	s := newFCMSenderWithClient(&fakeFCMClient{err: errors.New("unauthenticated")}, zap.NewNop())
	_, err := s.Send(context.Background(), tokensN(1), testMessage)
	assert.ErrorContains(t, err, "unauthenticated")
}

func TestFCMSender_SendToTopic(t *testing.T) {
	client := &fakeFCMClient{}
	s := newFCMSenderWithClient(client, zap.NewNop())

	msg := testMessage
	msg.Image = "https://img"
	require.NoError(t, s.SendToTopic(context.Background(), "news", msg))

	require.NotNil(t, client.topicMsg)
	assert.Equal(t, "news", client.topicMsg.Topic)
	assert.Equal(t, "New chapter", client.topicMsg.Notification.Title)
	assert.Equal(t, "Read now", client.topicMsg.Notification.Body)
	assert.Equal(t, "https://img", client.topicMsg.Notification.ImageURL)
	assert.Equal(t, "https://img", client.topicMsg.Webpush.Notification.Image)
	assert.Equal(t, map[string]string{"story_id": "s1"}, client.topicMsg.Data)
}

func TestFCMSender_Platforms(t *testing.T) {
	s := newFCMSenderWithClient(&fakeFCMClient{}, zap.NewNop())
	assert.ElementsMatch(t, []string{PlatformAndroid, PlatformWeb}, s.Platforms())
}

// fcmErrorBody - ответ FCM v1 с ошибкой конкретного кода.
func fcmErrorBody(status, code string) string {
	return fmt.Sprintf(`{"error":{"status":%q,"message":"error","details":[`+
		`{"@type":"type.googleapis.com/google.firebase.fcm.v1.FcmError","errorCode":%q}]}}`, status, code)
}

// newFCMTestServer отвечает по токену из запроса: gone - UNREGISTERED, mismatch - SENDER_ID_MISMATCH,
// badmsg - INVALID_ARGUMENT, остальные - успех.
func newFCMTestServer(t *testing.T) *FCMSender {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message struct {
				Token string `json:"token"`
			} `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Message.Token {
		case "gone":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(fcmErrorBody("NOT_FOUND", "UNREGISTERED")))
		case "mismatch":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(fcmErrorBody("PERMISSION_DENIED", "SENDER_ID_MISMATCH")))
		case "badmsg":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(fcmErrorBody("INVALID_ARGUMENT", "INVALID_ARGUMENT")))
		default:
			_, _ = w.Write([]byte(`{"name":"projects/test-project/messages/1"}`))
		}
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: "test-project"},
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	client, err := app.Messaging(ctx)
	require.NoError(t, err)
	return newFCMSenderWithClient(client, zap.NewNop())
}

func TestFCMSender_InvalidTokens(t *testing.T) {
	s := newFCMTestServer(t)

	invalid, err := s.Send(context.Background(), []string{"ok", "gone", "mismatch"}, testMessage)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gone", "mismatch"}, invalid)
}

func TestFCMSender_InvalidArgumentKeepsTokens(t *testing.T) {
	s := newFCMTestServer(t)

	invalid, err := s.Send(context.Background(), []string{"badmsg", "ok"}, testMessage)
	assert.Empty(t, invalid)
	assert.ErrorContains(t, err, "1 из 2")
}
