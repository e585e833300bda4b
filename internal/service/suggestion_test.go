package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"wadispatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSuggester struct {
	mock.Mock
}

func (m *mockSuggester) Suggest(ctx context.Context, req SuggestionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func TestSuggestionClient_PostsRequest(t *testing.T) {
	var got SuggestionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/suggest", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reply":"  Thanks, we will call you.  "}`))
	}))
	defer server.Close()

	client := NewSuggestionClient(models.SuggestionConfig{URL: server.URL + "/", APIKey: "secret"})
	reply, err := client.Suggest(context.Background(), SuggestionRequest{MessageID: "m1", ContactID: "c1", Text: "call me"})
	require.NoError(t, err)
	assert.Equal(t, "Thanks, we will call you.", reply)
	assert.Equal(t, "call me", got.Text)
}

func TestSuggestionClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewSuggestionClient(models.SuggestionConfig{URL: server.URL})
	_, err := client.Suggest(context.Background(), SuggestionRequest{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func storeInboundText(t *testing.T, env *testEnv, contact *models.Contact, body string) *models.Message {
	t.Helper()
	msg := &models.Message{
		ID:          "in-1",
		ContactID:   contact.ID,
		Channel:     models.ChannelWhatsApp,
		Direction:   models.DirectionInbound,
		MessageType: models.MessageTypeText,
		Content:     body,
		Status:      models.StatusReceived,
	}
	require.NoError(t, env.store.Put(context.Background(), env.store.Tables().Messages, msg.ID, msg))
	return msg
}

func TestSuggestionService_Modes(t *testing.T) {
	ctx := context.Background()

	t.Run("suggest stores the reply", func(t *testing.T) {
		env := newTestEnv(t)
		contact := env.freshContact(t, "919876543210")
		msg := storeInboundText(t, env, contact, "price?")
		suggester := &mockSuggester{}
		suggester.On("Suggest", mock.Anything, mock.MatchedBy(func(r SuggestionRequest) bool { return r.Text == "price?" && r.Name == "Asha" })).
			Return("It is 500 rupees.", nil).Once()
		sender := &stubSender{}

		svc := NewSuggestionService(suggester, env.sysconfig, sender, env.store, env.logger)
		require.NoError(t, svc.Handle(ctx, msg, contact, testPhoneID))

		var stored models.Message
		require.NoError(t, env.store.Get(ctx, env.store.Tables().Messages, msg.ID, &stored))
		assert.Equal(t, "It is 500 rupees.", stored.SuggestedReply)
		assert.Empty(t, sender.requests)
		suggester.AssertExpectations(t)
	})

	t.Run("auto reply sends through the engine", func(t *testing.T) {
		env := newTestEnv(t)
		contact := env.freshContact(t, "919876543210")
		msg := storeInboundText(t, env, contact, "price?")
		_, err := env.sysconfig.Put(ctx, models.ConfigKeyAI, json.RawMessage(`{"mode":"auto_reply","language":"en"}`))
		require.NoError(t, err)
		suggester := &mockSuggester{}
		suggester.On("Suggest", mock.Anything, mock.Anything).Return("It is 500 rupees.", nil).Once()
		sender := &stubSender{}

		svc := NewSuggestionService(suggester, env.sysconfig, sender, env.store, env.logger)
		require.NoError(t, svc.Handle(ctx, msg, contact, testPhoneID))

		require.Len(t, sender.requests, 1)
		assert.Equal(t, "It is 500 rupees.", sender.requests[0].Content)
		assert.Equal(t, "suggestion", sender.requests[0].Source)
		assert.Equal(t, testPhoneID, sender.requests[0].PhoneNumberID)
	})

	t.Run("off skips the service", func(t *testing.T) {
		env := newTestEnv(t)
		contact := env.freshContact(t, "919876543210")
		msg := storeInboundText(t, env, contact, "price?")
		_, err := env.sysconfig.Put(ctx, models.ConfigKeyAI, json.RawMessage(`{"mode":"off"}`))
		require.NoError(t, err)
		suggester := &mockSuggester{}

		svc := NewSuggestionService(suggester, env.sysconfig, &stubSender{}, env.store, env.logger)
		require.NoError(t, svc.Handle(ctx, msg, contact, testPhoneID))
		suggester.AssertNotCalled(t, "Suggest", mock.Anything, mock.Anything)
	})

	t.Run("failure uses configured fallback", func(t *testing.T) {
		env := newTestEnv(t)
		contact := env.freshContact(t, "919876543210")
		msg := storeInboundText(t, env, contact, "price?")
		_, err := env.sysconfig.Put(ctx, models.ConfigKeyAI, json.RawMessage(`{"mode":"suggest","fallbacks":{"default":"We will get back to you."}}`))
		require.NoError(t, err)
		suggester := &mockSuggester{}
		suggester.On("Suggest", mock.Anything, mock.Anything).Return("", fmt.Errorf("timeout")).Once()

		svc := NewSuggestionService(suggester, env.sysconfig, &stubSender{}, env.store, env.logger)
		require.NoError(t, svc.Handle(ctx, msg, contact, testPhoneID))

		var stored models.Message
		require.NoError(t, env.store.Get(ctx, env.store.Tables().Messages, msg.ID, &stored))
		assert.Equal(t, "We will get back to you.", stored.SuggestedReply)
	})
}

func TestSystemConfig_AIConfigFallsBackToDefaultMode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.Equal(t, models.SuggestionSuggest, env.sysconfig.AIConfig(ctx).Mode)

	_, err := env.sysconfig.Put(ctx, models.ConfigKeyAI, json.RawMessage(`{"mode":"shout"}`))
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionSuggest, env.sysconfig.AIConfig(ctx).Mode)

	_, err = env.sysconfig.Put(ctx, "bad", json.RawMessage(`{not json`))
	assert.Error(t, err)
}
