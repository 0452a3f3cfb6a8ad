package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
	chatservice "github.com/andreluisaguiar/chatbot-distribuido/internal/service/chat"
)

type fakeModel struct {
	mu    sync.Mutex
	input []*schema.Message
	reply string
	err   error
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestEchoResponder(t *testing.T) {
	at := time.Date(2025, 3, 1, 14, 5, 9, 0, time.UTC)
	r := EchoResponder{Now: func() time.Time { return at }}

	reply, err := r.Reply(context.Background(), nil, "Olá")
	require.NoError(t, err)
	assert.Equal(t, "Resposta do Bot para 'Olá'. Processado pelo Worker em 14:05:09", reply)
}

func TestBuildHistory(t *testing.T) {
	var messages []chat.Message
	for i := 0; i < 12; i++ {
		messages = append(messages, chat.Message{Sender: chat.SenderUser, Content: "u"})
		messages = append(messages, chat.Message{Sender: chat.SenderSystem, Content: "ack"})
		messages = append(messages, chat.Message{Sender: chat.SenderBot, Content: "b"})
	}

	history := buildHistory(messages)
	// the last ten turns hold 3 user, 3 system and 4 bot messages
	require.Len(t, history, 7)
	assert.Equal(t, schema.Assistant, history[len(history)-1].Role)
	for _, msg := range history {
		assert.NotEqual(t, schema.System, msg.Role)
	}

	assert.Nil(t, buildHistory(nil))
}

func TestServiceReply(t *testing.T) {
	model := &fakeModel{reply: "  Oi! Tudo bem?  "}
	svc, err := NewService(context.Background(), model, "seja breve")
	require.NoError(t, err)

	reply, err := svc.Reply(context.Background(), []chat.Message{
		{Sender: chat.SenderUser, Content: "primeira"},
		{Sender: chat.SenderBot, Content: "resposta"},
	}, "segunda")
	require.NoError(t, err)
	assert.Equal(t, "Oi! Tudo bem?", reply)

	model.mu.Lock()
	defer model.mu.Unlock()
	require.Len(t, model.input, 4)
	assert.Equal(t, schema.System, model.input[0].Role)
	assert.Equal(t, "seja breve", model.input[0].Content)
	assert.Equal(t, "segunda", model.input[3].Content)
}

type failingResponder struct{}

func (failingResponder) Reply(context.Context, []chat.Message, string) (string, error) {
	return "", errors.New("model down")
}

func TestDispatcherDeliversReplies(t *testing.T) {
	ctx := context.Background()
	transcript := chatservice.NewService()
	session := transcript.OpenSession(ctx, "user-1")
	_, err := transcript.SaveMessage(ctx, chat.Message{SessionID: session.ID, Sender: chat.SenderUser, Content: "Olá"})
	require.NoError(t, err)

	delivered := make(chan chat.Message, 1)
	d := NewDispatcher(EchoResponder{}, transcript, DispatcherOptions{
		Workers: 2,
		Delay:   10 * time.Millisecond,
		Deliver: func(reply chat.Message) { delivered <- reply },
	})
	defer d.Stop()

	require.NoError(t, d.Submit(Job{SessionID: session.ID, Prompt: "Olá"}))

	select {
	case reply := <-delivered:
		assert.Equal(t, chat.SenderBot, reply.Sender)
		assert.Contains(t, reply.Content, "Resposta do Bot para 'Olá'")
	case <-time.After(2 * time.Second):
		t.Fatal("no reply delivered")
	}

	stored, err := transcript.LoadTranscript(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, chat.SenderBot, stored[1].Sender)
}

func TestDispatcherFallsBackOnResponderError(t *testing.T) {
	ctx := context.Background()
	transcript := chatservice.NewService()
	session := transcript.OpenSession(ctx, "user-1")

	delivered := make(chan chat.Message, 1)
	observed := make(chan error, 1)
	d := NewDispatcher(failingResponder{}, transcript, DispatcherOptions{
		Deliver: func(reply chat.Message) { delivered <- reply },
		Observe: func(err error, _ time.Duration) { observed <- err },
	})
	defer d.Stop()

	require.NoError(t, d.Submit(Job{SessionID: session.ID, Prompt: "oi"}))

	select {
	case reply := <-delivered:
		assert.Equal(t, FallbackReply, reply.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no fallback delivered")
	}
	assert.Error(t, <-observed)
}

func TestDispatcherStop(t *testing.T) {
	d := NewDispatcher(EchoResponder{}, chatservice.NewService(), DispatcherOptions{QueueSize: 1, Delay: time.Hour})
	require.NoError(t, d.Submit(Job{SessionID: "s", Prompt: "a"}))

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	assert.ErrorIs(t, d.Submit(Job{SessionID: "s", Prompt: "b"}), ErrStopped)
	d.Stop()
}
