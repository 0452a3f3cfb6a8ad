package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
)

// Responder produces the bot's reply to prompt given the session history.
type Responder interface {
	Reply(ctx context.Context, history []chat.Message, prompt string) (string, error)
}

// EchoResponder answers without a model, naming the prompt and the time the
// worker handled it.
type EchoResponder struct {
	Now func() time.Time
}

// Reply implements Responder.
func (e EchoResponder) Reply(_ context.Context, _ []chat.Message, prompt string) (string, error) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return fmt.Sprintf("Resposta do Bot para '%s'. Processado pelo Worker em %s", prompt, now().Format("15:04:05")), nil
}
