package ai

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
)

var (
	ErrQueueFull = errors.New("bot queue is full")
	ErrStopped   = errors.New("bot dispatcher stopped")
)

// FallbackReply is sent when the responder fails.
const FallbackReply = "Desculpe, não consegui processar sua mensagem agora."

// Transcript is the slice of the chat service the workers need.
type Transcript interface {
	LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error)
	SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error)
}

// Job asks for a bot reply to Prompt in SessionID.
type Job struct {
	SessionID string
	Prompt    string
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Workers   int
	QueueSize int
	Delay     time.Duration
	Timeout   time.Duration

	// Deliver receives every stored bot reply.
	Deliver func(reply chat.Message)
	// Observe is told how each job ended.
	Observe func(err error, elapsed time.Duration)
}

// Dispatcher runs bot replies on a fixed pool of workers so a slow model
// never blocks the socket that submitted the prompt.
type Dispatcher struct {
	responder  Responder
	transcript Transcript
	opts       DispatcherOptions

	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher starts opts.Workers workers.
func NewDispatcher(responder Responder, transcript Transcript, opts DispatcherOptions) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		responder:  responder,
		transcript: transcript,
		opts:       opts,
		jobs:       make(chan Job, opts.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return d
}

// Submit enqueues job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels pending work and waits for the workers to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	logger := log.With().Int("worker", id).Logger()

	for job := range d.jobs {
		if d.ctx.Err() != nil {
			continue
		}

		start := time.Now()
		err := d.handle(job)
		if err != nil {
			logger.Warn().Err(err).Str("session", job.SessionID).Msg("[bot] reply failed")
		} else {
			logger.Debug().Str("session", job.SessionID).Dur("elapsed", time.Since(start)).Msg("[bot] reply delivered")
		}
		if d.opts.Observe != nil {
			d.opts.Observe(err, time.Since(start))
		}
	}
}

func (d *Dispatcher) handle(job Job) error {
	ctx, cancel := context.WithTimeout(d.ctx, d.opts.Timeout)
	defer cancel()

	if d.opts.Delay > 0 {
		timer := time.NewTimer(d.opts.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	history, err := d.transcript.LoadTranscript(ctx, job.SessionID)
	if err != nil {
		return err
	}
	// the prompt itself is already the last stored turn
	if n := len(history); n > 0 && history[n-1].Sender == chat.SenderUser && history[n-1].Content == job.Prompt {
		history = history[:n-1]
	}

	content, replyErr := d.responder.Reply(ctx, history, job.Prompt)
	if replyErr != nil || content == "" {
		content = FallbackReply
	}

	reply, err := d.transcript.SaveMessage(ctx, chat.Message{
		SessionID: job.SessionID,
		Sender:    chat.SenderBot,
		Content:   content,
	})
	if err != nil {
		return err
	}
	if d.opts.Deliver != nil {
		d.opts.Deliver(reply)
	}
	return replyErr
}
