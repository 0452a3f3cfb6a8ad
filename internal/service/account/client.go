package account

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/user"
)

const apiPrefix = "/api/v1"

// Options configure a Client.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	Retries      int // extra attempts after a transport failure
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	RateLimit    float64 // requests per second, zero is unlimited
	Logger       *zerolog.Logger
}

// Client talks to the user REST API. A response is never retried; only
// requests that got no response at all are.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	root    string
	log     zerolog.Logger

	mu    sync.RWMutex
	token string
}

// New builds a client for the backend rooted at opts.BaseURL.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 200 * time.Millisecond
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = 2 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = nil
	retryClient.CheckRetry = retryTransportFailures
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	root := strings.TrimRight(opts.BaseURL, "/")
	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(root+apiPrefix).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "chatbot-distribuido-cli/1.0")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		root:    root,
		log:     logger.With().Str("component", "account").Logger(),
	}
}

// retryTransportFailures retries only when no response came back.
func retryTransportFailures(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err != nil && resp == nil, nil
}

// SetToken installs the bearer token used by authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, req user.RegisterRequest) (user.LoginResponse, error) {
	var out user.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/users/register", false, req, &out, nil); err != nil {
		return user.LoginResponse{}, err
	}
	c.SetToken(out.AccessToken)
	return out, nil
}

// Login exchanges email and password for a token and a chat session.
func (c *Client) Login(ctx context.Context, email, senha string) (user.LoginResponse, error) {
	var out user.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/users/login", false, user.LoginRequest{Email: email, Senha: senha}, &out, nil); err != nil {
		return user.LoginResponse{}, err
	}
	c.SetToken(out.AccessToken)
	return out, nil
}

// CurrentUser fetches the signed-in user.
func (c *Client) CurrentUser(ctx context.Context) (user.User, error) {
	var out user.User
	err := c.do(ctx, http.MethodGet, "/users/me", true, nil, &out, nil)
	return out, err
}

// UpdateUser changes the signed-in user's profile.
func (c *Client) UpdateUser(ctx context.Context, req user.UpdateRequest) (user.User, error) {
	var out user.User
	err := c.do(ctx, http.MethodPut, "/users/me", true, req, &out, nil)
	return out, err
}

// ListUsers pages through all users.
func (c *Client) ListUsers(ctx context.Context, skip, limit int) (user.UserList, error) {
	var out user.UserList
	err := c.do(ctx, http.MethodGet, "/users", true, nil, &out, func(r *resty.Request) {
		r.SetQueryParam("skip", strconv.Itoa(max(skip, 0)))
		if limit > 0 {
			r.SetQueryParam("limit", strconv.Itoa(limit))
		}
	})
	return out, err
}

// GetUser fetches one user by id.
func (c *Client) GetUser(ctx context.Context, id string) (user.User, error) {
	var out user.User
	err := c.do(ctx, http.MethodGet, "/users/{id}", true, nil, &out, func(r *resty.Request) {
		r.SetPathParam("id", id)
	})
	return out, err
}

// DeleteCurrentUser deactivates the signed-in user.
func (c *Client) DeleteCurrentUser(ctx context.Context) (user.MessageResponse, error) {
	var out user.MessageResponse
	err := c.do(ctx, http.MethodDelete, "/users/me", true, nil, &out, nil)
	return out, err
}

// PostChatMessage hands a message to the HTTP gateway, which queues it for
// the bot and answers over the session's socket.
func (c *Client) PostChatMessage(ctx context.Context, sessionID, message string) (chat.GatewayAccepted, error) {
	var out chat.GatewayAccepted
	err := c.do(ctx, http.MethodPost, "/chat", false, chat.GatewayRequest{UserID: sessionID, Message: message}, &out, nil)
	return out, err
}

// Health pings the backend's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.root+"/health", false, nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, authenticated bool, body, result any, configure func(*resty.Request)) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req := c.resty.R().SetContext(ctx)
	if authenticated {
		token := c.Token()
		if token == "" {
			return ErrNotAuthenticated
		}
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if configure != nil {
		configure(req)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.log.Warn().Err(err).Msgf("[account] %s %s got no response", method, path)
		return fmt.Errorf("%w: %w", ErrServerUnreachable, err)
	}

	if resp.IsError() {
		apiErr := newAPIError(resp.StatusCode(), resp.Body())
		c.log.Debug().Int("status", apiErr.Status).Msgf("[account] %s %s failed: %s", method, path, apiErr.Error())
		return apiErr
	}

	if result == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), result); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
