// Package auth owns the client session: registration, login and logout
// against the backend, plus the single error message shown by the login and
// registration screens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"moneymind/internal/api"
	"moneymind/internal/core"
	"moneymind/internal/dispatch"
	"moneymind/internal/log"
	"moneymind/internal/observe"
)

// RegisterPolicy decides what counts as a successful registration.
type RegisterPolicy string

const (
	// PolicyStatus accepts any 2xx response.
	PolicyStatus RegisterPolicy = "status"
	// PolicyBody also rejects a 2xx response whose body carries success:false.
	PolicyBody RegisterPolicy = "body"
)

func ParsePolicy(s string) (RegisterPolicy, error) {
	switch RegisterPolicy(s) {
	case PolicyStatus, PolicyBody:
		return RegisterPolicy(s), nil
	case "":
		return PolicyBody, nil
	default:
		return "", fmt.Errorf("unknown register policy %q", s)
	}
}

// Client is the part of the backend the gateway needs.
type Client interface {
	Register(ctx context.Context, cred core.Credentials) (api.RegisterAck, error)
	Login(ctx context.Context, username, password string) error
}

// State is the observable gateway state.
type State struct {
	Session      core.Session
	ErrorMessage string
}

type Gateway struct {
	client Client
	queue  *dispatch.Queue
	policy RegisterPolicy
	logger *log.Logger

	// state is written only on queue; mu guards the published copy.
	state State
	mu    sync.RWMutex
	snap  State
	bc    *observe.Broadcaster[State]
}

func NewGateway(client Client, queue *dispatch.Queue, policy RegisterPolicy, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Discard()
	}
	if policy == "" {
		policy = PolicyBody
	}
	return &Gateway{
		client: client,
		queue:  queue,
		policy: policy,
		logger: logger.WithComponent(log.ComponentAuth),
		bc:     observe.NewBroadcaster[State](),
	}
}

// Snapshot returns the latest committed state.
func (g *Gateway) Snapshot() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snap
}

// Subscribe delivers each committed state.
func (g *Gateway) Subscribe() (<-chan State, func()) {
	return g.bc.Subscribe()
}

// Register creates the account and, on success, authenticates as it.
func (g *Gateway) Register(ctx context.Context, cred core.Credentials) (core.Session, error) {
	ack, err := g.client.Register(ctx, cred)
	if err == nil && g.policy == PolicyBody && ack.Success != nil && !*ack.Success {
		msg := ack.Message
		if msg == "" {
			msg = "Registration failed"
		}
		err = &api.RejectedError{Op: api.OpRegister, Message: msg}
	}
	if err != nil {
		g.logger.WarnContext(ctx, "Registration failed",
			log.FieldUsername, cred.Username,
			log.FieldErrorType, api.ErrorType(err),
			log.FieldError, err)
		return g.fail(registerMessage(err), err)
	}

	session, err := core.NewSession(cred.Username)
	if err != nil {
		return g.fail("Username is required", err)
	}
	g.logger.InfoContext(ctx, "User registered", log.FieldUsername, cred.Username, "status", ack.Status)
	return session, g.succeed(session)
}

// Login authenticates with the backend. A failed login leaves the session
// unchanged and records the server's message.
func (g *Gateway) Login(ctx context.Context, username, password string) (core.Session, error) {
	if err := g.client.Login(ctx, username, password); err != nil {
		g.logger.WarnContext(ctx, "Login failed",
			log.FieldUsername, username,
			log.FieldErrorType, api.ErrorType(err),
			log.FieldError, err)
		return g.fail(api.Message(err), err)
	}

	session, err := core.NewSession(username)
	if err != nil {
		return g.fail("Username is required", err)
	}
	g.logger.InfoContext(ctx, "User logged in", log.FieldUsername, username)
	return session, g.succeed(session)
}

// Logout clears the session locally. The backend is not contacted.
func (g *Gateway) Logout() error {
	g.logger.Info("User logged out", log.FieldUsername, g.Snapshot().Session.Username)
	return g.commit(func(s *State) {
		*s = State{}
	})
}

func (g *Gateway) succeed(session core.Session) error {
	return g.commit(func(s *State) {
		s.Session = session
		s.ErrorMessage = ""
	})
}

// fail records msg and returns the current session together with cause.
func (g *Gateway) fail(msg string, cause error) (core.Session, error) {
	var session core.Session
	if err := g.commit(func(s *State) {
		s.ErrorMessage = msg
		session = s.Session
	}); err != nil {
		return session, errors.Join(cause, err)
	}
	return session, cause
}

// commit applies fn on the queue and publishes the result.
func (g *Gateway) commit(fn func(*State)) error {
	err := g.queue.Do(func() {
		fn(&g.state)
		g.mu.Lock()
		g.snap = g.state
		g.mu.Unlock()
		g.bc.Publish(g.state)
	})
	if err != nil {
		return fmt.Errorf("commit auth state: %w", err)
	}
	return nil
}

func registerMessage(err error) string {
	var status *api.StatusError
	if errors.As(err, &status) {
		return fmt.Sprintf("Server rejected registration (status %d)", status.Code)
	}
	return api.Message(err)
}
