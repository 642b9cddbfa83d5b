package biosecure

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionState is the state of an authentication session
type SessionState uint8

const (
	SessionIdle SessionState = iota
	SessionPrompting
	SessionSucceeded
	SessionFailed
	SessionError
	SessionInvalidated
)

// String returns the string representation of the session state
func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionPrompting:
		return "prompting"
	case SessionSucceeded:
		return "succeeded"
	case SessionFailed:
		return "failed"
	case SessionError:
		return "error"
	case SessionInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a session
func (s SessionState) Terminal() bool {
	return s >= SessionSucceeded
}

// AuthSession is one authenticate call from start to its terminal state
type AuthSession struct {
	ID    uuid.UUID
	State SessionState

	// Err is set for every terminal state except SessionSucceeded
	Err error

	// Cipher is the authorized cipher, set only on SessionSucceeded
	Cipher *WrappingCipher
}

// Succeeded reports whether the session ended in SessionSucceeded
func (s *AuthSession) Succeeded() bool {
	return s.State == SessionSucceeded
}

// PrepareFunc obtains the cipher to be authorized inside a session
type PrepareFunc func(ctx context.Context) (*WrappingCipher, error)

// Gate runs authentication sessions one at a time
type Gate struct {
	auth Authenticator

	// tickets bounds the running session plus waiting callers
	tickets chan struct{}
	// active is held by the running session
	active chan struct{}

	logger zerolog.Logger
}

// NewGate creates a gate that admits maxPending waiting callers behind the
// running session. If maxPending <= 0 it defaults to 4.
func NewGate(auth Authenticator, maxPending int, logger zerolog.Logger) *Gate {
	if maxPending <= 0 {
		maxPending = 4
	}
	return &Gate{
		auth:    auth,
		tickets: make(chan struct{}, maxPending+1),
		active:  make(chan struct{}, 1),
		logger:  logger.With().Str("component", "gate").Logger(),
	}
}

// Availability queries the authenticator without starting a session
func (g *Gate) Availability(ctx context.Context) (Availability, error) {
	return g.auth.Availability(ctx)
}

// UseFunc consumes the authorized cipher of a successful session
type UseFunc func(ctx context.Context, cipher *WrappingCipher) error

// Authenticate runs one session: availability check, cipher preparation,
// then the prompt. The returned session is always in a terminal state and
// on success carries the authorized cipher.
func (g *Gate) Authenticate(ctx context.Context, prompt PromptConfig, prepare PrepareFunc) *AuthSession {
	return g.AuthenticateAndUse(ctx, prompt, prepare, nil)
}

// AuthenticateAndUse runs a session like Authenticate and then calls use
// with the authorized cipher before the next session may start. The cipher
// is released when use returns. An error from use resolves the session.
func (g *Gate) AuthenticateAndUse(ctx context.Context, prompt PromptConfig, prepare PrepareFunc, use UseFunc) *AuthSession {
	s := &AuthSession{ID: uuid.New(), State: SessionIdle}
	log := g.logger.With().Str("session", s.ID.String()).Logger()

	select {
	case g.tickets <- struct{}{}:
	default:
		return g.resolve(log, s, SessionError, ErrGateBusy)
	}
	defer func() { <-g.tickets }()

	select {
	case g.active <- struct{}{}:
	case <-ctx.Done():
		return g.resolve(log, s, SessionError, canceled(ctx.Err()))
	}
	defer func() { <-g.active }()

	g.run(ctx, log, s, prompt, prepare)
	if use == nil || !s.Succeeded() {
		return s
	}

	cipher := s.Cipher
	s.Cipher = nil
	defer cipher.Release()

	if err := use(ctx, cipher); err != nil {
		switch {
		case ctx.Err() != nil:
			return g.resolve(log, s, SessionError, canceled(ctx.Err()))
		case errors.Is(err, ErrKeyInvalidated):
			return g.resolve(log, s, SessionInvalidated, err)
		default:
			return g.resolve(log, s, SessionError, err)
		}
	}
	return s
}

// run takes s from idle to a terminal state. The caller holds the active slot.
func (g *Gate) run(ctx context.Context, log zerolog.Logger, s *AuthSession, prompt PromptConfig, prepare PrepareFunc) *AuthSession {
	avail, err := g.auth.Availability(ctx)
	if err != nil {
		return g.resolve(log, s, SessionError, err)
	}
	if !avail.Available {
		code := avail.Error
		if code == AvailabilityLockout {
			return g.resolve(log, s, SessionError, NewAuthenticationError("lockout", ErrLockout))
		}
		if code == AvailabilityOK {
			code = AvailabilityUnsupported
		}
		return g.resolve(log, s, SessionError, &CapabilityError{Code: code})
	}

	cipher, err := prepare(ctx)
	if err != nil {
		if errors.Is(err, ErrKeyInvalidated) {
			return g.resolve(log, s, SessionInvalidated, err)
		}
		return g.resolve(log, s, SessionError, err)
	}

	s.State = SessionPrompting
	log.Debug().Str("alias", cipher.Alias()).Str("direction", cipher.Direction().String()).Msg("presenting prompt")

	outcome := g.auth.Present(ctx, prompt, cipher.Hardware())

	if ctx.Err() != nil && outcome.Status != OutcomeSucceeded {
		cipher.Release()
		return g.resolve(log, s, SessionError, canceled(ctx.Err()))
	}

	switch outcome.Status {
	case OutcomeSucceeded:
		if err := cipher.authorize(outcome.Cipher); err != nil {
			cipher.Release()
			return g.resolve(log, s, SessionFailed, fmt.Errorf("%w: cipher not handed back: %v", ErrAuthenticationFailed, err))
		}
		if ctx.Err() != nil {
			cipher.Release()
			return g.resolve(log, s, SessionError, canceled(ctx.Err()))
		}
		s.Cipher = cipher
		return g.resolve(log, s, SessionSucceeded, nil)

	case OutcomeFailed:
		cipher.Release()
		err := ErrAuthenticationFailed
		if outcome.Reason != "" {
			err = fmt.Errorf("%w: %s", ErrAuthenticationFailed, outcome.Reason)
		}
		return g.resolve(log, s, SessionFailed, err)

	case OutcomeInvalidated:
		cipher.Release()
		return g.resolve(log, s, SessionInvalidated, ErrKeyInvalidated)

	default:
		cipher.Release()
		cause := outcome.Err
		if cause == nil {
			cause = errors.New("authenticator error")
		}
		if errors.Is(cause, ErrKeyInvalidated) {
			return g.resolve(log, s, SessionInvalidated, cause)
		}
		reason := outcome.Reason
		if reason == "" {
			reason = "error"
		}
		return g.resolve(log, s, SessionError, NewAuthenticationError(reason, cause))
	}
}

func (g *Gate) resolve(log zerolog.Logger, s *AuthSession, state SessionState, err error) *AuthSession {
	s.State = state
	s.Err = err

	ev := log.Debug()
	if err != nil {
		ev = log.Info().Err(err)
	}
	ev.Str("state", state.String()).Msg("authentication resolved")
	return s
}

// canceled maps a context error to a cancellation error
func canceled(cause error) error {
	return &AuthenticationError{
		Reason:  "cancelled",
		Message: cause.Error(),
		Err:     errors.Join(ErrAuthenticationCanceled, cause),
	}
}
