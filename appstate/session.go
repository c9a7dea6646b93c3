package appstate

import (
	"context"
	"fmt"

	"food-delivery/dispatch/apiclient"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
)

type AuthAPI interface {
	SignIn(ctx context.Context, req apiclient.SignInRequest) (apiclient.Session, error)
	SignOut(ctx context.Context) error
	SetToken(token string)
}

// Conn is the realtime connection owned by the session.
type Conn interface {
	Connect(ctx context.Context, id models.Identity, token string) error
	Disconnect()
	OnTerminated(fn func(error))
}

// Session ties the connection to the signed in identity: login opens it,
// logout closes it, and a connection the server ended clears the login.
type Session struct {
	auth   AuthAPI
	conn   Conn
	store  *Store
	logger logx.Logger
}

func NewSession(auth AuthAPI, conn Conn, store *Store, logger logx.Logger) *Session {
	s := &Session{auth: auth, conn: conn, store: store, logger: logger}
	conn.OnTerminated(s.expire)
	return s
}

func (s *Session) Login(ctx context.Context, req apiclient.SignInRequest) (models.Identity, error) {
	sess, err := s.auth.SignIn(ctx, req)
	if err != nil {
		return models.Identity{}, fmt.Errorf("sign in: %w", err)
	}
	s.store.Dispatch(SignedIn{Identity: sess.Identity, Token: sess.Token})
	if err := s.conn.Connect(ctx, sess.Identity, sess.Token); err != nil {
		s.store.Dispatch(SignedOut{Reason: err})
		return models.Identity{}, fmt.Errorf("connect: %w", err)
	}
	s.logger.Info("signed in",
		logx.String("user_id", sess.Identity.ID),
		logx.String("role", string(sess.Identity.Role)),
	)
	return sess.Identity, nil
}

// Logout closes the connection before the session is revoked so no channel
// outlives it. The local state is cleared even when the server call fails.
func (s *Session) Logout(ctx context.Context) error {
	s.conn.Disconnect()
	err := s.auth.SignOut(ctx)
	s.store.Dispatch(SignedOut{})
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// expire runs on the connection goroutine when the server ended the session.
func (s *Session) expire(reason error) {
	s.logger.Warn("session ended by server", logx.Err(reason))
	s.auth.SetToken("")
	s.store.Dispatch(SignedOut{Reason: reason})
}
