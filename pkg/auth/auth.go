// Package auth acquires the bearer credential attached to every backend call
// and implements the logout side channel.
package auth

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/veyra/pkg/backend"
	"github.com/go-go-golems/veyra/pkg/chaterrors"
)

// DefaultTokenEnv is the environment variable read by EnvTokenSource when no
// name is given.
const DefaultTokenEnv = "VEYRA_TOKEN"

// TokenSource hands out a short lived bearer token. An empty token means the
// user is not signed in.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// EnvTokenSource reads the token from an environment variable on every call.
type EnvTokenSource struct {
	Name string
}

func (e EnvTokenSource) Token(context.Context) (string, error) {
	name := e.Name
	if name == "" {
		name = DefaultTokenEnv
	}
	return os.Getenv(name), nil
}

// Acquire fetches a fresh credential. A missing source, a failing source and
// an empty token are all reported as Unauthenticated.
func Acquire(ctx context.Context, ts TokenSource) (string, error) {
	const op = "auth.Acquire"
	if ts == nil {
		return "", chaterrors.New(chaterrors.KindUnauthenticated, op, "")
	}
	token, err := ts.Token(ctx)
	if err != nil {
		return "", &chaterrors.Error{Kind: chaterrors.KindUnauthenticated, Op: op, Err: err}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", chaterrors.New(chaterrors.KindUnauthenticated, op, "")
	}
	return token, nil
}

// SignOutFunc ends the session with the identity provider.
type SignOutFunc func(ctx context.Context) error

// Logout notifies the backend with the current credential, then signs out.
// The backend call is best effort: its failure is logged and sign out
// proceeds regardless. Only the sign out error is returned.
func Logout(ctx context.Context, ts TokenSource, invalidator backend.SessionInvalidator, signOut SignOutFunc) error {
	if invalidator != nil {
		token, err := Acquire(ctx, ts)
		if err == nil {
			err = invalidator.Logout(ctx, token)
		}
		if err != nil {
			log.Warn().Err(err).Msg("backend logout failed, signing out anyway")
		}
	}

	if signOut == nil {
		return nil
	}
	return signOut(ctx)
}
