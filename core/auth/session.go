package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"
	"github.com/irsalhamdi/marketplace-api/api/web"
	"github.com/irsalhamdi/marketplace-api/api/weberr"
	"github.com/irsalhamdi/marketplace-api/core/claims"
)

const (
	sessionUserID = "user_id"
	sessionRoles  = "roles"
)

// LoadAndSave bridges the scs session middleware into the web.Handler
// chain and materializes session data as claims on the context.
func LoadAndSave(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			var err error

			hh := func(w http.ResponseWriter, r *http.Request) {
				ctx := r.Context()
				if uid := session.GetString(ctx, sessionUserID); uid != "" {
					clm := claims.Claims{
						UserID: uid,
						Roles:  strings.Split(session.GetString(ctx, sessionRoles), ","),
					}
					ctx = claims.Set(ctx, clm)
				}
				err = handler(ctx, w, r)
			}

			session.LoadAndSave(http.HandlerFunc(hh)).ServeHTTP(w, r)
			return err
		}
		return h
	}
	return m
}

func startSession(ctx context.Context, session *scs.SessionManager, userID string, roles []string) error {
	if err := session.RenewToken(ctx); err != nil {
		return err
	}

	session.Put(ctx, sessionUserID, userID)
	session.Put(ctx, sessionRoles, strings.Join(roles, ","))
	return nil
}

// Authenticate rejects requests with no logged-in user.
func Authenticate(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if _, err := claims.Get(ctx); err != nil {
				return weberr.NotAuthorized(errors.New("user not authenticated"))
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func requireRole(role string) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			clm, err := claims.Get(ctx)
			if err != nil {
				return weberr.NotAuthorized(errors.New("user not authenticated"))
			}
			if !clm.HasRole(role) {
				return weberr.Forbidden(errors.New("missing role " + role))
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func Admin(session *scs.SessionManager) web.Middleware   { return requireRole(claims.RoleAdmin) }
func Courier(session *scs.SessionManager) web.Middleware { return requireRole(claims.RoleCourier) }

// Seller admits both the base and the elevated seller role.
func Seller(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			clm, err := claims.Get(ctx)
			if err != nil {
				return weberr.NotAuthorized(errors.New("user not authenticated"))
			}
			if !clm.HasRole(claims.RoleSeller) && !clm.HasRole(claims.RoleSellerPro) {
				return weberr.Forbidden(errors.New("not a seller account"))
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
