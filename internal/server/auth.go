package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/kbai-go/internal/auth"
	"github.com/54b3r/kbai-go/internal/logging"
	"github.com/54b3r/kbai-go/internal/store"
)

// authMiddleware resolves the caller's identity and stores it in the request
// context. When auth is disabled every request runs as auth.DevUser.
//
// Protected routes must otherwise supply:
//
//	Authorization: Bearer <jwt>
//
// Requests missing or presenting an invalid token receive 401 Unauthorized
// with a WWW-Authenticate: Bearer challenge. The token value is never
// logged.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if !s.authCfg.Enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), auth.DevUser)))
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logging.FromContext(ctx)

		token := bearerToken(r)
		if token == "" {
			log.Warn("auth: missing Authorization header", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="kbai"`)
			writeStatus(ctx, w, http.StatusUnauthorized, "authorization required")
			return
		}

		id, err := s.issuer.Verify(token)
		if err != nil {
			log.Warn("auth: token rejected",
				slog.String("path", r.URL.Path),
				slog.Bool("expired", errors.Is(err, auth.ErrExpiredToken)),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="kbai" error="invalid_token"`)
			writeStatus(ctx, w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx = auth.WithIdentity(ctx, id)
		ctx = logging.WithLogger(ctx, log.With(slog.String("user_id", id.UserID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleLogin handles POST /api/auth/login. It resolves the employee by
// email and returns a signed token. Unknown emails are registered only when
// open registration is on.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeStatus(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeStatus(ctx, w, http.StatusBadRequest, "a valid email is required")
		return
	}

	var (
		user *store.User
		err  error
	)
	if s.authCfg.OpenRegistration {
		name := strings.TrimSpace(req.Name)
		if name == "" {
			name, _, _ = strings.Cut(email, "@")
		}
		user, err = s.history.EnsureUserByEmail(ctx, name, email)
	} else {
		user, err = s.history.GetUserByEmail(ctx, email)
	}
	if errors.Is(err, store.ErrNotFound) {
		logging.FromContext(ctx).Warn("auth: login for unknown email")
		writeStatus(ctx, w, http.StatusUnauthorized, "unknown user")
		return
	}
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	resp := loginResponse{UserID: user.ID, Name: user.Name}
	if s.issuer != nil {
		resp.Token, err = s.issuer.Issue(auth.Identity{UserID: user.ID, Name: user.Name, Email: user.Email})
		if err != nil {
			writeError(ctx, w, err)
			return
		}
	}
	logging.FromContext(ctx).Info("auth: login", slog.String("user_id", user.ID))
	writeJSON(ctx, w, http.StatusOK, resp)
}

// identity returns the caller resolved by authMiddleware.
func identity(r *http.Request) auth.Identity {
	if id, ok := auth.FromContext(r.Context()); ok {
		return id
	}
	return auth.DevUser
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
