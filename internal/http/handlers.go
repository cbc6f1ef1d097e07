package http

import (
	"context"
	"net/http"
	"time"

	"subtrack/internal/auth"
	"subtrack/internal/core"
	"subtrack/internal/log"
)

type authedHandler func(w http.ResponseWriter, r *http.Request, session auth.AuthSession)

// authenticated resolves the bearer token into an AuthSession before calling
// next. Requests without a valid session get 401.
func (s *Server) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.auth.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			writeError(w, r, "authenticate", err)
			return
		}

		logger := log.FromContext(r.Context()).With(log.FieldUserID, session.UserID)
		next(w, r.WithContext(log.NewContext(r.Context(), logger)), session)
	}
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady reports whether the data backend can serve requests.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), defaultReadyzTimeout)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	switch {
	case !s.availability.Available:
		checks["store"] = "unavailable: " + s.availability.Reason
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	case s.pinger != nil:
		if err := s.pinger.Ping(ctx); err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			checks["store"] = "failed"
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	default:
		checks["store"] = "ok"
	}

	checks["sessions"] = map[string]any{"cached_lists": s.lists.Len()}
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.limiter.ActiveClients(),
		"rejected":       s.limiter.Rejected(),
	}
	stats := s.detector.Stats()
	checks["security"] = map[string]any{
		"suspicious_requests": stats.Suspicious,
		"blocked_requests":    stats.Blocked,
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		writeError(w, r, log.OpSignUp, err)
		return
	}
	session, err := s.auth.SignUp(r.Context(), creds)
	if err != nil {
		writeError(w, r, log.OpSignUp, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		writeError(w, r, log.OpSignIn, err)
		return
	}
	session, err := s.auth.SignIn(r.Context(), creds)
	if err != nil {
		writeError(w, r, log.OpSignIn, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	session, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, r, log.OpSignOut, err)
		return
	}
	if err := s.auth.SignOut(r.Context(), token); err != nil {
		writeError(w, r, log.OpSignOut, err)
		return
	}
	// The session watcher does the same, but a slow watcher must not leave
	// this session's list behind.
	s.lists.Forget(session.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request, session auth.AuthSession) {
	refresh, err := ParseRefresh(r.URL.Query())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	list := s.lists.For(session.SessionID, session.UserID)
	if refresh {
		if err := list.Refresh(r.Context()); err != nil {
			writeError(w, r, log.OpList, err)
			return
		}
	}
	items, err := list.Items(r.Context())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": items})
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request, session auth.AuthSession) {
	var in core.SubscriptionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	sub, err := s.lists.For(session.SessionID, session.UserID).Create(r.Context(), in)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	w.Header().Set("Location", "/subscriptions/"+sub.ID)
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request, session auth.AuthSession) {
	var patch core.SubscriptionPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	sub, err := s.lists.For(session.SessionID, session.UserID).Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request, session auth.AuthSession) {
	if err := s.lists.For(session.SessionID, session.UserID).Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request, session auth.AuthSession) {
	window, err := ParseWindow(r.URL.Query())
	if err != nil {
		writeError(w, r, log.OpUpcoming, err)
		return
	}
	items, err := s.subs.Upcoming(r.Context(), session.UserID, s.now(), window.Horizon, window.Limit)
	if err != nil {
		writeError(w, r, log.OpUpcoming, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"horizon_days": window.Horizon,
		"upcoming":     items,
	})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request, session auth.AuthSession) {
	window, err := ParseWindow(r.URL.Query())
	if err != nil {
		writeError(w, r, log.OpOverview, err)
		return
	}
	overview, err := s.subs.Overview(r.Context(), session.UserID, s.now(), window.Horizon, window.Limit)
	if err != nil {
		writeError(w, r, log.OpOverview, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request, session auth.AuthSession) {
	prefs, err := s.subs.Preferences(r.Context(), session.UserID)
	if err != nil {
		writeError(w, r, log.OpPreferences, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request, session auth.AuthSession) {
	var patch core.PreferencesPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, log.OpPreferences, err)
		return
	}
	prefs, err := s.subs.UpsertPreferences(r.Context(), session.UserID, patch)
	if err != nil {
		writeError(w, r, log.OpPreferences, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
