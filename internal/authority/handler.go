package authority

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// RegisterRoutes mounts the backend API on mux:
//
//	POST /auth/login   -> token for valid credentials
//	GET  /auth/verify  -> 204 for a valid bearer token, 401 otherwise
//	GET  /orders/{id}  -> order JSON (bearer token required)
func (a *Authority) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", a.handleLogin)
	mux.HandleFunc("GET /auth/verify", a.handleVerify)
	mux.HandleFunc("GET /orders/{id}", a.handleOrder)
}

// Handler returns a mux with all routes registered.
func (a *Authority) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return mux
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginReply struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (a *Authority) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	sess, err := a.Login(body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			a.logger.Info("authority login rejected", "email", body.Email)
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}
		a.logger.Error("authority login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}

	a.logger.Info("authority login", "user_id", sess.UserID, "email", sess.Email)
	writeJSON(w, http.StatusOK, loginReply{
		Token:     sess.Token,
		UserID:    sess.UserID,
		Email:     sess.Email,
		ExpiresAt: *sess.ExpiresAt,
	})
}

func (a *Authority) handleVerify(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(r); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Authority) handleOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(r); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "valid bearer token required")
		return
	}
	order, ok := a.Order(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *Authority) authorize(r *http.Request) (*Claims, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) || len(header) == len(prefix) {
		return nil, false
	}
	claims, err := a.Verify(header[len(prefix):])
	if err != nil {
		a.logger.Debug("authority rejected token", "error", err)
		return nil, false
	}
	return claims, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
