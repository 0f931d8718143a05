// Package authtest runs an in-process fake of the remote auth service for tests and the
// simulator. It issues real signed JWTs so token validity checks behave as in production.
package authtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/pinflow/authapi"
	"github.com/MrEthical07/pinflow/internal"
	"github.com/MrEthical07/pinflow/token"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
)

// Options configures a [Server].
type Options struct {
	// FixedOTP, when set, is the code for every OTP. Otherwise codes are random and can be read
	// back with LastOTP.
	FixedOTP     string
	OTPTTL       time.Duration
	ResendAfter  time.Duration
	AccessTTL    time.Duration
	SigningKey   []byte
	Clock        clockwork.Clock
	RefreshDelay time.Duration
}

// Server is a fake auth service backed by httptest.
type Server struct {
	*httptest.Server

	opts    Options
	manager *token.Manager

	mu       sync.Mutex
	otps     map[string]string
	access   map[string]bool
	refresh  map[string]string
	loggedIn map[string]bool

	refreshCalls atomic.Int64
	logoutCalls  atomic.Int64
	failRefresh  atomic.Bool
	failAll      atomic.Int64
}

// New starts a fake auth service.
func New(opts Options) (*Server, error) {
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = 5 * time.Minute
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if len(opts.SigningKey) == 0 {
		opts.SigningKey = []byte("authtest-signing-key-authtest-signing")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	manager, err := token.NewManager(token.Config{
		SigningMethod: token.MethodHS256,
		SigningKey:    opts.SigningKey,
		Clock:         opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		manager:  manager,
		otps:     make(map[string]string),
		access:   make(map[string]bool),
		refresh:  make(map[string]string),
		loggedIn: make(map[string]bool),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.failures)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/otp/send", s.sendOTP)
		r.Post("/otp/verify", s.verifyOTP)
		r.Post("/token", s.acquireToken)
		r.Post("/token/refresh", s.refreshToken)
		r.With(s.requireBearer).Post("/logout", s.logout)
	})
	r.With(s.requireBearer).Get("/api/me", s.me)
	r.With(s.requireBearer).Post("/api/echo", s.echo)

	s.Server = httptest.NewServer(r)
	return s, nil
}

// Manager returns the token manager used to sign issued tokens.
func (s *Server) Manager() *token.Manager { return s.manager }

// RefreshCalls reports how many refresh requests were received.
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

// LogoutCalls reports how many logout requests were received.
func (s *Server) LogoutCalls() int64 { return s.logoutCalls.Load() }

// FailRefresh makes every refresh request answer 401.
func (s *Server) FailRefresh(fail bool) { s.failRefresh.Store(fail) }

// FailNext makes the next n requests answer 503.
func (s *Server) FailNext(n int) { s.failAll.Store(int64(n)) }

// LastOTP returns the outstanding code for medium and value.
func (s *Server) LastOTP(medium authapi.Medium, value string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.otps[otpKey(medium, value)]
}

// RevokeAccess invalidates every outstanding access token so protected routes answer 401
// until the client refreshes.
func (s *Server) RevokeAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]bool)
}

// IssuePair mints a pair for subject without going through OTP verification.
func (s *Server) IssuePair(subject string) (token.Pair, error) {
	return s.issue(subject, token.Claims{})
}

func (s *Server) issue(subject string, claims token.Claims) (token.Pair, error) {
	access, err := s.manager.Issue(subject, claims, s.opts.AccessTTL)
	if err != nil {
		return token.Pair{}, err
	}
	refresh, err := internal.NewOpaqueToken(32)
	if err != nil {
		return token.Pair{}, err
	}
	s.mu.Lock()
	s.access[access] = true
	s.refresh[refresh] = subject
	s.mu.Unlock()
	return token.Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Server) failures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for {
			n := s.failAll.Load()
			if n <= 0 {
				break
			}
			if s.failAll.CompareAndSwap(n, n-1) {
				writeError(w, r, http.StatusServiceUnavailable, "unavailable", "SERVICE_UNAVAILABLE")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		live := ok && s.access[access]
		s.mu.Unlock()
		if !live || !s.manager.Valid(access) {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired token", "TOKEN_INVALID")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendOTP(w http.ResponseWriter, r *http.Request) {
	var req authapi.SendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		writeError(w, r, http.StatusBadRequest, "invalid request", "BAD_REQUEST")
		return
	}
	code := s.opts.FixedOTP
	if code == "" {
		var err error
		if code, err = internal.NewOTP(6); err != nil {
			writeError(w, r, http.StatusInternalServerError, "otp generation failed", "INTERNAL")
			return
		}
	}
	s.mu.Lock()
	s.otps[otpKey(req.Medium, req.Value)] = code
	s.mu.Unlock()

	writeData(w, r, http.StatusOK, authapi.OTPInitiationBody{
		ExpiresAt:          s.opts.Clock.Now().Add(s.opts.OTPTTL).UTC(),
		Channel:            req.Channel,
		ResendAfterSeconds: int(s.opts.ResendAfter / time.Second),
	})
}

func (s *Server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req authapi.VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request", "BAD_REQUEST")
		return
	}
	key := otpKey(req.Medium, req.Value)
	s.mu.Lock()
	want, ok := s.otps[key]
	verified := ok && want == req.OTP
	if verified {
		delete(s.otps, key)
		s.loggedIn[key] = true
	}
	s.mu.Unlock()
	writeData(w, r, http.StatusOK, authapi.VerifyOTPBody{Verified: verified})
}

func (s *Server) acquireToken(w http.ResponseWriter, r *http.Request) {
	var req authapi.AcquireTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request", "BAD_REQUEST")
		return
	}
	s.mu.Lock()
	ok := s.loggedIn[otpKey(authapi.MediumPhone, req.Phone)] && s.loggedIn[otpKey(authapi.MediumEmail, req.Email)]
	s.mu.Unlock()
	if !ok {
		writeError(w, r, http.StatusForbidden, "identity not verified", "IDENTITY_UNVERIFIED")
		return
	}
	pair, err := s.issue(req.Phone, token.Claims{Phone: req.Phone, Email: req.Email})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issuance failed", "INTERNAL")
		return
	}
	writeData(w, r, http.StatusOK, pair)
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if s.opts.RefreshDelay > 0 {
		time.Sleep(s.opts.RefreshDelay)
	}
	var req authapi.RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request", "BAD_REQUEST")
		return
	}
	if s.failRefresh.Load() {
		writeError(w, r, http.StatusUnauthorized, "refresh token revoked", "REFRESH_INVALID")
		return
	}
	s.mu.Lock()
	subject, ok := s.refresh[req.RefreshToken]
	delete(s.refresh, req.RefreshToken)
	s.mu.Unlock()
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "refresh token unknown", "REFRESH_INVALID")
		return
	}
	pair, err := s.issue(subject, token.Claims{})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issuance failed", "INTERNAL")
		return
	}
	writeData(w, r, http.StatusOK, pair)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)
	access := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	delete(s.access, access)
	s.mu.Unlock()
	writeData(w, r, http.StatusOK, struct{}{})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	access := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims, err := s.manager.Decode(access)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid token", "TOKEN_INVALID")
		return
	}
	writeData(w, r, http.StatusOK, map[string]string{"subject": claims.Subject})
}

func (s *Server) echo(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request", "BAD_REQUEST")
		return
	}
	writeData(w, r, http.StatusOK, body)
}

func otpKey(medium authapi.Medium, value string) string {
	return string(medium) + ":" + value
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, map[string]any{"statusCode": status, "data": data, "traceId": chimw.GetReqID(r.Context())})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg, code string) {
	writeJSON(w, status, map[string]any{"statusCode": status, "error": msg, "errorCode": code, "traceId": chimw.GetReqID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
