package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	logx "medichine/pkg/logx"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("elapsed", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// requireOwner enforces account ownership once a device is bound. Before any
// registration exists the API is open, matching the out-of-box setup flow.
func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := s.deps.Backend.OwnerEmail()
		if owner == "" {
			next.ServeHTTP(w, r)
			return
		}

		email := requestEmail(r)
		if email == "" {
			writeError(w, http.StatusForbidden, "email required: this device is registered to "+maskEmail(owner))
			return
		}
		if !emailPattern.MatchString(email) {
			writeError(w, http.StatusBadRequest, "invalid email format")
			return
		}
		if !strings.EqualFold(email, owner) {
			s.log.Warn("ownership check failed",
				logx.String("path", r.URL.Path),
				logx.String("email", maskEmail(email)),
			)
			writeError(w, http.StatusForbidden, "access denied: this device is registered to "+maskEmail(owner))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestEmail pulls the caller's email from the query string or, for JSON
// bodies, from a top-level "email" field. The body is restored for the
// handler.
func requestEmail(r *http.Request) string {
	if e := r.URL.Query().Get("email"); e != "" {
		return strings.TrimSpace(e)
	}
	if r.Body == nil || !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var probe struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(body, &probe) != nil {
		return ""
	}
	return strings.TrimSpace(probe.Email)
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	n := 3
	if at < n {
		n = at
	}
	return email[:n] + "***@" + email[at+1:]
}
