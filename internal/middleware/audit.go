package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/technosupport/ts-telematics/internal/audit"
)

// AuditMiddleware records mutating management requests to the audit
// trail. Reads are not audited; every POST, PUT and DELETE is.
type AuditMiddleware struct {
	Trail *audit.Service
}

func NewAuditMiddleware(trail *audit.Service) *AuditMiddleware {
	return &AuditMiddleware{Trail: trail}
}

func (m *AuditMiddleware) LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		evt := audit.Event{
			Action:    actionFor(r.Method, r.URL.Path),
			Result:    resultFor(rw.status),
			RequestID: GetRequestID(r.Context()),
			ClientIP:  clientIP(r),
			CreatedAt: time.Now().UTC(),
		}
		if ac, ok := GetAuthContext(r.Context()); ok {
			evt.ActorID = ac.UserID
		}

		// Off the request path; the trail write must not add latency.
		go func() {
			m.Trail.Record(context.Background(), evt)
		}()
	})
}

// actionFor turns "PUT /api/v1/rules/{id}" style paths into dotted
// action names like "rules.update".
func actionFor(method, path string) string {
	resource := strings.Trim(strings.TrimPrefix(path, "/api/v1"), "/")
	if i := strings.IndexByte(resource, '/'); i >= 0 {
		// Keep the leading resource segment only.
		first := resource[:i]
		rest := resource[i+1:]
		if last := lastSegment(rest); last != "" && !looksLikeID(last) {
			resource = first + "." + last
		} else {
			resource = first
		}
	}

	verb := map[string]string{
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}[method]
	if verb == "" {
		verb = strings.ToLower(method)
	}

	return resource + "." + verb
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func looksLikeID(s string) bool {
	return strings.Count(s, "-") >= 4 // uuid shape
}

func resultFor(status int) string {
	if status < 400 {
		return "success"
	}
	return "failure"
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
