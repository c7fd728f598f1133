package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medsafar/supplychain/internal/platform/auth"
)

// AuditEntry records one ledger command submitted over HTTP: who sent it,
// against which route and batch, and how it ended.
type AuditEntry struct {
	Account    string
	Action     string
	Resource   string
	MedicineID string
	Method     string
	Path       string
	Route      string
	IPAddress  string
	UserAgent  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries. Without one the middleware only logs.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every state-changing request under /api/v1/. Reads are not
// audited.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditable(req.Method, req.URL.Path) {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Account:    auth.AccountFromContext(req.Context()),
				Action:     commandAction(c),
				Resource:   extractResource(req.URL.Path),
				MedicineID: medicineParam(c),
				Method:     req.Method,
				Path:       req.URL.Path,
				Route:      c.Path(),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				Timestamp:  time.Now().UTC(),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if entry.StatusCode >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("type", "ledger_audit").
				Str("request_id", entry.RequestID).
				Str("account", entry.Account).
				Str("action", entry.Action).
				Str("resource", entry.Resource).
				Str("medicine_id", entry.MedicineID).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("ledger_command")

			return err
		}
	}
}

func isAuditable(method, path string) bool {
	if !strings.HasPrefix(path, "/api/v1/") {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// commandAction names the ledger command behind a request. Transition
// routes report the transition itself.
func commandAction(c echo.Context) string {
	if t := c.Param("transition"); t != "" {
		return t
	}
	route := c.Path()
	if route == "" {
		route = c.Request().URL.Path
	}
	segments := strings.Split(strings.Trim(strings.TrimPrefix(route, "/api/v1/"), "/"), "/")
	last := segments[len(segments)-1]
	if strings.HasPrefix(last, ":") || len(segments) == 1 {
		return strings.ToLower(c.Request().Method) + "_" + segments[0]
	}
	return last
}

// extractResource returns the first path segment after /api/v1/.
//
//	/api/v1/medicines/3/supply -> medicines
//	/api/v1/transfers          -> transfers
func extractResource(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "unknown"
	}
	return rest
}

func medicineParam(c echo.Context) string {
	if strings.HasPrefix(c.Path(), "/api/v1/medicines/:id") {
		return c.Param("id")
	}
	return ""
}
