package privacy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// AuditLogger records privacy actions in the audit trail
type AuditLogger interface {
	Log(ctx context.Context, action, resourceType string, resourceID types.ID, changes map[string]any) error
}

// ViolationHandler handles detected PII violations
type ViolationHandler interface {
	HandleViolation(ctx context.Context, violation *PIIViolation) error
}

// ViolationLogger is a simple violation handler that logs to audit
type ViolationLogger struct {
	audit AuditLogger
}

// NewViolationLogger creates a new violation logger
func NewViolationLogger(audit AuditLogger) *ViolationLogger {
	return &ViolationLogger{audit: audit}
}

// HandleViolation logs a PII violation to the audit log
func (l *ViolationLogger) HandleViolation(ctx context.Context, violation *PIIViolation) error {
	action := AuditActionPIIViolationDetected
	if violation.Blocked {
		action = AuditActionPIIViolationBlocked
	}

	return l.audit.Log(ctx, action, "pii_violation", violation.ID, map[string]any{
		"field":          violation.Field,
		"location":       violation.Location,
		"blocked":        violation.Blocked,
		"masked_value":   violation.MaskedValue,
		"request_path":   violation.RequestPath,
		"request_method": violation.RequestMethod,
	})
}

// Guard is middleware that stops unmasked NHS numbers and contact
// details leaving the platform through non-clinical surfaces.
type Guard struct {
	// Compiled regex patterns for PII detection
	nhsPattern   *regexp.Regexp
	phonePattern *regexp.Regexp
	emailPattern *regexp.Regexp

	violationHandler ViolationHandler

	// Exemption paths (e.g. clinical endpoints)
	exemptPaths    []string
	exemptPrefixes []string

	blockOnViolation bool
	logViolations    bool
}

// GuardConfig holds configuration for the guard
type GuardConfig struct {
	ExemptPaths      []string
	ExemptPrefixes   []string
	BlockOnViolation bool
	LogViolations    bool
}

// DefaultGuardConfig returns default configuration
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		ExemptPaths:      []string{"/health", "/ready", "/metrics"},
		ExemptPrefixes:   []string{"/api/v1/referrals", "/api/v1/organisations"},
		BlockOnViolation: true,
		LogViolations:    true,
	}
}

// NewGuard creates a new privacy guard middleware
func NewGuard(handler ViolationHandler, cfg GuardConfig) *Guard {
	return &Guard{
		// NHS number: ten digits, optionally in the 3-3-4 display
		// grouping. Candidates are checksum-validated before they count
		// as a violation, which filters out most incidental numbers.
		nhsPattern: regexp.MustCompile(`\b\d{3}[ -]?\d{3}[ -]?\d{4}\b`),

		// UK phone patterns: +44... or 0...
		phonePattern: regexp.MustCompile(`\b(?:\+44|0)\d{3}[ -]?\d{3}[ -]?\d{3,4}\b`),

		// Email pattern
		emailPattern: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),

		violationHandler: handler,
		exemptPaths:      cfg.ExemptPaths,
		exemptPrefixes:   cfg.ExemptPrefixes,
		blockOnViolation: cfg.BlockOnViolation,
		logViolations:    cfg.LogViolations,
	}
}

// Middleware returns the HTTP middleware function
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		// Check request body for PII
		if r.Body != nil && r.ContentLength > 0 {
			bodyBytes, err := io.ReadAll(r.Body)
			if err == nil {
				// Restore body for handler
				r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

				location := "request_body:" + r.URL.Path
				if violations := g.detectPII(string(bodyBytes), location, r); len(violations) > 0 {
					g.handleViolations(r.Context(), violations)
					if g.blockOnViolation {
						http.Error(w, `{"error":"request contains prohibited personal data","code":"PII_DETECTED"}`, http.StatusBadRequest)
						return
					}
				}
			}
		}

		// Wrap response writer to inspect response
		wrapper := &responseWrapper{
			ResponseWriter: w,
			body:           &bytes.Buffer{},
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapper, r)

		// Check response for PII before sending
		responseBody := wrapper.body.String()
		location := "response_body:" + r.URL.Path

		if violations := g.detectPII(responseBody, location, r); len(violations) > 0 {
			g.handleViolations(r.Context(), violations)

			if g.blockOnViolation {
				// Redact PII from response
				redactedBody := g.redactPII(responseBody)
				w.Header().Set("X-PII-Redacted", "true")
				w.WriteHeader(wrapper.statusCode)
				w.Write([]byte(redactedBody))
				return
			}
		}

		// Write original response
		w.WriteHeader(wrapper.statusCode)
		w.Write(wrapper.body.Bytes())
	})
}

// detectPII scans content for PII patterns
func (g *Guard) detectPII(content, location string, r *http.Request) []PIIViolation {
	var violations []PIIViolation

	for _, match := range g.nhsPattern.FindAllString(content, -1) {
		// Only checksum-valid candidates count as NHS numbers
		if !types.NHSNumber(digitsOnly(match)).IsValid() {
			continue
		}
		violations = append(violations, PIIViolation{
			ID:            types.NewID(),
			Timestamp:     time.Now().UTC(),
			Field:         PIIFieldNHSNumber,
			Location:      location,
			Blocked:       g.blockOnViolation,
			RawValue:      match,
			MaskedValue:   MaskNHSNumber(match),
			RequestPath:   r.URL.Path,
			RequestMethod: r.Method,
			RequestIP:     getClientIP(r),
		})
	}

	for _, match := range g.phonePattern.FindAllString(content, -1) {
		violations = append(violations, PIIViolation{
			ID:            types.NewID(),
			Timestamp:     time.Now().UTC(),
			Field:         PIIFieldPhone,
			Location:      location,
			Blocked:       g.blockOnViolation,
			RawValue:      match,
			MaskedValue:   MaskPhone(match),
			RequestPath:   r.URL.Path,
			RequestMethod: r.Method,
			RequestIP:     getClientIP(r),
		})
	}

	for _, match := range g.emailPattern.FindAllString(content, -1) {
		violations = append(violations, PIIViolation{
			ID:            types.NewID(),
			Timestamp:     time.Now().UTC(),
			Field:         PIIFieldEmail,
			Location:      location,
			Blocked:       g.blockOnViolation,
			RawValue:      match,
			MaskedValue:   MaskEmail(match),
			RequestPath:   r.URL.Path,
			RequestMethod: r.Method,
			RequestIP:     getClientIP(r),
		})
	}

	return violations
}

// redactPII replaces PII with redaction markers
func (g *Guard) redactPII(content string) string {
	content = g.nhsPattern.ReplaceAllStringFunc(content, func(match string) string {
		if !types.NHSNumber(digitsOnly(match)).IsValid() {
			return match
		}
		return "[REDACTED-NHS-NUMBER]"
	})
	content = g.phonePattern.ReplaceAllString(content, "[REDACTED-PHONE]")
	content = g.emailPattern.ReplaceAllString(content, "[REDACTED-EMAIL]")
	return content
}

// isExempt checks if a path is exempt from PII checking
func (g *Guard) isExempt(path string) bool {
	for _, exempt := range g.exemptPaths {
		if path == exempt {
			return true
		}
	}

	for _, prefix := range g.exemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

// handleViolations processes detected violations
func (g *Guard) handleViolations(ctx context.Context, violations []PIIViolation) {
	if !g.logViolations || g.violationHandler == nil {
		return
	}

	for i := range violations {
		g.violationHandler.HandleViolation(ctx, &violations[i])
	}
}

// AddExemptPath adds a path to the exemption list
func (g *Guard) AddExemptPath(path string) {
	g.exemptPaths = append(g.exemptPaths, path)
}

// AddExemptPrefix adds a prefix to the exemption list
func (g *Guard) AddExemptPrefix(prefix string) {
	g.exemptPrefixes = append(g.exemptPrefixes, prefix)
}

// ContainsPII checks if a string contains any PII
func (g *Guard) ContainsPII(content string) bool {
	for _, match := range g.nhsPattern.FindAllString(content, -1) {
		if types.NHSNumber(digitsOnly(match)).IsValid() {
			return true
		}
	}
	return g.phonePattern.MatchString(content) ||
		g.emailPattern.MatchString(content)
}

// ScanForPII returns all detected PII types in the content
func (g *Guard) ScanForPII(content string) []PIIField {
	var fields []PIIField

	for _, match := range g.nhsPattern.FindAllString(content, -1) {
		if types.NHSNumber(digitsOnly(match)).IsValid() {
			fields = append(fields, PIIFieldNHSNumber)
			break
		}
	}
	if g.phonePattern.MatchString(content) {
		fields = append(fields, PIIFieldPhone)
	}
	if g.emailPattern.MatchString(content) {
		fields = append(fields, PIIFieldEmail)
	}

	return fields
}

// responseWrapper intercepts and inspects response body
type responseWrapper struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (w *responseWrapper) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w *responseWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if r.RemoteAddr != "" {
		// Remove port if present
		if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
			return r.RemoteAddr[:idx]
		}
		return r.RemoteAddr
	}

	return ""
}
