package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	KurrentDB   KurrentDBConfig
	Auth        AuthConfig
	DocExchange DocExchangeConfig
	MSK         MSKConfig
	Discharge   DischargeConfig
	ReEntry     ReEntryConfig
	Rejection   RejectionConfig
	Templates   TemplatesConfig
	Privacy     PrivacyConfig
	Audit       AuditConfig
}

// AuditConfig selects the checkpoint witness for the audit trail. Witness
// is one of "local", "rfc3161" or "composite"; the latter two need the
// in-process timestamping authority.
type AuditConfig struct {
	Witness string
	TSA     TSAConfig
}

// TSAConfig holds the settings of the in-process RFC 3161 timestamping
// authority that countersigns audit checkpoints.
type TSAConfig struct {
	Organisation    string
	PolicyOID       string
	AccuracySeconds int
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB),
// used as the append-only audit stream.
type KurrentDBConfig struct {
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

type AuthConfig struct {
	JWTSecret string
}

// DocExchangeConfig holds the endpoints for the external document-exchange
// service that delivers discharge letters to referring organisations.
type DocExchangeConfig struct {
	Endpoint        string
	UpdateEndpoint  string
	ResolveEndpoint string
	DelayEndpoint   string
	APIKey          string
	Timeout         time.Duration
}

// MSKConfig holds connection settings for the legacy MSK triage system
// (SQL Server). The adapter is optional; when disabled, MSK organisation
// lookups fall back to the local organisations table only.
type MSKConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	OrgTable string
}

// DischargeConfig carries the raw threshold values. They have NO defaults:
// a zero value means "not set" and fails validation when the discharge
// calculator or eligibility evaluator is constructed.
type DischargeConfig struct {
	AfterDays               int
	CompletionDays          int
	WeightChangeThresholdKg float64
	MaxDischargesPerRun     int
}

// SourceWindow is the minimum re-entry window for one referral source.
type SourceWindow struct {
	ProviderSelectionDays int
	ProgrammeStartDays    int
}

// ReEntryConfig carries per-source minimum re-entry windows. Like the
// discharge thresholds these are never defaulted.
type ReEntryConfig struct {
	GP       SourceWindow
	Pharmacy SourceWindow
	MSK      SourceWindow
}

// ReasonSetConfig is one group of the four disjoint rejection-reason sets
// returned by the document-exchange service.
type ReasonSetConfig struct {
	TracePatient      []string
	AwaitingDischarge []string
	Complete          []string
	UnableToDischarge []string
}

// RejectionConfig holds the rejection-reason sets per referral source
// channel. GP referrals are closed back through the referring-system
// channel and carry a different vocabulary from the text-message channel.
type RejectionConfig struct {
	GP    ReasonSetConfig
	Other ReasonSetConfig
}

// PrivacyConfig controls the outbound NHS-number guard. The guard
// inspects traffic on non-clinical surfaces and redacts unmasked NHS
// numbers before they leave the platform. Clinical endpoints, where the
// full NHS number is legitimate data, are exempted by prefix.
type PrivacyConfig struct {
	EnableGuard      bool
	BlockOnViolation bool
	LogViolations    bool
	ExemptPaths      []string
	ExemptPrefixes   []string
}

// TemplateConfig names the discharge-letter template per programme
// outcome for one destination. An empty value means no template exists
// for that outcome, which is a fatal per-record error at submission time.
type TemplateConfig struct {
	Complete       string
	DidNotComplete string
	DidNotCommence string
}

// TemplatesConfig holds the per-destination template sets
type TemplatesConfig struct {
	GP  TemplateConfig
	MSK TemplateConfig
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "wmp"),
			Password: getEnv("DB_PASSWORD", "wmp"),
			Database: getEnv("DB_NAME", "wmp"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		DocExchange: DocExchangeConfig{
			Endpoint:        getEnv("DOCEXCHANGE_ENDPOINT", "http://localhost:9400/api/v1"),
			UpdateEndpoint:  getEnv("DOCEXCHANGE_UPDATE_ENDPOINT", "http://localhost:9400/api/v1/update"),
			ResolveEndpoint: getEnv("DOCEXCHANGE_RESOLVE_ENDPOINT", "http://localhost:9400/api/v1/resolve"),
			DelayEndpoint:   getEnv("DOCEXCHANGE_DELAY_ENDPOINT", "http://localhost:9400/api/v1/delay"),
			APIKey:          getEnv("DOCEXCHANGE_API_KEY", ""),
			Timeout:         time.Duration(getEnvInt("DOCEXCHANGE_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		MSK: MSKConfig{
			Enabled:  getEnvBool("MSK_ADAPTER_ENABLED", false),
			Host:     getEnv("MSK_DB_HOST", "localhost"),
			Port:     getEnvInt("MSK_DB_PORT", 1433),
			User:     getEnv("MSK_DB_USER", ""),
			Password: getEnv("MSK_DB_PASSWORD", ""),
			Database: getEnv("MSK_DB_NAME", "msk_triage"),
			OrgTable: getEnv("MSK_ORG_TABLE", "dbo.Organisations"),
		},
		// Thresholds deliberately have no fallback values: 0 means unset
		// and is rejected when the calculator is constructed.
		Discharge: DischargeConfig{
			AfterDays:               getEnvInt("DISCHARGE_AFTER_DAYS", 0),
			CompletionDays:          getEnvInt("DISCHARGE_COMPLETION_DAYS", 0),
			WeightChangeThresholdKg: getEnvFloat("WEIGHT_CHANGE_THRESHOLD_KG", 0),
			MaxDischargesPerRun:     getEnvInt("MAX_DISCHARGES_PER_RUN", 100),
		},
		ReEntry: ReEntryConfig{
			GP: SourceWindow{
				ProviderSelectionDays: getEnvInt("REENTRY_GP_PROVIDER_SELECTION_DAYS", 0),
				ProgrammeStartDays:    getEnvInt("REENTRY_GP_PROGRAMME_START_DAYS", 0),
			},
			Pharmacy: SourceWindow{
				ProviderSelectionDays: getEnvInt("REENTRY_PHARMACY_PROVIDER_SELECTION_DAYS", 0),
				ProgrammeStartDays:    getEnvInt("REENTRY_PHARMACY_PROGRAMME_START_DAYS", 0),
			},
			MSK: SourceWindow{
				ProviderSelectionDays: getEnvInt("REENTRY_MSK_PROVIDER_SELECTION_DAYS", 0),
				ProgrammeStartDays:    getEnvInt("REENTRY_MSK_PROGRAMME_START_DAYS", 0),
			},
		},
		Rejection: RejectionConfig{
			GP: ReasonSetConfig{
				TracePatient:      getEnvSlice("REJECTION_GP_TRACE_REASONS", []string{"PATIENT_NOT_FOUND", "DEMOGRAPHICS_MISMATCH"}),
				AwaitingDischarge: getEnvSlice("REJECTION_GP_AWAITING_REASONS", []string{"TEMPORARY_FAILURE", "RESEND_REQUESTED"}),
				Complete:          getEnvSlice("REJECTION_GP_COMPLETE_REASONS", []string{"PATIENT_DECEASED", "PATIENT_DEREGISTERED"}),
				UnableToDischarge: getEnvSlice("REJECTION_GP_UNABLE_REASONS", []string{"PRACTICE_CLOSED", "SENDER_NOT_RECOGNISED"}),
			},
			Other: ReasonSetConfig{
				TracePatient:      getEnvSlice("REJECTION_OTHER_TRACE_REASONS", []string{"PATIENT_NOT_FOUND"}),
				AwaitingDischarge: getEnvSlice("REJECTION_OTHER_AWAITING_REASONS", []string{"TEMPORARY_FAILURE"}),
				Complete:          getEnvSlice("REJECTION_OTHER_COMPLETE_REASONS", []string{"PATIENT_DECEASED"}),
				UnableToDischarge: getEnvSlice("REJECTION_OTHER_UNABLE_REASONS", []string{"ORGANISATION_CLOSED"}),
			},
		},
		Templates: TemplatesConfig{
			GP: TemplateConfig{
				Complete:       getEnv("TEMPLATE_GP_COMPLETE", "wmp-gp-complete"),
				DidNotComplete: getEnv("TEMPLATE_GP_DID_NOT_COMPLETE", "wmp-gp-did-not-complete"),
				DidNotCommence: getEnv("TEMPLATE_GP_DID_NOT_COMMENCE", "wmp-gp-did-not-commence"),
			},
			MSK: TemplateConfig{
				Complete:       getEnv("TEMPLATE_MSK_COMPLETE", "wmp-msk-complete"),
				DidNotComplete: getEnv("TEMPLATE_MSK_DID_NOT_COMPLETE", "wmp-msk-did-not-complete"),
				DidNotCommence: getEnv("TEMPLATE_MSK_DID_NOT_COMMENCE", "wmp-msk-did-not-commence"),
			},
		},
		Privacy: PrivacyConfig{
			EnableGuard:      getEnvBool("PRIVACY_GUARD_ENABLED", false),
			BlockOnViolation: getEnvBool("PRIVACY_GUARD_BLOCK", true),
			LogViolations:    getEnvBool("PRIVACY_GUARD_LOG", true),
			ExemptPaths:      getEnvSlice("PRIVACY_GUARD_EXEMPT_PATHS", []string{"/health", "/ready", "/metrics"}),
			ExemptPrefixes:   getEnvSlice("PRIVACY_GUARD_EXEMPT_PREFIXES", []string{"/api/v1/referrals", "/api/v1/organisations"}),
		},
		Audit: AuditConfig{
			Witness: getEnv("AUDIT_WITNESS", "local"),
			TSA: TSAConfig{
				Organisation:    getEnv("TSA_ORGANISATION", "NHS Weight Management Programme"),
				PolicyOID:       getEnv("TSA_POLICY_OID", "1.3.6.1.4.1.99999.1.1"),
				AccuracySeconds: getEnvInt("TSA_ACCURACY_SECONDS", 1),
			},
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
