package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nhsd-wmp/platform/internal/adapters/msk"
	"github.com/nhsd-wmp/platform/internal/audit"
	"github.com/nhsd-wmp/platform/internal/docexchange"
	"github.com/nhsd-wmp/platform/internal/notification"
	"github.com/nhsd-wmp/platform/internal/organisation"
	"github.com/nhsd-wmp/platform/internal/privacy"
	"github.com/nhsd-wmp/platform/internal/referral/api"
	"github.com/nhsd-wmp/platform/internal/referral/discharge"
	"github.com/nhsd-wmp/platform/internal/referral/eligibility"
	"github.com/nhsd-wmp/platform/internal/referral/infrastructure"
	"github.com/nhsd-wmp/platform/internal/shared/auth"
	"github.com/nhsd-wmp/platform/internal/shared/config"
	"github.com/nhsd-wmp/platform/internal/shared/database"
	"github.com/nhsd-wmp/platform/internal/shared/events"
	"github.com/nhsd-wmp/platform/internal/shared/metrics"
	secmiddleware "github.com/nhsd-wmp/platform/internal/shared/middleware"
	"github.com/nhsd-wmp/platform/internal/shared/types"
	"github.com/nhsd-wmp/platform/internal/simulation"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
	Bus    *events.Bus
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	// Initialize database (optional - skip if not available)
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Printf("Warning: Database not available: %v\n", err)
		fmt.Println("Running in limited mode without database...")
	} else {
		app.DB = db
		defer db.Close()

		// Run migrations
		if err := database.Migrate(ctx, db.Pool); err != nil {
			fmt.Printf("Warning: Migration failed: %v\n", err)
		}
	}

	// Initialize event bus with KurrentDB (optional - skip if not available)
	bus, err := events.NewBus(ctx, cfg.KurrentDB)
	if err != nil {
		fmt.Printf("Warning: KurrentDB not available: %v\n", err)
		fmt.Println("Running without event streaming...")
	} else {
		app.Bus = bus
		defer bus.Close()
		fmt.Println("KurrentDB Event Bus initialized")
	}

	// Text-message sender for the contact pathway (needs the event bus)
	if app.Bus != nil {
		smsService := notification.NewService(
			notification.NewConsoleProvider("SMS"),
			notification.DefaultStepTemplates(),
			notification.DefaultServiceConfig(),
		)
		if err := smsService.Start(ctx); err != nil {
			fmt.Printf("Warning: Text-message service failed to start: %v\n", err)
		} else {
			defer smsService.Stop()

			smsSubscriber := notification.NewSubscriber(smsService, app.Bus)
			if err := smsSubscriber.Start(ctx); err != nil {
				fmt.Printf("Warning: Text-message subscriber failed to start: %v\n", err)
			} else {
				fmt.Println("Text-message subscriber started")
			}
		}
	}

	// Connect the legacy MSK triage adapter (optional)
	var mskDirectory msk.Directory
	if cfg.MSK.Enabled {
		adapter := msk.New(cfg.MSK)
		if err := adapter.Start(ctx); err != nil {
			fmt.Printf("Warning: MSK triage adapter not available: %v\n", err)
			fmt.Println("MSK organisation lookups will use the local directory only...")
		} else {
			mskDirectory = adapter
			defer adapter.Stop(ctx)
			fmt.Println("MSK triage adapter connected")
		}
	}

	// Audit store - postgres when the database is up, otherwise the
	// KurrentDB stream when only the event store is available
	var auditRepo audit.AuditRepository
	if app.DB != nil {
		auditRepo = audit.NewRepository(app.DB.Pool)
	} else if app.Bus != nil {
		auditRepo = audit.NewKurrentDBRepository(app.Bus.Client())
	}
	if auditRepo != nil {
		if err := auditRepo.Initialize(ctx); err != nil {
			fmt.Printf("Warning: Audit initialization failed: %v\n", err)
		}
	}

	// Privacy guard (optional - redacts NHS numbers on non-clinical surfaces)
	var privacyGuard *privacy.Guard
	if cfg.Privacy.EnableGuard {
		var violationHandler privacy.ViolationHandler
		if auditRepo != nil {
			violationHandler = &auditViolationHandler{auditRepo: auditRepo}
		}

		privacyGuard = privacy.NewGuard(violationHandler, privacy.GuardConfig{
			ExemptPaths:      cfg.Privacy.ExemptPaths,
			ExemptPrefixes:   cfg.Privacy.ExemptPrefixes,
			BlockOnViolation: cfg.Privacy.BlockOnViolation,
			LogViolations:    cfg.Privacy.LogViolations,
		})
		fmt.Println("Privacy guard enabled")
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	if privacyGuard != nil {
		r.Use(privacyGuard.Middleware)
	}

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	// API info
	r.Get("/", infoHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required for now in dev mode)
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		// Referral module
		if app.DB != nil {
			referralRepo := infrastructure.NewPostgresRepository(app.DB.Pool)

			orgRepo := organisation.NewRepository(app.DB.Pool)
			orgService := organisation.NewService(orgRepo, mskDirectory)

			windows, err := eligibility.NewReEntryWindows(
				eligibility.SourceWindow(cfg.ReEntry.GP),
				eligibility.SourceWindow(cfg.ReEntry.Pharmacy),
				eligibility.SourceWindow(cfg.ReEntry.MSK),
			)
			if err != nil {
				fmt.Fprintf(os.Stderr, "re-entry window config: %v\n", err)
				os.Exit(1)
			}
			evaluator := eligibility.NewEvaluator(referralRepo, windows)

			thresholds, err := discharge.NewThresholds(
				cfg.Discharge.AfterDays,
				cfg.Discharge.CompletionDays,
				cfg.Discharge.WeightChangeThresholdKg,
			)
			if err != nil {
				fmt.Fprintf(os.Stderr, "discharge threshold config: %v\n", err)
				os.Exit(1)
			}
			calculator := discharge.NewCalculator(thresholds)

			gpReasons, err := discharge.NewReasonSets(
				cfg.Rejection.GP.TracePatient,
				cfg.Rejection.GP.AwaitingDischarge,
				cfg.Rejection.GP.Complete,
				cfg.Rejection.GP.UnableToDischarge,
			)
			if err != nil {
				fmt.Fprintf(os.Stderr, "gp rejection reason config: %v\n", err)
				os.Exit(1)
			}
			otherReasons, err := discharge.NewReasonSets(
				cfg.Rejection.Other.TracePatient,
				cfg.Rejection.Other.AwaitingDischarge,
				cfg.Rejection.Other.Complete,
				cfg.Rejection.Other.UnableToDischarge,
			)
			if err != nil {
				fmt.Fprintf(os.Stderr, "rejection reason config: %v\n", err)
				os.Exit(1)
			}
			rejections := discharge.Rejections{GP: gpReasons, Other: otherReasons}

			templates := discharge.Templates{
				GP:  discharge.TemplateSet(cfg.Templates.GP),
				MSK: discharge.TemplateSet(cfg.Templates.MSK),
			}

			exchange := docexchange.New(cfg.DocExchange)

			// Identity recorded on audit entries written by the batch workflows
			systemActor := types.NewID()

			var publisher discharge.Publisher
			var apiBus events.EventBus
			if app.Bus != nil {
				publisher = app.Bus
				apiBus = app.Bus
			}

			submitter, err := discharge.NewSubmitter(referralRepo, orgService, exchange,
				templates, cfg.Discharge.MaxDischargesPerRun, systemActor, publisher)
			if err != nil {
				fmt.Fprintf(os.Stderr, "discharge submission config: %v\n", err)
				os.Exit(1)
			}
			updater, err := discharge.NewUpdater(referralRepo, exchange, rejections,
				systemActor, publisher)
			if err != nil {
				fmt.Fprintf(os.Stderr, "discharge update config: %v\n", err)
				os.Exit(1)
			}

			referralHandler := api.NewHandler(referralRepo, apiBus, evaluator,
				calculator, submitter, updater)
			r.Mount("/referrals", referralHandler.Routes())

			// Organisation directory
			orgHandler := organisation.NewHandler(orgRepo, apiBus)
			r.Mount("/organisations", orgHandler.Routes())
		}

		// Audit module
		if auditRepo != nil {
			witness, err := audit.NewWitness(cfg.Audit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "audit witness config: %v\n", err)
				os.Exit(1)
			}
			auditHandler := audit.NewHandler(auditRepo, witness)
			r.Mount("/audit", auditHandler.Routes())

			// The subscriber mirrors bus events into the audit store
			if app.Bus != nil {
				auditSubscriber := audit.NewSubscriber(auditRepo, app.Bus)
				if err := auditSubscriber.Start(ctx); err != nil {
					fmt.Printf("Warning: Audit subscriber failed to start: %v\n", err)
				} else {
					fmt.Println("Audit subscriber started")
				}
			}
		}

		// Simulation module - scripted journey walkthroughs for demos
		if app.Bus != nil {
			simHandler := simulation.NewHandler(app.Bus)
			r.Mount("/simulation", simHandler.Routes())
			fmt.Println("Simulation Module enabled")
		}
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("NHS Weight Management Referral Platform")
	fmt.Println("============================================")
	fmt.Printf("Environment:    %s\n", cfg.Server.Env)
	fmt.Printf("Server:         http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:            http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Health:         http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("MSK Adapter:    %v\n", cfg.MSK.Enabled)
	fmt.Printf("KurrentDB:      %s:%d\n", cfg.KurrentDB.Host, cfg.KurrentDB.Port)
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "NHS Weight Management Referral Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		// Check database
		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		// Check KurrentDB
		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

// auditViolationHandler wraps the audit repository to implement
// privacy.ViolationHandler
type auditViolationHandler struct {
	auditRepo audit.AuditRepository
}

func (h *auditViolationHandler) HandleViolation(ctx context.Context, violation *privacy.PIIViolation) error {
	if h.auditRepo == nil {
		return nil
	}

	action := privacy.AuditActionPIIViolationDetected
	if violation.Blocked {
		action = privacy.AuditActionPIIViolationBlocked
	}

	entry := audit.NewAuditEntry(
		audit.ActorTypeSystem,
		types.NewDeterministicID("system", "privacy-guard"),
		nil,
		action,
		"pii_violation",
		&violation.ID,
		map[string]any{
			"field":          violation.Field,
			"location":       violation.Location,
			"blocked":        violation.Blocked,
			"masked_value":   violation.MaskedValue,
			"request_path":   violation.RequestPath,
			"request_method": violation.RequestMethod,
		},
		"", // prevHash - set by the repository
	)

	return h.auditRepo.Append(ctx, entry)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
