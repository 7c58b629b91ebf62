package msk

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/nhsd-wmp/platform/internal/shared/config"
)

// Adapter implements Directory against the triage system's SQL Server
type Adapter struct {
	db     *sql.DB
	config config.MSKConfig

	running bool
	mu      sync.RWMutex
}

// New creates a new MSK triage-system adapter
func New(cfg config.MSKConfig) *Adapter {
	return &Adapter{config: cfg}
}

// Start opens the database connection
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("msk adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		a.config.Host, a.config.Port, a.config.Database, a.config.User, a.config.Password)

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("open msk triage database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("ping msk triage database: %w", err)
	}

	a.db = db
	a.running = true
	return nil
}

// Stop closes the database connection
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false
	return a.db.Close()
}

// IsConnected reports whether the adapter has a live connection
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Health pings the triage database
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("msk adapter not running")
	}
	return a.db.PingContext(ctx)
}

// FetchOrganisation looks an MSK organisation up by its code. A missing
// organisation returns nil, not an error.
func (a *Adapter) FetchOrganisation(ctx context.Context, code string) (*Organisation, error) {
	a.mu.RLock()
	db, running := a.db, a.running
	a.mu.RUnlock()

	if !running {
		return nil, fmt.Errorf("msk adapter not running")
	}

	// The table name comes from configuration because triage deployments
	// differ per region.
	query := fmt.Sprintf(`
		SELECT OrgCode, OrgName, IsActive, ConsentToContact, LastUpdated
		FROM %s
		WHERE OrgCode = @p1`, a.config.OrgTable)

	var org Organisation
	err := db.QueryRowContext(ctx, query, code).Scan(
		&org.Code, &org.Name, &org.Active, &org.ConsentToContact, &org.LastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch msk organisation %s: %w", code, err)
	}
	return &org, nil
}
