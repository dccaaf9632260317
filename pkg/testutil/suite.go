package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fisioflow/fisioflow-backend/internal/migrate"
	"github.com/fisioflow/fisioflow-backend/internal/migrate/migrations"
	"github.com/fisioflow/fisioflow-backend/pkg/database"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real
// PostgreSQL. The schema comes from the service's own migration registry,
// so integration tests always run against the schema production runs.
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger

	tenantsMu sync.Mutex
	tenants   []string
}

// TestTenant is one tenant row created for a test
type TestTenant struct {
	ID   string
	Slug string
	Name string
}

// NewIntegrationSuite starts (or reuses) the shared container and brings
// the schema up to date with the migration registry.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    s, err := testutil.NewIntegrationSuite(ctx)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    suite = s
//	    code := m.Run()
//	    testutil.TerminateContainer(ctx)
//	    os.Exit(code)
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, rawDB, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.New("test", "test")
	db := database.NewFromSqlx(rawDB, "compliance, public", log)

	registry, err := migrations.BuildRegistry()
	if err != nil {
		return nil, err
	}
	runner := migrate.NewRunner(db, registry, migrations.DatabaseName, log)
	summary, err := runner.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate test database: %w", err)
	}
	if !summary.Ok() {
		for _, res := range summary.Results {
			if res.Error != "" {
				return nil, fmt.Errorf("migration %s failed: %s", res.Name, res.Error)
			}
		}
		return nil, fmt.Errorf("test database migrations failed")
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     rawDB,
		DB:        db,
		Fixtures:  NewFixtureFactory(),
		Logger:    log,
	}, nil
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// SetupTenant registers a fresh tenant for one test. Each test gets its
// own tenant so RLS keeps their rows invisible to each other.
func (s *IntegrationSuite) SetupTenant(t *testing.T, ctx context.Context, name string) *TestTenant {
	t.Helper()

	tn := &TestTenant{
		ID:   uuid.New().String(),
		Slug: fmt.Sprintf("%s-%s", name, uuid.New().String()[:8]),
		Name: name,
	}

	_, err := s.RawDB.ExecContext(ctx,
		`INSERT INTO public.tenants (id, name, slug, is_active) VALUES ($1, $2, $3, TRUE)`,
		tn.ID, tn.Name, tn.Slug,
	)
	if err != nil {
		t.Fatalf("failed to create tenant: %v", err)
	}

	s.tenantsMu.Lock()
	s.tenants = append(s.tenants, tn.ID)
	s.tenantsMu.Unlock()

	t.Cleanup(func() {
		s.RawDB.Exec(`DELETE FROM public.tenants WHERE id = $1`, tn.ID)
	})

	return tn
}

// TerminateContainer tears down the shared container after all tests
func TerminateContainer(ctx context.Context) {
	if globalDB != nil {
		globalDB.Close()
	}
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}
