// Package testutils starts throwaway backing services for integration tests.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// MigrationsURL points at the repository migrations directory.
func MigrationsURL() string {
	_, file, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s", filepath.Join(filepath.Dir(file), "..", "..", "migrations"))
}

type PostgresEndpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	URL      string
}

// StartPostgresContainer runs postgres without applying migrations.
func StartPostgresContainer(t *testing.T) PostgresEndpoint {
	t.Helper()
	ctx := context.Background()
	ep := PostgresEndpoint{User: "test", Password: "test", Database: "docsearch_test"}

	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(ep.Database),
		postgres.WithUsername(ep.User),
		postgres.WithPassword(ep.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	ep.Host, err = pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)
	ep.Port = port.Int()

	ep.URL, err = pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return ep
}

// StartPostgres runs a migrated postgres and returns a connection to it.
func StartPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ep := StartPostgresContainer(t)

	m, err := migrate.New(MigrationsURL(), ep.URL)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	db, err := sql.Open("postgres", ep.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// StartWeaviate runs weaviate without vectorizer modules.
func StartWeaviate(t *testing.T) *weaviate.Client {
	t.Helper()
	client, err := weaviate.NewClient(weaviate.Config{Host: StartWeaviateHost(t), Scheme: "http"})
	require.NoError(t, err)
	return client
}

// StartWeaviateHost runs weaviate and returns its host:port.
func StartWeaviateHost(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "semitechnologies/weaviate:1.25.0",
			ExposedPorts: []string{"8080/tcp"},
			Env: map[string]string{
				"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
				"DEFAULT_VECTORIZER_MODULE":               "none",
				"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
			},
			WaitingFor: wait.ForHTTP("/v1/.well-known/ready").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "8080")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

type MinioEndpoint struct {
	Endpoint  string
	AccessKey string
	SecretKey string
}

// StartMinio runs a single-node minio server.
func StartMinio(t *testing.T) MinioEndpoint {
	t.Helper()
	ctx := context.Background()
	ep := MinioEndpoint{AccessKey: "minioadmin", SecretKey: "minioadmin"}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     ep.AccessKey,
				"MINIO_ROOT_PASSWORD": ep.SecretKey,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "9000")
	require.NoError(t, err)
	ep.Endpoint = fmt.Sprintf("%s:%s", host, port.Port())
	return ep
}

// StartNSQ runs nsqd and returns its TCP address.
func StartNSQ(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nsqio/nsq:v1.3.0",
			ExposedPorts: []string{"4150/tcp", "4151/tcp"},
			Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
			WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "4150")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}
