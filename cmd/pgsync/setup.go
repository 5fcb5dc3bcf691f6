package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"pgsync/internal/adapter"
	"pgsync/internal/backup"
	"pgsync/internal/config"
	"pgsync/internal/logging"
	"pgsync/internal/models"
	"pgsync/internal/orchestrator"
	"pgsync/internal/progress"
	"pgsync/internal/syncer"
	"pgsync/internal/tunnel"
)

// commonFlags holds the flags shared by pull and clone.
type commonFlags struct {
	syncConnection  string
	force           bool
	tables          string
	views           string
	includeExcluded bool
	dryRun          bool
	skipBackup      bool
	batchSize       int
	memoryLimitMB   int
}

// session bundles everything a subcommand needs once the connection,
// tunnel, and adapter are wired up.
type session struct {
	cfg      *config.Config
	conn     config.Connection
	logger   *zap.Logger
	adapter  *adapter.PostgresAdapter
	tun      *tunnel.Tunnel
	endpoint tunnel.Endpoint
	src      *sql.DB
	tgt      *sql.DB
	orch     *orchestrator.Orchestrator
	reporter *progress.Reporter
	cancel   context.CancelFunc
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dsn(host, port, user, password, database string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, database)
}

// openSession loads config, opens the SSH tunnel, dials both
// databases, and wires every core component together. Callers must
// call close() when done, including on error paths after the tunnel
// is open.
func openSession(connName string) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	conn, err := cfg.Connection(connName)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(verbose)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := tunnel.New(conn.Tunnel, conn.Source, logger)
	endpoint, err := t.Open(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	src, err := sql.Open("postgres", dsn(endpoint.Host, endpoint.Port, conn.Source.Username, conn.Source.Password, conn.Source.Database))
	if err != nil {
		t.Close()
		cancel()
		return nil, fmt.Errorf("open source connection: %w", err)
	}

	tgt, err := sql.Open("postgres", dsn(conn.Target.Host, conn.Target.Port, conn.Target.Username, conn.Target.Password, conn.Target.Database))
	if err != nil {
		src.Close()
		t.Close()
		cancel()
		return nil, fmt.Errorf("open target connection: %w", err)
	}

	pgAdapter := adapter.NewPostgresAdapter(logger)
	reporter := progress.New(os.Stdout, os.Stdin)
	backupMgr := backup.NewManager(pgAdapter, logger)
	orch := orchestrator.New(pgAdapter, backupMgr, reporter, logger)

	sess := &session{
		cfg:      cfg,
		conn:     conn,
		logger:   logger,
		adapter:  pgAdapter,
		tun:      t,
		endpoint: endpoint,
		src:      src,
		tgt:      tgt,
		orch:     orch,
		reporter: reporter,
		cancel:   cancel,
	}

	// On interrupt/terminate, tear down the tunnel before exiting so
	// the SSH connection and local listener don't leak past the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("signal received, closing tunnel")
			sess.close()
			os.Exit(0)
		case <-ctx.Done():
		}
	}()

	return sess, nil
}

func (s *session) close() {
	s.cancel()
	if s.src != nil {
		s.src.Close()
	}
	if s.tgt != nil {
		s.tgt.Close()
	}
	s.tun.Close()
}

func (s *session) connParams(db config.DatabaseConfig, host, port string) adapter.ConnParams {
	return adapter.ConnParams{
		Host:     host,
		Port:     port,
		User:     db.Username,
		Password: db.Password,
		Database: db.Database,
	}
}

func (s *session) sourceParams() adapter.ConnParams {
	return s.connParams(s.conn.Source, s.endpoint.Host, s.endpoint.Port)
}

func (s *session) targetParams() adapter.ConnParams {
	return s.connParams(s.conn.Target, s.conn.Target.Host, s.conn.Target.Port)
}

func (s *session) retryFuncs() (syncer.RetryFunc, syncer.IDRetryFunc) {
	const attempts = 3
	const backoff = 2 * time.Second

	retryRecords := func(ctx context.Context, fn func(context.Context) ([]models.Record, error)) ([]models.Record, error) {
		return tunnel.RetryRead(ctx, attempts, backoff, fn)
	}
	retryIDs := func(ctx context.Context, fn func(context.Context) ([]string, error)) ([]string, error) {
		return tunnel.RetryRead(ctx, attempts, backoff, fn)
	}
	return retryRecords, retryIDs
}

func optionsFromFlags(f commonFlags) orchestrator.Options {
	return orchestrator.Options{
		Force:           f.force,
		Tables:          splitCSV(f.tables),
		Views:           splitCSV(f.views),
		IncludeExcluded: f.includeExcluded,
		DryRun:          f.dryRun,
		SkipBackup:      f.skipBackup,
		BatchSize:       f.batchSize,
	}
}
