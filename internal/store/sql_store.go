package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migration source
	"github.com/jmoiron/sqlx"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"go.uber.org/zap"

	"github.com/homu-project/homu/internal/model"
)

// SQLStore is the MySQL-backed Store, grounded on the teacher's
// store/sql_pull_request_store.go and store/sql_store.go: sqlx over
// go-sql-driver/mysql, golang-migrate for schema bootstrap. Unlike the
// teacher (which embeds migrations with go-bindata), migrations here
// are plain .sql files under internal/store/migrations, loaded with
// golang-migrate's file source driver.
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to dataSource, runs pending migrations from
// migrationsPath, and returns a ready Store.
func Open(dataSource, migrationsPath string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sqlx.Open("mysql", dataSource)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping db: %w", err)
	}

	if err := runMigrations(db.DB, migrationsPath); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLStore{db: db, logger: logger}, nil
}

func runMigrations(db *sql.DB, migrationsPath string) error {
	driver, err := mysql.WithInstance(db, &mysql.Config{})
	if err != nil {
		return fmt.Errorf("store: build migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "mysql", driver)
	if err != nil {
		return fmt.Errorf("store: build migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) UpsertPull(ctx context.Context, pr *model.PullRequest) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO pull (repo, num, status, merge_sha, title, body, head_sha, head_ref, base_ref, assignee, approved_by, priority, try, rollup)
		VALUES (:repo, :num, :status, :merge_sha, :title, :body, :head_sha, :head_ref, :base_ref, :assignee, :approved_by, :priority, :try, :rollup)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status), merge_sha = VALUES(merge_sha), title = VALUES(title), body = VALUES(body),
			head_sha = VALUES(head_sha), head_ref = VALUES(head_ref), base_ref = VALUES(base_ref),
			assignee = VALUES(assignee), approved_by = VALUES(approved_by), priority = VALUES(priority),
			try = VALUES(try), rollup = VALUES(rollup)`, pr)
	if err != nil {
		return fmt.Errorf("store: upsert pull %s#%d: %w", pr.Repo, pr.Number, err)
	}
	return nil
}

func (s *SQLStore) DeletePull(ctx context.Context, repo string, number int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin delete pull %s#%d: %w", repo, number, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pull WHERE repo = ? AND num = ?`, repo, number); err != nil {
		return fmt.Errorf("store: delete pull %s#%d: %w", repo, number, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM build_res WHERE repo = ? AND num = ?`, repo, number); err != nil {
		return fmt.Errorf("store: delete build results %s#%d: %w", repo, number, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mergeable WHERE repo = ? AND num = ?`, repo, number); err != nil {
		return fmt.Errorf("store: delete mergeable cache %s#%d: %w", repo, number, err)
	}

	return tx.Commit()
}

func (s *SQLStore) RecordBuild(ctx context.Context, b *model.BuildResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO build_res (repo, num, builder, res, url, merge_sha)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE res = VALUES(res), url = VALUES(url), merge_sha = VALUES(merge_sha)`,
		b.Repo, b.Number, b.Builder, b.Result, b.URL, b.SHA)
	if err != nil {
		return fmt.Errorf("store: record build %s#%d/%s: %w", b.Repo, b.Number, b.Builder, err)
	}
	return nil
}

func (s *SQLStore) LoadAll(ctx context.Context) (map[string][]*model.PullRequest, error) {
	var rows []*model.PullRequest
	if err := s.db.SelectContext(ctx, &rows, `SELECT repo, num, status, merge_sha, title, body, head_sha, head_ref, base_ref, assignee, approved_by, priority, try, rollup FROM pull`); err != nil {
		return nil, fmt.Errorf("store: load all pulls: %w", err)
	}

	byRepo := map[string][]*model.PullRequest{}
	for _, pr := range rows {
		pr.State = model.ParseState(pr.StateRaw)
		byRepo[pr.Repo] = append(byRepo[pr.Repo], pr)
	}
	return byRepo, nil
}

func (s *SQLStore) LoadBuildResults(ctx context.Context, repo string, number int) ([]*model.BuildResult, error) {
	var rows []*model.BuildResult
	if err := s.db.SelectContext(ctx, &rows, `SELECT repo, num, builder, res, url, merge_sha FROM build_res WHERE repo = ? AND num = ?`, repo, number); err != nil {
		return nil, fmt.Errorf("store: load build results %s#%d: %w", repo, number, err)
	}
	for _, b := range rows {
		b.Verdict = model.ParseVerdict(b.Result)
	}
	return rows, nil
}

func (s *SQLStore) SetMergeable(ctx context.Context, repo string, number int, m model.Mergeable) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mergeable (repo, num, mergeable) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE mergeable = VALUES(mergeable)`, repo, number, int(m))
	if err != nil {
		return fmt.Errorf("store: set mergeable %s#%d: %w", repo, number, err)
	}
	return nil
}

func (s *SQLStore) RecordTrigger(ctx context.Context, t *model.BuildTrigger) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO build_triggers (branch, trigger_sha, target_sha, build_count) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE target_sha = VALUES(target_sha), build_count = VALUES(build_count)`,
		t.Branch, t.RequestSHA, t.ProducedSHA, t.BuildCount)
	if err != nil {
		return fmt.Errorf("store: record trigger %s: %w", t.RequestSHA, err)
	}
	return nil
}

func (s *SQLStore) IncrementTriggerCount(ctx context.Context, branch, triggerSHA string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE build_triggers SET build_count = build_count + 1 WHERE branch = ? AND trigger_sha = ?`, branch, triggerSHA)
	if err != nil {
		return fmt.Errorf("store: increment trigger count %s: %w", triggerSHA, err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
