package migrate

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMock(t *testing.T, files fs.FS) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return NewManager(db, files), mock
}

var testFiles = fstest.MapFS{
	"0001_a.up.sql":   {Data: []byte("create table a (id int);")},
	"0001_a.down.sql": {Data: []byte("drop table a;")},
	"0002_b.up.sql":   {Data: []byte("create table b (v text default 'x;y'); create index b_v on b (v);")},
	"README.md":       {Data: []byte("ignored")},
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	m, mock := newMock(t, testFiles)

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index b_v").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_b.up.sql" {
		t.Fatalf("unexpected applied list %v", applied)
	}
}

func TestUpRollsBackFailedFile(t *testing.T) {
	m, mock := newMock(t, testFiles)

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := m.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_a.up.sql") {
		t.Fatalf("expected failure naming the file, got %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("nothing should be applied, got %v", applied)
	}
}

func TestDownRevertsLatest(t *testing.T) {
	m, mock := newMock(t, testFiles)

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations where name").
		WithArgs("0001_a.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := m.Down(context.Background())
	if err != nil || name != "0001_a.up.sql" {
		t.Fatalf("Down = %q, %v", name, err)
	}
}

func TestDownWithoutHistory(t *testing.T) {
	m, mock := newMock(t, testFiles)

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := m.Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestDownMissingFile(t *testing.T) {
	m, mock := newMock(t, testFiles)

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql").AddRow("0002_b.up.sql"))

	if _, err := m.Down(context.Background()); err == nil || !strings.Contains(err.Error(), "missing down migration") {
		t.Fatalf("expected missing down error, got %v", err)
	}
}

func TestSplitStatementsKeepsQuotedSemicolons(t *testing.T) {
	got := splitStatements("insert into t values ('a;b'); select 1;")
	if len(got) != 2 || !strings.Contains(got[0], "'a;b'") {
		t.Fatalf("unexpected split %q", got)
	}
}

func TestBundledSchemaPairs(t *testing.T) {
	m := NewManager(nil, nil)
	ups, err := m.collect(".up.sql")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(ups) != 4 {
		t.Fatalf("expected 4 bundled migrations, got %v", ups)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(Schema(), down); err != nil {
			t.Fatalf("%s has no down migration", up)
		}
	}
	body, err := fs.ReadFile(Schema(), "0004_login_history.up.sql")
	if err != nil || !strings.Contains(string(body), "partition by range (created_at)") {
		t.Fatalf("login history must be range partitioned: %v", err)
	}
}
