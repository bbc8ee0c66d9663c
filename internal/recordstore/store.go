package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// エラーコード
const (
	// CodeNoRows は単一行取得で該当行が存在しないことを表す。
	CodeNoRows = "PGRST116"
	// CodeUniqueViolation は一意制約違反を表す（PostgreSQLのSQLSTATE）。
	CodeUniqueViolation = "23505"
	// CodeUnknown はPostgreSQLのエラーコードを特定できない失敗を表す。
	CodeUnknown = "UNKNOWN"
)

// Error はRecord Storeの操作失敗を表す。
// Codeにより「該当行なし」とそれ以外の失敗を区別できる。
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("record store error %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("record store error %s: %s", e.Code, e.Message)
}

// Unwrap は元のエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, ErrNoRows) で該当行なしを判定できる。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ErrNoRows は単一行取得で該当行がないことを表すセンチネルエラー。
var ErrNoRows = &Error{Code: CodeNoRows, Message: "no rows returned for single-row query"}

// ErrUniqueViolation は一意制約違反を表すセンチネルエラー。
var ErrUniqueViolation = &Error{Code: CodeUniqueViolation, Message: "unique constraint violated"}

// ErrUnfilteredMutation はフィルタなしのUPDATE/DELETEを拒否した場合のエラー。
var ErrUnfilteredMutation = errors.New("update and delete require at least one filter")

// DB はRecord Storeが使用するSQL実行のインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store はPostgreSQLを使用したRecord Store。
type Store struct {
	db DB
}

// New はStoreを生成する。
func New(db DB) *Store {
	return &Store{db: db}
}

// Select はクエリを実行し、各行をscanに渡す。
func (s *Store) Select(ctx context.Context, q Query, scan func(*sql.Rows) error) error {
	query, args := buildSelect(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return translate(err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return translate(err)
	}
	return nil
}

// Single は1行を取得してdestにスキャンする。
// 該当行がない場合はErrNoRowsと一致するエラーを返す。
func (s *Store) Single(ctx context.Context, q Query, dest ...any) error {
	query, args := buildSelect(q)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		return translate(err)
	}
	return nil
}

// Count はクエリのフィルタ条件に一致する行数を返す。
func (s *Store) Count(ctx context.Context, q Query) (int, error) {
	query, args := buildCount(q)
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// Insert は1行を挿入する。
func (s *Store) Insert(ctx context.Context, table string, values []Value) error {
	query, args := buildInsert(table, values, nil)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return translate(err)
	}
	return nil
}

// InsertReturning は1行を挿入し、columnsの値をdestにスキャンする。
func (s *Store) InsertReturning(ctx context.Context, table string, values []Value, columns []string, dest ...any) error {
	query, args := buildInsert(table, values, columns)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		return translate(err)
	}
	return nil
}

// UpdateReturning はフィルタに一致する行を更新し、更新後のcolumnsの値をdestにスキャンする。
// 一致する行がない場合はErrNoRowsと一致するエラーを返す。
func (s *Store) UpdateReturning(ctx context.Context, table string, values []Value, filters []Filter, columns []string, dest ...any) error {
	if len(filters) == 0 {
		return ErrUnfilteredMutation
	}
	query, args := buildUpdate(table, values, filters, columns)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		return translate(err)
	}
	return nil
}

// Delete はフィルタに一致する行を削除し、削除件数を返す。
func (s *Store) Delete(ctx context.Context, table string, filters []Filter) (int64, error) {
	if len(filters) == 0 {
		return 0, ErrUnfilteredMutation
	}
	query, args := buildDelete(table, filters)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translate(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// Exec は任意のSQLを実行する。バッチジョブなどテーブル単位の操作で表現できない処理に使用する。
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translate(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// translate はdatabase/sqlとlib/pqのエラーをRecord Storeのエラーに変換する。
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Code: CodeNoRows, Message: "no rows returned for single-row query", Err: err}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &Error{Code: string(pqErr.Code), Message: pqErr.Message, Err: err}
	}
	return &Error{Code: CodeUnknown, Message: "record store request failed", Err: err}
}

// IsNoRows はerrが該当行なしを表す場合にtrueを返す。
func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}
