// Package recordstore はテーブル単位のCRUD境界（Record Store）を提供する。
// フィルタ・ソート・範囲指定付きのSELECTと件数取得、INSERT/UPDATE/DELETEを
// PostgreSQL上に構築し、「該当行なし」とそれ以外のエラーをエラーコードで区別する。
package recordstore

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Op はフィルタの比較演算子を表す。
type Op string

const (
	// OpEq は等価比較。
	OpEq Op = "="
	// OpILike は大文字小文字を区別しないパターン一致。
	OpILike Op = "ILIKE"
)

// Filter はWHERE句の1条件を表す。複数のFilterはANDで結合される。
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq は等価条件を生成する。
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// Contains は部分一致（大文字小文字を区別しない）条件を生成する。
// text中の % _ \ はエスケープされ、リテラルとして扱われる。
func Contains(column, text string) Filter {
	return Filter{Column: column, Op: OpILike, Value: "%" + escapeLike(text) + "%"}
}

// Order はORDER BY句を表す。
type Order struct {
	Column string
	Desc   bool
}

// Range は取得行の範囲を表す。FromとToはどちらも0始まりで両端を含む。
type Range struct {
	From int
	To   int
}

// Limit は範囲に含まれる行数を返す。ToがFromより小さい場合は0を返す。
func (r Range) Limit() int {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// Query はテーブル単位のSELECTクエリを表す。
type Query struct {
	Table   string
	Columns []string // 空の場合は *
	Filters []Filter
	Order   *Order
	Range   *Range
}

// Value はINSERT/UPDATEで設定する列と値の組を表す。
type Value struct {
	Column string
	Value  any
}

// Set は列と値の組を生成する。
func Set(column string, value any) Value {
	return Value{Column: column, Value: value}
}

// buildSelect はQueryからSELECT文とプレースホルダ引数を構築する。
func buildSelect(q Query) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(columnList(q.Columns))
	sb.WriteString(" FROM ")
	sb.WriteString(pq.QuoteIdentifier(q.Table))

	where, args := buildWhere(q.Filters, 1)
	sb.WriteString(where)

	if q.Order != nil {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(pq.QuoteIdentifier(q.Order.Column))
		if q.Order.Desc {
			sb.WriteString(" DESC")
		} else {
			sb.WriteString(" ASC")
		}
	}

	if q.Range != nil {
		sb.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2))
		args = append(args, q.Range.Limit(), q.Range.From)
	}

	return sb.String(), args
}

// buildCount はQueryのフィルタ条件に一致する行数を数えるSELECT文を構築する。
// Order と Range は無視される。
func buildCount(q Query) (string, []any) {
	where, args := buildWhere(q.Filters, 1)
	return "SELECT COUNT(*) FROM " + pq.QuoteIdentifier(q.Table) + where, args
}

// buildInsert はINSERT文を構築する。returningが空でなければRETURNING句を付与する。
func buildInsert(table string, values []Value, returning []string) (string, []any) {
	cols := make([]string, len(values))
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		cols[i] = pq.QuoteIdentifier(v.Column)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = v.Value
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(table),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
	)
	if len(returning) > 0 {
		query += " RETURNING " + columnList(returning)
	}
	return query, args
}

// buildUpdate はUPDATE文を構築する。
func buildUpdate(table string, values []Value, filters []Filter, returning []string) (string, []any) {
	sets := make([]string, len(values))
	args := make([]any, 0, len(values)+len(filters))
	for i, v := range values {
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(v.Column), i+1)
		args = append(args, v.Value)
	}

	where, whereArgs := buildWhere(filters, len(args)+1)
	args = append(args, whereArgs...)

	query := "UPDATE " + pq.QuoteIdentifier(table) + " SET " + strings.Join(sets, ", ") + where
	if len(returning) > 0 {
		query += " RETURNING " + columnList(returning)
	}
	return query, args
}

// buildDelete はDELETE文を構築する。
func buildDelete(table string, filters []Filter) (string, []any) {
	where, args := buildWhere(filters, 1)
	return "DELETE FROM " + pq.QuoteIdentifier(table) + where, args
}

// buildWhere はフィルタ条件をAND結合したWHERE句を構築する。
// startはプレースホルダ番号の開始値。
func buildWhere(filters []Filter, start int) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}

	conds := make([]string, len(filters))
	args := make([]any, len(filters))
	for i, f := range filters {
		cond := fmt.Sprintf("%s %s $%d", pq.QuoteIdentifier(f.Column), f.Op, start+i)
		if f.Op == OpILike {
			cond += ` ESCAPE '\'`
		}
		conds[i] = cond
		args[i] = f.Value
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func columnList(columns []string) string {
	if len(columns) == 0 {
		return "*"
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
