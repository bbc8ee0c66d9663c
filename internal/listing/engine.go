// Package listing はイベント一覧の検索・絞り込み・ページングを提供する。
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/recordstore"
	"github.com/hitoshi/eventboard/internal/repository"
)

// ErrSuperseded は取得中により新しい条件の取得が発行され、結果が破棄されたことを表す。
var ErrSuperseded = errors.New("listing result superseded by a newer query")

// DefaultRowsPerPage は画面幅から1ページの件数を決めるときの行数。
const DefaultRowsPerPage = 3

// Params は一覧の取得条件。Pageは0始まり。
type Params struct {
	Search   string
	City     string
	Page     int
	PageSize int
}

// Update は取得条件の変更。nilのフィールドは変更しない。
type Update struct {
	Search   *string
	City     *string
	Page     *int
	PageSize *int
}

// PageInfo はページングの情報。
type PageInfo struct {
	Page       int // 0始まり
	PageSize   int
	Total      int
	TotalPages int // ceil(Total / PageSize)
}

// Result は一覧の取得結果。
type Result struct {
	Params Params
	Events []*model.Event
	PageInfo
}

// State はEngineの現在の状態。
type State struct {
	Params Params
	Result *Result // 最後に成功した取得結果
	Err    error   // 最後の取得が失敗した場合のエラー（再試行可能）
	Cities []string
}

// Engine はクライアントセッションごとの一覧状態を保持する。
// 最後に発行された取得だけが結果として採用される。
type Engine struct {
	events repository.EventRepository
	logger *slog.Logger

	mu           sync.Mutex
	params       Params
	generation   uint64
	result       *Result
	err          error
	cities       []string
	citiesLoaded bool
}

// NewEngine はEngineを生成する。pageSizeは初期の1ページの件数。
func NewEngine(events repository.EventRepository, pageSize int, logger *slog.Logger) *Engine {
	if pageSize <= 0 {
		pageSize = ColumnsForWidth(0) * DefaultRowsPerPage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		events: events,
		logger: logger,
		params: Params{PageSize: pageSize},
	}
}

// Params は現在の取得条件を返す。
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// State は現在の状態のコピーを返す。
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	cities := make([]string, len(e.cities))
	copy(cities, e.cities)
	return State{Params: e.params, Result: e.result, Err: e.err, Cities: cities}
}

// Apply は取得条件を変更し、変更後の条件を返す。
// 検索文字列・都市・1ページの件数のいずれかが変わった場合はページを0に戻し、指定されたページは無視する。
func (e *Engine) Apply(u Update) Params {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.params
	reset := false
	if u.Search != nil && *u.Search != next.Search {
		next.Search = *u.Search
		reset = true
	}
	if u.City != nil && *u.City != next.City {
		next.City = *u.City
		reset = true
	}
	if u.PageSize != nil && *u.PageSize > 0 && *u.PageSize != next.PageSize {
		next.PageSize = *u.PageSize
		reset = true
	}

	switch {
	case reset:
		next.Page = 0
	case u.Page != nil && *u.Page >= 0:
		next.Page = *u.Page
	}

	e.params = next
	return next
}

// Fetch は現在の条件で件数と1ページ分のイベントを取得する。
// 件数と一覧には同じ述語を使い、一覧はevent_name昇順で[page*size, page*size+size-1]の範囲を取得する。
// 取得中により新しいFetchが発行された場合はErrSupersededを返し、状態を変更しない。
func (e *Engine) Fetch(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	p := e.params
	e.mu.Unlock()

	filter := repository.EventFilter{Search: p.Search, City: p.City}

	total, err := e.events.Count(ctx, filter)
	if err != nil {
		return nil, e.fail(gen, fmt.Errorf("failed to count events: %w", err))
	}

	info := Paginate(total, p.Page, p.PageSize)
	events := []*model.Event{}
	if total > 0 {
		from := p.Page * p.PageSize
		events, err = e.events.List(ctx, filter, &recordstore.Range{From: from, To: from + p.PageSize - 1})
		if err != nil {
			return nil, e.fail(gen, fmt.Errorf("failed to list events: %w", err))
		}
	}

	result := &Result{Params: p, Events: events, PageInfo: info}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return nil, ErrSuperseded
	}
	e.result = result
	e.err = nil
	return result, nil
}

// fail は取得失敗を記録する。新しい取得が発行済みの場合はErrSupersededを返す。
func (e *Engine) fail(gen uint64, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return ErrSuperseded
	}
	e.err = err
	return err
}

// Cities は開催都市の一覧を返す。初回の成功まで取得を試み、以降はキャッシュを返す。
// 取得の失敗はログに記録し、それまでに取得した一覧（未取得なら空）を返す。
func (e *Engine) Cities(ctx context.Context) []string {
	e.mu.Lock()
	if e.citiesLoaded {
		cities := e.cities
		e.mu.Unlock()
		return cities
	}
	e.mu.Unlock()

	cities, err := e.events.ListCities(ctx)
	if err != nil {
		e.logger.Warn("failed to load cities", slog.String("error", err.Error()))
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.cities
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cities = cities
	e.citiesLoaded = true
	return cities
}

// Paginate は総件数からページ情報を計算する。総件数0の場合は0ページ。
func Paginate(total, page, pageSize int) PageInfo {
	info := PageInfo{Page: page, PageSize: pageSize, Total: total}
	if pageSize > 0 {
		info.TotalPages = (total + pageSize - 1) / pageSize
	}
	return info
}

// ColumnsForWidth は画面幅（px）からイベントカードの列数を返す。
// 0以下の幅は不明として最大列数を返す。
func ColumnsForWidth(width int) int {
	switch {
	case width <= 0:
		return 4
	case width < 576:
		return 1
	case width < 768:
		return 2
	case width < 992:
		return 3
	default:
		return 4
	}
}

// PageSizeForWidth は画面幅から1ページの件数を返す。
func PageSizeForWidth(width int) int {
	return ColumnsForWidth(width) * DefaultRowsPerPage
}
