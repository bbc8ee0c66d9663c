package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/recordstore"
)

const eventTable = "Events"

var eventColumns = []string{
	"event_id", "event_name", "event_date", "event_dsc", "event_location",
	"venue", "start_time", "end_time", "staff_id",
}

// PostgresEventRepo はRecord Storeを使用したイベントリポジトリ。
type PostgresEventRepo struct {
	store *recordstore.Store
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(store *recordstore.Store) *PostgresEventRepo {
	return &PostgresEventRepo{store: store}
}

var _ EventRepository = (*PostgresEventRepo)(nil)

type eventRow struct {
	eventID       sql.NullString
	eventName     sql.NullString
	eventDate     sql.NullString
	eventDsc      sql.NullString
	eventLocation sql.NullString
	venue         sql.NullString
	startTime     sql.NullString
	endTime       sql.NullString
	staffID       sql.NullString
}

func (r *eventRow) dest() []any {
	return []any{
		&r.eventID, &r.eventName, &r.eventDate, &r.eventDsc, &r.eventLocation,
		&r.venue, &r.startTime, &r.endTime, &r.staffID,
	}
}

func (r *eventRow) toModel() (*model.Event, error) {
	if !r.eventID.Valid || !r.eventName.Valid || !r.eventDate.Valid {
		return nil, fmt.Errorf("event row has NULL required column (event_id=%q)", r.eventID.String)
	}
	return &model.Event{
		EventID:       r.eventID.String,
		EventName:     r.eventName.String,
		EventDate:     r.eventDate.String,
		EventDsc:      stringPtr(r.eventDsc),
		EventLocation: stringPtr(r.eventLocation),
		Venue:         stringPtr(r.venue),
		StartTime:     stringPtr(r.startTime),
		EndTime:       stringPtr(r.endTime),
		StaffID:       r.staffID.String,
	}, nil
}

// eventFilters は絞り込み条件をRecord Storeのフィルタに変換する。
// 一覧と件数で同じ述語を使う。
func eventFilters(f EventFilter) []recordstore.Filter {
	var filters []recordstore.Filter
	if f.Search != "" {
		filters = append(filters, recordstore.Contains("event_name", f.Search))
	}
	if f.City != "" {
		filters = append(filters, recordstore.Eq("event_location", f.City))
	}
	return filters
}

func byID(eventID string) []recordstore.Filter {
	return []recordstore.Filter{recordstore.Eq("event_id", eventID)}
}

// Get は指定IDのイベントを取得する。
func (r *PostgresEventRepo) Get(ctx context.Context, eventID string) (*model.Event, error) {
	var row eventRow
	err := r.store.Single(ctx, recordstore.Query{
		Table:   eventTable,
		Columns: eventColumns,
		Filters: byID(eventID),
	}, row.dest()...)
	if err != nil {
		if recordstore.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return row.toModel()
}

// List は条件に一致するイベントをevent_name昇順で取得する。
func (r *PostgresEventRepo) List(ctx context.Context, filter EventFilter, rng *recordstore.Range) ([]*model.Event, error) {
	events := []*model.Event{}
	err := r.store.Select(ctx, recordstore.Query{
		Table:   eventTable,
		Columns: eventColumns,
		Filters: eventFilters(filter),
		Order:   &recordstore.Order{Column: "event_name"},
		Range:   rng,
	}, func(rows *sql.Rows) error {
		var row eventRow
		if err := rows.Scan(row.dest()...); err != nil {
			return fmt.Errorf("failed to scan event: %w", err)
		}
		e, err := row.toModel()
		if err != nil {
			return err
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// Count は条件に一致するイベント数を返す。
func (r *PostgresEventRepo) Count(ctx context.Context, filter EventFilter) (int, error) {
	n, err := r.store.Count(ctx, recordstore.Query{
		Table:   eventTable,
		Filters: eventFilters(filter),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// ListCities は登録済みイベントの開催都市を昇順・重複なしで返す。
// 未設定（NULLまたは空文字列）の都市は含めない。
func (r *PostgresEventRepo) ListCities(ctx context.Context) ([]string, error) {
	cities := []string{}
	seen := make(map[string]struct{})
	err := r.store.Select(ctx, recordstore.Query{
		Table:   eventTable,
		Columns: []string{"event_location"},
		Order:   &recordstore.Order{Column: "event_location"},
	}, func(rows *sql.Rows) error {
		var city sql.NullString
		if err := rows.Scan(&city); err != nil {
			return fmt.Errorf("failed to scan city: %w", err)
		}
		if !city.Valid || city.String == "" {
			return nil
		}
		if _, ok := seen[city.String]; ok {
			return nil
		}
		seen[city.String] = struct{}{}
		cities = append(cities, city.String)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cities: %w", err)
	}
	return cities, nil
}

// Create はイベントを作成する。
func (r *PostgresEventRepo) Create(ctx context.Context, event *model.Event) (*model.Event, error) {
	values := []recordstore.Value{
		recordstore.Set("event_id", event.EventID),
		recordstore.Set("event_name", event.EventName),
		recordstore.Set("event_date", event.EventDate),
		recordstore.Set("event_dsc", nullableString(event.EventDsc)),
		recordstore.Set("event_location", nullableString(event.EventLocation)),
		recordstore.Set("venue", nullableString(event.Venue)),
		recordstore.Set("start_time", nullableString(event.StartTime)),
		recordstore.Set("end_time", nullableString(event.EndTime)),
		recordstore.Set("staff_id", event.StaffID),
	}

	var row eventRow
	if err := r.store.InsertReturning(ctx, eventTable, values, eventColumns, row.dest()...); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return row.toModel()
}

// Update はイベントを部分更新する。任意項目に空文字列を指定するとNULLになる。
// 更新対象がない場合は現在の値を返す。
func (r *PostgresEventRepo) Update(ctx context.Context, eventID string, patch *model.EventPatch) (*model.Event, error) {
	if patch.IsEmpty() {
		return r.Get(ctx, eventID)
	}

	var values []recordstore.Value
	set := func(column string, v *string) {
		if v != nil {
			values = append(values, recordstore.Set(column, *v))
		}
	}
	// 任意項目は空文字列でNULLに戻す
	setOptional := func(column string, v *string) {
		if v == nil {
			return
		}
		if *v == "" {
			values = append(values, recordstore.Set(column, nil))
			return
		}
		values = append(values, recordstore.Set(column, *v))
	}
	set("event_name", patch.EventName)
	set("event_date", patch.EventDate)
	setOptional("event_dsc", patch.EventDsc)
	setOptional("event_location", patch.EventLocation)
	setOptional("venue", patch.Venue)
	setOptional("start_time", patch.StartTime)
	setOptional("end_time", patch.EndTime)

	var row eventRow
	err := r.store.UpdateReturning(ctx, eventTable, values, byID(eventID), eventColumns, row.dest()...)
	if err != nil {
		if recordstore.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	return row.toModel()
}

// Delete はイベントを削除する。参加登録の削除は呼び出し側が先に行う。
func (r *PostgresEventRepo) Delete(ctx context.Context, eventID string) error {
	n, err := r.store.Delete(ctx, eventTable, byID(eventID))
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
