package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventboard/internal/calendar"
	"github.com/hitoshi/eventboard/internal/eventadmin"
	"github.com/hitoshi/eventboard/internal/listing"
	"github.com/hitoshi/eventboard/internal/metrics"
	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/repository"
)

// EventReader はイベント詳細の取得に必要なインターフェース。
type EventReader interface {
	Get(ctx context.Context, eventID string) (*model.Event, error)
}

// EventAdminServiceInterface はイベント管理ハンドラーが必要とするサービスインターフェース。
type EventAdminServiceInterface interface {
	Create(ctx context.Context, auth eventadmin.Authorizer, in eventadmin.EventInput) (*model.Event, error)
	Update(ctx context.Context, auth eventadmin.Authorizer, eventID string, patch model.EventPatch) (*model.Event, error)
	Delete(ctx context.Context, auth eventadmin.Authorizer, eventID string) error
}

// EventHandler はイベント一覧・詳細・管理のHTTPハンドラー。
type EventHandler struct {
	events   EventReader
	admin    EventAdminServiceInterface
	location *time.Location
	metrics  metrics.MetricsCollector
}

// NewEventHandler はEventHandlerを生成する。
// locはカレンダー登録URLを作るときにイベントの日時を解釈するタイムゾーン。
func NewEventHandler(events EventReader, admin EventAdminServiceInterface, loc *time.Location, collector metrics.MetricsCollector) *EventHandler {
	if loc == nil {
		loc = time.UTC
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &EventHandler{
		events:   events,
		admin:    admin,
		location: loc,
		metrics:  collector,
	}
}

// eventResponse はイベントのAPIレスポンス。フィールド名はEventsテーブルの列名に合わせる。
type eventResponse struct {
	EventID       string  `json:"event_id"`
	EventName     string  `json:"event_name"`
	EventDate     string  `json:"event_date"`
	EventDsc      *string `json:"event_dsc"`
	EventLocation *string `json:"event_location"`
	Venue         *string `json:"venue"`
	StartTime     *string `json:"start_time"`
	EndTime       *string `json:"end_time"`
	StaffID       string  `json:"staff_id"`
}

// listEventsResponse はイベント一覧のAPIレスポンス。pageは0始まり。
type listEventsResponse struct {
	Events     []eventResponse `json:"events"`
	Search     string          `json:"search"`
	City       string          `json:"city"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
	Columns    int             `json:"columns"`
}

// createEventRequest はイベント作成リクエストのボディ。
type createEventRequest struct {
	EventName     string `json:"event_name"`
	EventDate     string `json:"event_date"`
	EventDsc      string `json:"event_dsc"`
	EventLocation string `json:"event_location"`
	Venue         string `json:"venue"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

// updateEventRequest はイベント部分更新リクエストのボディ。省略したフィールドは変更しない。
type updateEventRequest struct {
	EventName     *string `json:"event_name"`
	EventDate     *string `json:"event_date"`
	EventDsc      *string `json:"event_dsc"`
	EventLocation *string `json:"event_location"`
	Venue         *string `json:"venue"`
	StartTime     *string `json:"start_time"`
	EndTime       *string `json:"end_time"`
}

// List はクライアントセッションの一覧条件を更新してイベントを取得する。
// GET /api/events?search=&city=&page=&page_size=&width=
// page_sizeが指定されずwidthが指定された場合は画面幅から1ページの件数を決める。
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}

	update, width, err := parseListQuery(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	s.Listing.Apply(update)

	start := time.Now()
	result, err := s.Listing.Fetch(r.Context())
	h.metrics.RecordListingQuery(time.Since(start), errors.Is(err, listing.ErrSuperseded))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := listEventsResponse{
		Events:     make([]eventResponse, 0, len(result.Events)),
		Search:     result.Params.Search,
		City:       result.Params.City,
		Page:       result.Page,
		PageSize:   result.PageSize,
		Total:      result.Total,
		TotalPages: result.TotalPages,
		Columns:    listing.ColumnsForWidth(width),
	}
	for _, e := range result.Events {
		resp.Events = append(resp.Events, toEventResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Cities は絞り込みに使える開催都市の一覧を返す。
// GET /api/events/cities
func (h *EventHandler) Cities(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}

	cities := s.Listing.Cities(r.Context())
	if cities == nil {
		cities = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"cities": cities})
}

// Get はイベントの詳細を返す。
// GET /api/events/{id}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	event, err := h.events.Get(r.Context(), eventID)
	if err != nil {
		handleEventError(w, eventID, err)
		return
	}

	writeJSON(w, http.StatusOK, toEventResponse(event))
}

// Create はイベントを作成する。管理者のみ。
// POST /api/events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}

	var req createEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	event, err := h.admin.Create(r.Context(), s.Auth, eventadmin.EventInput{
		Name:        req.EventName,
		Date:        req.EventDate,
		Description: req.EventDsc,
		Location:    req.EventLocation,
		Venue:       req.Venue,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.metrics.RecordEventMutation("create")

	writeJSON(w, http.StatusCreated, toEventResponse(event))
}

// Update はイベントを部分更新する。管理者のみ。
// PATCH /api/events/{id}
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}
	eventID := chi.URLParam(r, "id")

	var req updateEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	event, err := h.admin.Update(r.Context(), s.Auth, eventID, model.EventPatch{
		EventName:     req.EventName,
		EventDate:     req.EventDate,
		EventDsc:      req.EventDsc,
		EventLocation: req.EventLocation,
		Venue:         req.Venue,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
	})
	if err != nil {
		handleEventError(w, eventID, err)
		return
	}
	h.metrics.RecordEventMutation("update")

	writeJSON(w, http.StatusOK, toEventResponse(event))
}

// Delete はイベントと参加登録を削除する。管理者のみ。
// DELETE /api/events/{id}
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}
	eventID := chi.URLParam(r, "id")

	if err := h.admin.Delete(r.Context(), s.Auth, eventID); err != nil {
		handleEventError(w, eventID, err)
		return
	}
	h.metrics.RecordEventMutation("delete")
	s.Attendance.Forget(eventID)

	w.WriteHeader(http.StatusNoContent)
}

// Calendar はイベントをGoogleカレンダーに登録するURLを返す。
// GET /api/events/{id}/calendar
func (h *EventHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	event, err := h.events.Get(r.Context(), eventID)
	if err != nil {
		handleEventError(w, eventID, err)
		return
	}

	ce, err := calendar.FromEvent(event, h.location)
	if err != nil {
		if errors.Is(err, calendar.ErrInvalidSchedule) {
			handleServiceError(w, model.NewValidationError("イベントの日時を解釈できません"))
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": calendar.GoogleCalendarURL(ce)})
}

// --- ヘルパー関数 ---

// handleEventError は対象イベントが存在しない場合に404を返し、それ以外はhandleServiceErrorに委ねる。
func handleEventError(w http.ResponseWriter, eventID string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		handleServiceError(w, model.NewEventNotFoundError(eventID))
		return
	}
	handleServiceError(w, err)
}

// parseListQuery は一覧のクエリパラメータを解析する。
// 指定されていないパラメータは現在の条件を変更しない。
func parseListQuery(r *http.Request) (listing.Update, int, error) {
	q := r.URL.Query()
	var u listing.Update

	if q.Has("search") {
		v := q.Get("search")
		u.Search = &v
	}
	if q.Has("city") {
		v := q.Get("city")
		u.City = &v
	}

	page, err := optionalInt(q.Get("page"), 0, "page")
	if err != nil {
		return u, 0, err
	}
	u.Page = page

	pageSize, err := optionalInt(q.Get("page_size"), 1, "page_size")
	if err != nil {
		return u, 0, err
	}
	width, err := optionalInt(q.Get("width"), 0, "width")
	if err != nil {
		return u, 0, err
	}

	w := 0
	if width != nil {
		w = *width
	}
	if pageSize == nil && width != nil {
		n := listing.PageSizeForWidth(w)
		pageSize = &n
	}
	u.PageSize = pageSize

	return u, w, nil
}

// optionalInt は空文字列ならnilを返し、lower未満や数値でない場合はバリデーションエラーを返す。
func optionalInt(raw string, lower int, name string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lower {
		return nil, model.NewValidationError(name + "の値が正しくありません")
	}
	return &n, nil
}

func toEventResponse(e *model.Event) eventResponse {
	return eventResponse{
		EventID:       e.EventID,
		EventName:     e.EventName,
		EventDate:     e.EventDate,
		EventDsc:      e.EventDsc,
		EventLocation: e.EventLocation,
		Venue:         e.Venue,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		StaffID:       e.StaffID,
	}
}
