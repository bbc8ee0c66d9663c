package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventboard/internal/metrics"
)

// AttendanceHandler は参加登録のHTTPハンドラー。
type AttendanceHandler struct {
	metrics metrics.MetricsCollector
}

// NewAttendanceHandler はAttendanceHandlerを生成する。
func NewAttendanceHandler(collector metrics.MetricsCollector) *AttendanceHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &AttendanceHandler{metrics: collector}
}

type attendanceResponse struct {
	EventID       string `json:"event_id"`
	Attending     bool   `json:"attending"`
	AttendeeCount *int   `json:"attendee_count,omitempty"`
}

// Get は閲覧者がイベントに参加登録しているかとイベントの参加登録数を返す。
// 未サインインの場合、attendingはfalse。
// GET /api/events/{id}/attendance
func (h *AttendanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}
	eventID := chi.URLParam(r, "id")

	if err := s.Auth.WaitReady(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	attending, err := s.Attendance.CheckAttendance(r.Context(), eventID, s.Auth.Profile())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	count, err := s.Attendance.AttendeeCount(r.Context(), eventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, attendanceResponse{EventID: eventID, Attending: attending, AttendeeCount: &count})
}

// Toggle は参加登録を切り替え、切り替え後の状態を返す。サインインが必要。
// POST /api/events/{id}/attendance
func (h *AttendanceHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	s, ok := clientSession(w, r)
	if !ok {
		return
	}
	eventID := chi.URLParam(r, "id")

	if err := s.Auth.WaitReady(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	attending, err := s.Attendance.ToggleAttendance(r.Context(), eventID, s.Auth.Profile())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.metrics.RecordAttendanceToggle(attending)

	writeJSON(w, http.StatusOK, attendanceResponse{EventID: eventID, Attending: attending})
}
