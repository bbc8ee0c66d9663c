// Package calendar はイベントのカレンダー連携（Googleカレンダーの登録URL）を提供する。
package calendar

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/eventboard/internal/model"
)

const googleCalendarBaseURL = "https://calendar.google.com/calendar/render"

// timestampLayout はGoogleカレンダーのdatesパラメータの形式（UTC）。
const timestampLayout = "20060102T150405Z"

// DefaultDuration は終了時刻がないイベントの長さ。
const DefaultDuration = time.Hour

// Event はカレンダーに登録するイベント。
type Event struct {
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
}

// GoogleCalendarURL はGoogleカレンダーのイベント登録画面のURLを返す。
// パラメータはaction, text, dates, details, locationの順に並ぶ。
func GoogleCalendarURL(e Event) string {
	params := []struct{ key, value string }{
		{"action", "TEMPLATE"},
		{"text", e.Title},
		{"dates", formatTimestamp(e.Start) + "/" + formatTimestamp(e.End)},
		{"details", e.Description},
		{"location", e.Location},
	}

	var b strings.Builder
	b.WriteString(googleCalendarBaseURL)
	for i, p := range params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// formatTimestamp は時刻をUTCの秒精度（小数秒なし）で整形する。
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ErrInvalidSchedule はイベントの日付・時刻を解釈できない場合のエラー。
var ErrInvalidSchedule = errors.New("invalid event schedule")

// FromEvent はイベントの日付と開始・終了時刻からカレンダー用のイベントを作る。
// 日付と時刻はlocのローカル時刻として解釈する。
// 開始時刻がない場合は0:00開始、終了時刻がない場合は開始からDefaultDuration後を終了とする。
// 終了時刻が開始時刻以前の場合は翌日の時刻とみなす。
func FromEvent(e *model.Event, loc *time.Location) (Event, error) {
	if loc == nil {
		loc = time.UTC
	}

	day, err := time.ParseInLocation("2006-01-02", e.EventDate, loc)
	if err != nil {
		return Event{}, fmt.Errorf("%w: event_date %q", ErrInvalidSchedule, e.EventDate)
	}

	start := day
	if e.StartTime != nil && *e.StartTime != "" {
		start, err = atClock(day, *e.StartTime)
		if err != nil {
			return Event{}, err
		}
	}

	end := start.Add(DefaultDuration)
	if e.EndTime != nil && *e.EndTime != "" {
		end, err = atClock(day, *e.EndTime)
		if err != nil {
			return Event{}, err
		}
		if !end.After(start) {
			end = end.AddDate(0, 0, 1)
		}
	}

	return Event{
		Title:       e.EventName,
		Start:       start,
		End:         end,
		Description: e.Description(),
		Location:    location(e),
	}, nil
}

func atClock(day time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", ErrInvalidSchedule, clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

// location は会場と開催都市を「会場, 都市」の形式で連結する。
func location(e *model.Event) string {
	var parts []string
	if e.Venue != nil && *e.Venue != "" {
		parts = append(parts, *e.Venue)
	}
	if city := e.Location(); city != "" {
		parts = append(parts, city)
	}
	return strings.Join(parts, ", ")
}
