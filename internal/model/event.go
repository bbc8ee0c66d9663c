// Package model はドメインモデルを定義する。
package model

// Event はEventsテーブルのイベントを表す。
// EventDateはYYYY-MM-DD、StartTime/EndTimeはHH:MM形式の文字列で保持する。
type Event struct {
	EventID       string
	EventName     string
	EventDate     string
	EventDsc      *string
	EventLocation *string
	Venue         *string
	StartTime     *string
	EndTime       *string
	StaffID       string
}

// Location はイベントの開催都市を返す。未設定の場合は空文字列を返す。
func (e *Event) Location() string {
	if e.EventLocation == nil {
		return ""
	}
	return *e.EventLocation
}

// Description はイベントの説明を返す。未設定の場合は空文字列を返す。
func (e *Event) Description() string {
	if e.EventDsc == nil {
		return ""
	}
	return *e.EventDsc
}

// EventPatch はイベントの部分更新を表す。nilフィールドは変更しない。
type EventPatch struct {
	EventName     *string
	EventDate     *string
	EventDsc      *string
	EventLocation *string
	Venue         *string
	StartTime     *string
	EndTime       *string
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (p EventPatch) IsEmpty() bool {
	return p.EventName == nil && p.EventDate == nil && p.EventDsc == nil &&
		p.EventLocation == nil && p.Venue == nil && p.StartTime == nil && p.EndTime == nil
}

// Signup はSignupsテーブルの参加登録を表す。
// SignupIDはevent_idとuser_idの連結で決定的に導出される。
type Signup struct {
	SignupID   string
	EventID    string
	UserID     string
	SignupDate string // YYYY-MM-DD
}
