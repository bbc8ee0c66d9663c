// Package attendance はイベントへの参加登録状態の確認と切り替えを提供する。
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/repository"
)

var (
	// ErrSignInRequired は未ログインで参加登録を切り替えようとした場合のエラー。
	ErrSignInRequired = errors.New("sign in required to change attendance")
	// ErrToggleInProgress は同じイベントへの切り替えが処理中の場合のエラー。
	ErrToggleInProgress = errors.New("attendance toggle already in progress")
	// ErrInvalidEventID はイベントIDが正規形のUUIDでない場合のエラー。
	ErrInvalidEventID = errors.New("event id must be a canonical UUID")
)

// signupDateLayout は参加登録日の形式（YYYY-MM-DD）。
const signupDateLayout = "2006-01-02"

// DeriveSignupID はイベントIDとユーザーIDを連結して参加登録IDを導出する。
// どちらかが空、またはイベントIDが小文字36文字の正規形UUIDでない場合はfalseを返す。
// イベントIDが固定長のため、連結結果から元の組を一意に復元できる。
func DeriveSignupID(eventID, userID string) (string, bool) {
	if eventID == "" || userID == "" {
		return "", false
	}
	if !IsCanonicalEventID(eventID) {
		return "", false
	}
	return eventID + userID, true
}

// IsCanonicalEventID はidが小文字・ハイフン区切り36文字のUUIDの場合にtrueを返す。
func IsCanonicalEventID(id string) bool {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return parsed.String() == id
}

// Controller はクライアントセッションごとの参加登録状態を管理する。
type Controller struct {
	signups repository.SignupRepository
	now     func() time.Time

	mu        sync.Mutex
	attending map[string]bool     // key: signup_id
	inFlight  map[string]struct{} // key: signup_id
}

// NewController はControllerを生成する。nowがnilの場合はtime.Nowを使用する。
func NewController(signups repository.SignupRepository, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		signups:   signups,
		now:       now,
		attending: make(map[string]bool),
		inFlight:  make(map[string]struct{}),
	}
}

// CheckAttendance は閲覧者がイベントに参加登録しているかを返す。
// 閲覧者がnilの場合と参加登録が存在しない場合はfalseを返す。
func (c *Controller) CheckAttendance(ctx context.Context, eventID string, viewer *model.UserProfile) (bool, error) {
	if viewer == nil {
		return false, nil
	}
	signupID, ok := DeriveSignupID(eventID, viewer.FirebaseUID)
	if !ok {
		return false, ErrInvalidEventID
	}

	attending, err := c.lookup(ctx, signupID)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.attending[signupID] = attending
	c.mu.Unlock()
	return attending, nil
}

// ToggleAttendance は参加登録を切り替え、切り替え後の状態を返す。
// 参加中なら参加登録を削除し、未参加なら当日の日付で参加登録を作成する。
// 失敗した場合は状態を変えずにエラーを返す。
func (c *Controller) ToggleAttendance(ctx context.Context, eventID string, viewer *model.UserProfile) (bool, error) {
	if viewer == nil {
		return false, ErrSignInRequired
	}
	signupID, ok := DeriveSignupID(eventID, viewer.FirebaseUID)
	if !ok {
		return false, ErrInvalidEventID
	}

	c.mu.Lock()
	if _, busy := c.inFlight[signupID]; busy {
		c.mu.Unlock()
		return false, ErrToggleInProgress
	}
	c.inFlight[signupID] = struct{}{}
	attending, known := c.attending[signupID]
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, signupID)
		c.mu.Unlock()
	}()

	if !known {
		var err error
		attending, err = c.lookup(ctx, signupID)
		if err != nil {
			return false, err
		}
	}

	if attending {
		if err := c.signups.Delete(ctx, signupID); err != nil {
			return true, fmt.Errorf("failed to cancel attendance: %w", err)
		}
	} else {
		err := c.signups.Create(ctx, &model.Signup{
			SignupID:   signupID,
			EventID:    eventID,
			UserID:     viewer.FirebaseUID,
			SignupDate: c.now().UTC().Format(signupDateLayout),
		})
		if err != nil {
			return false, fmt.Errorf("failed to sign up for event: %w", err)
		}
	}

	c.mu.Lock()
	c.attending[signupID] = !attending
	c.mu.Unlock()
	return !attending, nil
}

// AttendeeCount はイベントの参加登録数を返す。閲覧者に関係なく数える。
func (c *Controller) AttendeeCount(ctx context.Context, eventID string) (int, error) {
	if !IsCanonicalEventID(eventID) {
		return 0, ErrInvalidEventID
	}
	rows, err := c.signups.ListByEvent(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to count attendees: %w", err)
	}
	return len(rows), nil
}

// Forget はイベントの参加登録状態のキャッシュを破棄する。イベント削除後に使用する。
func (c *Controller) Forget(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.attending {
		if strings.HasPrefix(id, eventID) {
			delete(c.attending, id)
		}
	}
}

func (c *Controller) lookup(ctx context.Context, signupID string) (bool, error) {
	_, err := c.signups.Get(ctx, signupID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check attendance: %w", err)
}
