// Package eventadmin は管理者によるイベントの作成・更新・削除を提供する。
// すべての操作はAuth Session Controllerの読み込み完了を待ってから管理者フラグを確認する。
package eventadmin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventboard/internal/identity"
	"github.com/hitoshi/eventboard/internal/model"
	"github.com/hitoshi/eventboard/internal/repository"
	"github.com/hitoshi/eventboard/internal/security"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Authorizer は管理者判定に必要な認証状態のインターフェース。
// *authsession.Controller が実装する。
type Authorizer interface {
	WaitReady(ctx context.Context) error
	IsAdmin() bool
	CurrentIdentity() *identity.Identity
}

// EventInput はイベント作成時の入力。
type EventInput struct {
	Name        string
	Date        string // YYYY-MM-DD
	Description string
	Location    string
	Venue       string
	StartTime   string // HH:MM（任意）
	EndTime     string // HH:MM（任意）
}

// Service はイベント管理のビジネスロジックを提供する。
type Service struct {
	events    repository.EventRepository
	signups   repository.SignupRepository
	sanitizer security.Sanitizer
	newID     func() string
	logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(events repository.EventRepository, signups repository.SignupRepository, sanitizer security.Sanitizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		events:    events,
		signups:   signups,
		sanitizer: sanitizer,
		newID:     uuid.NewString,
		logger:    logger,
	}
}

// requireAdmin は読み込み完了を待ってから管理者であることを確認する。
func requireAdmin(ctx context.Context, auth Authorizer) (*identity.Identity, error) {
	if err := auth.WaitReady(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for auth session: %w", err)
	}
	id := auth.CurrentIdentity()
	if id == nil || !auth.IsAdmin() {
		return nil, model.NewForbiddenError()
	}
	return id, nil
}

// Create はイベントを作成する。イベント名と日付は必須。
// 文字列は前後の空白を除去し、空の任意項目はNULLとして保存する。
func (s *Service) Create(ctx context.Context, auth Authorizer, in EventInput) (*model.Event, error) {
	id, err := requireAdmin(ctx, auth)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	date := strings.TrimSpace(in.Date)
	if name == "" || date == "" {
		return nil, model.NewValidationError("イベント名と日付は必須です")
	}
	if err := validateDate(date); err != nil {
		return nil, err
	}
	start, err := optionalTime(in.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := optionalTime(in.EndTime)
	if err != nil {
		return nil, err
	}
	if err := validateTimeOrder(start, end); err != nil {
		return nil, err
	}

	event := &model.Event{
		EventID:       s.newID(),
		EventName:     name,
		EventDate:     date,
		EventDsc:      s.description(in.Description),
		EventLocation: optionalString(in.Location),
		Venue:         optionalString(in.Venue),
		StartTime:     start,
		EndTime:       end,
		StaffID:       id.UID,
	}

	created, err := s.events.Create(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	s.logger.Info("event created",
		slog.String("event_id", created.EventID),
		slog.String("staff_id", created.StaffID),
	)
	return created, nil
}

// Update はイベントを部分更新する。指定されたフィールドのみ検証・更新する。
func (s *Service) Update(ctx context.Context, auth Authorizer, eventID string, patch model.EventPatch) (*model.Event, error) {
	if _, err := requireAdmin(ctx, auth); err != nil {
		return nil, err
	}

	if patch.EventName != nil {
		name := strings.TrimSpace(*patch.EventName)
		if name == "" {
			return nil, model.NewValidationError("イベント名は必須です")
		}
		patch.EventName = &name
	}
	if patch.EventDate != nil {
		date := strings.TrimSpace(*patch.EventDate)
		if err := validateDate(date); err != nil {
			return nil, err
		}
		patch.EventDate = &date
	}
	for _, tp := range []**string{&patch.StartTime, &patch.EndTime} {
		if *tp == nil {
			continue
		}
		v, err := optionalTime(**tp)
		if err != nil {
			return nil, err
		}
		if v == nil {
			empty := ""
			v = &empty
		}
		*tp = v
	}
	if patch.EventDsc != nil {
		dsc := ""
		if d := s.description(*patch.EventDsc); d != nil {
			dsc = *d
		}
		patch.EventDsc = &dsc
	}
	for _, sp := range []**string{&patch.EventLocation, &patch.Venue} {
		if *sp != nil {
			v := strings.TrimSpace(**sp)
			*sp = &v
		}
	}

	if patch.IsEmpty() {
		return nil, model.NewValidationError("更新する項目がありません")
	}

	updated, err := s.events.Update(ctx, eventID, &patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}

	s.logger.Info("event updated", slog.String("event_id", eventID))
	return updated, nil
}

// Delete はイベントを削除する。参加登録を先に削除し、その後イベントを削除する。
// 参加登録の削除に失敗した場合はイベントを削除しない。
func (s *Service) Delete(ctx context.Context, auth Authorizer, eventID string) error {
	if _, err := requireAdmin(ctx, auth); err != nil {
		return err
	}

	n, err := s.signups.DeleteByEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to delete event signups: %w", err)
	}

	if err := s.events.Delete(ctx, eventID); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	s.logger.Info("event deleted",
		slog.String("event_id", eventID),
		slog.Int64("deleted_signups", n),
	)
	return nil
}

func (s *Service) description(raw string) *string {
	d := s.sanitizer.Sanitize(strings.TrimSpace(raw))
	if d == "" {
		return nil
	}
	return &d
}

func validateDate(date string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return model.NewValidationError("日付はYYYY-MM-DD形式で入力してください")
	}
	return nil
}

// optionalTime は空文字列ならnil、HH:MM形式ならその値を返す。
func optionalTime(raw string) (*string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil, nil
	}
	if _, err := time.Parse(timeLayout, v); err != nil {
		return nil, model.NewValidationError("時刻はHH:MM形式で入力してください")
	}
	return &v, nil
}

// validateTimeOrder は開始と終了の両方がある場合に終了が開始より後であることを確認する。
func validateTimeOrder(start, end *string) error {
	if start == nil || end == nil {
		return nil
	}
	if *end <= *start {
		return model.NewValidationError("終了時刻は開始時刻より後にしてください")
	}
	return nil
}

func optionalString(raw string) *string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}
	return &v
}
