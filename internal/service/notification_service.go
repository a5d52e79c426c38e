package service

import (
	"context"
	"encoding/json"

	"github.com/TheRebzu/ecodeli-sub058/internal/models"
	"github.com/TheRebzu/ecodeli-sub058/internal/repository"

	"go.uber.org/zap"
)

// Notifier dispatches user-facing events. It never fails the caller: core
// transitions are already committed when it runs.
type Notifier interface {
	Notify(ctx context.Context, userID, event, title, body string, data map[string]interface{})
}

// Publisher pushes live events to connected clients (the websocket hub).
type Publisher interface {
	Publish(userID, eventType string, data interface{})
}

type NotificationService struct {
	repo repository.NotificationStore
	hub  Publisher
	log  *zap.Logger
}

func NewNotificationService(repo repository.NotificationStore, hub Publisher, log *zap.Logger) *NotificationService {
	return &NotificationService{repo: repo, hub: hub, log: log}
}

func (s *NotificationService) Notify(ctx context.Context, userID, event, title, body string, data map[string]interface{}) {
	if userID == "" {
		return
	}
	var dataJSON string
	if data != nil {
		b, _ := json.Marshal(data)
		dataJSON = string(b)
	}
	err := s.repo.Create(ctx, &models.Notification{
		UserID: userID,
		Type:   event,
		Title:  title,
		Body:   body,
		Data:   dataJSON,
	})
	if err != nil {
		s.log.Warn("notification not stored", zap.String("user_id", userID), zap.String("event", event), zap.Error(err))
	}
	if s.hub != nil {
		s.hub.Publish(userID, event, data)
	}
}

func (s *NotificationService) List(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}
