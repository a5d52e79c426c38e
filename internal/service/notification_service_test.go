package service

import (
	"context"
	"testing"

	"github.com/TheRebzu/ecodeli-sub058/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockPublisher is a mock implementation of Publisher for testing
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(userID, eventType string, data interface{}) {
	m.Called(userID, eventType, data)
}

func TestNotificationService_StoresAndPublishes(t *testing.T) {
	store := memory.New()
	hub := new(MockPublisher)
	svc := NewNotificationService(store.Notifications(), hub, zap.NewNop())
	ctx := context.Background()
	data := map[string]interface{}{"delivery_id": "D1"}

	hub.On("Publish", "u1", "DELIVERY_STATUS", data).Once()
	svc.Notify(ctx, "u1", "DELIVERY_STATUS", "Delivery picked up", "", data)
	svc.Notify(ctx, "", "DELIVERY_STATUS", "ignored", "", nil)

	list, err := svc.List(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "DELIVERY_STATUS", list[0].Type)
	assert.JSONEq(t, `{"delivery_id":"D1"}`, list[0].Data)
	hub.AssertExpectations(t)
}
