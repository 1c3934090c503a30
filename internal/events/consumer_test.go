package events

import (
	"context"
	"encoding/json"
	"testing"

	"permission-service/internal/cache"
	"permission-service/internal/models"

	"github.com/rabbitmq/amqp091-go"
)

func cachedEntry(userID string) *models.EffectivePermission {
	return &models.EffectivePermission{
		NodeType: models.NodeTypeDocument,
		NodeID:   "doc-1",
		UserID:   userID,
		Level:    models.LevelRead,
	}
}

func delivery(t *testing.T, routingKey string, event MembershipEvent) amqp091.Delivery {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return amqp091.Delivery{RoutingKey: routingKey, Body: body}
}

func TestProcessMessage_InvalidatesAffectedUsers(t *testing.T) {
	memCache := cache.NewMemoryCache()
	ctx := context.Background()
	memCache.Set(ctx, cachedEntry("alice"))
	memCache.Set(ctx, cachedEntry("bob"))
	memCache.Set(ctx, cachedEntry("carol"))

	consumer := &EventConsumer{cache: memCache, shutdown: make(chan struct{})}

	msg := delivery(t, EventTypeUserRoleChanged, MembershipEvent{
		EventType: EventTypeUserRoleChanged,
		UserID:    "alice",
		UserIDs:   []string{"bob"},
	})
	if err := consumer.processMessage(msg); err != nil {
		t.Fatalf("processMessage: %v", err)
	}

	node := models.NodeRef{NodeType: models.NodeTypeDocument, NodeID: "doc-1"}
	if _, ok := memCache.Get(ctx, "alice", node); ok {
		t.Error("alice's entry should be invalidated")
	}
	if _, ok := memCache.Get(ctx, "bob", node); ok {
		t.Error("bob's entry should be invalidated")
	}
	if _, ok := memCache.Get(ctx, "carol", node); !ok {
		t.Error("carol's entry should survive")
	}
}

func TestProcessMessage_NoUserIDsIsANoOp(t *testing.T) {
	memCache := cache.NewMemoryCache()
	ctx := context.Background()
	memCache.Set(ctx, cachedEntry("alice"))

	consumer := &EventConsumer{cache: memCache, shutdown: make(chan struct{})}

	msg := delivery(t, EventTypeStructureMoved, MembershipEvent{
		EventType:   EventTypeStructureMoved,
		StructureID: "dept-a",
	})
	if err := consumer.processMessage(msg); err != nil {
		t.Fatalf("processMessage: %v", err)
	}

	if memCache.Len() != 1 {
		t.Errorf("cache entries = %d, want untouched 1", memCache.Len())
	}
}

func TestProcessMessage_MalformedBody(t *testing.T) {
	consumer := &EventConsumer{cache: cache.NewMemoryCache(), shutdown: make(chan struct{})}
	msg := amqp091.Delivery{RoutingKey: EventTypeUserRoleChanged, Body: []byte("{not json")}
	if err := consumer.processMessage(msg); err == nil {
		t.Fatal("malformed body should be an error so the message is nacked")
	}
}
