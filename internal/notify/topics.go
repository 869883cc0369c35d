package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// TopicRegistry maps role topics to subscriber user ids on Redis sets. It
// decouples role fan-out from the shape of any user store.
type TopicRegistry struct {
	client *redis.Client
}

// NewTopicRegistry constructs the registry.
func NewTopicRegistry(client *redis.Client) *TopicRegistry {
	return &TopicRegistry{client: client}
}

func topicKey(role string) string {
	return fmt.Sprintf("notify:topic:%s", role)
}

// Subscribe registers a user on the role topic.
func (t *TopicRegistry) Subscribe(ctx context.Context, role string, userID int64) error {
	if role == "" || userID == 0 {
		return fmt.Errorf("notify: role and user required")
	}
	return t.client.SAdd(ctx, topicKey(role), userID).Err()
}

// Unsubscribe removes a user from the role topic.
func (t *TopicRegistry) Unsubscribe(ctx context.Context, role string, userID int64) error {
	return t.client.SRem(ctx, topicKey(role), userID).Err()
}

// Subscribers lists user ids subscribed to the role topic.
func (t *TopicRegistry) Subscribers(ctx context.Context, role string) ([]int64, error) {
	members, err := t.client.SMembers(ctx, topicKey(role)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
