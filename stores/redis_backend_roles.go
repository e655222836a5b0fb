package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackendRoleStore keeps user->backend-role assignments in Redis sets
// (key: backendroles:{username}). Authenticators that do not deliver backend
// roles themselves can enrich users from here before evaluation.
type RedisBackendRoleStore struct {
	client *redis.Client
	keyFmt string
}

func NewRedisBackendRoleStore(client *redis.Client) *RedisBackendRoleStore {
	return &RedisBackendRoleStore{client: client, keyFmt: "backendroles:%s"}
}

func (r *RedisBackendRoleStore) key(username string) string {
	return fmt.Sprintf(r.keyFmt, username)
}

func (r *RedisBackendRoleStore) Assign(ctx context.Context, username, backendRole string) error {
	return r.client.SAdd(ctx, r.key(username), backendRole).Err()
}

func (r *RedisBackendRoleStore) Revoke(ctx context.Context, username, backendRole string) error {
	return r.client.SRem(ctx, r.key(username), backendRole).Err()
}

func (r *RedisBackendRoleStore) List(ctx context.Context, username string) ([]string, error) {
	res, err := r.client.SMembers(ctx, r.key(username)).Result()
	if err != nil {
		return nil, err
	}
	return res, nil
}
