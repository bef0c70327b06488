package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a SessionCache shared across instances. Entries carry a TTL
// so abandoned sessions do not accumulate; the log-id tag still guards
// against stale reads within the TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a shared cache with the given entry TTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) studentsKey(classID string) string {
	return "campustrack:session:" + classID + ":students"
}

func (c *RedisCache) instructorKey(classID string) string {
	return "campustrack:session:" + classID + ":instructor"
}

// Student returns the cached status for a user, or nil on a miss.
func (c *RedisCache) Student(ctx context.Context, classID, userID string) (*CachedStatus, error) {
	raw, err := c.client.HGet(ctx, c.studentsKey(classID), userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var cs CachedStatus
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		return nil, nil
	}
	return &cs, nil
}

// PutStudent records a decided status and refreshes the TTL.
func (c *RedisCache) PutStudent(ctx context.Context, classID, userID string, cs CachedStatus) error {
	raw, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	key := c.studentsKey(classID)
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, userID, raw)
	pipe.Expire(ctx, key, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Instructor returns the presence marker; the zero value on a miss.
func (c *RedisCache) Instructor(ctx context.Context, classID string) (InstructorMark, error) {
	raw, err := c.client.Get(ctx, c.instructorKey(classID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return InstructorMark{}, nil
		}
		return InstructorMark{}, err
	}
	var m InstructorMark
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return InstructorMark{}, nil
	}
	return m, nil
}

// SetInstructor replaces the presence marker.
func (c *RedisCache) SetInstructor(ctx context.Context, classID string, m InstructorMark) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.instructorKey(classID), raw, c.ttl).Err()
}

// Reset drops all cached state for a class.
func (c *RedisCache) Reset(ctx context.Context, classID string) error {
	return c.client.Del(ctx, c.studentsKey(classID), c.instructorKey(classID)).Err()
}
