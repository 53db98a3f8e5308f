package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

type backend interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	InsertTask(ctx context.Context, userID string, task domain.Task) error
	UpdateTask(ctx context.Context, userID, id string, p domain.TaskPatch) error
	UpdateTaskStatus(ctx context.Context, userID, id string, status domain.Status) error
	DeleteTask(ctx context.Context, userID, id string) error
	UpsertUser(ctx context.Context, u domain.User) error
	PublishEvent(ctx context.Context, ev domain.TaskEvent) error
}

// storeIfCurrent writes the task list only while the user's eviction epoch
// still matches the one read before the backend fetch.
var storeIfCurrent = redis.NewScript(`
local cur = redis.call('GET', KEYS[2]) or '0'
if cur ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Cache wraps a Storage instance with a Redis-backed copy of each user's
// task list. Every mutation evicts the list and bumps the user's epoch, so
// a refill that started before the mutation is dropped.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, userID); ok {
		return tasks, nil
	}

	epoch, ok := c.epoch(ctx, userID)
	tasks, err := c.base.FetchTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	if ok {
		c.storeTasks(ctx, userID, epoch, tasks)
	}
	return tasks, nil
}

func (c *Cache) InsertTask(ctx context.Context, userID string, task domain.Task) error {
	if err := c.base.InsertTask(ctx, userID, task); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, userID, id string, p domain.TaskPatch) error {
	if err := c.base.UpdateTask(ctx, userID, id, p); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) UpdateTaskStatus(ctx context.Context, userID, id string, status domain.Status) error {
	if err := c.base.UpdateTaskStatus(ctx, userID, id, status); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, userID, id string) error {
	err := c.base.DeleteTask(ctx, userID, id)
	if err != nil && !errors.Is(err, domain.ErrTaskNotFound) {
		return err
	}
	// A missing task still means the cached list is out of date.
	c.evict(ctx, userID)
	return err
}

func (c *Cache) UpsertUser(ctx context.Context, u domain.User) error {
	return c.base.UpsertUser(ctx, u)
}

func (c *Cache) PublishEvent(ctx context.Context, ev domain.TaskEvent) error {
	return c.base.PublishEvent(ctx, ev)
}

func (c *Cache) loadTasksFromCache(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

// epoch reads the user's eviction counter. ok is false when the cache is
// disabled or the counter cannot be read.
func (c *Cache) epoch(ctx context.Context, userID string) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	v, err := c.redis.Get(ctx, epochKey(userID)).Result()
	switch {
	case err == redis.Nil:
		return "0", true
	case err != nil:
		return "", false
	}
	return v, true
}

func (c *Cache) storeTasks(ctx context.Context, userID, epoch string, tasks []domain.Task) {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	ms := c.ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	keys := []string{tasksCacheKey(userID), epochKey(userID)}
	_ = storeIfCurrent.Run(ctx, c.redis, keys, epoch, data, strconv.FormatInt(ms, 10)).Err()
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, epochKey(userID))
		pipe.Del(ctx, tasksCacheKey(userID))
		return nil
	})
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}

func epochKey(userID string) string {
	return "tasks-epoch:" + userID
}
