package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hearthai/hearth/core"
)

// maxHealthHistory bounds the per-service health history log
const maxHealthHistory = 100

// RedisStore persists the catalog in Redis.
// Keys:
//
//	{ns}:services         - set of service names
//	{ns}:services:{name}  - JSON service record
//	{ns}:health:{name}    - list of JSON health records, newest first
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore connects to Redis and returns a catalog store
func NewRedisStore(redisURL, namespace string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", core.ErrInvalidConfiguration)
	}

	// Production-grade connection settings
	opt.PoolSize = 10
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.MinRetryBackoff = time.Millisecond * 100
	opt.MaxRetryBackoff = time.Second * 1
	opt.DialTimeout = time.Second * 5
	opt.ReadTimeout = time.Second * 5
	opt.WriteTimeout = time.Second * 5
	opt.PoolTimeout = time.Second * 10

	client := redis.NewClient(opt)

	// Connection verification with retry
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = client.Ping(ctx).Err()
		cancel()

		if err == nil {
			break
		}

		if i < 2 {
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis after retries: %w", core.ErrConnectionFailed)
	}

	if namespace == "" {
		namespace = "hearth"
	}

	return &RedisStore{client: client, namespace: namespace}, nil
}

func (r *RedisStore) serviceKey(name string) string {
	return fmt.Sprintf("%s:services:%s", r.namespace, name)
}

func (r *RedisStore) indexKey() string {
	return fmt.Sprintf("%s:services", r.namespace)
}

func (r *RedisStore) healthKey(name string) string {
	return fmt.Sprintf("%s:health:%s", r.namespace, name)
}

func (r *RedisStore) SaveService(ctx context.Context, svc *Service) error {
	data, err := json.Marshal(svc)
	if err != nil {
		return fmt.Errorf("failed to marshal service %s: %w", svc.Name, err)
	}

	// Write record and index atomically
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.serviceKey(svc.Name), data, 0)
	pipe.SAdd(ctx, r.indexKey(), svc.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist service %s: %w", svc.Name, err)
	}
	return nil
}

func (r *RedisStore) DeleteService(ctx context.Context, name string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.serviceKey(name))
	pipe.Del(ctx, r.healthKey(name))
	pipe.SRem(ctx, r.indexKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete service %s: %w", name, err)
	}
	return nil
}

func (r *RedisStore) LoadAll(ctx context.Context) ([]*Service, error) {
	names, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog index: %w", err)
	}

	services := make([]*Service, 0, len(names))
	for _, name := range names {
		data, err := r.client.Get(ctx, r.serviceKey(name)).Result()
		if err == redis.Nil {
			// Index entry without a record; self-heal the index
			r.client.SRem(ctx, r.indexKey(), name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load service %s: %w", name, err)
		}
		var svc Service
		if err := json.Unmarshal([]byte(data), &svc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal service %s: %w", name, err)
		}
		services = append(services, &svc)
	}
	return services, nil
}

func (r *RedisStore) AppendHealth(ctx context.Context, name string, record HealthRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal health record for %s: %w", name, err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.healthKey(name), data)
	pipe.LTrim(ctx, r.healthKey(name), 0, maxHealthHistory-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append health record for %s: %w", name, err)
	}
	return nil
}

func (r *RedisStore) HealthHistory(ctx context.Context, name string, limit int) ([]HealthRecord, error) {
	if limit <= 0 || limit > maxHealthHistory {
		limit = maxHealthHistory
	}
	entries, err := r.client.LRange(ctx, r.healthKey(name), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load health history for %s: %w", name, err)
	}
	records := make([]HealthRecord, 0, len(entries))
	for _, entry := range entries {
		var rec HealthRecord
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
