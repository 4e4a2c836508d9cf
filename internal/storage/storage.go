package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ollama2api/internal/core"
	"ollama2api/internal/util"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// FileStorage implements persistence using JSON files
type FileStorage struct {
	filePath string
}

func NewFileStorage(filePath string) *FileStorage {
	if filePath == "" {
		filePath = core.StatsFilePath
	}
	return &FileStorage{filePath: filePath}
}

// SaveStats writes to a temp file and renames it so readers never see a partial document.
func (fs *FileStorage) SaveStats(stats *core.UsageStats) error {
	data, err := sonic.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(fs.filePath), filepath.Base(fs.filePath)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), core.FilePermissionReadWrite); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), fs.filePath)
}

func (fs *FileStorage) LoadStats() (*core.UsageStats, error) {
	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &core.UsageStats{Models: map[string]core.ModelUsage{}}, nil
		}
		return nil, err
	}

	var stats core.UsageStats
	if err := sonic.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fs.filePath, err)
	}

	if stats.Models == nil {
		stats.Models = map[string]core.ModelUsage{}
	}

	return &stats, nil
}

func (fs *FileStorage) Close() error {
	return nil
}

// RedisStorage implements persistence using Redis
type RedisStorage struct {
	client *redis.Client
	key    string
}

// RedisStorageConfig Redis storage config
type RedisStorageConfig struct {
	URL string
	Key string
}

func NewRedisStorage(config RedisStorageConfig) (*RedisStorage, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), core.RedisOpTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	key := config.Key
	if key == "" {
		key = core.StatsRedisKey
	}

	return &RedisStorage{client: client, key: key}, nil
}

func (rs *RedisStorage) SaveStats(stats *core.UsageStats) error {
	data, err := util.MarshalJSON(stats)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), core.RedisOpTimeout)
	defer cancel()
	return rs.client.Set(ctx, rs.key, data, 0).Err()
}

func (rs *RedisStorage) LoadStats() (*core.UsageStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), core.RedisOpTimeout)
	defer cancel()

	val, err := rs.client.Get(ctx, rs.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &core.UsageStats{Models: map[string]core.ModelUsage{}}, nil
		}
		return nil, err
	}

	var stats core.UsageStats
	if err := sonic.Unmarshal([]byte(val), &stats); err != nil {
		return nil, err
	}

	if stats.Models == nil {
		stats.Models = map[string]core.ModelUsage{}
	}

	return &stats, nil
}

func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

// InitStorage picks Redis when redisURL is set and reachable, otherwise the stats file.
func InitStorage(redisURL, filePath string, logger core.Logger) core.StorageInterface {
	if redisURL != "" {
		redisStorage, err := NewRedisStorage(RedisStorageConfig{
			URL: redisURL,
			Key: core.StatsRedisKey,
		})
		if err != nil {
			logger.Warn("Failed to initialize Redis storage: %v, falling back to file storage", err)
			return NewFileStorage(filePath)
		}
		logger.Info("Using Redis storage")
		return redisStorage
	}

	logger.Info("Using file storage: %s", NewFileStorage(filePath).filePath)
	return NewFileStorage(filePath)
}
