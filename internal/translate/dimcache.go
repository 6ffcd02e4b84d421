package translate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/statline-hub/statline-hub/internal/odata"
)

// DimensionSource 提供 (数据集, 维度) 的 code/label 列表。
type DimensionSource interface {
	DimensionValues(ctx context.Context, datasetID, dimension string) ([]odata.DimensionEntry, error)
}

// CacheStats 是维度缓存的只读统计。
type CacheStats struct {
	TotalEntries int     `json:"total_entries"`
	ValidEntries int     `json:"valid_entries"`
	TTLSeconds   float64 `json:"ttl_seconds"`
}

// DimensionCache 按 (数据集, 维度) 缓存 code -> label 映射。
// 同一键的并发填充经 singleflight 合并为一次远程拉取，所有等待方
// 共享同一结果。拉取失败解析为一个空映射并且不会被缓存，
// 下一次调用会重新尝试。
type DimensionCache struct {
	source DimensionSource
	logger *logrus.Logger
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]map[string]string
	stamps  map[string]time.Time

	group singleflight.Group

	now func() time.Time
}

// NewDimensionCache 构建维度缓存。
func NewDimensionCache(source DimensionSource, ttl time.Duration, logger *logrus.Logger) *DimensionCache {
	return &DimensionCache{
		source:  source,
		logger:  logger,
		ttl:     ttl,
		entries: make(map[string]map[string]string),
		stamps:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// GetMapping 返回键对应的映射。命中有效缓存时无锁竞争地返回；
// 未命中时恰好发起一次远程拉取，失败退化为空映射。
func (c *DimensionCache) GetMapping(ctx context.Context, datasetID, dimension string) map[string]string {
	key := datasetID + ":" + dimension

	c.mu.RLock()
	mapping, ok := c.validLocked(key)
	c.mu.RUnlock()
	if ok {
		return mapping
	}

	result, _, _ := c.group.Do(key, func() (any, error) {
		// 竞争方可能刚填充过，拉取前再确认一次
		c.mu.RLock()
		mapping, ok := c.validLocked(key)
		c.mu.RUnlock()
		if ok {
			return mapping, nil
		}

		entries, err := c.source.DimensionValues(ctx, datasetID, dimension)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"action":     "dimension_fetch",
				"dataset_id": datasetID,
				"dimension":  dimension,
				"error":      err.Error(),
			}).Warn("维度拉取失败，退化为空映射")
			return map[string]string{}, nil
		}

		mapping = mappingFromEntries(entries)
		c.mu.Lock()
		c.entries[key] = mapping
		c.stamps[key] = c.now()
		c.mu.Unlock()

		c.logger.WithFields(logrus.Fields{
			"action":     "dimension_cache",
			"dataset_id": datasetID,
			"dimension":  dimension,
			"count":      len(mapping),
		}).Debug("维度映射已缓存")
		return mapping, nil
	})
	return result.(map[string]string)
}

// validLocked 在持有读锁的前提下检查条目是否存在且未过期。
func (c *DimensionCache) validLocked(key string) (map[string]string, bool) {
	mapping, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	stamp, ok := c.stamps[key]
	if !ok || c.now().Sub(stamp) >= c.ttl {
		return nil, false
	}
	return mapping, true
}

// Clear 丢弃全部缓存映射。
func (c *DimensionCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]map[string]string)
	c.stamps = make(map[string]time.Time)
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"action": "dimension_clear",
	}).Info("维度缓存已清空")
}

// Stats 返回只读统计信息。
func (c *DimensionCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	valid := 0
	for key := range c.entries {
		if _, ok := c.validLocked(key); ok {
			valid++
		}
	}
	return CacheStats{
		TotalEntries: len(c.entries),
		ValidEntries: valid,
		TTLSeconds:   c.ttl.Seconds(),
	}
}

// mappingFromEntries 同时登记裁剪后与原始形态的键，
// 因为上游会给代码补尾部空白，两种形态都要能命中同一个标签。
func mappingFromEntries(entries []odata.DimensionEntry) map[string]string {
	mapping := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.Key == "" || entry.Title == "" {
			continue
		}
		trimmed := strings.TrimSpace(entry.Key)
		mapping[trimmed] = entry.Title
		if entry.Key != trimmed {
			mapping[entry.Key] = entry.Title
		}
	}
	return mapping
}
