package cache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Stats 是缓存的只读快照，供诊断端点使用，不产生副作用。
type Stats struct {
	Loaded     bool    `json:"loaded"`
	Count      int     `json:"count"`
	Expired    bool    `json:"expired"`
	AgeSeconds float64 `json:"age_seconds"`
	TTLSeconds float64 `json:"ttl_seconds"`
	FileExists bool    `json:"file_exists"`
}

// EntityCache 以整体替换的方式缓存单个实体负载，带 TTL 与磁盘持久化。
// 首次读取时惰性从磁盘加载，且每个进程生命周期至多加载一次，
// 除非被显式 Clear。磁盘上已过期的条目视同不存在，保持未加载状态，
// 让随后的 SetData 落盘全新数据。
type EntityCache[T any] struct {
	mu sync.RWMutex

	path   string
	ttl    time.Duration
	logger *logrus.Logger
	count  func(T) int

	data   T
	meta   *Metadata
	loaded bool
	tried  bool

	// now 可在测试中替换以控制时钟。
	now func() time.Time
}

// NewEntityCache 构建缓存；count 报告负载的条目数，用于统计与 IsLoaded。
func NewEntityCache[T any](path string, ttl time.Duration, count func(T) int, logger *logrus.Logger) *EntityCache[T] {
	return &EntityCache[T]{
		path:   path,
		ttl:    ttl,
		logger: logger,
		count:  count,
		now:    time.Now,
	}
}

// Data 返回缓存内容，必要时先尝试从磁盘加载。
// 第二个返回值表示内容是否可用（已加载且非空）。
func (c *EntityCache[T]) Data() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		c.loadLocked()
	}
	return c.data, c.loaded && c.count(c.data) > 0
}

// SetData 整体替换缓存内容并同步落盘，元数据以当前时间重新计算。
func (c *EntityCache[T]) SetData(value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = value
	c.loaded = true
	c.tried = true

	now := c.now().UTC()
	c.meta = &Metadata{
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.ttl),
		Count:      c.count(value),
		TTLSeconds: c.ttl.Seconds(),
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope{Data: payload, Metadata: c.meta})
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(c.path, raw); err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "cache_save",
			"path":   c.path,
			"error":  err.Error(),
		}).Error("缓存落盘失败")
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"action": "cache_save",
		"path":   c.path,
		"count":  c.meta.Count,
	}).Info("缓存已写入磁盘")
	return nil
}

// IsLoaded 报告缓存是否已加载且非空。
func (c *EntityCache[T]) IsLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded && c.count(c.data) > 0
}

// IsExpired 报告缓存是否过期：优先使用元数据的 expires_at；
// 元数据缺失时退回比较落盘文件的修改时间；文件不存在视为过期。
func (c *EntityCache[T]) IsExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded && !c.tried {
		c.loadLocked()
	}
	return c.expiredLocked()
}

func (c *EntityCache[T]) expiredLocked() bool {
	if c.meta != nil {
		return c.now().After(c.meta.ExpiresAt)
	}

	info, err := os.Stat(c.path)
	if err != nil {
		return true
	}
	return c.now().Sub(info.ModTime()) > c.ttl
}

// Age 返回缓存年龄；无元数据且文件不存在时第二个返回值为 false。
func (c *EntityCache[T]) Age() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.meta != nil {
		return c.now().Sub(c.meta.CreatedAt), true
	}
	info, err := os.Stat(c.path)
	if err != nil {
		return 0, false
	}
	return c.now().Sub(info.ModTime()), true
}

// Clear 丢弃内存状态并删除落盘文件，缓存回到未加载状态。
func (c *EntityCache[T]) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	c.data = zero
	c.meta = nil
	c.loaded = false
	c.tried = false

	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"action": "cache_clear",
		"path":   c.path,
	}).Info("缓存已清空")
	return nil
}

// Stats 返回只读统计信息。
func (c *EntityCache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, statErr := os.Stat(c.path)
	stats := Stats{
		Loaded:     c.loaded,
		Count:      c.count(c.data),
		Expired:    c.expiredLocked(),
		TTLSeconds: c.ttl.Seconds(),
		FileExists: statErr == nil,
	}
	if c.meta != nil {
		stats.AgeSeconds = c.now().Sub(c.meta.CreatedAt).Seconds()
	}
	return stats
}

// loadLocked 尝试一次磁盘加载。损坏或不可读的文件按加载失败处理：
// 记录日志后缓存保持为空，迫使调用方从源头重新填充。
func (c *EntityCache[T]) loadLocked() {
	c.tried = true

	raw, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.WithFields(logrus.Fields{
				"action": "cache_load",
				"path":   c.path,
				"error":  err.Error(),
			}).Error("缓存读取失败")
		}
		return
	}

	payload, meta := decodeEnvelope(raw)

	var value T
	if err := json.Unmarshal(payload, &value); err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "cache_load",
			"path":   c.path,
			"error":  err.Error(),
		}).Error("缓存内容损坏，按空缓存处理")
		return
	}

	// 过期条目按不可用处理，但保留元数据供 IsExpired 观察。
	c.meta = meta
	if meta != nil {
		if c.now().After(meta.ExpiresAt) {
			c.logger.WithFields(logrus.Fields{
				"action": "cache_load",
				"path":   c.path,
			}).Info("磁盘缓存已过期，等待刷新")
			return
		}
	} else {
		info, statErr := os.Stat(c.path)
		if statErr != nil || c.now().Sub(info.ModTime()) > c.ttl {
			c.logger.WithFields(logrus.Fields{
				"action": "cache_load",
				"path":   c.path,
			}).Info("旧格式缓存超龄，等待刷新")
			return
		}
	}

	c.data = value
	c.loaded = true
	c.logger.WithFields(logrus.Fields{
		"action": "cache_load",
		"path":   c.path,
		"count":  c.count(value),
	}).Info("已从磁盘加载缓存")
}
