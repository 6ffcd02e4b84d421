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

// ArtifactEntry 描述一个已下载的数据集文件。
type ArtifactEntry struct {
	DatasetID string    `json:"dataset_id"`
	Records   int       `json:"records"`
	Timestamp time.Time `json:"timestamp"`
}

// ArtifactCache 跟踪已落盘的数据集文件位置。条目只有在映射存在且
// 文件仍在磁盘上时才有效；文件被外部删除后，存在性检查会顺带清除
// 对应条目，缓存自愈。
type ArtifactCache struct {
	mu sync.Mutex

	path   string
	logger *logrus.Logger

	data   map[string]ArtifactEntry
	loaded bool

	now func() time.Time
}

// NewArtifactCache 构建制品缓存，首次访问时惰性从磁盘加载。
func NewArtifactCache(path string, logger *logrus.Logger) *ArtifactCache {
	return &ArtifactCache{
		path:   path,
		logger: logger,
		data:   make(map[string]ArtifactEntry),
		now:    time.Now,
	}
}

// Get 按文件路径查找条目。
func (c *ArtifactCache) Get(artifactPath string) (ArtifactEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureLoadedLocked()
	entry, ok := c.data[artifactPath]
	return entry, ok
}

// Set 记录一次下载并同步落盘。
func (c *ArtifactCache) Set(artifactPath, datasetID string, records int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureLoadedLocked()
	c.data[artifactPath] = ArtifactEntry{
		DatasetID: datasetID,
		Records:   records,
		Timestamp: c.now().UTC(),
	}
	return c.saveLocked()
}

// Remove 删除条目；条目不存在时是空操作。
func (c *ArtifactCache) Remove(artifactPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureLoadedLocked()
	if _, ok := c.data[artifactPath]; !ok {
		return nil
	}
	delete(c.data, artifactPath)
	return c.saveLocked()
}

// Exists 报告条目是否有效：映射存在且文件仍在磁盘上。
// 文件已被外部删除时顺带清除条目。
func (c *ArtifactCache) Exists(artifactPath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureLoadedLocked()
	if _, ok := c.data[artifactPath]; !ok {
		return false
	}
	if _, err := os.Stat(artifactPath); err == nil {
		return true
	}

	delete(c.data, artifactPath)
	if err := c.saveLocked(); err == nil {
		c.logger.WithFields(logrus.Fields{
			"action": "artifact_prune",
			"path":   artifactPath,
		}).Debug("文件已不存在，清除对应条目")
	}
	return false
}

// Entries 返回全部条目的副本。
func (c *ArtifactCache) Entries() map[string]ArtifactEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureLoadedLocked()
	out := make(map[string]ArtifactEntry, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Clear 清空全部条目并删除落盘文件。
func (c *ArtifactCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]ArtifactEntry)
	c.loaded = false

	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"action": "artifact_clear",
		"path":   c.path,
	}).Info("制品缓存已清空")
	return nil
}

func (c *ArtifactCache) ensureLoadedLocked() {
	if c.loaded {
		return
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.WithFields(logrus.Fields{
				"action": "artifact_load",
				"path":   c.path,
				"error":  err.Error(),
			}).Error("制品缓存读取失败")
		}
		return
	}

	var data map[string]ArtifactEntry
	if err := json.Unmarshal(raw, &data); err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "artifact_load",
			"path":   c.path,
			"error":  err.Error(),
		}).Error("制品缓存损坏，按空缓存处理")
		return
	}

	c.data = data
	c.loaded = true
}

func (c *ArtifactCache) saveLocked() error {
	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(c.path, raw); err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "artifact_save",
			"path":   c.path,
			"error":  err.Error(),
		}).Error("制品缓存落盘失败")
		return err
	}
	return nil
}
