package cache

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type catalogItem struct {
	Identifier string `json:"Identifier"`
	Title      string `json:"Title"`
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newCatalogCache(t *testing.T, ttl time.Duration) (*EntityCache[[]catalogItem], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	c := NewEntityCache(path, ttl, func(items []catalogItem) int { return len(items) }, newTestLogger())
	return c, path
}

func TestSetDataPersistsEnvelope(t *testing.T) {
	c, path := newCatalogCache(t, 24*time.Hour)

	items := []catalogItem{{Identifier: "83765NED", Title: "Kerncijfers wijken"}}
	if err := c.SetData(items); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取落盘文件失败: %v", err)
	}
	var env struct {
		Data     []catalogItem `json:"data"`
		Metadata *Metadata     `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("信封解析失败: %v", err)
	}
	if env.Metadata == nil || env.Metadata.Count != 1 {
		t.Fatalf("元数据不完整: %+v", env.Metadata)
	}
	if got := env.Metadata.ExpiresAt.Sub(env.Metadata.CreatedAt); got != 24*time.Hour {
		t.Fatalf("expires_at 应等于 created_at + ttl, got %v", got)
	}
	if len(env.Data) != 1 || env.Data[0].Identifier != "83765NED" {
		t.Fatalf("数据不符: %+v", env.Data)
	}
}

func TestDataLoadsLazilyFromDisk(t *testing.T) {
	c, path := newCatalogCache(t, 24*time.Hour)
	if err := c.SetData([]catalogItem{{Identifier: "85039NED"}}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	// 新实例模拟进程重启，首次读取应从磁盘加载
	fresh := NewEntityCache(path, 24*time.Hour, func(items []catalogItem) int { return len(items) }, newTestLogger())
	if fresh.IsLoaded() {
		t.Fatalf("加载前不应标记为已加载")
	}
	data, ok := fresh.Data()
	if !ok || len(data) != 1 || data[0].Identifier != "85039NED" {
		t.Fatalf("磁盘加载结果不符: ok=%v data=%+v", ok, data)
	}
	if !fresh.IsLoaded() {
		t.Fatalf("加载后应标记为已加载")
	}
}

func TestLegacyFormatAcceptedWithMtimeFallback(t *testing.T) {
	c, path := newCatalogCache(t, 24*time.Hour)

	// 旧格式：裸 JSON 数组，不带信封
	raw := []byte(`[{"Identifier":"81589NED","Title":"Bevolking"}]`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("写入旧格式文件失败: %v", err)
	}

	data, ok := c.Data()
	if !ok || len(data) != 1 || data[0].Identifier != "81589NED" {
		t.Fatalf("旧格式应可加载: ok=%v data=%+v", ok, data)
	}
	if c.IsExpired() {
		t.Fatalf("刚写入的旧格式文件不应过期")
	}
}

func TestLegacyFormatTooOldIsDiscarded(t *testing.T) {
	c, path := newCatalogCache(t, time.Hour)

	raw := []byte(`[{"Identifier":"81589NED"}]`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("修改 mtime 失败: %v", err)
	}

	if _, ok := c.Data(); ok {
		t.Fatalf("超龄的旧格式缓存应按不可用处理")
	}
	if !c.IsExpired() {
		t.Fatalf("超龄缓存应报告过期")
	}
}

func TestExpiredEnvelopeStaysNotLoaded(t *testing.T) {
	c, path := newCatalogCache(t, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	if err := c.SetData([]catalogItem{{Identifier: "37230ned"}}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	// 新实例的时钟拨到 TTL 之后
	fresh := NewEntityCache(path, time.Hour, func(items []catalogItem) int { return len(items) }, newTestLogger())
	fresh.now = func() time.Time { return base.Add(2 * time.Hour) }

	if _, ok := fresh.Data(); ok {
		t.Fatalf("磁盘上已过期的条目应视同不存在")
	}
	if fresh.IsLoaded() {
		t.Fatalf("过期条目不应进入已加载状态")
	}
	if !fresh.IsExpired() {
		t.Fatalf("过期条目应报告过期")
	}

	// 重新填充后恢复可用
	fresh.now = func() time.Time { return base.Add(3 * time.Hour) }
	if err := fresh.SetData([]catalogItem{{Identifier: "37230ned"}}); err != nil {
		t.Fatalf("重新填充失败: %v", err)
	}
	if fresh.IsExpired() {
		t.Fatalf("重新填充后不应过期")
	}
}

func TestCorruptFileTreatedAsEmpty(t *testing.T) {
	c, path := newCatalogCache(t, time.Hour)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	if _, ok := c.Data(); ok {
		t.Fatalf("损坏文件应按空缓存处理")
	}
	if c.IsLoaded() {
		t.Fatalf("损坏文件不应标记为已加载")
	}
}

func TestMissingFileIsExpired(t *testing.T) {
	c, _ := newCatalogCache(t, time.Hour)
	if !c.IsExpired() {
		t.Fatalf("文件不存在时应视为过期")
	}
}

func TestClearDropsMemoryAndFile(t *testing.T) {
	c, path := newCatalogCache(t, time.Hour)
	if err := c.SetData([]catalogItem{{Identifier: "70072ned"}}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("清空失败: %v", err)
	}
	if c.IsLoaded() {
		t.Fatalf("清空后不应处于已加载状态")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("清空后落盘文件应被删除")
	}
	// 再次清空应当安全
	if err := c.Clear(); err != nil {
		t.Fatalf("重复清空不应报错: %v", err)
	}
}

func TestStatsSnapshot(t *testing.T) {
	c, _ := newCatalogCache(t, time.Hour)

	stats := c.Stats()
	if stats.Loaded || stats.Count != 0 || !stats.Expired || stats.FileExists {
		t.Fatalf("空缓存统计不符: %+v", stats)
	}

	if err := c.SetData([]catalogItem{{Identifier: "a"}, {Identifier: "b"}}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	stats = c.Stats()
	if !stats.Loaded || stats.Count != 2 || stats.Expired || !stats.FileExists {
		t.Fatalf("填充后统计不符: %+v", stats)
	}
	if stats.TTLSeconds != 3600 {
		t.Fatalf("ttl_seconds 应为 3600, got %v", stats.TTLSeconds)
	}
}
