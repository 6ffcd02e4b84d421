// Package catalog serves the CBS dataset catalog from a TTL cache,
// falling back to the catalog API when the cache cannot be used, and
// answers availability questions across CBS OData and data.overheid.nl.
package catalog

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/statline-hub/statline-hub/internal/cache"
	"github.com/statline-hub/statline-hub/internal/logging"
	"github.com/statline-hub/statline-hub/internal/odata"
)

// Availability 描述一个数据集在哪个来源可用、是否可查询。
type Availability struct {
	DatasetID string   `json:"dataset_id"`
	Found     bool     `json:"found"`
	Queryable bool     `json:"queryable"`
	Source    string   `json:"source,omitempty"`
	Title     string   `json:"title,omitempty"`
	Formats   []string `json:"formats,omitempty"`
}

// Service 是目录的读取入口：优先走 TTL 缓存，缓存不可用时
// 回退到目录 API 直连。
type Service struct {
	cache  *cache.EntityCache[[]odata.CatalogItem]
	client *odata.Client
	ckan   *odata.CKANClient
	logger *logrus.Logger
}

// NewService 构建目录服务。
func NewService(c *cache.EntityCache[[]odata.CatalogItem], client *odata.Client, ckan *odata.CKANClient, logger *logrus.Logger) *Service {
	return &Service{cache: c, client: client, ckan: ckan, logger: logger}
}

// Ensure 保证目录缓存可用：已加载且未过期直接返回；否则先尝试磁盘，
// 再从目录 API 全量拉取。没有任何可用回退时错误向上传播。
func (s *Service) Ensure(ctx context.Context) error {
	if s.cache.IsLoaded() && !s.cache.IsExpired() {
		return nil
	}

	// 磁盘上未过期的数据直接可用
	if !s.cache.IsExpired() {
		if _, ok := s.cache.Data(); ok {
			return nil
		}
	}

	s.logger.WithFields(logging.DatasetFields("catalog_refresh", "")).Info("目录缓存不可用，从上游拉取")
	items, err := s.client.Catalog(ctx)
	if err != nil {
		return err
	}
	if err := s.cache.SetData(items); err != nil {
		// 落盘失败只影响下次启动，内存数据已可用
		s.logger.WithFields(logrus.Fields{
			"action": "catalog_refresh",
			"error":  err.Error(),
		}).Warn("目录落盘失败，仅保留在内存中")
	}
	return nil
}

// Refresh 无条件重新拉取目录并覆盖缓存。
func (s *Service) Refresh(ctx context.Context) (int, error) {
	items, err := s.client.Catalog(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.cache.SetData(items); err != nil {
		return 0, err
	}
	return len(items), nil
}

// List 返回目录的一页。缓存不可用时回退到目录 API 分页直连。
func (s *Service) List(ctx context.Context, top, skip int) ([]odata.CatalogItem, error) {
	if err := s.Ensure(ctx); err == nil {
		if data, ok := s.cache.Data(); ok {
			return pageOf(data, top, skip), nil
		}
	}
	return s.client.CatalogPage(ctx, top, skip)
}

// Search 在目录中做大小写不敏感的子串检索。
// field 取 all/title/summary，缓存不可用时回退到目录 API 的 substringof 过滤。
func (s *Service) Search(ctx context.Context, query string, field odata.SearchField, top, skip int) ([]odata.CatalogItem, error) {
	if err := s.Ensure(ctx); err == nil {
		if data, ok := s.cache.Data(); ok {
			return pageOf(filterItems(data, query, field), top, skip), nil
		}
	}
	return s.client.CatalogSearch(ctx, query, field, top, skip)
}

// Find 按标识在缓存目录中查找。
func (s *Service) Find(ctx context.Context, datasetID string) (odata.CatalogItem, bool) {
	if err := s.Ensure(ctx); err != nil {
		return odata.CatalogItem{}, false
	}
	data, ok := s.cache.Data()
	if !ok {
		return odata.CatalogItem{}, false
	}
	for _, item := range data {
		if item.Identifier == datasetID {
			return item, true
		}
	}
	return odata.CatalogItem{}, false
}

// Availability 按优先级判断数据集来源：目录命中或 OData 直连可达视为
// 可查询；否则查 data.overheid.nl，那边的数据集通常只能下载。
func (s *Service) Availability(ctx context.Context, datasetID string) Availability {
	if item, ok := s.Find(ctx, datasetID); ok {
		return Availability{
			DatasetID: datasetID,
			Found:     true,
			Queryable: true,
			Source:    "cbs-odata",
			Title:     item.Title,
		}
	}

	if s.client.DatasetReachable(ctx, datasetID) {
		return Availability{
			DatasetID: datasetID,
			Found:     true,
			Queryable: true,
			Source:    "cbs-odata",
		}
	}

	if pkg, ok := s.ckan.PackageShow(ctx, datasetID); ok {
		formats := make([]string, 0, len(pkg.Resources))
		for _, res := range pkg.Resources {
			if res.Format != "" {
				formats = append(formats, res.Format)
			}
		}
		return Availability{
			DatasetID: datasetID,
			Found:     true,
			Queryable: false,
			Source:    "data.overheid.nl",
			Title:     pkg.Title,
			Formats:   formats,
		}
	}

	return Availability{DatasetID: datasetID}
}

// Stats 暴露底层缓存的统计信息。
func (s *Service) Stats() cache.Stats {
	return s.cache.Stats()
}

// Clear 清空目录缓存。
func (s *Service) Clear() error {
	return s.cache.Clear()
}

func pageOf(items []odata.CatalogItem, top, skip int) []odata.CatalogItem {
	if skip >= len(items) || skip < 0 {
		return nil
	}
	end := skip + top
	if end > len(items) {
		end = len(items)
	}
	return items[skip:end]
}

func filterItems(items []odata.CatalogItem, query string, field odata.SearchField) []odata.CatalogItem {
	query = strings.ToLower(query)
	var matches []odata.CatalogItem
	for _, item := range items {
		title := strings.ToLower(item.Title)
		summary := strings.ToLower(item.Summary)

		var hit bool
		switch field {
		case odata.SearchTitle:
			hit = strings.Contains(title, query)
		case odata.SearchSummary:
			hit = strings.Contains(summary, query)
		default:
			hit = strings.Contains(title, query) || strings.Contains(summary, query)
		}
		if hit {
			matches = append(matches, item)
		}
	}
	return matches
}
