package odata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/statline-hub/statline-hub/internal/config"
	"github.com/statline-hub/statline-hub/internal/fetch"
	"github.com/statline-hub/statline-hub/internal/logging"
)

// SearchField 限定目录检索的字段范围。
type SearchField string

const (
	SearchAll     SearchField = "all"
	SearchTitle   SearchField = "title"
	SearchSummary SearchField = "summary"
)

// QueryOptions 是 TypedDataSet 查询的 OData 参数。
type QueryOptions struct {
	Top    int
	Skip   int
	Filter string
	Select []string
}

// Client 包装目录 API 与数据 API 的全部端点调用。
type Client struct {
	fetcher  *fetch.Fetcher
	upstream config.UpstreamConfig
	logger   *logrus.Logger
}

// NewClient 构建 OData 客户端。
func NewClient(fetcher *fetch.Fetcher, upstream config.UpstreamConfig, logger *logrus.Logger) *Client {
	return &Client{fetcher: fetcher, upstream: upstream, logger: logger}
}

// Catalog 拉取完整目录，只取 Identifier/Title/Summary 三列。
func (c *Client) Catalog(ctx context.Context) ([]CatalogItem, error) {
	u := fmt.Sprintf("%s/Tables?$format=json&$top=10000&$select=Identifier,Title,Summary", c.upstream.CatalogBaseURL)
	c.logger.WithFields(logging.DatasetFields("catalog_fetch", "")).Info("拉取完整目录")

	var env valueEnvelope[CatalogItem]
	if err := c.fetcher.FetchJSON(ctx, u, &env); err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	return env.Value, nil
}

// CatalogPage 直连目录 API 分页拉取，用于缓存不可用时的回退路径。
func (c *Client) CatalogPage(ctx context.Context, top, skip int) ([]CatalogItem, error) {
	u := fmt.Sprintf("%s/Tables?$format=json&$top=%d&$skip=%d", c.upstream.CatalogBaseURL, top, skip)

	var env valueEnvelope[CatalogItem]
	if err := c.fetcher.FetchJSON(ctx, u, &env); err != nil {
		return nil, fmt.Errorf("fetch catalog page: %w", err)
	}
	return env.Value, nil
}

// CatalogSearch 用 substringof 过滤在目录 API 侧检索，同样是回退路径。
func (c *Client) CatalogSearch(ctx context.Context, query string, field SearchField, top, skip int) ([]CatalogItem, error) {
	var filter string
	switch field {
	case SearchTitle:
		filter = fmt.Sprintf("substringof('%s', Title)", query)
	case SearchSummary:
		filter = fmt.Sprintf("substringof('%s', Summary)", query)
	default:
		filter = fmt.Sprintf("substringof('%s', Title) or substringof('%s', Summary)", query, query)
	}

	u := fmt.Sprintf("%s/Tables?$format=json&$filter=%s&$top=%d&$skip=%d",
		c.upstream.CatalogBaseURL, url.QueryEscape(filter), top, skip)

	var env valueEnvelope[CatalogItem]
	if err := c.fetcher.FetchJSON(ctx, u, &env); err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	return env.Value, nil
}

// TableInfos 返回数据集的描述信息。
func (c *Client) TableInfos(ctx context.Context, datasetID string) ([]TableInfo, error) {
	u := fmt.Sprintf("%s/%s/TableInfos?$format=json", c.upstream.DataBaseURL, datasetID)

	var env valueEnvelope[TableInfo]
	if err := c.fetcher.FetchJSON(ctx, u, &env); err != nil {
		return nil, fmt.Errorf("fetch table infos for %s: %w", datasetID, err)
	}
	return env.Value, nil
}

// DataProperties 返回数据集的列结构描述。
func (c *Client) DataProperties(ctx context.Context, datasetID string) ([]DataProperty, error) {
	u := fmt.Sprintf("%s/%s/DataProperties?$format=json", c.upstream.DataBaseURL, datasetID)

	var env valueEnvelope[DataProperty]
	if err := c.fetcher.FetchJSON(ctx, u, &env); err != nil {
		return nil, fmt.Errorf("fetch data properties for %s: %w", datasetID, err)
	}
	return env.Value, nil
}

// Endpoints 返回数据集服务文档中列出的子端点。
func (c *Client) Endpoints(ctx context.Context, datasetID string) ([]EndpointLink, error) {
	u := fmt.Sprintf("%s/%s", c.upstream.DataBaseURL, datasetID)

	var env valueEnvelope[EndpointLink]
	if err := c.fetcher.FetchJSON(ctx, u, &env); err != nil {
		return nil, fmt.Errorf("fetch endpoints for %s: %w", datasetID, err)
	}
	return env.Value, nil
}

// MetadataRaw 原样返回任意元数据端点的 JSON，供透传类接口使用。
func (c *Client) MetadataRaw(ctx context.Context, datasetID, endpoint string) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/%s", c.upstream.DataBaseURL, datasetID)
	if endpoint != "" {
		u += "/" + endpoint
	}

	var raw json.RawMessage
	if err := c.fetcher.FetchJSON(ctx, u, &raw); err != nil {
		return nil, fmt.Errorf("fetch metadata %s/%s: %w", datasetID, endpoint, err)
	}
	return raw, nil
}

// DimensionValues 返回 (数据集, 维度) 的 code/label 列表。
func (c *Client) DimensionValues(ctx context.Context, datasetID, dimension string) ([]DimensionEntry, error) {
	u := fmt.Sprintf("%s/%s/%s", c.upstream.DataBaseURL, datasetID, dimension)

	var env valueEnvelope[DimensionEntry]
	if err := c.fetcher.FetchJSON(ctx, u, &env); err != nil {
		return nil, fmt.Errorf("fetch dimension %s/%s: %w", datasetID, dimension, err)
	}
	return env.Value, nil
}

// TypedDataSet 按查询参数拉取一页数据并转为保序的 Frame。
func (c *Client) TypedDataSet(ctx context.Context, datasetID string, opts QueryOptions) (*Frame, error) {
	u := fmt.Sprintf("%s/%s/TypedDataSet?$format=json&$top=%d&$skip=%d",
		c.upstream.DataBaseURL, datasetID, opts.Top, opts.Skip)
	if opts.Filter != "" {
		u += "&$filter=" + url.QueryEscape(opts.Filter)
	}
	if len(opts.Select) > 0 {
		u += "&$select=" + strings.Join(opts.Select, ",")
	}

	c.logger.WithFields(logrus.Fields{
		"action":     "query_dataset",
		"dataset_id": datasetID,
		"top":        opts.Top,
		"skip":       opts.Skip,
		"has_filter": opts.Filter != "",
	}).Info("查询数据集")

	var env valueEnvelope[json.RawMessage]
	if err := c.fetcher.FetchJSON(ctx, u, &env); err != nil {
		return nil, fmt.Errorf("fetch typed data for %s: %w", datasetID, err)
	}
	return FrameFromRecords(env.Value)
}

// FetchAllTyped 分批拉取全量数据，直到上游返回空页或达到记录上限。
func (c *Client) FetchAllTyped(ctx context.Context, datasetID string, batchSize, maxRecords int) (*Frame, error) {
	var records []json.RawMessage
	skip := 0

	for {
		u := fmt.Sprintf("%s/%s/TypedDataSet?$format=json&$top=%d&$skip=%d",
			c.upstream.DataBaseURL, datasetID, batchSize, skip)
		c.logger.WithFields(logrus.Fields{
			"action":     "fetch_batch",
			"dataset_id": datasetID,
			"skip":       skip,
			"top":        batchSize,
		}).Debug("拉取分页批次")

		var env valueEnvelope[json.RawMessage]
		if err := c.fetcher.FetchJSON(ctx, u, &env); err != nil {
			return nil, fmt.Errorf("fetch batch at skip=%d for %s: %w", skip, datasetID, err)
		}
		if len(env.Value) == 0 {
			break
		}

		records = append(records, env.Value...)
		skip += batchSize

		if skip > maxRecords {
			c.logger.WithFields(logrus.Fields{
				"action":      "fetch_all",
				"dataset_id":  datasetID,
				"max_records": maxRecords,
			}).Warn("达到记录数上限，停止分页")
			break
		}
	}

	return FrameFromRecords(records)
}

// DatasetReachable 以一次不重试的探测判断数据集是否可经 OData 查询。
func (c *Client) DatasetReachable(ctx context.Context, datasetID string) bool {
	u := fmt.Sprintf("%s/%s", c.upstream.DataBaseURL, datasetID)
	resp, err := c.fetcher.FetchWith(ctx, u, fetch.Options{MaxRetries: -1})
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
