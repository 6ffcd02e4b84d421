package odata

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/statline-hub/statline-hub/internal/config"
	"github.com/statline-hub/statline-hub/internal/fetch"
)

// CKANResource 是 data.overheid.nl 上一个可下载的资源。
type CKANResource struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	URL    string `json:"url"`
}

// CKANPackage 是 CKAN package_show 返回的数据集描述。
type CKANPackage struct {
	Title     string         `json:"title"`
	Notes     string         `json:"notes"`
	Resources []CKANResource `json:"resources"`
}

type ckanResponse struct {
	Success bool        `json:"success"`
	Result  CKANPackage `json:"result"`
}

// CKANClient 查询 data.overheid.nl 的 CKAN 目录。
// 那边的数据集通常只可下载、不可按 OData 方式查询。
type CKANClient struct {
	fetcher *fetch.Fetcher
	baseURL string
	logger  *logrus.Logger
}

// NewCKANClient 构建 CKAN 客户端。
func NewCKANClient(fetcher *fetch.Fetcher, upstream config.UpstreamConfig, logger *logrus.Logger) *CKANClient {
	return &CKANClient{fetcher: fetcher, baseURL: upstream.CKANBaseURL, logger: logger}
}

// PackageShow 按标识查询数据集包；不存在或查询失败时 ok 为 false。
func (c *CKANClient) PackageShow(ctx context.Context, datasetID string) (CKANPackage, bool) {
	u := fmt.Sprintf("%s/package_show?id=%s", c.baseURL, url.QueryEscape(datasetID))

	var resp ckanResponse
	if ok := c.fetcher.TryFetchJSON(ctx, u, &resp); !ok {
		return CKANPackage{}, false
	}
	if !resp.Success {
		return CKANPackage{}, false
	}
	return resp.Result, true
}
