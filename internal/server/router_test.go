package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/statline-hub/statline-hub/internal/cache"
	"github.com/statline-hub/statline-hub/internal/catalog"
	"github.com/statline-hub/statline-hub/internal/config"
	"github.com/statline-hub/statline-hub/internal/fetch"
	"github.com/statline-hub/statline-hub/internal/odata"
	"github.com/statline-hub/statline-hub/internal/server/routes"
	"github.com/statline-hub/statline-hub/internal/translate"
)

// upstreamStub 模拟 CBS 目录 API 与数据 API 的最小行为。
func upstreamStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasPrefix(path, "/ODataCatalog/Tables"):
			_, _ = w.Write([]byte(`{"value":[
				{"Identifier":"84826NED","Title":"Bevolking; geslacht","Summary":"Bevolking naar geslacht"},
				{"Identifier":"85313NED","Title":"Gemeentelijke heffingen","Summary":"Heffingen per gemeente"}
			]}`))
		case strings.HasSuffix(path, "/84826NED/TableInfos"):
			_, _ = w.Write([]byte(`{"value":[{"ID":1,"Identifier":"84826NED","Title":"Bevolking; geslacht"}]}`))
		case strings.HasSuffix(path, "/84826NED/DataProperties"):
			_, _ = w.Write([]byte(`{"value":[
				{"Key":"Geslacht","Type":"Dimension","Title":"Geslacht"},
				{"Key":"Perioden","Type":"TimeDimension","Title":"Perioden"},
				{"Key":"Bevolking_1","Type":"Topic","Title":"Bevolking (aantal)"}
			]}`))
		case strings.HasSuffix(path, "/84826NED/TypedDataSet"):
			_, _ = w.Write([]byte(`{"value":[
				{"ID":0,"Geslacht":"1100","Perioden":"2023JJ00","Bevolking_1":8850309},
				{"ID":1,"Geslacht":"1200","Perioden":"2023JJ00","Bevolking_1":8960982}
			]}`))
		case strings.HasSuffix(path, "/84826NED/Geslacht"):
			_, _ = w.Write([]byte(`{"value":[
				{"Key":"1100","Title":"Mannen"},
				{"Key":"1200","Title":"Vrouwen"}
			]}`))
		case strings.HasSuffix(path, "/84826NED"):
			_, _ = w.Write([]byte(`{"value":[
				{"name":"TableInfos","url":""},
				{"name":"TypedDataSet","url":""},
				{"name":"UntypedDataSet","url":""},
				{"name":"DataProperties","url":""},
				{"name":"CategoryGroups","url":""},
				{"name":"Geslacht","url":""},
				{"name":"Perioden","url":""}
			]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestApp(t *testing.T) (*fiber.App, routes.Deps) {
	t.Helper()

	srv := httptest.NewServer(upstreamStub())
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	storage := t.TempDir()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort: 5000,
			BatchSize:  1000,
			MaxRecords: 10000,
		},
		Upstream: config.UpstreamConfig{
			CatalogBaseURL: srv.URL + "/ODataCatalog",
			DataBaseURL:    srv.URL + "/ODataApi/OData",
			CKANBaseURL:    srv.URL + "/data/api/3/action",
		},
		Client: config.ClientConfig{
			Timeout:            config.Duration(5 * time.Second),
			ConnectTimeout:     config.Duration(time.Second),
			MaxConnections:     10,
			MaxIdleConnections: 5,
			MaxRetries:         0,
			RetryMinWait:       config.Duration(time.Millisecond),
			RetryMaxWait:       config.Duration(5 * time.Millisecond),
		},
		Cache: config.CacheConfig{
			StoragePath:      storage,
			CatalogCacheFile: "catalog.json",
			ArtifactCacheFile: "artifacts.json",
			CatalogTTL:       config.Duration(24 * time.Hour),
			DimensionTTL:     config.Duration(time.Hour),
		},
	}

	manager := fetch.NewClientManager(cfg.Client)
	fetcher := fetch.NewFetcher(manager, cfg.Client, logger)
	dataClient := odata.NewClient(fetcher, cfg.Upstream, logger)
	ckan := odata.NewCKANClient(fetcher, cfg.Upstream, logger)

	catalogCache := cache.NewEntityCache(
		cfg.CatalogCachePath(),
		cfg.Cache.CatalogTTL.DurationValue(),
		func(items []odata.CatalogItem) int { return len(items) },
		logger,
	)
	artifacts := cache.NewArtifactCache(cfg.ArtifactCachePath(), logger)
	dimCache := translate.NewDimensionCache(dataClient, cfg.Cache.DimensionTTL.DurationValue(), logger)
	translator := translate.NewTranslator(dataClient, dimCache, logger)
	catalogService := catalog.NewService(catalogCache, dataClient, ckan, logger)

	deps := routes.Deps{
		Logger:     logger,
		Config:     cfg,
		Catalog:    catalogService,
		Data:       dataClient,
		CKAN:       ckan,
		Translator: translator,
		DimCache:   dimCache,
		Artifacts:  artifacts,
		Manager:    manager,
	}

	app, err := NewApp(AppOptions{Deps: deps, ListenPort: cfg.Global.ListenPort})
	if err != nil {
		t.Fatalf("构建应用失败: %v", err)
	}
	return app, deps
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("缺少依赖应报错")
	}
}

func TestRequestIDHeaderSet(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("应设置 X-Request-ID 响应头")
	}
}

func TestListDatasets(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets?top=1", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("预期 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Count    int                 `json:"count"`
		Datasets []odata.CatalogItem `json:"datasets"`
	}
	decodeJSON(t, resp, &payload)
	if payload.Count != 1 || payload.Datasets[0].Identifier != "84826NED" {
		t.Fatalf("列表不符: %+v", payload)
	}
}

func TestListDatasetsRejectsBadPaging(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets?top=-5", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("预期 400, got %d", resp.StatusCode)
	}
}

func TestSearchDatasets(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets/search?q=heffingen&field=title", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload struct {
		Count    int                 `json:"count"`
		Datasets []odata.CatalogItem `json:"datasets"`
	}
	decodeJSON(t, resp, &payload)
	if payload.Count != 1 || payload.Datasets[0].Identifier != "85313NED" {
		t.Fatalf("检索不符: %+v", payload)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets/search", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("缺少 q 应返回 400, got %d", resp.StatusCode)
	}
}

func TestQueryDatasetTranslatesByDefault(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets/84826NED/data", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload struct {
		Columns  []string `json:"columns"`
		Rows     [][]any  `json:"rows"`
		RowCount int      `json:"row_count"`
	}
	decodeJSON(t, resp, &payload)
	if payload.RowCount != 2 {
		t.Fatalf("行数不符: %+v", payload)
	}

	idx := -1
	for i, col := range payload.Columns {
		if col == "Geslacht" {
			idx = i
		}
	}
	if idx < 0 {
		t.Fatalf("缺少 Geslacht 列: %v", payload.Columns)
	}
	if payload.Rows[0][idx] != "Mannen" || payload.Rows[1][idx] != "Vrouwen" {
		t.Fatalf("默认应翻译维度代码: %v", payload.Rows)
	}
}

func TestQueryDatasetTranslateOff(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets/84826NED/data?translate=false", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}
	decodeJSON(t, resp, &payload)
	if payload.Rows[0][1] != "1100" {
		t.Fatalf("关闭翻译应保留原始代码: %v", payload.Rows[0])
	}
}

func TestQueryDatasetCSVFormat(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets/84826NED/data?format=csv&translate=false", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/csv") {
		t.Fatalf("应返回 CSV 内容类型: %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.HasPrefix(string(body), "ID,Geslacht,Perioden,Bevolking_1") {
		t.Fatalf("CSV 表头应保序: %s", body)
	}
}

func TestQueryDatasetRejectsBadFilter(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets/84826NED/data?filter=a+eq+%27b", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("不平衡引号应返回 400, got %d", resp.StatusCode)
	}
}

func TestQueryDatasetInvalidID(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets/bad%20id/data", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("非法标识应返回 400, got %d", resp.StatusCode)
	}
}

func TestDatasetStructure(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets/84826NED/structure", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload struct {
		Properties []odata.DataProperty `json:"properties"`
	}
	decodeJSON(t, resp, &payload)
	if len(payload.Properties) != 3 || payload.Properties[0].Key != "Geslacht" {
		t.Fatalf("结构不符: %+v", payload.Properties)
	}
}

func TestDatasetAvailability(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets/84826NED/availability", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var avail catalog.Availability
	decodeJSON(t, resp, &avail)
	if !avail.Found || !avail.Queryable || avail.Source != "cbs-odata" {
		t.Fatalf("可用性不符: %+v", avail)
	}
}

func TestDownloadDatasetWritesArtifactAndCaches(t *testing.T) {
	app, deps := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("POST", "/datasets/84826NED/download?translate=false", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload struct {
		Path    string `json:"path"`
		Records int    `json:"records"`
		Cached  bool   `json:"cached"`
	}
	decodeJSON(t, resp, &payload)
	if payload.Cached || payload.Records != 2 {
		t.Fatalf("首次下载不符: %+v", payload)
	}
	if _, err := os.Stat(payload.Path); err != nil {
		t.Fatalf("应写出 CSV 文件: %v", err)
	}
	if filepath.Base(payload.Path) != "84826NED.csv" {
		t.Fatalf("默认文件名不符: %s", payload.Path)
	}
	if !deps.Artifacts.Exists(payload.Path) {
		t.Fatalf("应登记制品缓存")
	}

	// 第二次请求直接复用
	resp, err = app.Test(httptest.NewRequest("POST", "/datasets/84826NED/download?translate=false", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	decodeJSON(t, resp, &payload)
	if !payload.Cached {
		t.Fatalf("二次下载应命中缓存: %+v", payload)
	}
}

func TestDownloadRejectsTraversal(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("POST", "/datasets/84826NED/download?file_name=..%2F..%2Fetc%2Fpasswd", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload struct {
		Path   string `json:"path"`
		Cached bool   `json:"cached"`
	}
	decodeJSON(t, resp, &payload)
	// basename 规整后只允许写入下载目录
	if payload.Path != "" && !strings.Contains(payload.Path, "downloads") {
		t.Fatalf("路径应被限制在下载目录: %s", payload.Path)
	}
}

func TestStatusEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	// 先触发一次目录加载，让统计有内容
	if _, err := app.Test(httptest.NewRequest("GET", "/datasets", nil)); err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload struct {
		Version          string      `json:"version"`
		ClientReady      bool        `json:"client_initialized"`
		CatalogCache     cache.Stats `json:"catalog_cache"`
		ArtifactEntries  int         `json:"artifact_entries"`
	}
	decodeJSON(t, resp, &payload)
	if payload.Version == "" {
		t.Fatalf("应返回版本号")
	}
	if !payload.CatalogCache.Loaded || payload.CatalogCache.Count != 2 {
		t.Fatalf("目录缓存统计不符: %+v", payload.CatalogCache)
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	app, deps := newTestApp(t)

	if _, err := app.Test(httptest.NewRequest("GET", "/datasets", nil)); err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if _, err := app.Test(httptest.NewRequest("POST", "/datasets/84826NED/download?translate=false", nil)); err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("POST", "/-/cache/clear", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("预期 200, got %d", resp.StatusCode)
	}
	if stats := deps.Catalog.Stats(); stats.Loaded {
		t.Fatalf("清空后目录缓存应为未加载: %+v", stats)
	}
	if entries := deps.Artifacts.Entries(); len(entries) != 0 {
		t.Fatalf("清空后制品登记应为空: %+v", entries)
	}
}

func TestCatalogRefreshEndpoint(t *testing.T) {
	app, deps := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("POST", "/-/catalog/refresh", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("预期 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Refreshed int `json:"refreshed"`
	}
	decodeJSON(t, resp, &payload)
	if payload.Refreshed != 2 {
		t.Fatalf("刷新条数不符: %+v", payload)
	}
	if stats := deps.Catalog.Stats(); !stats.Loaded || stats.Count != 2 {
		t.Fatalf("刷新后缓存统计不符: %+v", stats)
	}
}

func TestDatasetMetadataPassthrough(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets/84826NED/metadata?endpoint=TableInfos", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("应返回 JSON 内容类型: %s", ct)
	}
	var payload struct {
		Value []map[string]any `json:"value"`
	}
	decodeJSON(t, resp, &payload)
	if len(payload.Value) != 1 || payload.Value[0]["Identifier"] != "84826NED" {
		t.Fatalf("元数据透传不符: %+v", payload.Value)
	}
}

func TestDatasetMetadataRejectsBadEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/datasets/84826NED/metadata?endpoint=Table%2FInfos", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("非法端点名应返回 400, got %d", resp.StatusCode)
	}
}
