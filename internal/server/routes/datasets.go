package routes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/statline-hub/statline-hub/internal/cache"
	"github.com/statline-hub/statline-hub/internal/catalog"
	"github.com/statline-hub/statline-hub/internal/config"
	"github.com/statline-hub/statline-hub/internal/fetch"
	"github.com/statline-hub/statline-hub/internal/odata"
	"github.com/statline-hub/statline-hub/internal/translate"
)

// Deps 聚合路由层需要的全部协作方。
type Deps struct {
	Logger     *logrus.Logger
	Config     *config.Config
	Catalog    *catalog.Service
	Data       *odata.Client
	CKAN       *odata.CKANClient
	Translator *translate.Translator
	DimCache   *translate.DimensionCache
	Artifacts  *cache.ArtifactCache
	Manager    *fetch.ClientManager
}

// RegisterDatasetRoutes 注册目录与数据访问相关的全部路由。
func RegisterDatasetRoutes(app *fiber.App, deps Deps) {
	if app == nil {
		return
	}

	app.Get("/datasets", listDatasets(deps))
	app.Get("/datasets/search", searchDatasets(deps))
	app.Get("/datasets/:id/availability", datasetAvailability(deps))
	app.Get("/datasets/:id/info", datasetInfo(deps))
	app.Get("/datasets/:id/structure", datasetStructure(deps))
	app.Get("/datasets/:id/endpoints", datasetEndpoints(deps))
	app.Get("/datasets/:id/metadata", datasetMetadata(deps))
	app.Get("/datasets/:id/data", queryDataset(deps))
	app.Post("/datasets/:id/download", downloadDataset(deps))
}

func listDatasets(deps Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		top := queryInt(c, "top", 10)
		skip := queryInt(c, "skip", 0)
		if top <= 0 || top > 1000 || skip < 0 {
			return badRequest(c, "invalid_paging")
		}

		items, err := deps.Catalog.List(requestContext(c), top, skip)
		if err != nil {
			return upstreamError(c, deps.Logger, "list_datasets", err)
		}
		return c.JSON(fiber.Map{
			"count":    len(items),
			"datasets": items,
		})
	}
}

func searchDatasets(deps Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			return badRequest(c, "query_required")
		}
		field := odata.SearchField(c.Query("field", string(odata.SearchAll)))
		switch field {
		case odata.SearchAll, odata.SearchTitle, odata.SearchSummary:
		default:
			return badRequest(c, "invalid_search_field")
		}
		top := queryInt(c, "top", 10)
		skip := queryInt(c, "skip", 0)
		if top <= 0 || top > 1000 || skip < 0 {
			return badRequest(c, "invalid_paging")
		}

		items, err := deps.Catalog.Search(requestContext(c), query, field, top, skip)
		if err != nil {
			return upstreamError(c, deps.Logger, "search_datasets", err)
		}
		return c.JSON(fiber.Map{
			"query":    query,
			"count":    len(items),
			"datasets": items,
		})
	}
}

func datasetAvailability(deps Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		datasetID, err := odata.ValidateDatasetID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid_dataset_id")
		}
		return c.JSON(deps.Catalog.Availability(requestContext(c), datasetID))
	}
}

func datasetInfo(deps Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		datasetID, err := odata.ValidateDatasetID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid_dataset_id")
		}
		infos, err := deps.Data.TableInfos(requestContext(c), datasetID)
		if err != nil {
			return upstreamError(c, deps.Logger, "dataset_info", err)
		}
		return c.JSON(fiber.Map{"dataset_id": datasetID, "infos": infos})
	}
}

func datasetStructure(deps Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		datasetID, err := odata.ValidateDatasetID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid_dataset_id")
		}
		props, err := deps.Data.DataProperties(requestContext(c), datasetID)
		if err != nil {
			return upstreamError(c, deps.Logger, "dataset_structure", err)
		}
		return c.JSON(fiber.Map{"dataset_id": datasetID, "properties": props})
	}
}

func datasetEndpoints(deps Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		datasetID, err := odata.ValidateDatasetID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid_dataset_id")
		}
		links, err := deps.Data.Endpoints(requestContext(c), datasetID)
		if err != nil {
			return upstreamError(c, deps.Logger, "dataset_endpoints", err)
		}
		return c.JSON(fiber.Map{"dataset_id": datasetID, "endpoints": links})
	}
}

// datasetMetadata 透传任意元数据端点的原始 JSON；不带 endpoint 时返回服务文档。
func datasetMetadata(deps Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		datasetID, err := odata.ValidateDatasetID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid_dataset_id")
		}

		endpoint := strings.TrimSpace(c.Query("endpoint"))
		if endpoint != "" {
			if _, err := odata.SanitizeSelect([]string{endpoint}); err != nil {
				return badRequest(c, "invalid_endpoint")
			}
		}

		raw, err := deps.Data.MetadataRaw(requestContext(c), datasetID, endpoint)
		if err != nil {
			return upstreamError(c, deps.Logger, "dataset_metadata", err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
		return c.Send(raw)
	}
}

func queryDataset(deps Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		datasetID, err := odata.ValidateDatasetID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid_dataset_id")
		}

		filter, err := odata.SanitizeFilter(c.Query("filter"))
		if err != nil {
			return badRequest(c, "invalid_filter")
		}
		var selectCols []string
		if raw := strings.TrimSpace(c.Query("select")); raw != "" {
			selectCols, err = odata.SanitizeSelect(strings.Split(raw, ","))
			if err != nil {
				return badRequest(c, "invalid_select")
			}
		}
		top := queryInt(c, "top", 10)
		skip := queryInt(c, "skip", 0)
		if top <= 0 || skip < 0 {
			return badRequest(c, "invalid_paging")
		}

		ctx := requestContext(c)
		frame, err := deps.Data.TypedDataSet(ctx, datasetID, odata.QueryOptions{
			Top:    top,
			Skip:   skip,
			Filter: filter,
			Select: selectCols,
		})
		if err != nil {
			return upstreamError(c, deps.Logger, "query_dataset", err)
		}

		// 翻译失败只记录，继续返回原始代码
		if queryBool(c, "translate", true) && !frame.Empty() {
			translated, err := deps.Translator.Translate(ctx, frame, datasetID, translate.Options{
				RenameHeaders: queryBool(c, "rename", false),
			})
			if err != nil {
				deps.Logger.WithFields(logrus.Fields{
					"action":     "query_dataset",
					"dataset_id": datasetID,
					"error":      err.Error(),
				}).Warn("翻译失败，返回原始代码")
			} else {
				frame = translated
			}
		}

		return renderFrame(c, frame)
	}
}

func downloadDataset(deps Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		datasetID, err := odata.ValidateDatasetID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid_dataset_id")
		}

		fileName := c.Query("file_name", datasetID+".csv")
		fullPath, err := safeJoinDownloads(deps.Config.DownloadsPath(), fileName)
		if err != nil {
			return badRequest(c, "invalid_file_name")
		}

		// 文件已在且缓存登记有效时直接复用
		if deps.Artifacts.Exists(fullPath) {
			entry, _ := deps.Artifacts.Get(fullPath)
			return c.JSON(fiber.Map{
				"dataset_id": datasetID,
				"path":       fullPath,
				"records":    entry.Records,
				"cached":     true,
			})
		}

		ctx := requestContext(c)
		var frame *odata.Frame
		if queryBool(c, "all", false) {
			frame, err = deps.Data.FetchAllTyped(ctx, datasetID, deps.Config.Global.BatchSize, deps.Config.Global.MaxRecords)
		} else {
			frame, err = deps.Data.TypedDataSet(ctx, datasetID, odata.QueryOptions{
				Top:  queryInt(c, "top", deps.Config.Global.BatchSize),
				Skip: queryInt(c, "skip", 0),
			})
		}
		if err != nil {
			return upstreamError(c, deps.Logger, "download_dataset", err)
		}
		if frame.Empty() {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_data"})
		}

		if queryBool(c, "translate", true) {
			if translated, terr := deps.Translator.Translate(ctx, frame, datasetID, translate.Options{}); terr == nil {
				frame = translated
			}
		}

		csvData, err := frame.CSV()
		if err != nil {
			return upstreamError(c, deps.Logger, "download_dataset", err)
		}
		// 与缓存落盘相同的临时文件+重命名，避免登记半成品
		if err := cache.WriteFileAtomic(fullPath, []byte(csvData)); err != nil {
			return upstreamError(c, deps.Logger, "download_dataset", err)
		}
		if err := deps.Artifacts.Set(fullPath, datasetID, frame.Len()); err != nil {
			deps.Logger.WithFields(logrus.Fields{
				"action": "download_dataset",
				"path":   fullPath,
				"error":  err.Error(),
			}).Warn("制品登记失败")
		}

		deps.Logger.WithFields(logrus.Fields{
			"action":     "download_dataset",
			"dataset_id": datasetID,
			"path":       fullPath,
			"records":    frame.Len(),
		}).Info("数据集已保存")

		return c.JSON(fiber.Map{
			"dataset_id": datasetID,
			"path":       fullPath,
			"records":    frame.Len(),
			"cached":     false,
		})
	}
}

// renderFrame 按 format 参数输出 JSON 或 CSV。
func renderFrame(c fiber.Ctx, frame *odata.Frame) error {
	if c.Query("format", "json") == "csv" {
		out, err := frame.CSV()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "csv_encoding_failed"})
		}
		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
		return c.SendString(out)
	}
	return c.JSON(fiber.Map{
		"columns":   frame.Columns,
		"rows":      frame.Rows,
		"row_count": frame.Len(),
	})
}

// safeJoinDownloads 把用户提供的文件名限制在下载目录内，防止路径穿越。
func safeJoinDownloads(baseDir, fileName string) (string, error) {
	if fileName == "" {
		return "", fmt.Errorf("file name cannot be empty")
	}
	name := filepath.Base(fileName)
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid file name: %q", fileName)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("invalid file name: %q", fileName)
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	full := filepath.Join(base, name)
	if full != base && !strings.HasPrefix(full, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes downloads directory")
	}
	return full, nil
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func queryInt(c fiber.Ctx, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}

func queryBool(c fiber.Ctx, key string, def bool) bool {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c fiber.Ctx, code string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": code})
}

func upstreamError(c fiber.Ctx, logger *logrus.Logger, action string, err error) error {
	logger.WithFields(logrus.Fields{
		"action": action,
		"error":  err.Error(),
	}).Error("上游请求失败")
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failure"})
}
