package translate

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/statline-hub/statline-hub/internal/odata"
)

// 服务文档中固定存在的非维度端点
var standardEndpoints = map[string]struct{}{
	"TableInfos":     {},
	"UntypedDataSet": {},
	"TypedDataSet":   {},
	"DataProperties": {},
	"CategoryGroups": {},
}

// defaultSkipColumns 默认跳过时间维度，保留可用于过滤的原始代码。
var defaultSkipColumns = []string{"Perioden"}

// StructureSource 提供数据集的结构描述与服务文档。
type StructureSource interface {
	Endpoints(ctx context.Context, datasetID string) ([]odata.EndpointLink, error)
	DataProperties(ctx context.Context, datasetID string) ([]odata.DataProperty, error)
}

// Options 控制一次表翻译的行为。
type Options struct {
	// DimensionColumns 显式指定要翻译的列；为空时自动探测。
	DimensionColumns []string
	// SkipColumns 为 nil 时使用默认值 ["Perioden"]。
	SkipColumns []string
	// RenameHeaders 把列名换成结构描述里的标题，默认关闭，
	// 以免破坏依赖稳定标识符的下游。
	RenameHeaders bool
}

// Translator 把 Frame 中的维度代码翻译为可读标签。
type Translator struct {
	source StructureSource
	cache  *DimensionCache
	logger *logrus.Logger
}

// NewTranslator 构建翻译器。
func NewTranslator(source StructureSource, cache *DimensionCache, logger *logrus.Logger) *Translator {
	return &Translator{source: source, cache: cache, logger: logger}
}

// Translate 翻译表中的维度列并返回新表，输入表不被修改。
// 空表原样返回且不触发任何网络访问。单个维度拉取失败只会让
// 对应列保持原值，不会使整次翻译失败。
func (t *Translator) Translate(ctx context.Context, frame *odata.Frame, datasetID string, opts Options) (*odata.Frame, error) {
	if frame.Empty() {
		return frame, nil
	}

	skip := opts.SkipColumns
	if skip == nil {
		skip = defaultSkipColumns
	}
	skipSet := make(map[string]struct{}, len(skip))
	for _, col := range skip {
		skipSet[col] = struct{}{}
	}

	columns := opts.DimensionColumns
	if columns == nil {
		available := t.availableDimensions(ctx, datasetID)
		for _, col := range frame.Columns {
			if _, ok := available[col]; !ok {
				continue
			}
			if _, ok := skipSet[col]; ok {
				continue
			}
			columns = append(columns, col)
		}
	} else {
		filtered := columns[:0]
		for _, col := range columns {
			if _, ok := skipSet[col]; !ok && frame.ColumnIndex(col) >= 0 {
				filtered = append(filtered, col)
			}
		}
		columns = filtered
	}

	out := frame.Copy()

	if len(columns) > 0 {
		// 并发拉取全部映射，整体耗时取决于最慢的一个而不是总和；
		// 全部就绪后再应用，避免读到半套映射。
		var mu sync.Mutex
		mappings := make(map[string]map[string]string, len(columns))

		g, gctx := errgroup.WithContext(ctx)
		for _, col := range columns {
			g.Go(func() error {
				mapping := t.cache.GetMapping(gctx, datasetID, col)
				mu.Lock()
				mappings[col] = mapping
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		for col, mapping := range mappings {
			if len(mapping) == 0 {
				continue
			}
			t.applyMapping(out, col, mapping)
		}
	}

	if opts.RenameHeaders {
		titles := t.columnTitles(ctx, datasetID)
		if len(titles) > 0 {
			out.Rename(titles)
			t.logger.WithFields(logrus.Fields{
				"action":     "rename_headers",
				"dataset_id": datasetID,
				"count":      len(titles),
			}).Debug("已替换列标题")
		}
	}

	return out, nil
}

// applyMapping 替换单列的代码值：先按裁剪后形态查找，再按原始形态；
// 都未命中或单元格为空时保持原值。
func (t *Translator) applyMapping(frame *odata.Frame, column string, mapping map[string]string) {
	idx := frame.ColumnIndex(column)
	if idx < 0 {
		return
	}
	for _, row := range frame.Rows {
		code, ok := row[idx].(string)
		if !ok || code == "" {
			continue
		}
		if label, ok := mapping[strings.TrimSpace(code)]; ok {
			row[idx] = label
		} else if label, ok := mapping[code]; ok {
			row[idx] = label
		}
	}
}

// availableDimensions 从服务文档推导数据集的维度端点集合：
// 全部子端点去掉固定的非维度端点。拉取失败时返回空集合，
// 自动探测退化为不翻译任何列。
func (t *Translator) availableDimensions(ctx context.Context, datasetID string) map[string]struct{} {
	links, err := t.source.Endpoints(ctx, datasetID)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"action":     "detect_dimensions",
			"dataset_id": datasetID,
			"error":      err.Error(),
		}).Warn("服务文档拉取失败，跳过自动探测")
		return nil
	}

	dims := make(map[string]struct{})
	for _, link := range links {
		if link.Name == "" {
			continue
		}
		if _, ok := standardEndpoints[link.Name]; ok {
			continue
		}
		dims[link.Name] = struct{}{}
	}
	return dims
}

// columnTitles 返回 Key -> Title 的改名映射，Key 与 Title 相同的列不收录。
func (t *Translator) columnTitles(ctx context.Context, datasetID string) map[string]string {
	props, err := t.source.DataProperties(ctx, datasetID)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"action":     "column_titles",
			"dataset_id": datasetID,
			"error":      err.Error(),
		}).Warn("结构描述拉取失败，跳过列改名")
		return nil
	}

	titles := make(map[string]string)
	for _, prop := range props {
		if prop.Key != "" && prop.Title != "" && prop.Key != prop.Title {
			titles[prop.Key] = prop.Title
		}
	}
	return titles
}
