package odata

// CatalogItem 是目录列表中的一条数据集记录。
type CatalogItem struct {
	Identifier string `json:"Identifier"`
	Title      string `json:"Title"`
	Summary    string `json:"Summary,omitempty"`
}

// TableInfo 是 TableInfos 端点返回的数据集描述。
type TableInfo struct {
	ID               int    `json:"ID"`
	Title            string `json:"Title"`
	ShortTitle       string `json:"ShortTitle,omitempty"`
	Identifier       string `json:"Identifier"`
	Summary          string `json:"Summary,omitempty"`
	ShortDescription string `json:"ShortDescription,omitempty"`
	Period           string `json:"Period,omitempty"`
	Modified         string `json:"Modified,omitempty"`
	RecordCount      int    `json:"RecordCount,omitempty"`
	ColumnCount      int    `json:"ColumnCount,omitempty"`
	Frequency        string `json:"Frequency,omitempty"`
}

// DataProperty 描述数据集的一个列：普通字段或某种维度角色。
// Type 的取值包括 Topic, Dimension, TimeDimension, GeoDimension 等。
type DataProperty struct {
	Key         string `json:"Key"`
	Type        string `json:"Type"`
	Title       string `json:"Title,omitempty"`
	Description string `json:"Description,omitempty"`
	Unit        string `json:"Unit,omitempty"`
	Position    int    `json:"Position,omitempty"`
}

// IsDimension 报告该列是否属于任一维度角色。
func (p DataProperty) IsDimension() bool {
	switch p.Type {
	case "Dimension", "TimeDimension", "GeoDimension", "GeoDetail":
		return true
	}
	return false
}

// DimensionEntry 是维度元数据端点返回的单条 code/label 记录。
// Key 可能带有上游填充的尾部空白。
type DimensionEntry struct {
	Key         string `json:"Key"`
	Title       string `json:"Title"`
	Description string `json:"Description,omitempty"`
}

// EndpointLink 是数据集服务文档中列出的一个子端点。
type EndpointLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// valueEnvelope 是所有 OData 列表端点共用的 {"value":[...]} 包装。
type valueEnvelope[T any] struct {
	Value []T `json:"value"`
}
