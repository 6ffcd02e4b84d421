package odata

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	datasetIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	// 过滤表达式中不允许出现的危险字符
	dangerousPattern = regexp.MustCompile(`[;<>{}|\\\x00-\x1f]`)
)

const (
	maxDatasetIDLen = 100
	maxFilterLen    = 2000
	maxColumnLen    = 128
)

// ValidateDatasetID 校验并规整数据集标识。
// CBS 标识形如 "85313NED"，data.overheid.nl 的标识可以是短横线分隔的
// slug，因此允许字母数字、短横线与下划线。
func ValidateDatasetID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("dataset id cannot be empty")
	}
	if len(id) > maxDatasetIDLen {
		return "", fmt.Errorf("dataset id too long (max %d characters)", maxDatasetIDLen)
	}
	if !datasetIDPattern.MatchString(id) {
		return "", fmt.Errorf("dataset id contains invalid characters")
	}
	return id, nil
}

// SanitizeFilter 校验 OData $filter 表达式，拦截注入类输入。
// 返回规整后的表达式；空白输入返回空串。
func SanitizeFilter(filter string) (string, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return "", nil
	}
	if dangerousPattern.MatchString(filter) {
		return "", fmt.Errorf("filter contains invalid characters")
	}
	if len(filter) > maxFilterLen {
		return "", fmt.Errorf("filter too long (max %d characters)", maxFilterLen)
	}

	depth := 0
	for _, r := range filter {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth < 0 {
			return "", fmt.Errorf("filter has unbalanced parentheses")
		}
	}
	if depth != 0 {
		return "", fmt.Errorf("filter has unbalanced parentheses")
	}
	if strings.Count(filter, "'")%2 != 0 {
		return "", fmt.Errorf("filter has unbalanced quotes")
	}
	return filter, nil
}

// SanitizeSelect 校验 $select 的列名列表。
func SanitizeSelect(columns []string) ([]string, error) {
	if len(columns) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(columns))
	for _, col := range columns {
		col = strings.TrimSpace(col)
		if col == "" {
			return nil, fmt.Errorf("column name cannot be empty")
		}
		if len(col) > maxColumnLen {
			return nil, fmt.Errorf("column name too long: %q", col)
		}
		if !identifierPattern.MatchString(col) {
			return nil, fmt.Errorf("invalid column name: %q", col)
		}
		out = append(out, col)
	}
	return out, nil
}
