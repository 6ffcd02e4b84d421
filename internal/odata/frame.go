package odata

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Frame 是有序列的内存表：Columns 保留上游返回的列顺序，
// Rows 的每个单元格与之对齐，缺失值用 nil 表示。
type Frame struct {
	Columns []string
	Rows    [][]any
}

// NewFrame 构建只有表头的空表。
func NewFrame(columns []string) *Frame {
	return &Frame{Columns: append([]string(nil), columns...)}
}

// FrameFromRecords 把 {"value":[...]} 中的记录列表转换为 Frame。
// 列顺序取第一条记录的字段顺序，后续记录新出现的字段按出现顺序追加。
func FrameFromRecords(records []json.RawMessage) (*Frame, error) {
	frame := &Frame{}
	if len(records) == 0 {
		return frame, nil
	}

	index := make(map[string]int)
	for _, raw := range records {
		keys, err := orderedKeys(raw)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if _, ok := index[key]; !ok {
				index[key] = len(frame.Columns)
				frame.Columns = append(frame.Columns, key)
			}
		}
	}

	for _, raw := range records {
		var record map[string]any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&record); err != nil {
			return nil, err
		}
		row := make([]any, len(frame.Columns))
		for key, value := range record {
			row[index[key]] = value
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

// orderedKeys 按出现顺序读出一个 JSON 对象的键。
// encoding/json 的 map 解码会打乱顺序，这里用 token 流保序。
func orderedKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		keys = append(keys, key)
		// 跳过该键对应的值
		if err := skipValue(dec); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); ok && (delim == '{' || delim == '[') {
		depth := 1
		for depth > 0 {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			if d, ok := tok.(json.Delim); ok {
				switch d {
				case '{', '[':
					depth++
				case '}', ']':
					depth--
				}
			}
		}
	}
	return nil
}

// Empty 报告表是否没有任何数据行。
func (f *Frame) Empty() bool {
	return f == nil || len(f.Rows) == 0
}

// Len 返回数据行数。
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// ColumnIndex 返回列下标，不存在时为 -1。
func (f *Frame) ColumnIndex(name string) int {
	for i, col := range f.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Head 返回前 n 行的浅拷贝视图。
func (f *Frame) Head(n int) *Frame {
	if n > len(f.Rows) {
		n = len(f.Rows)
	}
	return &Frame{Columns: f.Columns, Rows: f.Rows[:n]}
}

// Copy 做一次深拷贝，调用方可以安全修改返回值。
func (f *Frame) Copy() *Frame {
	out := &Frame{Columns: append([]string(nil), f.Columns...)}
	out.Rows = make([][]any, len(f.Rows))
	for i, row := range f.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// Rename 按映射替换列名，映射中不存在的列保持原名。
func (f *Frame) Rename(mapping map[string]string) {
	for i, col := range f.Columns {
		if title, ok := mapping[col]; ok && title != "" {
			f.Columns[i] = title
		}
	}
}

// Append 追加一行；长度不足的行右侧补 nil。
func (f *Frame) Append(row []any) {
	if len(row) < len(f.Columns) {
		padded := make([]any, len(f.Columns))
		copy(padded, row)
		row = padded
	}
	f.Rows = append(f.Rows, row)
}

// CSV 输出带表头的 CSV 文本，nil 单元格输出为空。
func (f *Frame) CSV() (string, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)

	if err := w.Write(f.Columns); err != nil {
		return "", err
	}
	record := make([]string, len(f.Columns))
	for _, row := range f.Rows {
		for i := range record {
			if i < len(row) {
				record[i] = formatCell(row[i])
			} else {
				record[i] = ""
			}
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
