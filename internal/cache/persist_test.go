package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomicCreatesNestedDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.json")

	if err := WriteFileAtomic(path, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("原子写入失败: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取写出文件失败: %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Fatalf("内容不符: %s", raw)
	}
}

func TestWriteFileAtomicOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatalf("写入旧文件失败: %v", err)
	}

	if err := WriteFileAtomic(path, []byte("new")); err != nil {
		t.Fatalf("原子写入失败: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "new" {
		t.Fatalf("应覆盖旧内容: %s", raw)
	}
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	if err := WriteFileAtomic(path, []byte("data")); err != nil {
		t.Fatalf("原子写入失败: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".cache-") {
			t.Fatalf("不应残留临时文件: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Fatalf("目录应只含目标文件: %d 个条目", len(entries))
	}
}
