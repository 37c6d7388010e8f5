package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fs := OSFileSystem{}

	if !fs.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fs.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_CopyTree(t *testing.T) {
	fs := OSFileSystem{}
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "trial-1")

	if err := os.MkdirAll(filepath.Join(src, "ctp"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "test_config.h"), []byte("#define LIFO\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "ctp", "Makefile"), []byte("all:\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := fs.CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "ctp", "Makefile"))
	if err != nil {
		t.Fatalf("copied file missing: %v", err)
	}
	if string(data) != "all:\n" {
		t.Errorf("unexpected copy content %q", data)
	}
	if !fs.Exists(filepath.Join(dst, "test_config.h")) {
		t.Error("expected test_config.h in copy")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	if err := mfs.WriteFile("/test.txt", testData, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}

	// Mutating the returned slice must not affect stored content
	data[0] = 'X'
	again, _ := mfs.ReadFile("/test.txt")
	if string(again) != string(testData) {
		t.Errorf("stored data was aliased: %q", again)
	}
}

func TestMemoryFileSystem_ReadMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.ReadFile("/missing.txt"); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestMemoryFileSystem_StatAndDirs(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.WriteFile("/config/noise/meyer-heavy.txt", []byte("-98\n"), 0644); err != nil {
		t.Fatal(err)
	}

	info, err := mfs.Stat("/config/noise/meyer-heavy.txt")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 4 {
		t.Errorf("expected size 4, got %d", info.Size())
	}

	dir, err := mfs.Stat("/config/noise")
	if err != nil {
		t.Fatalf("Stat dir failed: %v", err)
	}
	if !dir.IsDir() {
		t.Error("expected implied parent to be a directory")
	}
}

func TestMemoryFileSystem_RemoveAll(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/work/t1/a.txt", []byte("a"), 0644)
	_ = mfs.WriteFile("/work/t10/b.txt", []byte("b"), 0644)

	if err := mfs.RemoveAll("/work/t1"); err != nil {
		t.Fatal(err)
	}
	if mfs.Exists("/work/t1/a.txt") {
		t.Error("expected /work/t1/a.txt to be removed")
	}
	if !mfs.Exists("/work/t10/b.txt") {
		t.Error("sibling with shared prefix must survive")
	}
}

func TestMemoryFileSystem_CopyTree(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/nesc/test_config.h", []byte("cfg"), 0644)
	_ = mfs.WriteFile("/nesc/bcp/Makefile", []byte("mk"), 0644)

	if err := mfs.CopyTree("/nesc", "/work/p0-t1"); err != nil {
		t.Fatalf("CopyTree failed: %v", err)
	}

	data, err := mfs.ReadFile("/work/p0-t1/bcp/Makefile")
	if err != nil || string(data) != "mk" {
		t.Errorf("expected copied Makefile, got %q (%v)", data, err)
	}

	// Copies are independent
	_ = mfs.WriteFile("/work/p0-t1/test_config.h", []byte("changed"), 0644)
	orig, _ := mfs.ReadFile("/nesc/test_config.h")
	if string(orig) != "cfg" {
		t.Errorf("source modified through copy: %q", orig)
	}

	if err := mfs.CopyTree("/absent", "/work/x"); err == nil {
		t.Error("expected error copying a missing tree")
	}
}
