package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWriteFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")

	// Test basic write
	data := []byte("hello world")
	if err := AtomicWriteFile(testFile, data, 0644); err != nil {
		t.Fatalf("AtomicWriteFile error: %v", err)
	}

	// Verify content
	content, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(content) != "hello world" {
		t.Fatalf("Unexpected content: %s", content)
	}

	// Verify temp file was cleaned up
	tmpFile := testFile + ".tmp"
	if _, err := os.Stat(tmpFile); !os.IsNotExist(err) {
		t.Fatal("Temp file was not cleaned up")
	}
}

func TestAtomicWriteOverwrite(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, ".fingerprint")

	if err := AtomicWriteFile(testFile, []byte("first"), 0644); err != nil {
		t.Fatalf("First write error: %v", err)
	}
	if err := AtomicWriteFile(testFile, []byte("second"), 0644); err != nil {
		t.Fatalf("Second write error: %v", err)
	}

	content, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(content) != "second" {
		t.Fatalf("Unexpected content: %s", content)
	}
}

func TestAtomicWriteFile_MissingDir(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "missing", "out.txt")
	if err := AtomicWriteFile(testFile, []byte("x"), 0644); err == nil {
		t.Fatal("expected error writing into a missing directory")
	}
}
