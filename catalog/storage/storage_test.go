package storage

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestSharedDiskReadWrite(t *testing.T) {
	s := NewSharedDisk(t.TempDir())

	path := JobOutDir("abc") + "/cli.txt"

	if err := s.Write(path, strings.NewReader("hello")); err != nil {
		t.Fatal(err)
	}

	exists, err := s.Exists(path)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("written file should exist")
	}

	if err := s.Append(path, strings.NewReader(" world")); err != nil {
		t.Fatal(err)
	}

	file, err := s.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected content %q", data)
	}

	size, err := s.Size(path)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len("hello world")) {
		t.Fatalf("unexpected size %d", size)
	}

	entries, err := s.List(JobOutDir("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0] != "cli.txt" {
		t.Fatalf("unexpected entries %v", entries)
	}

	if err := s.Delete(JobOutDir("abc")); err != nil {
		t.Fatal(err)
	}
	exists, err = s.Exists(path)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("deleted file should not exist")
	}
}

func TestSharedDiskDeleteMissingPath(t *testing.T) {
	s := NewSharedDisk(t.TempDir())
	if err := s.Delete("jobs/J_missing"); err != nil {
		t.Fatal(err)
	}
}

func TestSharedDiskZip(t *testing.T) {
	s := NewSharedDisk(t.TempDir())

	dir := StudyFilePath(1, "data")
	if err := s.Write(dir+"/a.txt", strings.NewReader("aaa")); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(dir+"/nested/b.txt", strings.NewReader("bbb")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := s.Zip(dir, &buf); err != nil {
		t.Fatal(err)
	}

	archive, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}

	names := make(map[string]bool)
	for _, file := range archive.File {
		names[file.Name] = true
	}
	if !names["a.txt"] || !names["nested/b.txt"] {
		t.Fatalf("archive missing entries: %v", names)
	}
}

func TestSharedDiskCreateDir(t *testing.T) {
	s := NewSharedDisk(t.TempDir())

	if err := s.CreateDir(JobOutDir("xyz")); err != nil {
		t.Fatal(err)
	}
	exists, err := s.Exists(JobOutDir("xyz"))
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("created directory should exist")
	}
}

func TestSharedDiskUsage(t *testing.T) {
	s := NewSharedDisk(t.TempDir())

	stats, err := s.Usage()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalBytes == 0 {
		t.Fatal("total bytes should not be zero")
	}
}

func TestWorkspaceLayout(t *testing.T) {
	if JobOutDir("tok") != "jobs/J_tok" {
		t.Fatalf("unexpected job out dir %v", JobOutDir("tok"))
	}
	if StudyFilePath(12, "data/a.txt") != "studies/12/files/data/a.txt" {
		t.Fatalf("unexpected study file path %v", StudyFilePath(12, "data/a.txt"))
	}
}
