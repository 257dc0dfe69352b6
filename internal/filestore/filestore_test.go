package filestore_test

import (
	"io"
	"strings"
	"testing"

	"taskdesk/internal/filestore"
)

func TestValidateExtension(t *testing.T) {
	for _, name := range []string{"report.pdf", "photo.JPG", "archive.zip"} {
		if err := filestore.ValidateExtension(name); err != nil {
			t.Fatalf("%s rejected: %v", name, err)
		}
	}
	for _, name := range []string{"script.sh", "binary.exe", "noext"} {
		if err := filestore.ValidateExtension(name); err == nil {
			t.Fatalf("%s accepted", name)
		}
	}
}

func TestValidateSize(t *testing.T) {
	if err := filestore.ValidateSize(filestore.MaxFileSize); err != nil {
		t.Fatalf("max size rejected: %v", err)
	}
	err := filestore.ValidateSize(filestore.MaxFileSize + 1)
	if err == nil {
		t.Fatal("oversized file accepted")
	}
	if !strings.Contains(err.Error(), "Maximum size allowed: 10 MB") {
		t.Fatalf("error = %q", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"../../etc/passwd":         "passwd",
		"..\\..\\windows\\sys.txt": "sys.txt",
		"my report (final).pdf":    "my_report_final.pdf",
		"résumé.pdf":               "rsum.pdf",
	}
	for in, want := range cases {
		if got := filestore.SanitizeFilename(in); got != want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
	long := strings.Repeat("a", 150) + ".txt"
	got := filestore.SanitizeFilename(long)
	if len(got) != 104 || !strings.HasSuffix(got, ".txt") {
		t.Fatalf("long name = %q (len %d)", got, len(got))
	}
}

func TestOutputPath(t *testing.T) {
	p := filestore.OutputPath("org-1", "task-2", "user-3", "Report Final.PDF")
	if !strings.HasPrefix(p, "task_outputs/org_org-1/task_task-2/user_user-3/") {
		t.Fatalf("path = %q", p)
	}
	if !strings.HasSuffix(p, ".pdf") {
		t.Fatalf("extension not preserved lowercase: %q", p)
	}
	if strings.Contains(p, "Report") {
		t.Fatalf("original filename leaked into %q", p)
	}
	if p2 := filestore.OutputPath("org-1", "task-2", "user-3", "Report Final.PDF"); p2 == p {
		t.Fatal("two uploads collided on the same path")
	}
}

func TestStoreSaveOpenRemove(t *testing.T) {
	s := filestore.Store{Root: t.TempDir()}
	rel := "task_outputs/org_o/task_t/user_u/blob.txt"
	n, err := s.Save(rel, strings.NewReader("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Save = %d, %v", n, err)
	}
	f, err := s.Open(rel)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(f)
	f.Close()
	if string(data) != "hello" {
		t.Fatalf("read %q", data)
	}
	if err := s.Remove(rel); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(rel); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
	if _, err := s.Open(rel); err == nil {
		t.Fatal("blob still readable after Remove")
	}
}
