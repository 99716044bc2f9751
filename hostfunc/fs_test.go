package hostfunc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/caffeineduck/hostgate/resource"
)

func mountFS(dir, virtual string, mode MountMode) *FS {
	return NewFS([]Mount{{VirtualPath: virtual, HostPath: dir, Mode: mode}})
}

func tableCall() *Call {
	return &Call{InstanceID: 1, Table: resource.NewTable()}
}

func TestFSReadOnly(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "test.txt"), []byte("hello world"), 0644)

	fs := mountFS(dir, "/data", MountReadOnly)
	ctx := context.Background()

	resp, err := fs.Read(ctx, nil, FSPathRequest{Path: "/data/test.txt"})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if resp.Content != "hello world" {
		t.Errorf("expected 'hello world', got %q", resp.Content)
	}

	_, err = fs.Write(ctx, nil, FSWriteRequest{Path: "/data/test.txt", Content: "modified"})
	if !resource.IsClass(err, resource.ClassPermissionDenied) {
		t.Errorf("expected permission denied on read-only mount, got %v", err)
	}
}

func TestFSReadWrite(t *testing.T) {
	dir := t.TempDir()
	testFile := filepath.Join(dir, "test.txt")
	os.WriteFile(testFile, []byte("original"), 0644)

	fs := mountFS(dir, "/output", MountReadWrite)
	ctx := context.Background()

	if _, err := fs.Write(ctx, nil, FSWriteRequest{Path: "/output/test.txt", Content: "modified"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	content, _ := os.ReadFile(testFile)
	if string(content) != "modified" {
		t.Errorf("expected 'modified', got %q", content)
	}

	if _, err := fs.Write(ctx, nil, FSWriteRequest{Path: "/output/new.txt", Content: "new"}); err == nil {
		t.Error("expected creating new file to fail on MountReadWrite")
	}
}

func TestFSReadWriteCreate(t *testing.T) {
	dir := t.TempDir()
	fs := mountFS(dir, "/workspace", MountReadWriteCreate)
	ctx := context.Background()

	if _, err := fs.Write(ctx, nil, FSWriteRequest{Path: "/workspace/new.txt", Content: "created"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	content, _ := os.ReadFile(filepath.Join(dir, "new.txt"))
	if string(content) != "created" {
		t.Errorf("expected 'created', got %q", content)
	}

	if _, err := fs.Mkdir(ctx, nil, FSPathRequest{Path: "/workspace/subdir/nested"}); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "subdir", "nested"))
	if err != nil || !info.IsDir() {
		t.Error("expected directory to be created")
	}
}

func TestFSList(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "file1.txt"), []byte("1"), 0644)
	os.WriteFile(filepath.Join(dir, "file2.txt"), []byte("22"), 0644)
	os.Mkdir(filepath.Join(dir, "subdir"), 0755)

	fs := mountFS(dir, "/data", MountReadOnly)

	resp, err := fs.List(context.Background(), nil, FSPathRequest{Path: "/data"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(resp.Entries) != 3 {
		t.Errorf("expected 3 entries, got %d", len(resp.Entries))
	}

	names := make(map[string]FSEntry)
	for _, e := range resp.Entries {
		names[e.Name] = e
	}
	if names["file2.txt"].Size != 2 || !names["subdir"].IsDir {
		t.Errorf("unexpected entries: %v", names)
	}
}

func TestFSPathTraversalBlocked(t *testing.T) {
	dir := t.TempDir()
	parentFile := filepath.Join(filepath.Dir(dir), "secret.txt")
	os.WriteFile(parentFile, []byte("secret"), 0644)
	defer os.Remove(parentFile)

	fs := mountFS(dir, "/data", MountReadOnly)

	_, err := fs.Read(context.Background(), nil, FSPathRequest{Path: "/data/../secret.txt"})
	if !resource.IsClass(err, resource.ClassPermissionDenied) {
		t.Errorf("expected path traversal to be denied, got %v", err)
	}
}

func TestFSPathNotInMount(t *testing.T) {
	fs := mountFS(t.TempDir(), "/data", MountReadOnly)

	_, err := fs.Read(context.Background(), nil, FSPathRequest{Path: "/etc/passwd"})
	if err == nil {
		t.Error("expected access outside mount to fail")
	}
}

func TestFSNotFound(t *testing.T) {
	fs := mountFS(t.TempDir(), "/data", MountReadOnly)

	_, err := fs.Read(context.Background(), nil, FSPathRequest{Path: "/data/nope.txt"})
	if !resource.IsClass(err, resource.ClassNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestFSExists(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "exists.txt"), []byte(""), 0644)

	fs := mountFS(dir, "/data", MountReadOnly)
	ctx := context.Background()

	tests := []struct {
		path string
		want bool
	}{
		{"/data/exists.txt", true},
		{"/data/nope.txt", false},
		{"/etc/passwd", false},
	}
	for _, tt := range tests {
		resp, err := fs.Exists(ctx, nil, FSPathRequest{Path: tt.path})
		if err != nil {
			t.Fatalf("exists %s: %v", tt.path, err)
		}
		if resp.Exists != tt.want {
			t.Errorf("exists %s = %v, want %v", tt.path, resp.Exists, tt.want)
		}
	}
}

func TestFSRemove(t *testing.T) {
	dir := t.TempDir()
	testFile := filepath.Join(dir, "delete-me.txt")
	os.WriteFile(testFile, []byte("bye"), 0644)
	os.Mkdir(filepath.Join(dir, "full"), 0755)
	os.WriteFile(filepath.Join(dir, "full", "x"), nil, 0644)

	fs := mountFS(dir, "/output", MountReadWrite)
	ctx := context.Background()

	if _, err := fs.Remove(ctx, nil, FSPathRequest{Path: "/output/delete-me.txt"}); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := os.Stat(testFile); !os.IsNotExist(err) {
		t.Error("expected file to be deleted")
	}

	if _, err := fs.Remove(ctx, nil, FSPathRequest{Path: "/output/full"}); err == nil {
		t.Error("expected removing a non-empty directory to fail")
	}
	if _, err := fs.Remove(ctx, nil, FSPathRequest{Path: "/output"}); !resource.IsClass(err, resource.ClassPermissionDenied) {
		t.Errorf("expected removing the mount root to be denied, got %v", err)
	}
}

func TestFSStat(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "file.txt"), []byte("hello"), 0644)

	fs := mountFS(dir, "/data", MountReadOnly)

	stat, err := fs.Stat(context.Background(), nil, FSPathRequest{Path: "/data/file.txt"})
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if stat.Name != "file.txt" || stat.Size != 5 || stat.IsDir {
		t.Errorf("unexpected stat: %+v", stat)
	}
}

func TestFSMaxFileSize(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "big.txt"), make([]byte, 100), 0644)

	fs := NewFS([]Mount{{VirtualPath: "/data", HostPath: dir, Mode: MountReadWriteCreate}}, WithMaxFileSize(10))
	ctx := context.Background()

	if _, err := fs.Read(ctx, nil, FSPathRequest{Path: "/data/big.txt"}); err == nil {
		t.Error("expected read of oversized file to fail")
	}
	if _, err := fs.Write(ctx, nil, FSWriteRequest{Path: "/data/new.txt", Content: "01234567890"}); err == nil {
		t.Error("expected oversized write to fail")
	}
}

func TestFSHandleMaxFileSize(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "log.txt"), []byte("abcdef"), 0644)

	fs := NewFS([]Mount{{VirtualPath: "/data", HostPath: dir, Mode: MountReadWriteCreate}}, WithMaxFileSize(8))
	ctx := context.Background()
	call := tableCall()

	out, err := fs.Open(ctx, call, FSOpenRequest{Path: "/data/out.txt", Mode: "w"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := fs.FWrite(ctx, call, WriteRequest{RID: out.RID, Data: make([]byte, 1024)}); !resource.IsClass(err, resource.ClassInvalidArgument) {
		t.Errorf("expected oversized fwrite to fail, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := fs.FWrite(ctx, call, WriteRequest{RID: out.RID, Data: []byte("1234")}); err != nil {
			t.Fatalf("fwrite %d within limit failed: %v", i, err)
		}
	}
	if _, err := fs.FWrite(ctx, call, WriteRequest{RID: out.RID, Data: []byte("9")}); !resource.IsClass(err, resource.ClassInvalidArgument) {
		t.Errorf("expected cumulative fwrite past limit to fail, got %v", err)
	}
	if info, _ := os.Stat(filepath.Join(dir, "out.txt")); info.Size() != 8 {
		t.Errorf("expected 8 bytes on disk, got %d", info.Size())
	}

	// Appends count the existing content.
	app, err := fs.Open(ctx, call, FSOpenRequest{Path: "/data/log.txt", Mode: "a"})
	if err != nil {
		t.Fatalf("open for append failed: %v", err)
	}
	if _, err := fs.FWrite(ctx, call, WriteRequest{RID: app.RID, Data: []byte("ghi")}); !resource.IsClass(err, resource.ClassInvalidArgument) {
		t.Errorf("expected append past limit to fail, got %v", err)
	}
	if _, err := fs.FWrite(ctx, call, WriteRequest{RID: app.RID, Data: []byte("gh")}); err != nil {
		t.Errorf("append within limit failed: %v", err)
	}
}

func TestFSHandles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "in.txt"), []byte("abcdef"), 0644)

	fs := mountFS(dir, "/work", MountReadWriteCreate)
	ctx := context.Background()
	call := tableCall()

	in, err := fs.Open(ctx, call, FSOpenRequest{Path: "/work/in.txt"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	first, err := fs.FRead(ctx, call, ReadRequest{RID: in.RID, Size: 4})
	if err != nil || string(first.Data) != "abcd" {
		t.Fatalf("fread = %q, %v", first.Data, err)
	}
	rest, _ := fs.FRead(ctx, call, ReadRequest{RID: in.RID, Size: 4})
	if string(rest.Data) != "ef" {
		t.Errorf("expected 'ef', got %q", rest.Data)
	}
	end, _ := fs.FRead(ctx, call, ReadRequest{RID: in.RID, Size: 4})
	if !end.EOF || len(end.Data) != 0 {
		t.Errorf("expected EOF, got %+v", end)
	}

	out, err := fs.Open(ctx, call, FSOpenRequest{Path: "/work/out.txt", Mode: "w"})
	if err != nil {
		t.Fatalf("open for write failed: %v", err)
	}
	if out.RID == in.RID {
		t.Fatal("handles must not share an id")
	}
	w, err := fs.FWrite(ctx, call, WriteRequest{RID: out.RID, Data: []byte("written")})
	if err != nil || w.N != 7 {
		t.Fatalf("fwrite = %d, %v", w.N, err)
	}

	if _, err := fs.FClose(ctx, call, RIDRequest{RID: out.RID}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	content, _ := os.ReadFile(filepath.Join(dir, "out.txt"))
	if string(content) != "written" {
		t.Errorf("expected 'written', got %q", content)
	}

	if _, err := fs.FRead(ctx, call, ReadRequest{RID: out.RID}); !resource.IsClass(err, resource.ClassBadResource) {
		t.Errorf("expected BadResource after close, got %v", err)
	}
	if call.Table.Len() != 1 {
		t.Errorf("expected one open handle, got %d", call.Table.Len())
	}
}

func TestFSOpenChecksMount(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "ro.txt"), []byte("x"), 0644)

	fs := mountFS(dir, "/data", MountReadOnly)
	ctx := context.Background()
	call := tableCall()

	if _, err := fs.Open(ctx, call, FSOpenRequest{Path: "/data/ro.txt", Mode: "a"}); !resource.IsClass(err, resource.ClassPermissionDenied) {
		t.Errorf("expected write open on read-only mount to be denied, got %v", err)
	}
	if _, err := fs.Open(ctx, call, FSOpenRequest{Path: "/data/ro.txt", Mode: "x"}); !resource.IsClass(err, resource.ClassInvalidArgument) {
		t.Errorf("expected invalid mode, got %v", err)
	}
	if call.Table.Len() != 0 {
		t.Errorf("failed opens must not leave handles, got %d", call.Table.Len())
	}
}

func TestFReadRejectsOtherKinds(t *testing.T) {
	fs := mountFS(t.TempDir(), "/data", MountReadOnly)
	call := tableCall()
	rid, _ := call.Table.Add(&BodyStream{})

	_, err := fs.FRead(context.Background(), call, ReadRequest{RID: rid})
	if !resource.IsClass(err, resource.ClassBadResource) {
		t.Errorf("expected BadResource for non-file handle, got %v", err)
	}
}

func TestParseMountMode(t *testing.T) {
	for _, s := range []string{"ro", "rw", "rwc"} {
		m, err := ParseMountMode(s)
		if err != nil || m.String() != s {
			t.Errorf("ParseMountMode(%q) = %v, %v", s, m, err)
		}
	}
	if _, err := ParseMountMode("rx"); err == nil {
		t.Error("expected error for invalid mode")
	}
}
