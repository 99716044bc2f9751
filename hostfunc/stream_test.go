package hostfunc

import (
	"context"
	"encoding/json"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/caffeineduck/hostgate/resource"
)

// pipe is a minimal resource that supports every stream operation.
type pipe struct {
	r        io.Reader
	written  strings.Builder
	shutdown bool
	closed   bool
}

func (p *pipe) Read(_ context.Context, buf []byte) (int, error) { return p.r.Read(buf) }

func (p *pipe) Write(_ context.Context, buf []byte) (int, error) { return p.written.Write(buf) }

func (p *pipe) Shutdown(context.Context) error {
	p.shutdown = true
	return nil
}

func (p *pipe) Close() { p.closed = true }

type inert struct{ resource.Base }

func TestStreamOperations(t *testing.T) {
	ctx := context.Background()
	call := tableCall()
	p := &pipe{r: strings.NewReader("payload")}
	rid, err := call.Table.Add(p)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	read, err := streamRead(ctx, call, ReadRequest{RID: rid, Size: 3})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(read.Data) != "pay" || read.EOF {
		t.Errorf("unexpected read: %+v", read)
	}

	w, err := streamWrite(ctx, call, WriteRequest{RID: rid, Data: []byte("abc")})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if w.N != 3 || p.written.String() != "abc" {
		t.Errorf("unexpected write: n=%d written=%q", w.N, p.written.String())
	}

	if _, err := streamShutdown(ctx, call, RIDRequest{RID: rid}); err != nil || !p.shutdown {
		t.Errorf("shutdown = %v, shutdown flag %v", err, p.shutdown)
	}
	if _, err := streamClose(ctx, call, RIDRequest{RID: rid}); err != nil || !p.closed {
		t.Errorf("close = %v, closed flag %v", err, p.closed)
	}

	if _, err := streamRead(ctx, call, ReadRequest{RID: rid}); !resource.IsClass(err, resource.ClassBadResource) {
		t.Errorf("expected BadResource after close, got %v", err)
	}
	if _, err := streamClose(ctx, call, RIDRequest{RID: rid}); !resource.IsClass(err, resource.ClassBadResource) {
		t.Errorf("expected BadResource on double close, got %v", err)
	}
}

func TestStreamNotSupported(t *testing.T) {
	ctx := context.Background()
	call := tableCall()
	rid, err := call.Table.Add(&inert{})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	_, err = streamRead(ctx, call, ReadRequest{RID: rid})
	expectMessage(t, err, "(NotSupported)-The operation is not supported")
	if _, err := streamWrite(ctx, call, WriteRequest{RID: rid, Data: []byte("x")}); !resource.IsClass(err, resource.ClassNotSupported) {
		t.Errorf("expected NotSupported write, got %v", err)
	}
	if _, err := streamShutdown(ctx, call, RIDRequest{RID: rid}); !resource.IsClass(err, resource.ClassNotSupported) {
		t.Errorf("expected NotSupported shutdown, got %v", err)
	}
}

func TestResourcesList(t *testing.T) {
	r := NewRegistry()
	Resources{}.Register(r)

	table := resource.NewTable()
	table.Add(&inert{})
	table.Add(&BodyStream{})

	resp, err := r.HostCall(context.Background(), &Call{Namespace: "resources", Operation: "list", Table: table})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var got ResourcesResponse
	if err := json.Unmarshal(resp, &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := []ResourceEntry{{RID: 0, Name: "*hostfunc.inert"}, {RID: 1, Name: "httpBody"}}
	if !slices.Equal(got.Resources, want) {
		t.Errorf("resources = %+v, want %+v", got.Resources, want)
	}
}

func TestResourcesListEmpty(t *testing.T) {
	got := ListResources(resource.NewTable())
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", got)
	}
}
