package hostfunc

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/caffeineduck/hostgate/resource"
)

// Stream exposes the generic resource operations to guests under the
// "stream" namespace. It works on any resource kind; kinds that lack an
// operation report NotSupported.
type Stream struct{}

// Register installs stream/read, stream/write, stream/shutdown and
// stream/close.
func (Stream) Register(r *Registry) {
	r.Register("stream", "read", JSON(streamRead))
	r.Register("stream", "write", JSON(streamWrite))
	r.Register("stream", "shutdown", JSON(streamShutdown))
	r.Register("stream", "close", JSON(streamClose))
}

func streamRead(ctx context.Context, call *Call, req ReadRequest) (ReadResponse, error) {
	r, err := call.Table.GetAny(req.RID)
	if err != nil {
		return ReadResponse{}, err
	}
	return readFrom(ctx, r, req.Size)
}

func streamWrite(ctx context.Context, call *Call, req WriteRequest) (WriteResponse, error) {
	r, err := call.Table.GetAny(req.RID)
	if err != nil {
		return WriteResponse{}, err
	}
	n, err := resource.Write(ctx, r, req.Data)
	if err != nil {
		return WriteResponse{}, err
	}
	return WriteResponse{N: n}, nil
}

func streamShutdown(ctx context.Context, call *Call, req RIDRequest) (OK, error) {
	r, err := call.Table.GetAny(req.RID)
	if err != nil {
		return OK{}, err
	}
	if err := resource.Shutdown(ctx, r); err != nil {
		return OK{}, err
	}
	return okResponse, nil
}

func streamClose(_ context.Context, call *Call, req RIDRequest) (OK, error) {
	if err := call.Table.Close(req.RID); err != nil {
		return OK{}, err
	}
	return okResponse, nil
}

// Resources lists the caller's open handles under resources/list.
type Resources struct{}

// Register installs resources/list.
func (Resources) Register(r *Registry) {
	r.Register("resources", "list", JSON(listResources))
}

func listResources(_ context.Context, call *Call, _ struct{}) (ResourcesResponse, error) {
	return ResourcesResponse{Resources: ListResources(call.Table)}, nil
}

// ListResources snapshots t ordered by ID.
func ListResources(t *resource.Table) []ResourceEntry {
	out := []ResourceEntry{}
	for id, name := range t.Names() {
		out = append(out, ResourceEntry{RID: id, Name: name})
	}
	slices.SortFunc(out, func(a, b ResourceEntry) int { return cmp.Compare(a.RID, b.RID) })
	return out
}

// Clock serves time/now.
type Clock struct {
	Now func() time.Time
}

// Register installs time/now.
func (c Clock) Register(r *Registry) {
	now := c.Now
	if now == nil {
		now = time.Now
	}
	r.Register("time", "now", JSON(func(context.Context, *Call, struct{}) (TimeResponse, error) {
		t := now()
		return TimeResponse{Unix: float64(t.UnixNano()) / 1e9, UnixNano: t.UnixNano()}, nil
	}))
}
