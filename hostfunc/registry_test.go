package hostfunc

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/caffeineduck/hostgate/resource"
)

type greetRequest struct {
	Name string `json:"name"`
}

type greetResponse struct {
	Text string `json:"text"`
}

func greet(_ context.Context, _ *Call, req greetRequest) (greetResponse, error) {
	if req.Name == "" {
		return greetResponse{}, invalid("name required")
	}
	return greetResponse{Text: "hello " + req.Name}, nil
}

func dispatch(r *Registry, ns, op, payload string) ([]byte, error) {
	return r.HostCall(context.Background(), &Call{
		InstanceID: 1,
		Namespace:  ns,
		Operation:  op,
		Payload:    []byte(payload),
		Table:      resource.NewTable(),
	})
}

func expectMessage(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Errorf("expected error %q, got %q", want, err.Error())
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register("app", "greet", JSON(greet))

	resp, err := dispatch(r, "app", "greet", `{"name":"guest"}`)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	var got greetResponse
	if err := json.Unmarshal(resp, &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Text != "hello guest" {
		t.Errorf("expected 'hello guest', got %q", got.Text)
	}

	_, err = dispatch(r, "app", "greet", `{}`)
	expectMessage(t, err, "(InvalidArgument)-name required")

	_, err = dispatch(r, "app", "greet", `not json`)
	if !resource.IsClass(err, resource.ClassInvalidArgument) {
		t.Errorf("expected InvalidArgument for bad json, got %v", err)
	}
}

func TestRegistryUnknownOperation(t *testing.T) {
	r := NewRegistry()
	_, err := dispatch(r, "nope", "op", "")
	expectMessage(t, err, "(NotFound)-no handler for nope/op")
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	NewKV(DefaultKVConfig()).Register(r)
	Clock{}.Register(r)

	if got, want := r.List(), []string{"kv/delete", "kv/get", "kv/keys", "kv/set", "time/now"}; !slices.Equal(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
	if got, want := r.Namespaces(), []string{"kv", "time"}; !slices.Equal(got, want) {
		t.Errorf("Namespaces() = %v, want %v", got, want)
	}

	if _, ok := r.Get("kv", "get"); !ok {
		t.Error("kv/get should be registered")
	}
	if _, ok := r.Get("kv", "scan"); ok {
		t.Error("kv/scan should not be registered")
	}
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, call *Call) ([]byte, error) {
				order = append(order, name)
				return next(ctx, call)
			}
		}
	}

	r := NewRegistry(tag("outer"))
	r.Use(tag("inner"))
	r.Register("app", "op", func(context.Context, *Call) ([]byte, error) {
		order = append(order, "handler")
		return nil, nil
	})

	if _, err := dispatch(r, "app", "op", ""); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if want := []string{"outer", "inner", "handler"}; !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestRecover(t *testing.T) {
	r := NewRegistry(Recover())
	r.Register("app", "boom", func(context.Context, *Call) ([]byte, error) {
		panic("bad state")
	})

	_, err := dispatch(r, "app", "boom", "")
	expectMessage(t, err, "(Internal)-app/boom panicked: bad state")
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := NewRegistry(Logging(zap.New(core)))
	r.Register("app", "ok", func(context.Context, *Call) ([]byte, error) { return []byte("x"), nil })
	r.Register("app", "fail", func(context.Context, *Call) ([]byte, error) { return nil, errors.New("nope") })

	dispatch(r, "app", "ok", "")
	dispatch(r, "app", "fail", "")

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Message != "host call" {
		t.Errorf("unexpected first entry: %q", entries[0].Message)
	}
	if entries[1].Message != "host call failed" {
		t.Errorf("unexpected second entry: %q", entries[1].Message)
	}
	if op := entries[1].ContextMap()["operation"]; op != "fail" {
		t.Errorf("expected operation=fail, got %v", op)
	}
}

func TestLimiter(t *testing.T) {
	lim := NewLimiter(0.001, 2)
	r := NewRegistry(lim.Middleware())
	Clock{Now: func() time.Time { return time.Unix(0, 0) }}.Register(r)

	call := func(id uint64) error {
		_, err := r.HostCall(context.Background(), &Call{InstanceID: id, Namespace: "time", Operation: "now"})
		return err
	}

	for i := 0; i < 2; i++ {
		if err := call(1); err != nil {
			t.Fatalf("call %d within burst failed: %v", i, err)
		}
	}
	if err := call(1); !resource.IsClass(err, ClassRateLimited) {
		t.Errorf("expected RateLimited, got %v", err)
	}

	// Buckets are per instance.
	if err := call(2); err != nil {
		t.Errorf("other instance should not be limited: %v", err)
	}

	lim.Forget(1)
	if err := call(1); err != nil {
		t.Errorf("forgotten instance should start a fresh bucket: %v", err)
	}
}

func TestClock(t *testing.T) {
	r := NewRegistry()
	Clock{Now: func() time.Time { return time.Unix(12, 500_000_000) }}.Register(r)

	resp, err := dispatch(r, "time", "now", "")
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	var got TimeResponse
	if err := json.Unmarshal(resp, &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Unix != 12.5 || got.UnixNano != 12_500_000_000 {
		t.Errorf("unexpected time: %+v", got)
	}
}
