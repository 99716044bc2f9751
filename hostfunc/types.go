package hostfunc

import (
	"encoding/json"

	"github.com/caffeineduck/hostgate/resource"
)

// OK is the response of operations that only report success.
type OK struct {
	OK bool `json:"ok"`
}

var okResponse = OK{OK: true}

// KV store types

type KVGetRequest struct {
	Key     string          `json:"key"`
	Default json.RawMessage `json:"default,omitempty"`
}

type KVGetResponse struct {
	Value json.RawMessage `json:"value"`
	Found bool            `json:"found"`
}

type KVSetRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type KVDeleteRequest struct {
	Key string `json:"key"`
}

type KVKeysResponse struct {
	Keys []string `json:"keys"`
}

// HTTP types

type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

type HTTPResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

type HTTPOpenResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	RID     resource.ID       `json:"rid"`
}

// Filesystem types

type FSPathRequest struct {
	Path string `json:"path"`
}

type FSWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type FSReadResponse struct {
	Content string `json:"content"`
}

type FSEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

type FSListResponse struct {
	Entries []FSEntry `json:"entries"`
}

type FSExistsResponse struct {
	Exists bool `json:"exists"`
}

type FSStatResponse struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	IsDir   bool   `json:"is_dir"`
	ModTime int64  `json:"mod_time"`
}

type FSOpenRequest struct {
	Path string `json:"path"`
	// Mode is "r", "w" (truncate) or "a" (append).
	Mode string `json:"mode"`
}

// Handle types shared by fs and stream

type RIDRequest struct {
	RID resource.ID `json:"rid"`
}

type RIDResponse struct {
	RID resource.ID `json:"rid"`
}

type ReadRequest struct {
	RID  resource.ID `json:"rid"`
	Size int         `json:"size"`
}

type ReadResponse struct {
	Data []byte `json:"data"`
	EOF  bool   `json:"eof"`
}

type WriteRequest struct {
	RID  resource.ID `json:"rid"`
	Data []byte      `json:"data"`
}

type WriteResponse struct {
	N int `json:"n"`
}

// Diagnostics

type ResourceEntry struct {
	RID  resource.ID `json:"rid"`
	Name string      `json:"name"`
}

type ResourcesResponse struct {
	Resources []ResourceEntry `json:"resources"`
}

type TimeResponse struct {
	Unix     float64 `json:"unix"`
	UnixNano int64   `json:"unix_nano"`
}
