package transport_test

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/transport"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers JSON-RPC calls from a method -> result table.
func fakeNode(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		key := req.Method
		if len(req.Params) > 0 {
			var first string
			if json.Unmarshal(req.Params[0], &first) == nil {
				key += ":" + first
			}
		}
		result, ok := results[key]
		if !ok {
			result = results[req.Method]
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
}

func dial(t *testing.T, srv *httptest.Server) *transport.RPCClient {
	t.Helper()
	c, err := transport.DialRPC(context.Background(), srv.URL, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

var registry = codec.MustParseAddress("0xaf16199a2dff736e9f07a845f23c5da6df6f756eddb631aed9d24a93efc4549d")

func TestGetObject_SharedMoveObject(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	srv := fakeNode(t, map[string]any{
		"sui_getObject:" + registry.String(): map[string]any{
			"data": map[string]any{
				"objectId": registry.String(),
				"version":  "512",
				"type":     "0x2c8d::registry::Registry",
				"owner":    map[string]any{"Shared": map[string]any{"initial_shared_version": 42}},
				"bcs": map[string]any{
					"dataType": "moveObject",
					"bcsBytes": base64.StdEncoding.EncodeToString(payload),
				},
			},
		},
	})
	defer srv.Close()

	obj, err := dial(t, srv).GetObject(context.Background(), registry)
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	if obj.Version != 512 {
		t.Errorf("version: got %d, want 512", obj.Version)
	}
	if obj.OwnerKind != transport.OwnerShared || obj.InitialSharedVersion != 42 {
		t.Errorf("owner: got %v / %d", obj.OwnerKind, obj.InitialSharedVersion)
	}
	if string(obj.BCS) != string(payload) {
		t.Errorf("bcs: got %x", obj.BCS)
	}
	if obj.IsPackage() {
		t.Error("move object reported as package")
	}
}

func TestGetObject_Package(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"sui_getObject": map[string]any{
			"data": map[string]any{
				"objectId": "0x2",
				"version":  "1",
				"owner":    "Immutable",
				"bcs": map[string]any{
					"dataType":  "package",
					"moduleMap": map[string]any{"coin": base64.StdEncoding.EncodeToString([]byte{0xa1, 0x1c})},
				},
			},
		},
	})
	defer srv.Close()

	obj, err := dial(t, srv).GetObject(context.Background(), codec.FrameworkAddress)
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	if !obj.IsPackage() || len(obj.Modules["coin"]) != 2 {
		t.Errorf("modules: got %v", obj.Modules)
	}
	if obj.OwnerKind != transport.OwnerImmutable {
		t.Errorf("owner: got %v, want immutable", obj.OwnerKind)
	}
}

func TestGetObject_Missing(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"sui_getObject": map[string]any{"error": map[string]any{"code": "notExists"}},
	})
	defer srv.Close()

	obj, err := dial(t, srv).GetObject(context.Background(), registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj != nil {
		t.Errorf("expected nil object, got %+v", obj)
	}
}

func TestServiceInfo(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"sui_getChainIdentifier":                "35834a8a",
		"sui_getLatestCheckpointSequenceNumber": "240000000",
	})
	defer srv.Close()

	info, err := dial(t, srv).ServiceInfo(context.Background())
	if err != nil {
		t.Fatalf("service info: %v", err)
	}
	if info.ChainID != "35834a8a" || info.LatestHeight != 240_000_000 {
		t.Errorf("got %+v", info)
	}
}

func TestGetCheckpoint(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"sui_getCheckpoint": map[string]any{
			"sequenceNumber": "240000000",
			"digest":         "abc",
			"timestampMs":    "1770000000000",
			"transactions":   []string{"tx1", "tx2"},
		},
	})
	defer srv.Close()

	cp, err := dial(t, srv).GetCheckpoint(context.Background(), 240_000_000)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp.Height != 240_000_000 || cp.TimestampMs != 1_770_000_000_000 || len(cp.Transactions) != 2 {
		t.Errorf("got %+v", cp)
	}
}
