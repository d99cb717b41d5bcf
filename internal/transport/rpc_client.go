package transport

import (
	"DeepReplay/internal/codec"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// RPCClient talks JSON-RPC 2.0 to a full node.
type RPCClient struct {
	c      *rpc.Client
	logger zerolog.Logger
}

// DialRPC connects to an http(s) or ws(s) endpoint.
func DialRPC(ctx context.Context, url string, logger zerolog.Logger) (*RPCClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &RPCClient{c: c, logger: logger}, nil
}

var objectOptions = map[string]bool{
	"showType":  true,
	"showOwner": true,
	"showBcs":   true,
}

type objectResponse struct {
	Data  *objectData     `json:"data"`
	Error json.RawMessage `json:"error"`
}

type objectData struct {
	ObjectID string          `json:"objectId"`
	Version  string          `json:"version"`
	Type     string          `json:"type"`
	Owner    json.RawMessage `json:"owner"`
	BCS      *struct {
		DataType  string            `json:"dataType"`
		BCSBytes  string            `json:"bcsBytes"`
		ModuleMap map[string]string `json:"moduleMap"`
	} `json:"bcs"`
}

func (c *RPCClient) GetObject(ctx context.Context, id codec.Address) (*RawObject, error) {
	var resp objectResponse
	if err := c.c.CallContext(ctx, &resp, "sui_getObject", id.String(), objectOptions); err != nil {
		return nil, fmt.Errorf("sui_getObject %s: %w", id, err)
	}
	if resp.Data == nil {
		c.logger.Debug().Str("object_id", id.String()).RawJSON("error", nonEmpty(resp.Error)).Msg("object not found")
		return nil, nil
	}
	return parseObject(resp.Data)
}

func nonEmpty(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return b
}

func parseObject(d *objectData) (*RawObject, error) {
	id, err := codec.ParseAddress(d.ObjectID)
	if err != nil {
		return nil, err
	}
	version, err := strconv.ParseUint(d.Version, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("object %s: version %q: %w", d.ObjectID, d.Version, err)
	}
	obj := &RawObject{ID: id, Version: version, Type: d.Type}
	if err := parseOwner(d.Owner, obj); err != nil {
		return nil, fmt.Errorf("object %s: %w", d.ObjectID, err)
	}
	if d.BCS == nil {
		return nil, fmt.Errorf("object %s: no bcs in response", d.ObjectID)
	}
	switch d.BCS.DataType {
	case "package":
		obj.Modules = make(map[string][]byte, len(d.BCS.ModuleMap))
		for name, enc := range d.BCS.ModuleMap {
			b, err := base64.StdEncoding.DecodeString(enc)
			if err != nil {
				return nil, fmt.Errorf("object %s module %s: %w", d.ObjectID, name, err)
			}
			obj.Modules[name] = b
		}
	default:
		b, err := base64.StdEncoding.DecodeString(d.BCS.BCSBytes)
		if err != nil {
			return nil, fmt.Errorf("object %s bcs: %w", d.ObjectID, err)
		}
		obj.BCS = b
	}
	return obj, nil
}

// parseOwner handles "Immutable", {"AddressOwner": ..}, {"ObjectOwner": ..}
// and {"Shared": {"initial_shared_version": n}}.
func parseOwner(raw json.RawMessage, obj *RawObject) error {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "Immutable" {
			obj.OwnerKind = OwnerImmutable
			return nil
		}
		return fmt.Errorf("unknown owner %q", s)
	}
	var o struct {
		AddressOwner *string `json:"AddressOwner"`
		ObjectOwner  *string `json:"ObjectOwner"`
		Shared       *struct {
			InitialSharedVersion json.Number `json:"initial_shared_version"`
		} `json:"Shared"`
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	switch {
	case o.AddressOwner != nil:
		a, err := codec.ParseAddress(*o.AddressOwner)
		if err != nil {
			return err
		}
		obj.OwnerKind, obj.Owner = OwnerAddress, a
	case o.ObjectOwner != nil:
		a, err := codec.ParseAddress(*o.ObjectOwner)
		if err != nil {
			return err
		}
		obj.OwnerKind, obj.Owner = OwnerObject, a
	case o.Shared != nil:
		v, err := strconv.ParseUint(o.Shared.InitialSharedVersion.String(), 10, 64)
		if err != nil {
			return fmt.Errorf("initial_shared_version: %w", err)
		}
		obj.OwnerKind, obj.InitialSharedVersion = OwnerShared, v
	default:
		return fmt.Errorf("unrecognised owner %s", string(raw))
	}
	return nil
}

type checkpointResponse struct {
	SequenceNumber string   `json:"sequenceNumber"`
	Digest         string   `json:"digest"`
	TimestampMs    string   `json:"timestampMs"`
	Transactions   []string `json:"transactions"`
}

func (c *RPCClient) GetCheckpoint(ctx context.Context, height uint64) (*Checkpoint, error) {
	var resp *checkpointResponse
	if err := c.c.CallContext(ctx, &resp, "sui_getCheckpoint", strconv.FormatUint(height, 10)); err != nil {
		return nil, fmt.Errorf("sui_getCheckpoint %d: %w", height, err)
	}
	if resp == nil {
		return nil, nil
	}
	seq, err := strconv.ParseUint(resp.SequenceNumber, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("checkpoint sequence %q: %w", resp.SequenceNumber, err)
	}
	ts, _ := strconv.ParseUint(resp.TimestampMs, 10, 64)
	return &Checkpoint{
		Height:       seq,
		Digest:       resp.Digest,
		TimestampMs:  ts,
		Transactions: resp.Transactions,
	}, nil
}

func (c *RPCClient) ServiceInfo(ctx context.Context) (*ServiceInfo, error) {
	var chainID, latest string
	if err := c.c.CallContext(ctx, &chainID, "sui_getChainIdentifier"); err != nil {
		return nil, fmt.Errorf("sui_getChainIdentifier: %w", err)
	}
	if err := c.c.CallContext(ctx, &latest, "sui_getLatestCheckpointSequenceNumber"); err != nil {
		return nil, fmt.Errorf("sui_getLatestCheckpointSequenceNumber: %w", err)
	}
	h, err := strconv.ParseUint(latest, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint %q: %w", latest, err)
	}
	return &ServiceInfo{ChainID: chainID, LatestHeight: h}, nil
}

func (c *RPCClient) Close() { c.c.Close() }
