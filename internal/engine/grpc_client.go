package engine

import (
	"DeepReplay/internal/codec"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// The engine service speaks JSON over gRPC, so no generated stubs are needed.
const (
	jsonCodecName = "json"
	serviceName   = "/deepreplay.engine.v1.Engine/"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCClient is an Engine backed by a remote execution service.
type GRPCClient struct {
	conn   *grpc.ClientConn
	logger zerolog.Logger
}

// DialGRPC connects lazily; the first call establishes the connection.
func DialGRPC(addr string, logger zerolog.Logger) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(jsonCodecName),
			grpc.MaxCallRecvMsgSize(256<<20),
			grpc.MaxCallSendMsgSize(256<<20),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("dial engine %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, logger: logger}, nil
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req, resp any) error {
	if err := c.conn.Invoke(ctx, serviceName+method, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrObjectNotFound
		}
		return fmt.Errorf("engine %s: %w", method, err)
	}
	return nil
}

func (c *GRPCClient) Execute(ctx context.Context, p *Program) (*Result, error) {
	var res Result
	if err := c.invoke(ctx, "Execute", p, &res); err != nil {
		return nil, err
	}
	c.logger.Debug().
		Int("commands", len(p.Commands)).
		Bool("success", res.Success).
		Msg("program executed")
	return &res, nil
}

type objectRequest struct {
	ID codec.Address `json:"id"`
}

func (c *GRPCClient) GetObject(ctx context.Context, id codec.Address) (*Object, error) {
	var obj Object
	if err := c.invoke(ctx, "GetObject", &objectRequest{ID: id}, &obj); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		return nil, err
	}
	return &obj, nil
}

type empty struct{}

func (c *GRPCClient) SetObject(ctx context.Context, obj *Object) error {
	return c.invoke(ctx, "SetObject", obj, &empty{})
}

func (c *GRPCClient) DeployPackage(ctx context.Context, pkg *Package) error {
	return c.invoke(ctx, "DeployPackage", pkg, &empty{})
}

func (c *GRPCClient) SetChildField(ctx context.Context, f *ChildField) error {
	return c.invoke(ctx, "SetChildField", f, &empty{})
}

type childFieldsResponse struct {
	Fields []ChildField `json:"fields"`
}

func (c *GRPCClient) ChildFields(ctx context.Context, parent codec.Address) ([]ChildField, error) {
	var resp childFieldsResponse
	if err := c.invoke(ctx, "ChildFields", &objectRequest{ID: parent}, &resp); err != nil {
		return nil, err
	}
	return resp.Fields, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}
