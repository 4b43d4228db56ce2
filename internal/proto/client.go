package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// Client is a typed facade over LedgerClient. Transport errors are
// returned untouched (gRPC status errors); shape errors wrap ErrMalformed.
type Client struct {
	raw LedgerClient
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{raw: NewLedgerClient(cc)}
}

// NewClientFromStub wraps an existing stub; tests pass fakes here.
func NewClientFromStub(raw LedgerClient) *Client {
	return &Client{raw: raw}
}

func (c *Client) call(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := Struct(in)
	if err != nil {
		return nil, err
	}
	return c.raw.Invoke(ctx, method, req)
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, MethodPing, nil)
	return err
}

func (c *Client) Capabilities(ctx context.Context) (Capabilities, error) {
	out, err := c.call(ctx, MethodCapabilities, nil)
	if err != nil {
		return Capabilities{}, err
	}

	var caps Capabilities
	if caps.Extend, err = Bool(out, "extend"); err != nil {
		return caps, err
	}
	if caps.Resources, err = Bool(out, "resources"); err != nil {
		return caps, err
	}
	if caps.Network, err = OptString(out, "network"); err != nil {
		return caps, err
	}
	if caps.Contract, err = OptString(out, "contract"); err != nil {
		return caps, err
	}
	return caps, nil
}

// Broadcast submits a signed transaction and returns its reference. It
// satisfies wallet.Broadcaster.
func (c *Client) Broadcast(ctx context.Context, signed string) (string, error) {
	out, err := c.call(ctx, MethodBroadcast, map[string]any{"signed": signed})
	if err != nil {
		return "", err
	}
	return String(out, "tx_ref")
}

func (c *Client) Transaction(ctx context.Context, ref string) (TxStatus, error) {
	out, err := c.call(ctx, MethodGetTransaction, map[string]any{"tx_ref": ref})
	if err != nil {
		return TxStatus{}, err
	}
	return DecodeTxStatus(out)
}

func (c *Client) Permission(ctx context.Context, id string) (permission.Record, error) {
	out, err := c.call(ctx, MethodGetPermission, map[string]any{"id": id})
	if err != nil {
		return permission.Record{}, err
	}
	obj, ok, err := fields{out.GetFields()}.object("permission")
	if err != nil {
		return permission.Record{}, err
	}
	if !ok {
		return permission.Record{}, malformed("missing permission")
	}
	return DecodeRecord(obj)
}

func (c *Client) ByOwner(ctx context.Context, owner string) ([]permission.Record, error) {
	out, err := c.call(ctx, MethodListByOwner, map[string]any{"address": owner})
	if err != nil {
		return nil, err
	}
	return DecodeRecordList(out, "permissions")
}

func (c *Client) BySpender(ctx context.Context, spender string) ([]permission.Record, error) {
	out, err := c.call(ctx, MethodListBySpender, map[string]any{"address": spender})
	if err != nil {
		return nil, err
	}
	return DecodeRecordList(out, "permissions")
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	out, err := c.call(ctx, MethodStats, nil)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	if st.TotalPermissions, err = Int(out, "total_permissions"); err != nil {
		return st, err
	}
	if st.Height, err = Int(out, "height"); err != nil {
		return st, err
	}
	return st, nil
}

// UploadURL asks for a presigned upload link; signed is an access token
// proving the caller's address.
func (c *Client) UploadURL(ctx context.Context, signed, name string) (UploadTicket, error) {
	out, err := c.call(ctx, MethodUploadURL, map[string]any{"signed": signed, "name": name})
	if err != nil {
		return UploadTicket{}, err
	}
	var t UploadTicket
	if t.ContentRef, err = String(out, "content_ref"); err != nil {
		return t, err
	}
	if t.URL, err = String(out, "url"); err != nil {
		return t, err
	}
	return t, nil
}

// DownloadURL asks for a presigned link to the resource of the permission
// named in the signed access token.
func (c *Client) DownloadURL(ctx context.Context, signed string) (string, error) {
	out, err := c.call(ctx, MethodDownloadURL, map[string]any{"signed": signed})
	if err != nil {
		return "", err
	}
	return String(out, "url")
}
