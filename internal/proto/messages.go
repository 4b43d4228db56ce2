package proto

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// ErrMalformed marks a message that does not have the expected shape.
var ErrMalformed = errors.New("malformed message")

// Transaction states reported by GetTransaction.
const (
	TxPending  = "pending"
	TxSuccess  = "success"
	TxRejected = "rejected"
)

type Capabilities struct {
	Extend    bool
	Resources bool
	Network   string
	Contract  string
}

type TxStatus struct {
	Ref    string
	State  string
	Reason string
	Height int64
	Record *permission.Record
}

type Stats struct {
	TotalPermissions int64
	Height           int64
}

type UploadTicket struct {
	ContentRef string
	URL        string
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Struct builds a message; it fails only on unsupported value types.
func Struct(fields map[string]any) (*structpb.Struct, error) {
	return structpb.NewStruct(fields)
}

// RecordFields encodes a record. uint64 amounts travel as decimal strings,
// times as unix seconds.
func RecordFields(r permission.Record) map[string]any {
	m := map[string]any{
		"id":         r.ID,
		"owner":      r.Owner,
		"spender":    r.Spender,
		"amount":     strconv.FormatUint(r.Amount, 10),
		"spent":      strconv.FormatUint(r.Spent, 10),
		"expiry":     float64(r.Expiry.Unix()),
		"revoked":    r.Revoked,
		"scope":      string(r.Scope),
		"created_at": float64(r.CreatedAt.Unix()),
		"resource":   nil,
	}
	if r.Resource != nil {
		m["resource"] = map[string]any{
			"name":        r.Resource.Name,
			"size":        float64(r.Resource.Size),
			"media_type":  r.Resource.MediaType,
			"content_ref": r.Resource.ContentRef,
		}
	}
	return m
}

func RecordsFields(rs []permission.Record) []any {
	out := make([]any, 0, len(rs))
	for _, r := range rs {
		out = append(out, RecordFields(r))
	}
	return out
}

// DecodeRecord parses a record strictly; any missing or mistyped field is
// ErrMalformed.
func DecodeRecord(s *structpb.Struct) (permission.Record, error) {
	if s == nil {
		return permission.Record{}, malformed("nil record")
	}
	f := fields{s.GetFields()}

	var r permission.Record
	var err error
	if r.ID, err = f.str("id"); err != nil {
		return r, err
	}
	if r.Owner, err = f.str("owner"); err != nil {
		return r, err
	}
	if r.Spender, err = f.str("spender"); err != nil {
		return r, err
	}
	if r.Amount, err = f.u64("amount"); err != nil {
		return r, err
	}
	if r.Spent, err = f.u64("spent"); err != nil {
		return r, err
	}
	if r.Expiry, err = f.unix("expiry"); err != nil {
		return r, err
	}
	if r.Revoked, err = f.boolean("revoked"); err != nil {
		return r, err
	}
	scope, err := f.str("scope")
	if err != nil {
		return r, err
	}
	if r.Scope, err = permission.ParseScope(scope); err != nil {
		return r, malformed("%v", err)
	}
	if r.CreatedAt, err = f.unix("created_at"); err != nil {
		return r, err
	}
	if r.Spent > r.Amount {
		return r, malformed("spent %d exceeds amount %d", r.Spent, r.Amount)
	}

	res, ok, err := f.object("resource")
	if err != nil {
		return r, err
	}
	if ok {
		rf := fields{res.GetFields()}
		var rr permission.Resource
		if rr.Name, err = rf.str("name"); err != nil {
			return r, err
		}
		size, err := rf.num("size")
		if err != nil {
			return r, err
		}
		rr.Size = int64(size)
		if rr.MediaType, err = rf.str("media_type"); err != nil {
			return r, err
		}
		if rr.ContentRef, err = rf.str("content_ref"); err != nil {
			return r, err
		}
		r.Resource = &rr
	}
	return r, nil
}

// DecodeRecordList reads the list stored under key.
func DecodeRecordList(s *structpb.Struct, key string) ([]permission.Record, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, malformed("missing %q", key)
	}
	list := v.GetListValue()
	if list == nil {
		return nil, malformed("%q is not a list", key)
	}
	out := make([]permission.Record, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		obj := item.GetStructValue()
		if obj == nil {
			return nil, malformed("%s[%d] is not an object", key, i)
		}
		r, err := DecodeRecord(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func DecodeTxStatus(s *structpb.Struct) (TxStatus, error) {
	f := fields{s.GetFields()}

	var st TxStatus
	var err error
	if st.Ref, err = f.str("tx_ref"); err != nil {
		return st, err
	}
	if st.State, err = f.str("state"); err != nil {
		return st, err
	}
	switch st.State {
	case TxPending, TxSuccess, TxRejected:
	default:
		return st, malformed("unknown state %q", st.State)
	}
	if st.Reason, err = f.optStr("reason"); err != nil {
		return st, err
	}
	h, err := f.num("height")
	if err != nil {
		return st, err
	}
	st.Height = int64(h)

	obj, ok, err := f.object("permission")
	if err != nil {
		return st, err
	}
	if ok {
		r, err := DecodeRecord(obj)
		if err != nil {
			return st, err
		}
		st.Record = &r
	}
	if st.State == TxSuccess && st.Record == nil {
		return st, malformed("successful transaction without permission")
	}
	return st, nil
}

func TxStatusFields(st TxStatus) map[string]any {
	m := map[string]any{
		"tx_ref":     st.Ref,
		"state":      st.State,
		"reason":     st.Reason,
		"height":     float64(st.Height),
		"permission": nil,
	}
	if st.Record != nil {
		m["permission"] = RecordFields(*st.Record)
	}
	return m
}

type fields struct {
	m map[string]*structpb.Value
}

func (f fields) get(key string) (*structpb.Value, error) {
	v, ok := f.m[key]
	if !ok {
		return nil, malformed("missing %q", key)
	}
	return v, nil
}

func (f fields) str(key string) (string, error) {
	v, err := f.get(key)
	if err != nil {
		return "", err
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", malformed("%q is not a string", key)
	}
	return s.StringValue, nil
}

func (f fields) optStr(key string) (string, error) {
	v, ok := f.m[key]
	if !ok {
		return "", nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return "", nil
	}
	return f.str(key)
}

func (f fields) num(key string) (float64, error) {
	v, err := f.get(key)
	if err != nil {
		return 0, err
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, malformed("%q is not a number", key)
	}
	if math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, malformed("%q is not an integer", key)
	}
	return n.NumberValue, nil
}

func (f fields) u64(key string) (uint64, error) {
	s, err := f.str(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, malformed("%q: %v", key, err)
	}
	return n, nil
}

func (f fields) unix(key string) (time.Time, error) {
	n, err := f.num(key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(n), 0).UTC(), nil
}

func (f fields) boolean(key string) (bool, error) {
	v, err := f.get(key)
	if err != nil {
		return false, err
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, malformed("%q is not a bool", key)
	}
	return b.BoolValue, nil
}

// object returns the nested struct under key; a missing key or null is
// reported as absent.
func (f fields) object(key string) (*structpb.Struct, bool, error) {
	v, ok := f.m[key]
	if !ok {
		return nil, false, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, false, nil
	case *structpb.Value_StructValue:
		return k.StructValue, true, nil
	default:
		return nil, false, malformed("%q is not an object", key)
	}
}

// Field readers exported for the node handlers.

func String(s *structpb.Struct, key string) (string, error) {
	return fields{s.GetFields()}.str(key)
}

func OptString(s *structpb.Struct, key string) (string, error) {
	return fields{s.GetFields()}.optStr(key)
}

func Bool(s *structpb.Struct, key string) (bool, error) {
	return fields{s.GetFields()}.boolean(key)
}

func Int(s *structpb.Struct, key string) (int64, error) {
	n, err := fields{s.GetFields()}.num(key)
	return int64(n), err
}
