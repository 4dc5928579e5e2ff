package annotate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region methods

const (
	annotateMethod = "/cpgenius.annotation.v1.AnnotationService/Annotate"
	guessMethod    = "/cpgenius.annotation.v1.AnnotationService/Guess"
)

// #endregion

// #region client-struct

// RemoteAnnotator calls an annotation service over gRPC. Requests and
// replies are google.protobuf.Struct messages:
//
//	Annotate request: {"table": id, "features": [...]}
//	Annotate reply:   {"key_column": k, "columns": [...], "rows": [{"feature": f, "values": [...]}]}
//	Guess request:    {"features": [...]}
//	Guess reply:      {"tables": [...]}
type RemoteAnnotator struct {
	conn    *grpc.ClientConn
	cc      grpc.ClientConnInterface
	timeout time.Duration
}

// #endregion

// #region constructor

// NewRemoteAnnotator connects to the annotation service at addr. A zero
// timeout leaves per-call deadlines to the caller.
func NewRemoteAnnotator(addr string, timeout time.Duration) (*RemoteAnnotator, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &RemoteAnnotator{conn: conn, cc: conn, timeout: timeout}, nil
}

// NewRemoteAnnotatorWithConn uses an existing connection. Used for testing
// without a real server.
func NewRemoteAnnotatorWithConn(cc grpc.ClientConnInterface, timeout time.Duration) *RemoteAnnotator {
	return &RemoteAnnotator{cc: cc, timeout: timeout}
}

// Close shuts down the connection if this annotator opened it.
func (r *RemoteAnnotator) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// #endregion

// #region annotate

// Annotate asks the service for the rows of features in tableID and checks
// that the reply covers them one to one, in order.
func (r *RemoteAnnotator) Annotate(ctx context.Context, tableID string, features []string) (*Table, error) {
	id := normalizeID(tableID)
	if d := duplicates(features); len(d) > 0 {
		return nil, &Error{Kind: KindDuplicate, Table: id, Features: d}
	}
	req, err := structpb.NewStruct(map[string]any{
		"table":    id,
		"features": stringsToAny(features),
	})
	if err != nil {
		return nil, fmt.Errorf("build annotate request: %w", err)
	}
	reply := &structpb.Struct{}
	if err := r.invoke(ctx, annotateMethod, req, reply); err != nil {
		return nil, rpcError(id, err)
	}

	fields := reply.GetFields()
	t := &Table{
		ID:        id,
		KeyColumn: fields["key_column"].GetStringValue(),
		Columns:   listStrings(fields["columns"]),
	}
	if t.KeyColumn == "" {
		t.KeyColumn = DefaultKeyColumn
	}
	for _, v := range fields["rows"].GetListValue().GetValues() {
		rf := v.GetStructValue().GetFields()
		t.Rows = append(t.Rows, Row{
			Feature: rf["feature"].GetStringValue(),
			Values:  listStrings(rf["values"]),
		})
	}
	if err := Verify(t, features); err != nil {
		return nil, err
	}
	return t, nil
}

// #endregion

// #region guess

// Guess asks the service which tables cover every feature.
func (r *RemoteAnnotator) Guess(ctx context.Context, features []string) ([]string, error) {
	req, err := structpb.NewStruct(map[string]any{"features": stringsToAny(features)})
	if err != nil {
		return nil, fmt.Errorf("build guess request: %w", err)
	}
	reply := &structpb.Struct{}
	if err := r.invoke(ctx, guessMethod, req, reply); err != nil {
		return nil, fmt.Errorf("guess rpc: %w", err)
	}
	var out []string
	for _, id := range listStrings(reply.GetFields()["tables"]) {
		out = append(out, normalizeID(id))
	}
	return out, nil
}

// #endregion

// #region helpers

func (r *RemoteAnnotator) invoke(ctx context.Context, method string, req, reply any) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.cc.Invoke(ctx, method, req, reply)
}

// rpcError maps gRPC status codes onto annotation error kinds.
func rpcError(table string, err error) error {
	st, _ := status.FromError(err)
	kind := KindUnavailable
	switch st.Code() {
	case codes.NotFound:
		kind = KindUnknownTable
	case codes.FailedPrecondition:
		kind = KindUnmapped
	case codes.AlreadyExists:
		kind = KindDuplicate
	}
	var details []string
	for _, d := range st.Details() {
		if lv, ok := d.(*structpb.ListValue); ok {
			details = append(details, listStrings(structpb.NewListValue(lv))...)
		}
	}
	return &Error{Kind: kind, Table: table, Features: details, Err: errors.New(st.Message())}
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func listStrings(v *structpb.Value) []string {
	vals := v.GetListValue().GetValues()
	out := make([]string, len(vals))
	for i, x := range vals {
		out[i] = x.GetStringValue()
	}
	return out
}

// #endregion
