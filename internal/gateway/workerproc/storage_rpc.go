package workerproc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/trikhub/gateway/internal/gateway/storage"
	"github.com/trikhub/gateway/internal/gateway/workerproto"
)

// dispatchStorageMethod services a single storage.* RPC a worker issued
// mid-invoke against the trik-scoped handle. The method namespace mirrors
// storage.Provider's six operations exactly.
func dispatchStorageMethod(ctx context.Context, h storage.Handle, method string, params json.RawMessage) (any, *workerproto.RPCError) {
	switch method {
	case "storage.get":
		var p struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		value, ok, err := h.Get(ctx, p.Key)
		if err != nil {
			return nil, storageErr(err)
		}
		return map[string]any{"value": json.RawMessage(orNull(value)), "found": ok}, nil

	case "storage.set":
		var p struct {
			Key      string          `json:"key"`
			Value    json.RawMessage `json:"value"`
			TTLMs    *int64          `json:"ttlMs,omitempty"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		var ttl *time.Duration
		if p.TTLMs != nil {
			d := time.Duration(*p.TTLMs) * time.Millisecond
			ttl = &d
		}
		if err := h.Set(ctx, p.Key, p.Value, ttl); err != nil {
			return nil, storageErr(err)
		}
		return map[string]any{"ok": true}, nil

	case "storage.delete":
		var p struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		deleted, err := h.Delete(ctx, p.Key)
		if err != nil {
			return nil, storageErr(err)
		}
		return map[string]any{"deleted": deleted}, nil

	case "storage.list":
		var p struct {
			Prefix string `json:"prefix"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		keys, err := h.List(ctx, p.Prefix)
		if err != nil {
			return nil, storageErr(err)
		}
		return map[string]any{"keys": keys}, nil

	case "storage.getMany":
		var p struct {
			Keys []string `json:"keys"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		values, err := h.GetMany(ctx, p.Keys)
		if err != nil {
			return nil, storageErr(err)
		}
		raw := make(map[string]json.RawMessage, len(values))
		for k, v := range values {
			raw[k] = v
		}
		return map[string]any{"values": raw}, nil

	case "storage.setMany":
		var p struct {
			Values map[string]json.RawMessage `json:"values"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		values := make(map[string][]byte, len(p.Values))
		for k, v := range p.Values {
			values[k] = v
		}
		if err := h.SetMany(ctx, values); err != nil {
			return nil, storageErr(err)
		}
		return map[string]any{"ok": true}, nil

	default:
		return nil, &workerproto.RPCError{Code: workerproto.ErrMethodNotFound, Message: "unknown storage method: " + method}
	}
}

func invalidParams(err error) *workerproto.RPCError {
	return &workerproto.RPCError{Code: workerproto.ErrInvalidParams, Message: err.Error()}
}

func storageErr(err error) *workerproto.RPCError {
	return &workerproto.RPCError{Code: workerproto.ErrStorageError, Message: err.Error()}
}

func orNull(b []byte) []byte {
	if b == nil {
		return []byte("null")
	}
	return b
}
