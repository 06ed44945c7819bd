// Package chainstore implements clients for ChainStore, the replicated hash
// store that keeps the drive file index. A hash (hkey) maps keys to string
// values; the drive stores one JSON array per storage node under the node
// address.
//
// The store offers plain reads and writes only. There is no transaction or
// compare-and-swap primitive, so concurrent read-modify-write cycles on the
// same key can lose updates.
package chainstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ratio1/r1fs-drive-go/pkg/model"
)

// ErrEmptyHKey is returned when an operation is called without a hash key.
var ErrEmptyHKey = errors.New("chainstore: empty hkey")

// Store is the metadata store contract.
type Store interface {
	// HGet returns the value stored under hkey/key. found is false when the
	// key does not exist.
	HGet(ctx context.Context, hkey, key string) (value string, found bool, err error)
	// HSet stores value under hkey/key, replacing any previous value.
	HSet(ctx context.Context, hkey, key, value string) error
	// HGetAll returns every key of hkey with its value.
	HGetAll(ctx context.Context, hkey string) (map[string]string, error)
	// Status reports store health.
	Status(ctx context.Context) (model.Envelope, error)
}

// APIError is a non-2xx answer from the ChainStore REST API.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chainstore %s: unexpected status %d: %s", e.Op, e.Status, strings.TrimSpace(e.Body))
}

// valueString converts a JSON value to the string stored in the hash.
// Strings are unquoted; any other JSON value is kept as its text.
func valueString(raw json.RawMessage) (string, bool) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

// decodeHash converts a JSON object of values to a string map. null and an
// empty body yield an empty map.
func decodeHash(raw json.RawMessage) (map[string]string, error) {
	out := make(map[string]string)
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return out, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("chainstore: hash is not an object: %w", err)
	}
	for k, v := range fields {
		if s, ok := valueString(v); ok {
			out[k] = s
		} else {
			out[k] = ""
		}
	}
	return out, nil
}
