package model

import (
	"encoding/json"
	"strings"
)

// Envelope field names used by the storage and metadata backends.
const (
	FieldResult      = "result"
	FieldCID         = "cid"
	FieldNodeAddress = "ee_node_address"
	FieldFilename    = "filename"
	FieldFileBase64  = "file_base64_str"
)

// Envelope is a raw JSON document returned by a backend. Depending on the
// backend version the payload is either wrapped as {"result": {...}} or
// returned directly; Field hides that difference.
type Envelope json.RawMessage

// MarshalJSON returns the raw document, or null for an empty envelope.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if len(e) == 0 {
		return []byte("null"), nil
	}
	return e, nil
}

// UnmarshalJSON stores a copy of data.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	*e = append((*e)[0:0], data...)
	return nil
}

// Field returns the raw value of name, looking inside "result" first and then
// at the top level. Null values are treated as missing.
func (e Envelope) Field(name string) (json.RawMessage, bool) {
	top := e.object()
	if top == nil {
		return nil, false
	}
	if wrapped, ok := top[FieldResult]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(wrapped, &inner); err == nil {
			if v, ok := inner[name]; ok && !isNull(v) {
				return v, true
			}
		}
	}
	if v, ok := top[name]; ok && !isNull(v) {
		return v, true
	}
	return nil, false
}

// String returns the first non-empty string value of name, checking the
// wrapped payload before the top level.
func (e Envelope) String(name string) string {
	top := e.object()
	if top == nil {
		return ""
	}
	if wrapped, ok := top[FieldResult]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(wrapped, &inner); err == nil {
			if s := rawString(inner[name]); s != "" {
				return s
			}
		}
	}
	return rawString(top[name])
}

// Result returns the unwrapped payload: the "result" object when present,
// the envelope itself otherwise.
func (e Envelope) Result() Envelope {
	if v, ok := e.object()[FieldResult]; ok && !isNull(v) {
		return Envelope(v)
	}
	return e
}

func (e Envelope) object() map[string]json.RawMessage {
	if len(e) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(e, &m); err != nil {
		return nil
	}
	return m
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || strings.TrimSpace(string(v)) == "null"
}

func rawString(v json.RawMessage) string {
	if isNull(v) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

// UploadResult is the canonical form of a storage backend's answer to a put.
type UploadResult struct {
	CID    string
	NodeID string
	Raw    Envelope
}

// ParseUploadResult extracts the CID and storing node from a put envelope.
func ParseUploadResult(env Envelope) UploadResult {
	return UploadResult{
		CID:    env.String(FieldCID),
		NodeID: env.String(FieldNodeAddress),
		Raw:    env,
	}
}

// Complete reports whether both the CID and the storing node are known, which
// is required before the upload can be announced in the index.
func (r UploadResult) Complete() bool {
	return r.CID != "" && r.NodeID != ""
}
