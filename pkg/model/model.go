// Package model defines the records exchanged between the upload/download
// coordinators, the storage gateway and the metadata index: per-file metadata,
// the per-node file index and the raw backend envelopes.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	// DefaultFilename is used when neither the form, the headers nor the file
	// part carry a name.
	DefaultFilename = "unknown"
	// DefaultOwner is recorded when the uploader did not identify itself.
	DefaultOwner = "Unknown"

	legacyFilenamePrefix = "file_"
	legacyCIDPrefixLen   = 8
)

// FileMetadata describes one uploaded file as announced in the metadata index.
// The JSON names match the documents already stored by deployed nodes.
type FileMetadata struct {
	CID                      string    `json:"cid"`
	Filename                 string    `json:"filename"`
	DateUploaded             Timestamp `json:"date_uploaded"`
	Owner                    string    `json:"owner"`
	IsEncryptedWithCustomKey bool      `json:"isEncryptedWithCustomKey"`
}

// NodeFileIndex groups file metadata by the identifier of the storing node.
type NodeFileIndex map[string][]FileMetadata

// NewFileMetadata builds the record written after a successful upload.
// IsEncryptedWithCustomKey is derived from secret and cannot be set directly.
func NewFileMetadata(cid, filename, owner, secret string, now time.Time) FileMetadata {
	if filename == "" {
		filename = DefaultFilename
	}
	if owner == "" {
		owner = DefaultOwner
	}
	return FileMetadata{
		CID:                      cid,
		Filename:                 filename,
		DateUploaded:             Timestamp{now},
		Owner:                    owner,
		IsEncryptedWithCustomKey: strings.TrimSpace(secret) != "",
	}
}

// LegacyFileMetadata synthesizes a record for an index entry that only
// stored the bare CID.
func LegacyFileMetadata(cid string, now time.Time) FileMetadata {
	prefix := cid
	if r := []rune(cid); len(r) > legacyCIDPrefixLen {
		prefix = string(r[:legacyCIDPrefixLen])
	}
	return FileMetadata{
		CID:          cid,
		Filename:     legacyFilenamePrefix + prefix,
		DateUploaded: Timestamp{now},
		Owner:        DefaultOwner,
	}
}

// timestampLayout matches the millisecond ISO-8601 form used by the index.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp is a time.Time serialized in UTC with millisecond precision.
type Timestamp struct {
	time.Time
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(timestampLayout))
}

// UnmarshalJSON accepts any RFC 3339 timestamp; null leaves the zero value.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}
