package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotList is returned when a stored index value is valid JSON but not an array.
var ErrNotList = errors.New("stored file list is not a JSON array")

// ListFormat identifies the encoding of a stored per-node file list.
type ListFormat int

const (
	// FormatCurrent is an array of FileMetadata objects.
	FormatCurrent ListFormat = iota
	// FormatLegacy is an array of bare CID strings.
	FormatLegacy
)

func (f ListFormat) String() string {
	if f == FormatLegacy {
		return "legacy"
	}
	return "current"
}

// DecodeEntries parses a stored per-node list into raw JSON entries. The
// format is decided by the first element only: a string marks the whole list
// as legacy and every entry is migrated with LegacyFileMetadata; anything
// else, including an empty list, is the current format and entries are
// returned untouched.
func DecodeEntries(raw string, now time.Time) ([]json.RawMessage, ListFormat, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		if json.Valid([]byte(raw)) {
			return nil, FormatCurrent, ErrNotList
		}
		return nil, FormatCurrent, fmt.Errorf("parse file list: %w", err)
	}
	if len(entries) == 0 || !isJSONString(entries[0]) {
		return entries, FormatCurrent, nil
	}

	migrated := make([]json.RawMessage, 0, len(entries))
	for i, entry := range entries {
		var cid string
		if err := json.Unmarshal(entry, &cid); err != nil {
			return nil, FormatLegacy, fmt.Errorf("legacy file list entry %d: %w", i, err)
		}
		b, err := json.Marshal(LegacyFileMetadata(cid, now))
		if err != nil {
			return nil, FormatLegacy, err
		}
		migrated = append(migrated, b)
	}
	return migrated, FormatLegacy, nil
}

// DecodeFileList parses a stored per-node list into metadata records,
// migrating the legacy format on the fly.
//
// An entry that does not decode is skipped. The returned files then hold
// every other entry and the error joins one failure per skipped entry. A
// value that is not a list at all returns nil files.
func DecodeFileList(raw string, now time.Time) ([]FileMetadata, ListFormat, error) {
	entries, format, err := DecodeEntries(raw, now)
	if err != nil {
		return nil, format, err
	}
	files := make([]FileMetadata, 0, len(entries))
	var errs []error
	for i, entry := range entries {
		var md FileMetadata
		if err := json.Unmarshal(entry, &md); err != nil {
			errs = append(errs, fmt.Errorf("file list entry %d: %w", i, err))
			continue
		}
		files = append(files, md)
	}
	return files, format, errors.Join(errs...)
}

// EntryCID returns the "cid" of a current-format entry, or "" when the entry
// is not an object or has none.
func EntryCID(entry json.RawMessage) string {
	var head struct {
		CID string `json:"cid"`
	}
	if err := json.Unmarshal(entry, &head); err != nil {
		return ""
	}
	return head.CID
}

func isJSONString(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '"'
}
