// Package model holds the data shared by the ingestion pipeline.
//
// # File metadata
//
// Every successful upload that reaches the index produces one FileMetadata
// record:
//
//	{
//	  "cid": "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
//	  "filename": "report.pdf",
//	  "date_uploaded": "2025-01-02T15:04:05.000Z",
//	  "owner": "alice",
//	  "isEncryptedWithCustomKey": true
//	}
//
// Records are grouped per storing node (NodeFileIndex) and each node's list is
// kept as one JSON array string in the metadata store.
//
// # Legacy lists
//
// Older deployments stored bare CID arrays:
//
//	["QmYwAPJz...", "QmT78zSu..."]
//
// DecodeEntries and DecodeFileList accept both encodings. The decision is made
// on the first element only; an empty array counts as the current format.
// Migrated entries get the filename "file_" followed by the first eight
// characters of the CID, owner "Unknown" and the decoding time as upload date.
//
// # Envelopes
//
// Storage and metadata backends answer either with {"result": {...}} or with
// the payload itself. Envelope keeps the raw document so it can be returned to
// callers unchanged, while Envelope.String and Envelope.Field read fields from
// whichever shape was received.
package model
