// Package storage provides the storage gateways that hold file content.
//
// # Backends
//
// R1FS edge API (R1FSClient):
//   - POST /add_file          multipart stream: "body_json" field + "file" part
//   - POST /add_file_base64   JSON {file_base64_str, filename, secret, nonce}
//   - GET  /get_file          raw bytes, filename in Content-Disposition
//   - POST /get_file_base64   JSON {cid, secret}
//   - GET  /get_status
//
// IPFS Kubo node (KuboGateway):
//   - add/cat/id over the Kubo RPC API
//   - the storing node is identified by its peer id
//   - optional HTTP gateway for reads
//   - custom secrets are rejected with ErrSecretUnsupported
//
// Memory (MemoryGateway):
//   - in-process store keyed by CIDv1 (raw, sha2-256)
//   - fault injection through FailPut and FailGet
//
// # Envelopes
//
// Gateways return the backend answer untouched. The edge API wraps results
// as {"result": {...}} on some versions and not on others; read fields with
// model.Envelope.Field or String, which accept both shapes:
//
//	env, err := gw.Put(ctx, body, storage.PutOptions{Filename: "a.txt"})
//	if err != nil {
//		return err
//	}
//	cid := env.String(model.FieldCID)
//	node := env.String(model.FieldNodeAddress)
//
// # Errors
//
// HTTP backends report non-2xx answers as *APIError. Wrong secrets are not
// distinguished from missing content.
package storage
