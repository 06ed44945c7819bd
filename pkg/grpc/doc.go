// Package grpc is the dynamic gRPC client used to reach ChainStore.
//
// The ChainStore definition (chainstore.proto) is embedded and compiled at
// runtime with protocompile, so no generated stubs are needed. Requests and
// replies travel as JSON and are converted with protojson and dynamicpb.
//
// # Usage
//
//	client, err := grpc.NewClient("cstore.internal:50051")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	out, err := client.Invoke(ctx, "HGet", []byte(`{"hkey":"ratio1-drive-test","key":"0xai_node"}`))
//
// # Transport Security
//
//   - https://host:port → TLS
//   - http://host:port  → insecure
//   - host:port         → insecure
//
// WaitReady blocks until the connection is usable, which lets commands fail
// fast when the store is unreachable.
package grpc
