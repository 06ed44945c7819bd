package grpc

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/bufbuild/protocompile"
	"go.uber.org/zap"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ChainStoreServiceName is the fully-qualified ChainStore service name.
const ChainStoreServiceName = "chainstore.ChainStore"

const chainStoreProtoFile = "chainstore.proto"

//go:embed chainstore.proto
var chainStoreProto string

var compileChainStore = sync.OnceValues(func() (protoreflect.ServiceDescriptor, error) {
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(map[string]string{
				chainStoreProtoFile: chainStoreProto,
			}),
		}),
	}
	files, err := compiler.Compile(context.Background(), chainStoreProtoFile)
	if err != nil {
		zap.L().Error("failed to compile chainstore.proto", zap.Error(err))
		return nil, fmt.Errorf("compile %s: %w", chainStoreProtoFile, err)
	}
	for _, file := range files {
		if svc := file.Services().ByName(protoreflect.FullName(ChainStoreServiceName).Name()); svc != nil {
			return svc, nil
		}
	}
	return nil, fmt.Errorf("service %s not found in %s", ChainStoreServiceName, chainStoreProtoFile)
})

// ChainStoreService returns the descriptor of the embedded ChainStore
// service. The definition is compiled once per process.
func ChainStoreService() (protoreflect.ServiceDescriptor, error) {
	return compileChainStore()
}
