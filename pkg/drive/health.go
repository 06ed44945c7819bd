package drive

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/ratio1/r1fs-drive-go/pkg/model"
)

// Component is the health of one backend.
type Component struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Status json.RawMessage `json:"status,omitempty"`
}

// Health is the result of Check.
type Health struct {
	OK         bool      `json:"ok"`
	Storage    Component `json:"storage"`
	Chainstore Component `json:"chainstore"`
}

// healthChecker is implemented by stores with a dedicated health probe,
// such as the gRPC transport.
type healthChecker interface {
	Health(ctx context.Context) error
}

// Check queries both backends concurrently.
func (d *Drive) Check(ctx context.Context) Health {
	var (
		h  Health
		wg sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.Storage = component(d.Gateway.Status(ctx))
	}()
	go func() {
		defer wg.Done()
		if hc, ok := d.Store.(healthChecker); ok {
			if err := hc.Health(ctx); err != nil {
				h.Chainstore = Component{Error: err.Error()}
				return
			}
		}
		h.Chainstore = component(d.Store.Status(ctx))
	}()
	wg.Wait()

	h.OK = h.Storage.OK && h.Chainstore.OK
	if !h.OK {
		zap.L().Warn("backend health degraded",
			zap.String("storage", h.Storage.Error),
			zap.String("chainstore", h.Chainstore.Error))
	}
	return h
}

func component(env model.Envelope, err error) Component {
	if err != nil {
		return Component{Error: err.Error()}
	}
	c := Component{OK: true}
	if json.Valid(env) {
		c.Status = json.RawMessage(env)
	}
	return c
}
