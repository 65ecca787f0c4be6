package observability

import (
	"context"
	"testing"

	"github.com/feedloom/curator/internal/config"
)

func TestSetupTracing_Disabled(t *testing.T) {
	shutdown, err := SetupTracing(config.Config{OTLPEndpoint: ""})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if shutdown != nil {
		_ = shutdown(context.Background())
	}
}
