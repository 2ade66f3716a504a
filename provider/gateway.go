package provider

import "context"

// Gateway is the cloud provider's instance-control surface. Implementations
// must honor the context deadline on every call; a hung provider must not be
// able to stall unrelated work.
type Gateway interface {
	// DescribeInstances returns the raw provider status string per instance
	// ID. IDs missing from the result are treated as unknown by the caller.
	DescribeInstances(ctx context.Context, ids []string) (map[string]string, error)
	StartInstances(ctx context.Context, ids []string) error
	StopInstances(ctx context.Context, ids []string) error
}
