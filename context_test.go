package trustgate

import (
	"context"
	"testing"
)

func TestContextCarriers(t *testing.T) {
	ctx := context.Background()

	if got := clientIPFromContext(ctx); got != "" {
		t.Fatalf("expected empty ip, got %q", got)
	}
	if got := userAgentFromContext(ctx); got != "" {
		t.Fatalf("expected empty user agent, got %q", got)
	}

	ctx = WithClientIP(ctx, "10.1.2.3")
	ctx = WithUserAgent(ctx, "curl/8.0")

	if got := clientIPFromContext(ctx); got != "10.1.2.3" {
		t.Fatalf("ip = %q", got)
	}
	if got := userAgentFromContext(ctx); got != "curl/8.0" {
		t.Fatalf("user agent = %q", got)
	}
}
