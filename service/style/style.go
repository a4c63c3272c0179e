// Package style declares the external writing-style service. Styling is
// best effort: on any failure the original content is used and execution
// proceeds.
package style

import "context"

// Service rewrites outbound content in the voice of the owning agent.
type Service interface {
	MimicWritingStyle(ctx context.Context, agentID, content, contentType string) (string, error)
}

// Nop returns content unchanged. Used when no style service is configured.
type Nop struct{}

func (Nop) MimicWritingStyle(_ context.Context, _, content, _ string) (string, error) {
	return content, nil
}
