package brandloom

import "time"

// ============================================================================
// Content generation
// ============================================================================

// GenerationRequest describes one AI content-generation job. Prompt assembly
// and provider selection happen server-side; the SDK only carries the brief.
type GenerationRequest struct {
	CampaignID string         `json:"campaignId,omitempty"`
	Type       string         `json:"type"` // "social", "email", "blog", "ad"
	Topic      string         `json:"topic"`
	Tone       string         `json:"tone,omitempty"`
	Channels   []string       `json:"channels,omitempty"`
	Variants   int            `json:"variants,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// GeneratedVariant is one produced piece of content.
type GeneratedVariant struct {
	ID      string `json:"id"`
	Channel string `json:"channel,omitempty"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body"`
}

// GenerationResult is the batch response for a generation job.
type GenerationResult struct {
	ID       string             `json:"id"`
	Status   string             `json:"status"`
	Variants []GeneratedVariant `json:"variants,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// GenerationChunk is one streamed fragment of generated content.
type GenerationChunk struct {
	ID    string `json:"id,omitempty"`
	Index int    `json:"index"`
	Delta string `json:"delta"`
	Done  bool   `json:"done,omitempty"`
}

// ============================================================================
// Approvals
// ============================================================================

// Approval tracks one piece of content through review.
type Approval struct {
	ID        string    `json:"id"`
	ContentID string    `json:"contentId"`
	Status    string    `json:"status"` // "pending", "approved", "rejected"
	Reviewer  string    `json:"reviewer,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ApprovalDecision is a reviewer's verdict on a submission.
type ApprovalDecision struct {
	Status  string `json:"status"`
	Comment string `json:"comment,omitempty"`
}

// ============================================================================
// Brand assets
// ============================================================================

// BrandAsset is one entry in the brand-asset library.
type BrandAsset struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"` // "logo", "image", "font", "palette"
	URL       string    `json:"url,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AssetInput carries the writable fields of a brand asset.
type AssetInput struct {
	Name string   `json:"name"`
	Kind string   `json:"kind"`
	URL  string   `json:"url,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

// ListOptions pages through list endpoints.
type ListOptions struct {
	Limit  int
	Offset int
}
