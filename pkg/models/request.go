package models

// VideoRequest describes a multi-segment image-to-video generation.
// Exactly one of Prompt or Prompts must be set: a single prompt is
// replicated across all segments, a list must match the segment count.
type VideoRequest struct {
	Prompt         string   `json:"prompt,omitempty"`
	Prompts        []string `json:"prompts,omitempty"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Duration       int      `json:"duration"` // seconds, positive multiple of the segment duration
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	FrameRate      int      `json:"frame_rate"`
	Steps          int      `json:"steps"`
	Seed           int64    `json:"seed"` // -1 requests a random base seed
	ImageFilename  string   `json:"image_filename"`
}

// ImageRequest describes a single text-to-image generation
type ImageRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
	Seed           int64  `json:"seed"`
}
