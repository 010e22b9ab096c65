package models

// Artifact is one named output produced by a graph node,
// retrievable from the engine by filename/subfolder/type.
type Artifact struct {
	NodeID    string `json:"node_id"`
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// TextArtifact is a text output attached to a node
type TextArtifact struct {
	NodeID  string      `json:"node_id"`
	Content interface{} `json:"content"`
}

// RawArtifact covers output categories the index does not model explicitly
type RawArtifact struct {
	NodeID string      `json:"node_id"`
	Kind   string      `json:"kind"`
	Data   interface{} `json:"data"`
}

// ArtifactIndex groups a completed job's outputs by category.
// Missing categories are empty lists, never nil checks for callers.
type ArtifactIndex struct {
	Images []Artifact     `json:"images"`
	Videos []Artifact     `json:"videos"`
	Texts  []TextArtifact `json:"texts"`
	Other  []RawArtifact  `json:"other"`
}

// Empty reports whether no outputs of any category were recorded
func (a *ArtifactIndex) Empty() bool {
	return len(a.Images) == 0 && len(a.Videos) == 0 && len(a.Texts) == 0 && len(a.Other) == 0
}

// Outcome is the single terminal result reported for a job
type Outcome struct {
	JobID     string                 `json:"job_id"`
	Status    Status                 `json:"status"`
	Reason    string                 `json:"reason,omitempty"`
	Artifacts *ArtifactIndex         `json:"artifacts,omitempty"`
	Raw       map[string]interface{} `json:"raw_result,omitempty"`
}
