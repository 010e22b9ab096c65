package engine

import (
	"github.com/avelaz/genbridge/pkg/models"
)

// ExtractArtifacts builds a structured artifact index from a completed
// job's history record. Missing or partial outputs produce empty lists,
// never an error: a job can legitimately emit only some categories.
func ExtractArtifacts(rec *HistoryRecord) *models.ArtifactIndex {
	index := &models.ArtifactIndex{
		Images: []models.Artifact{},
		Videos: []models.Artifact{},
		Texts:  []models.TextArtifact{},
		Other:  []models.RawArtifact{},
	}
	if rec == nil {
		return index
	}

	for nodeID, nodeOutput := range rec.Outputs {
		index.Images = append(index.Images, fileArtifacts(nodeID, nodeOutput["images"])...)
		index.Videos = append(index.Videos, fileArtifacts(nodeID, nodeOutput["videos"])...)
		index.Videos = append(index.Videos, fileArtifacts(nodeID, nodeOutput["gifs"])...)

		if text, ok := nodeOutput["text"]; ok {
			index.Texts = append(index.Texts, models.TextArtifact{NodeID: nodeID, Content: text})
		}

		for key, value := range nodeOutput {
			switch key {
			case "images", "videos", "gifs", "text":
				continue
			}
			index.Other = append(index.Other, models.RawArtifact{NodeID: nodeID, Kind: key, Data: value})
		}
	}
	return index
}

func fileArtifacts(nodeID string, raw interface{}) []models.Artifact {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]models.Artifact, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		filename, _ := entry["filename"].(string)
		if filename == "" {
			continue
		}
		subfolder, _ := entry["subfolder"].(string)
		folderType, _ := entry["type"].(string)
		if folderType == "" {
			folderType = "output"
		}
		out = append(out, models.Artifact{
			NodeID:    nodeID,
			Filename:  filename,
			Subfolder: subfolder,
			Type:      folderType,
		})
	}
	return out
}
