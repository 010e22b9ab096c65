package graph

import (
	"math/rand"

	"github.com/avelaz/genbridge/pkg/models"
)

const imageCheckpoint = "juggernautXL_ragnarokBy.safetensors"

const defaultImageSteps = 10

// BuildImage assembles a single text-to-image graph
func BuildImage(req *models.ImageRequest) (*Graph, error) {
	if req.Prompt == "" {
		return nil, &models.InvalidRequestError{Field: "prompt", Reason: "is required"}
	}
	if req.Width < minDimension || req.Width > maxDimension {
		return nil, &models.InvalidRequestError{Field: "width", Reason: "out of supported bounds"}
	}
	if req.Height < minDimension || req.Height > maxDimension {
		return nil, &models.InvalidRequestError{Field: "height", Reason: "out of supported bounds"}
	}

	steps := req.Steps
	if steps <= 0 {
		steps = defaultImageSteps
	}
	seed := req.Seed
	if seed < 0 {
		seed = rand.Int63()
	}

	g := New()
	g.Add("checkpoint", &Node{
		Kind:   KindCheckpoint,
		Title:  "Load Checkpoint",
		Inputs: map[string]Input{"ckpt_name": Lit(imageCheckpoint)},
	})
	g.Add("positive", &Node{
		Kind:  KindCLIPTextEncode,
		Title: "Positive Prompt",
		Inputs: map[string]Input{
			"text": Lit(req.Prompt),
			"clip": RefTo("checkpoint", 1),
		},
	})
	g.Add("negative", &Node{
		Kind:  KindCLIPTextEncode,
		Title: "Negative Prompt",
		Inputs: map[string]Input{
			"text": Lit(req.NegativePrompt),
			"clip": RefTo("checkpoint", 1),
		},
	})
	g.Add("latent", &Node{
		Kind:  KindEmptyLatent,
		Title: "Empty Latent",
		Inputs: map[string]Input{
			"width":      Lit(req.Width),
			"height":     Lit(req.Height),
			"batch_size": Lit(1),
		},
	})
	g.Add("sampler", &Node{
		Kind:  KindKSampler,
		Title: "Sampler",
		Inputs: map[string]Input{
			"seed":         Lit(seed),
			"steps":        Lit(steps),
			"cfg":          Lit(4),
			"sampler_name": Lit("dpmpp_2m_sde"),
			"scheduler":    Lit("karras"),
			"denoise":      Lit(1),
			"model":        RefTo("checkpoint", 0),
			"positive":     RefTo("positive", 0),
			"negative":     RefTo("negative", 0),
			"latent_image": RefTo("latent", 0),
		},
	})
	g.Add("decode", &Node{
		Kind:  KindVAEDecode,
		Title: "VAE Decode",
		Inputs: map[string]Input{
			"samples": RefTo("sampler", 0),
			"vae":     RefTo("checkpoint", 2),
		},
	})
	g.Add("save", &Node{
		Kind:  KindSaveImage,
		Title: "Save Image",
		Inputs: map[string]Input{
			"filename_prefix": Lit("genbridge_image"),
			"images":          RefTo("decode", 0),
		},
	})

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
