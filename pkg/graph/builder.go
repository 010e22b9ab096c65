package graph

import (
	"fmt"
	"math/rand"

	"github.com/avelaz/genbridge/pkg/models"
)

// Operation kinds understood by the rendering engine
const (
	KindLoadImage       = "LoadImage"
	KindCheckpoint      = "CheckpointLoaderSimple"
	KindModelSampling   = "ModelSamplingSD3"
	KindFloat           = "Float"
	KindResolution      = "ResolutionMaster"
	KindImageResize     = "ImageResizeKJv2"
	KindPrimitiveInt    = "PrimitiveInt"
	KindVACEFrame       = "WanVideoVACEStartToEndFrame"
	KindCLIPTextEncode  = "CLIPTextEncode"
	KindText            = "CR Text"
	KindVaceToVideo     = "WanVaceToVideo"
	KindKSampler        = "KSampler"
	KindVAEDecode       = "VAEDecode"
	KindImageRange      = "GetImageRangeFromBatch"
	KindImageFromBatch  = "ImageFromBatch"
	KindImageBatchMulti = "ImageBatchMulti"
	KindColorMatch      = "ColorMatch"
	KindVideoCombine    = "VHS_VideoCombine"
	KindEmptyLatent     = "EmptyLatentImage"
	KindSaveImage       = "SaveImage"
)

const (
	// SegmentDuration is the fixed length of one generation segment in seconds
	SegmentDuration = 5

	// SeedStride separates per-segment seeds far enough to avoid
	// correlated noise while staying reproducible from one base seed
	SeedStride = 1_000_000

	minDimension = 256
	maxDimension = 1920
	minFrameRate = 8
	maxFrameRate = 30

	minOverlap = 8
	maxOverlap = 24

	defaultSteps = 4

	videoCheckpoint = "wan2.2-rapid-mega-aio-v12.safetensors"
)

// Shared base node ids
const (
	nodeStartImage    NodeID = "start_image"
	nodeCheckpoint    NodeID = "checkpoint"
	nodeModelSampling NodeID = "model_sampling"
	nodeFrameRate     NodeID = "frame_rate"
	nodeResolution    NodeID = "resolution"
	nodeResize        NodeID = "resize"
	nodeSteps         NodeID = "steps"
	nodeColorMatch    NodeID = "color_match"
	nodeVideoOut      NodeID = "video_out"
)

// SegmentFrames returns the frame count of one segment body at the given
// frame rate. The 16fps case is pinned to 81 frames: the nominal 80 loses
// a trailing frame in container packaging, shortening the merged timeline.
func SegmentFrames(frameRate int) int {
	if frameRate == 16 {
		return 81
	}
	return SegmentDuration * frameRate
}

// OverlapFrames returns the continuity window carried between segments:
// roughly one second of footage, bounded to stay useful at extreme rates.
func OverlapFrames(frameRate int) int {
	n := frameRate
	if n < minOverlap {
		n = minOverlap
	}
	if n > maxOverlap {
		n = maxOverlap
	}
	return n
}

// SegmentSeeds derives one distinct, strictly increasing seed per segment
func SegmentSeeds(base int64, n int) []int64 {
	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = base + int64(i)*SeedStride
	}
	return seeds
}

// segmentCluster is the per-segment node lookup table. Cross-segment
// references are resolved through these ids, never through arithmetic
// on embedded numbers.
type segmentCluster struct {
	Frame    NodeID // VACE start/end frame conditioning
	Negative NodeID
	Text     NodeID
	Positive NodeID
	Latent   NodeID
	Sampler  NodeID
	Decode   NodeID
	Tail     NodeID // trailing overlap frames feeding the next segment
}

func clusterIDs(index int) segmentCluster {
	p := fmt.Sprintf("seg%d", index)
	return segmentCluster{
		Frame:    NodeID(p + "_frame"),
		Negative: NodeID(p + "_negative"),
		Text:     NodeID(p + "_text"),
		Positive: NodeID(p + "_positive"),
		Latent:   NodeID(p + "_latent"),
		Sampler:  NodeID(p + "_sampler"),
		Decode:   NodeID(p + "_decode"),
		Tail:     NodeID(p + "_tail"),
	}
}

func trimID(index int) NodeID {
	return NodeID(fmt.Sprintf("seg%d_trim", index))
}

func mergeID(index int) NodeID {
	return NodeID(fmt.Sprintf("seg%d_merge", index))
}

// BuildVideo assembles the node graph for a multi-segment image-to-video
// generation. It is pure: non-deterministic only through seed generation
// when the request carries a negative seed.
func BuildVideo(req *models.VideoRequest) (*Graph, error) {
	prompts, err := validateVideo(req)
	if err != nil {
		return nil, err
	}

	numSegments := req.Duration / SegmentDuration
	segFrames := SegmentFrames(req.FrameRate)
	overlap := OverlapFrames(req.FrameRate)

	steps := req.Steps
	if steps <= 0 {
		steps = defaultSteps
	}
	baseSeed := req.Seed
	if baseSeed < 0 {
		baseSeed = rand.Int63()
	}
	seeds := SegmentSeeds(baseSeed, numSegments)

	g := New()
	addVideoBaseNodes(g, req, steps)

	clusters := make([]segmentCluster, numSegments)
	for i := 0; i < numSegments; i++ {
		clusters[i] = clusterIDs(i)
		var startImage Input
		if i == 0 {
			startImage = RefTo(nodeResize, 0)
		} else {
			startImage = RefTo(clusters[i-1].Tail, 0)
		}
		addSegment(g, clusters[i], segmentParams{
			index:      i,
			seed:       seeds[i],
			prompt:     prompts[i],
			negative:   req.NegativePrompt,
			segFrames:  segFrames,
			overlap:    overlap,
			startImage: startImage,
		})
	}

	encoderInput := RefTo(clusters[0].Decode, 0)
	if numSegments > 1 {
		// Trim each later segment's overlap region, then fold the segments
		// into one running sequence in order.
		merged := RefTo(clusters[0].Decode, 0)
		for i := 1; i < numSegments; i++ {
			g.Add(trimID(i), &Node{
				Kind:  KindImageFromBatch,
				Title: fmt.Sprintf("Trim Start %d", i),
				Inputs: map[string]Input{
					"batch_index": Lit(overlap),
					"length":      Lit(segFrames),
					"image":       RefTo(clusters[i].Decode, 0),
				},
			})
			g.Add(mergeID(i), &Node{
				Kind:  KindImageBatchMulti,
				Title: fmt.Sprintf("Merge 0-%d", i),
				Inputs: map[string]Input{
					"inputcount": Lit(2),
					"image_1":    merged,
					"image_2":    RefTo(trimID(i), 0),
				},
			})
			merged = RefTo(mergeID(i), 0)
		}

		// Global color-consistency pass against the original input image
		g.Add(nodeColorMatch, &Node{
			Kind:  KindColorMatch,
			Title: "Color Match",
			Inputs: map[string]Input{
				"method":       Lit("mkl"),
				"strength":     Lit(1),
				"multithread":  Lit(true),
				"image_ref":    RefTo(nodeStartImage, 0),
				"image_target": merged,
			},
		})
		encoderInput = RefTo(nodeColorMatch, 0)
	}

	g.Add(nodeVideoOut, &Node{
		Kind:  KindVideoCombine,
		Title: "Video Output",
		Inputs: map[string]Input{
			"frame_rate":      RefTo(nodeFrameRate, 0),
			"loop_count":      Lit(0),
			"filename_prefix": Lit("genbridge_video"),
			"format":          Lit("video/h264-mp4"),
			"pix_fmt":         Lit("yuv420p"),
			"crf":             Lit(19),
			"save_metadata":   Lit(true),
			"trim_to_audio":   Lit(false),
			"pingpong":        Lit(false),
			"save_output":     Lit(true),
			"images":          encoderInput,
		},
	})

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("assembled graph failed validation: %w", err)
	}
	return g, nil
}

func addVideoBaseNodes(g *Graph, req *models.VideoRequest, steps int) {
	g.Add(nodeStartImage, &Node{
		Kind:   KindLoadImage,
		Title:  "Start Frame",
		Inputs: map[string]Input{"image": Lit(req.ImageFilename)},
	})
	g.Add(nodeCheckpoint, &Node{
		Kind:   KindCheckpoint,
		Title:  "Load Checkpoint",
		Inputs: map[string]Input{"ckpt_name": Lit(videoCheckpoint)},
	})
	g.Add(nodeModelSampling, &Node{
		Kind:  KindModelSampling,
		Title: "ModelSampling",
		Inputs: map[string]Input{
			"shift": Lit(8),
			"model": RefTo(nodeCheckpoint, 0),
		},
	})
	g.Add(nodeFrameRate, &Node{
		Kind:   KindFloat,
		Title:  "Frame Rate",
		Inputs: map[string]Input{"value": Lit(req.FrameRate)},
	})
	g.Add(nodeResolution, &Node{
		Kind:  KindResolution,
		Title: "Resolution Master",
		Inputs: map[string]Input{
			"mode":         Lit("Manual"),
			"width":        Lit(req.Width),
			"height":       Lit(req.Height),
			"auto_detect":  Lit(true),
			"rescale_mode": Lit("resolution"),
			"input_image":  RefTo(nodeStartImage, 0),
		},
	})
	g.Add(nodeResize, &Node{
		Kind:  KindImageResize,
		Title: "Resize Image",
		Inputs: map[string]Input{
			"width":           RefTo(nodeResolution, 0),
			"height":          RefTo(nodeResolution, 1),
			"upscale_method":  Lit("nearest-exact"),
			"keep_proportion": Lit("stretch"),
			"pad_color":       Lit("0, 0, 0"),
			"crop_position":   Lit("center"),
			"divisible_by":    Lit(2),
			"device":          Lit("cpu"),
			"image":           RefTo(nodeStartImage, 0),
		},
	})
	g.Add(nodeSteps, &Node{
		Kind:   KindPrimitiveInt,
		Title:  "Steps",
		Inputs: map[string]Input{"value": Lit(steps)},
	})
}

type segmentParams struct {
	index      int
	seed       int64
	prompt     string
	negative   string
	segFrames  int
	overlap    int
	startImage Input
}

func addSegment(g *Graph, c segmentCluster, p segmentParams) {
	// Segment 0 renders exactly the segment body. Every later segment also
	// reproduces the overlap region for continuity; those frames are trimmed
	// away before the merge, never reaching the encoder.
	frames := p.segFrames
	emptyLevel := 0.5
	if p.index > 0 {
		frames += p.overlap
		emptyLevel = 0.2
	}

	g.Add(c.Frame, &Node{
		Kind:  KindVACEFrame,
		Title: fmt.Sprintf("VACE Frame %d", p.index),
		Inputs: map[string]Input{
			"num_frames":        Lit(frames),
			"empty_frame_level": Lit(emptyLevel),
			"start_index":       Lit(0),
			"end_index":         Lit(-1),
			"start_image":       p.startImage,
		},
	})
	g.Add(c.Negative, &Node{
		Kind:  KindCLIPTextEncode,
		Title: "Negative Prompt",
		Inputs: map[string]Input{
			"text": Lit(p.negative),
			"clip": RefTo(nodeCheckpoint, 1),
		},
	})
	g.Add(c.Text, &Node{
		Kind:   KindText,
		Title:  fmt.Sprintf("Prompt %d", p.index),
		Inputs: map[string]Input{"text": Lit(p.prompt)},
	})
	g.Add(c.Positive, &Node{
		Kind:  KindCLIPTextEncode,
		Title: "Positive Prompt",
		Inputs: map[string]Input{
			"text": RefTo(c.Text, 0),
			"clip": RefTo(nodeCheckpoint, 1),
		},
	})
	g.Add(c.Latent, &Node{
		Kind:  KindVaceToVideo,
		Title: "VaceToVideo",
		Inputs: map[string]Input{
			"width":         RefTo(nodeResize, 1),
			"height":        RefTo(nodeResize, 2),
			"length":        Lit(frames),
			"batch_size":    Lit(1),
			"strength":      Lit(1),
			"positive":      RefTo(c.Positive, 0),
			"negative":      RefTo(c.Negative, 0),
			"vae":           RefTo(nodeCheckpoint, 2),
			"control_video": RefTo(c.Frame, 0),
			"control_masks": RefTo(c.Frame, 1),
		},
	})
	g.Add(c.Sampler, &Node{
		Kind:  KindKSampler,
		Title: "Sampler",
		Inputs: map[string]Input{
			"seed":         Lit(p.seed),
			"steps":        RefTo(nodeSteps, 0),
			"cfg":          Lit(1),
			"sampler_name": Lit("ipndm"),
			"scheduler":    Lit("sgm_uniform"),
			"denoise":      Lit(1),
			"model":        RefTo(nodeModelSampling, 0),
			"positive":     RefTo(c.Latent, 0),
			"negative":     RefTo(c.Latent, 1),
			"latent_image": RefTo(c.Latent, 2),
		},
	})
	g.Add(c.Decode, &Node{
		Kind:  KindVAEDecode,
		Title: "VAE Decode",
		Inputs: map[string]Input{
			"samples": RefTo(c.Sampler, 0),
			"vae":     RefTo(nodeCheckpoint, 2),
		},
	})
	g.Add(c.Tail, &Node{
		Kind:  KindImageRange,
		Title: "Get End Frames",
		Inputs: map[string]Input{
			"start_index": Lit(frames - p.overlap),
			"num_frames":  Lit(p.overlap),
			"images":      RefTo(c.Decode, 0),
		},
	})
}

// validateVideo rejects malformed requests before any node is emitted.
// It returns the normalized per-segment prompt list.
func validateVideo(req *models.VideoRequest) ([]string, error) {
	if req.Duration <= 0 {
		return nil, &models.InvalidRequestError{Field: "duration", Reason: "must be positive"}
	}
	if req.Duration%SegmentDuration != 0 {
		return nil, &models.InvalidRequestError{
			Field:  "duration",
			Reason: fmt.Sprintf("must be a multiple of %d seconds", SegmentDuration),
		}
	}
	if req.Width < minDimension || req.Width > maxDimension {
		return nil, &models.InvalidRequestError{
			Field:  "width",
			Reason: fmt.Sprintf("must be between %d and %d", minDimension, maxDimension),
		}
	}
	if req.Height < minDimension || req.Height > maxDimension {
		return nil, &models.InvalidRequestError{
			Field:  "height",
			Reason: fmt.Sprintf("must be between %d and %d", minDimension, maxDimension),
		}
	}
	if req.FrameRate < minFrameRate || req.FrameRate > maxFrameRate {
		return nil, &models.InvalidRequestError{
			Field:  "frame_rate",
			Reason: fmt.Sprintf("must be between %d and %d", minFrameRate, maxFrameRate),
		}
	}
	if req.ImageFilename == "" {
		return nil, &models.InvalidRequestError{Field: "image_filename", Reason: "is required"}
	}

	numSegments := req.Duration / SegmentDuration
	switch {
	case req.Prompt != "" && len(req.Prompts) > 0:
		return nil, &models.InvalidRequestError{
			Field: "prompt", Reason: "prompt and prompts are mutually exclusive",
		}
	case req.Prompt != "":
		prompts := make([]string, numSegments)
		for i := range prompts {
			prompts[i] = req.Prompt
		}
		return prompts, nil
	case len(req.Prompts) > 0:
		if len(req.Prompts) != numSegments {
			return nil, &models.InvalidRequestError{
				Field: "prompts",
				Reason: fmt.Sprintf("%d prompts supplied but %ds video has %d segments",
					len(req.Prompts), req.Duration, numSegments),
			}
		}
		return req.Prompts, nil
	default:
		return nil, &models.InvalidRequestError{Field: "prompt", Reason: "is required"}
	}
}
