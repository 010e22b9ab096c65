package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	genImageFile  string
	genImageName  string
	genPrompt     string
	genPrompts    []string
	genNegative   string
	genDuration   int
	genWidth      int
	genHeight     int
	genFrameRate  int
	genSteps      int
	genSeed       int64
	genWait       bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Submit generation requests",
}

var generateVideoCmd = &cobra.Command{
	Use:   "video",
	Short: "Generate a video from a start image",
	Long: `Generate a video from a start image and one or more prompts.

The start image is either a local file uploaded with the request
(--image) or a file already present on the rendering engine
(--image-name). Durations over 5 seconds are rendered as chained
segments; pass one --prompts entry per 5-second segment to vary the
motion over time.

Example:
  genctl generate video --image cat.png --prompt "the cat stretches" --duration 5
  genctl generate video --image-name cat.png --duration 10 \
      --prompts "the cat stretches" --prompts "the cat curls up and sleeps"`,
	RunE: runGenerateVideo,
}

var generateImageCmd = &cobra.Command{
	Use:   "image",
	Short: "Generate a single image from a prompt",
	RunE:  runGenerateImage,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.AddCommand(generateVideoCmd)
	generateCmd.AddCommand(generateImageCmd)

	generateVideoCmd.Flags().StringVar(&genImageFile, "image", "", "local start image to upload")
	generateVideoCmd.Flags().StringVar(&genImageName, "image-name", "", "start image already on the engine")
	generateVideoCmd.Flags().StringVar(&genPrompt, "prompt", "", "prompt applied to every segment")
	generateVideoCmd.Flags().StringArrayVar(&genPrompts, "prompts", nil, "per-segment prompts (one per 5s segment)")
	generateVideoCmd.Flags().StringVar(&genNegative, "negative", "", "negative prompt")
	generateVideoCmd.Flags().IntVar(&genDuration, "duration", 5, "video duration in seconds (multiple of 5)")
	generateVideoCmd.Flags().IntVar(&genWidth, "width", 0, "render width (0 = fit to source image)")
	generateVideoCmd.Flags().IntVar(&genHeight, "height", 0, "render height (0 = fit to source image)")
	generateVideoCmd.Flags().IntVar(&genFrameRate, "fps", 16, "frame rate")
	generateVideoCmd.Flags().IntVar(&genSteps, "steps", 0, "sampling steps (0 = server default)")
	generateVideoCmd.Flags().Int64Var(&genSeed, "seed", -1, "base seed (-1 = random)")
	generateVideoCmd.Flags().BoolVar(&genWait, "wait", false, "poll until the task reaches a terminal state")

	generateImageCmd.Flags().StringVar(&genPrompt, "prompt", "", "prompt (required)")
	generateImageCmd.Flags().StringVar(&genNegative, "negative", "", "negative prompt")
	generateImageCmd.Flags().IntVar(&genWidth, "width", 1024, "image width")
	generateImageCmd.Flags().IntVar(&genHeight, "height", 1024, "image height")
	generateImageCmd.Flags().IntVar(&genSteps, "steps", 0, "sampling steps (0 = server default)")
	generateImageCmd.Flags().Int64Var(&genSeed, "seed", -1, "seed (-1 = random)")
	generateImageCmd.Flags().BoolVar(&genWait, "wait", false, "poll until the task reaches a terminal state")
	generateImageCmd.MarkFlagRequired("prompt")
}

func runGenerateVideo(cmd *cobra.Command, args []string) error {
	if genImageFile == "" && genImageName == "" {
		return fmt.Errorf("one of --image or --image-name is required")
	}
	if genImageFile != "" && genImageName != "" {
		return fmt.Errorf("--image and --image-name are mutually exclusive")
	}

	var resp *http.Response
	var err error
	if genImageFile != "" {
		resp, err = submitVideoUpload()
	} else {
		resp, err = submitVideoJSON()
	}
	if err != nil {
		return err
	}
	return handleAcceptedTask(resp)
}

func submitVideoJSON() (*http.Response, error) {
	req := map[string]interface{}{
		"duration":       genDuration,
		"width":          genWidth,
		"height":         genHeight,
		"frame_rate":     genFrameRate,
		"seed":           genSeed,
		"image_filename": genImageName,
	}
	if genPrompt != "" {
		req["prompt"] = genPrompt
	}
	if len(genPrompts) > 0 {
		req["prompts"] = genPrompts
	}
	if genNegative != "" {
		req["negative_prompt"] = genNegative
	}
	if genSteps > 0 {
		req["steps"] = genSteps
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return apiPost("/api/video/generate", "application/json", bytes.NewReader(body))
}

func submitVideoUpload() (*http.Response, error) {
	file, err := os.Open(genImageFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image", filepath.Base(genImageFile))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	fields := map[string]string{
		"duration":   strconv.Itoa(genDuration),
		"frame_rate": strconv.Itoa(genFrameRate),
		"seed":       strconv.FormatInt(genSeed, 10),
	}
	if genPrompt != "" {
		fields["prompt"] = genPrompt
	}
	if len(genPrompts) > 0 {
		encoded, err := json.Marshal(genPrompts)
		if err != nil {
			return nil, err
		}
		fields["prompts"] = string(encoded)
	}
	if genNegative != "" {
		fields["negative_prompt"] = genNegative
	}
	if genWidth > 0 {
		fields["width"] = strconv.Itoa(genWidth)
	}
	if genHeight > 0 {
		fields["height"] = strconv.Itoa(genHeight)
	}
	if genSteps > 0 {
		fields["steps"] = strconv.Itoa(genSteps)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return apiPost("/api/video/upload_and_generate", writer.FormDataContentType(), &buf)
}

func runGenerateImage(cmd *cobra.Command, args []string) error {
	req := map[string]interface{}{
		"prompt": genPrompt,
		"width":  genWidth,
		"height": genHeight,
		"seed":   genSeed,
	}
	if genNegative != "" {
		req["negative_prompt"] = genNegative
	}
	if genSteps > 0 {
		req["steps"] = genSteps
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := apiPost("/api/image/generate", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return handleAcceptedTask(resp)
}

func handleAcceptedTask(resp *http.Response) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var task taskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if !genWait {
		if IsJSONOutput() {
			fmt.Println(string(body))
			return nil
		}
		printTask(&task)
		fmt.Printf("\nTask accepted: %s\n", task.JobID)
		return nil
	}

	return followTask(task.JobID, 2*time.Second)
}
