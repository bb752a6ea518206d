package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
)

// ImageResizeTool wraps disintegration/imaging to downscale a local image
// file, primarily used so a previously-downloaded attachment fits a
// channel's outbound size limit before it's sent back out.
type ImageResizeTool struct {
	MaxWidth, MaxHeight int
}

// NewImageResizeTool builds a resize tool capping dimensions at
// maxWidth/maxHeight (0 disables that axis's cap).
func NewImageResizeTool(maxWidth, maxHeight int) *ImageResizeTool {
	return &ImageResizeTool{MaxWidth: maxWidth, MaxHeight: maxHeight}
}

func (t *ImageResizeTool) Name() string { return "image_resize" }

func (t *ImageResizeTool) Description() string {
	return "Resize a local image file to fit within given dimensions, writing a new file alongside the original."
}

func (t *ImageResizeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":   map[string]interface{}{"type": "string", "description": "Path to the source image."},
			"width":  map[string]interface{}{"type": "integer", "description": "Target width in pixels (0 = auto from height)."},
			"height": map[string]interface{}{"type": "integer", "description": "Target height in pixels (0 = auto from width)."},
		},
		"required": []string{"path"},
	}
}

func (t *ImageResizeTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("image_resize: path is required")
	}
	width := intArg(args["width"])
	height := intArg(args["height"])
	if width == 0 && t.MaxWidth > 0 {
		width = t.MaxWidth
	}
	if height == 0 && t.MaxHeight > 0 {
		height = t.MaxHeight
	}

	src, err := imaging.Open(path)
	if err != nil {
		return "", fmt.Errorf("image_resize: open %s: %w", path, err)
	}
	resized := imaging.Resize(src, width, height, imaging.Lanczos)

	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	outPath := base + "_resized" + ext
	if err := imaging.Save(resized, outPath); err != nil {
		return "", fmt.Errorf("image_resize: save %s: %w", outPath, err)
	}
	info, _ := os.Stat(outPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}
	return fmt.Sprintf("resized to %s (%d bytes)", outPath, size), nil
}

func intArg(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
