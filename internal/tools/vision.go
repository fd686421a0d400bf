package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roadbotai/roadbot/internal/media"
)

// visionPrompt instructs the vision model to describe, not interpret.
// The description becomes the reasoning step's only fact source.
const visionPrompt = `你是一个专业的视觉分析引擎。你的任务是精确、客观地描述所提供的图片或视频内容。请严格遵循以下规则：

1. **识别核心元素**：清晰地列出图片或视频中的所有关键元素，包括：
   * **人物**：数量、大致年龄、性别、着装、姿态、表情和正在做的动作。
   * **物体**：主要和次要的物体，以及它们的品牌、状态或特征。
   * **场景**：描述环境是在室内还是室外，是城市街道、自然风光、办公室还是其他特定地点。
   * **文字**：识别并提取任何清晰可见的文字、标志或符号。

2. **描述动态行为（仅视频）**：如果输入是视频，请按时间顺序简要概括发生的核心事件、人物的主要行为和场景的显著变化。

3. **保持客观中立**：只描述你看到的客观事实。请勿进行任何主观解读、情感猜测、背景联想或价值判断。

4. **输出格式**：使用简洁、直接的语言，以要点形式进行描述，方便后续程序处理。

你的输出将作为后续AI任务的唯一事实来源，准确性至关重要。`

// Describer is the vision-capable completion call.
type Describer interface {
	Describe(ctx context.Context, model, mimeType string, data []byte, prompt string) (string, error)
}

// VisionTool downloads a media URL and returns the vision model's
// textual description of it. Download and analysis failures are
// returned as tool output strings, not errors, so the reasoning loop
// can decide how to answer.
type VisionTool struct {
	fetcher   *media.Fetcher
	describer Describer
	model     string
	logger    *slog.Logger
}

func NewVisionTool(log *slog.Logger, fetcher *media.Fetcher, describer Describer, model string) *VisionTool {
	if log == nil {
		log = slog.Default()
	}
	return &VisionTool{
		fetcher:   fetcher,
		describer: describer,
		model:     model,
		logger:    log.With(slog.String("tool", "vision")),
	}
}

func (t *VisionTool) Name() string { return "getMediaContentFromURL" }

func (t *VisionTool) Description() string {
	return "当需要理解图片或视频等视觉媒体的内容时，使用此工具。传入一个公开可访问的媒体资源URL，工具将返回对该媒体内容的文字描述。"
}

func (t *VisionTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"media_url": map[string]any{
				"type":        "string",
				"description": "公开可访问的媒体资源URL",
			},
		},
		"required": []string{"media_url"},
	}
}

func (t *VisionTool) Timeout() time.Duration { return 90 * time.Second }

func (t *VisionTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	mediaURL := GetString(params, "media_url", "")
	if mediaURL == "" {
		return "缺少媒体URL，无法分析。", nil
	}

	data, mimeType, err := t.fetcher.Fetch(ctx, mediaURL)
	if err != nil {
		t.logger.Warn("media download failed", slog.String("url", mediaURL), slog.Any("error", err))
		return fmt.Sprintf("下载媒体文件失败: %v", err), nil
	}
	t.logger.Debug("media downloaded",
		slog.Int("bytes", len(data)),
		slog.String("mime", mimeType),
	)

	description, err := t.describer.Describe(ctx, t.model, mimeType, data, visionPrompt)
	if err != nil {
		t.logger.Warn("media analysis failed", slog.String("url", mediaURL), slog.Any("error", err))
		return fmt.Sprintf("分析媒体内容时发生错误: %v", err), nil
	}
	return description, nil
}
