package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roadbotai/roadbot/internal/chat"
)

// greenChannelCategories is the closed label set the classifier must
// pick from. The allow-listed subset comes from the startup document.
var greenChannelCategories = []string{
	"新鲜蔬菜",
	"新鲜水果",
	"鲜活水产品",
	"活的畜禽",
	"新鲜的肉蛋奶",
	"其他",
}

// GreenChannelList is the curated eligibility document: exact item
// names plus the allow-listed category subset. Read-only after load.
type GreenChannelList struct {
	Items      []string `yaml:"items"`
	Categories []string `yaml:"categories"`

	itemSet     map[string]struct{}
	categorySet map[string]struct{}
}

// LoadGreenChannelList reads and indexes the eligibility document.
func LoadGreenChannelList(path string) (*GreenChannelList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read green channel list: %w", err)
	}
	var list GreenChannelList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse green channel list: %w", err)
	}
	list.index()
	return &list, nil
}

func (l *GreenChannelList) index() {
	l.itemSet = make(map[string]struct{}, len(l.Items))
	for _, item := range l.Items {
		l.itemSet[strings.TrimSpace(item)] = struct{}{}
	}
	l.categorySet = make(map[string]struct{}, len(l.Categories))
	for _, category := range l.Categories {
		l.categorySet[strings.TrimSpace(category)] = struct{}{}
	}
}

func (l *GreenChannelList) hasItem(name string) bool {
	_, ok := l.itemSet[name]
	return ok
}

func (l *GreenChannelList) hasCategory(name string) bool {
	_, ok := l.categorySet[name]
	return ok
}

// ChatCompleter is the categorization completion call.
type ChatCompleter interface {
	Chat(ctx context.Context, req chat.Request) (chat.Response, error)
}

// GreenChannelTool answers whether an item qualifies for toll-free
// green-channel transport. Exact allow-list hits are answered without
// any model call; unknown items fall back to a single categorization
// call whose extracted text is tested against the allowed categories.
type GreenChannelTool struct {
	list      *GreenChannelList
	completer ChatCompleter
	model     string
	logger    *slog.Logger
}

func NewGreenChannelTool(log *slog.Logger, list *GreenChannelList, completer ChatCompleter, model string) *GreenChannelTool {
	if log == nil {
		log = slog.Default()
	}
	return &GreenChannelTool{
		list:      list,
		completer: completer,
		model:     model,
		logger:    log.With(slog.String("tool", "green_channel")),
	}
}

func (t *GreenChannelTool) Name() string { return "check_green_channel_status" }

func (t *GreenChannelTool) Description() string {
	return "查询某种货物是否属于高速公路绿色通道（鲜活农产品）免费运输范围。传入货物名称，返回 true 或 false。"
}

func (t *GreenChannelTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"item": map[string]any{
				"type":        "string",
				"description": "货物名称，例如：苹果",
			},
		},
		"required": []string{"item"},
	}
}

func (t *GreenChannelTool) Timeout() time.Duration { return 30 * time.Second }

func (t *GreenChannelTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	item := strings.TrimSpace(GetString(params, "item", ""))
	if item == "" {
		return "", fmt.Errorf("item is required")
	}
	eligible, err := t.CheckGreenChannelStatus(ctx, item)
	if err != nil {
		return "", err
	}
	if eligible {
		return "true", nil
	}
	return "false", nil
}

// CheckGreenChannelStatus reports eligibility for one item name.
func (t *GreenChannelTool) CheckGreenChannelStatus(ctx context.Context, item string) (bool, error) {
	if t.list.hasItem(item) {
		t.logger.Debug("exact allow-list hit", slog.String("item", item))
		return true, nil
	}

	category, err := t.classify(ctx, item)
	if err != nil {
		return false, fmt.Errorf("classify %q: %w", item, err)
	}
	eligible := t.list.hasCategory(category)
	t.logger.Debug("category fallback",
		slog.String("item", item),
		slog.String("category", category),
		slog.Bool("eligible", eligible),
	)
	return eligible, nil
}

func (t *GreenChannelTool) classify(ctx context.Context, item string) (string, error) {
	prompt := fmt.Sprintf(
		"将下列货物归入且仅归入以下类别之一：%s。只输出类别名称，不要输出任何其他内容。\n货物：%s",
		strings.Join(greenChannelCategories, "、"), item,
	)
	resp, err := t.completer.Chat(ctx, chat.Request{
		Model:    t.model,
		Messages: []chat.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	// Compare the extracted response text, not the response object.
	return strings.TrimSpace(resp.Content), nil
}
