package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WECOM_CORP_ID", "wwtestcorp")
	t.Setenv("WECOM_AGENT_ID", "1000002")
	t.Setenv("WECOM_SECRET", "app-secret")
	t.Setenv("WECOM_TOKEN", "callback-token")
	t.Setenv("WECOM_ENCODING_AES_KEY", strings.Repeat("a", 43))
	t.Setenv("OPENAI_API_BASE", "https://dashscope.example.com/v1")
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestLoadFromEnvironment(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, "wwtestcorp", cfg.Wecom.CorpID)
	assert.Equal(t, int64(1000002), cfg.Wecom.AgentID)
	assert.Equal(t, DefaultWecomAPIBase, cfg.Wecom.APIBase)
	assert.Equal(t, DefaultLLMModel, cfg.LLM.Model)
	assert.Equal(t, DefaultVisionModel, cfg.LLM.VisionModel)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, DefaultQdrantPort, cfg.Qdrant.Port)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, 32, cfg.Dispatch.MaxConcurrentTasks)
	assert.Equal(t, 5, cfg.Dispatch.MaxIterations)
}

func TestLoadMissingCredentialsFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WECOM_CORP_ID", "")

	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadRejectsBadEncodingAESKeyLength(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WECOM_ENCODING_AES_KEY", "too-short")

	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestLoadTOMLFileWithEnvOverride(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	doc := `
[server]
addr = ":9001"

[llm]
model = "qwen-plus"

[dispatch]
max_concurrent_tasks = 8
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	t.Setenv("LLM_MODEL_NAME", "qwen-turbo")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9001", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Dispatch.MaxConcurrentTasks)
	// Environment wins over the file.
	assert.Equal(t, "qwen-turbo", cfg.LLM.Model)
}

func TestLoadRejectsNonPositiveLimits(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_CONCURRENT_TASKS", "0")

	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
