package provider

import "time"

// ollamaConstructor adapts a CustomConfig with engine=ollama to an
// OpenAIEngine pointed at Ollama's OpenAI-compatible /v1 endpoint
// (https://github.com/ollama/ollama/blob/main/docs/openai.md). Ollama
// doesn't require an API key; cfg.APIKeyEnv is honored if set so a
// gateway in front of Ollama can still require one.
const defaultOllamaBaseURL = "http://localhost:11434/v1"

func ollamaConstructor(cfg CustomConfig, modelName string) (Provider, error) {
	key := envOrEmpty(cfg.APIKeyEnv)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	limit := 0
	for _, m := range cfg.Models {
		if m.Name == modelName {
			limit = m.ContextLimit
			break
		}
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return NewOpenAIEngine(key, baseURL, modelName, 4096, limit, cfg.Headers, timeout), nil
}
