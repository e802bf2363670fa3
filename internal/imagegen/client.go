package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	// DefaultBaseURL публичный endpoint Gemini API.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	apiVersion     = "v1beta"

	dataURIPrefix = "data:image/jpeg;base64,"
)

var errTimeout = errors.New("image generation timeout")

// Options настройки клиента. DefaultAPIKey используется, если вызывающий не передал свой ключ.
type Options struct {
	DefaultAPIKey string
	BaseURL       string
	Timeout       time.Duration
	KeyPolicy     KeyPolicy
	HTTPClient    *http.Client
}

// Result успешный результат генерации.
type Result struct {
	// ImageURL изображение в виде data:image/jpeg;base64,<payload>.
	ImageURL string
	// Command curl-команда, повторяющая вызов.
	Command string
	// APIKey ключ, с которым реально выполнялся вызов.
	APIKey  string
	Model   Model
	Elapsed time.Duration
}

// ModelsFactory создаёт SDK-клиент под конкретный ключ. Ключ меняется от запроса к запросу,
// поэтому клиент SDK создаётся на каждый вызов.
type ModelsFactory func(ctx context.Context, apiKey string) (ModelsAPI, error)

// Client реализует генерацию изображений через Gemini API.
type Client struct {
	opts      Options
	newModels ModelsFactory
	logger    *zap.SugaredLogger
}

// New создаёт клиента поверх google.golang.org/genai.
func New(opts Options, logger *zap.SugaredLogger) *Client {
	return NewWithFactory(opts, GenaiFactory(opts.BaseURL, opts.HTTPClient), logger)
}

// NewWithFactory позволяет подставить свою реализацию ModelsAPI.
func NewWithFactory(opts Options, factory ModelsFactory, logger *zap.SugaredLogger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.KeyPolicy == "" {
		opts.KeyPolicy = KeyPolicyEmbed
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{opts: opts, newModels: factory, logger: logger}
}

// GenaiFactory фабрика реальных клиентов SDK (бэкенд Gemini API, ключ в заголовке x-goog-api-key).
func GenaiFactory(baseURL string, httpClient *http.Client) ModelsFactory {
	return func(ctx context.Context, apiKey string) (ModelsAPI, error) {
		cc := &genai.ClientConfig{
			APIKey:     apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: httpClient,
		}
		if baseURL != "" && baseURL != DefaultBaseURL {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
		}
		c, err := genai.NewClient(ctx, cc)
		if err != nil {
			return nil, err
		}
		return c.Models, nil
	}
}

// KeyPolicy политика показа ключа, с которой работает клиент.
func (c *Client) KeyPolicy() KeyPolicy { return c.opts.KeyPolicy }

// Command строит команду воспроизведения без выполнения вызова.
func (c *Client) Command(prompt string, model Model, apiKey string) (string, error) {
	v, ok := variants[model]
	if !ok {
		return "", configError("unsupported model %q", model)
	}
	key := ResolveAPIKey(apiKey, c.opts.DefaultAPIKey)
	cmd, err := buildCommand(endpointURL(c.opts.BaseURL, model, v.method()), c.opts.KeyPolicy.commandKey(key), v.body(prompt))
	if err != nil {
		return "", configError("%v", err)
	}
	return cmd, nil
}

// Generate выполняет ровно один вызов к модели. Любая ошибка возвращается как *Error.
func (c *Client) Generate(ctx context.Context, prompt string, model Model, apiKey string) (Result, error) {
	v, ok := variants[model]
	if !ok {
		return Result{}, configError("unsupported model %q", model)
	}
	if err := ValidatePrompt(prompt); err != nil {
		return Result{}, err
	}
	key := ResolveAPIKey(apiKey, c.opts.DefaultAPIKey)
	if key == "" {
		return Result{}, configError("no API key provided and no default key configured (GEMINI_API_KEY)")
	}

	cmd, err := c.Command(prompt, model, key)
	if err != nil {
		return Result{}, err
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.opts.Timeout, errTimeout)
		defer cancel()
	}

	api, err := c.newModels(ctx, key)
	if err != nil {
		gerr := Classify(fmt.Errorf("create genai client: %w", err))
		c.logger.Errorw("Image generation client init failed", "model", model, "kind", gerr.Kind, "error", err)
		return Result{}, gerr
	}

	started := time.Now()
	data, err := v.generate(ctx, api, model, prompt)
	if err != nil {
		var gerr *Error
		switch {
		case errors.Is(err, errNoImage):
			gerr = noOutputError(err)
		case errors.Is(err, errTimeout), errors.Is(context.Cause(ctx), errTimeout):
			gerr = timeoutError(err)
		default:
			gerr = Classify(err)
		}
		c.logger.Errorw("Image generation failed",
			"model", model,
			"kind", gerr.Kind,
			"took", time.Since(started).String(),
			"error", err,
		)
		return Result{}, gerr
	}

	res := Result{
		ImageURL: dataURIPrefix + base64.StdEncoding.EncodeToString(data),
		Command:  cmd,
		APIKey:   key,
		Model:    model,
		Elapsed:  time.Since(started),
	}
	c.logger.Infow("Image generation completed", "model", model, "bytes", len(data), "took", res.Elapsed.String())
	return res, nil
}

// DecodeDataURI возвращает байты изображения из data URI, выданного Generate.
func DecodeDataURI(uri string) ([]byte, error) {
	i := strings.Index(uri, ";base64,")
	if !strings.HasPrefix(uri, "data:") || i < 0 {
		return nil, errors.New("not a base64 data URI")
	}
	return base64.StdEncoding.DecodeString(uri[i+len(";base64,"):])
}
