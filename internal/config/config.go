package config

import (
	"ImagenStudio/internal/imagegen"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

type Config struct {
	DebugMode bool `env:"DEBUG_MODE"` // Режим дебага: development-логгер zap

	HTTP     HTTPConfig
	ImageGen ImageGenConfig
}

// HTTPConfig настройки веб-сервера.
type HTTPConfig struct {
	BindAddr        string        `env:"HTTP_BIND_ADDR"`        // Адрес слушателя, напр. 127.0.0.1:8080
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT"` // Сколько ждать активные запросы при остановке
}

// ImageGenConfig настройки клиента генерации изображений.
type ImageGenConfig struct {
	APIKey         string        `env:"GEMINI_API_KEY"`           // Ключ по умолчанию. Пустой допустим: тогда ключ обязан прислать пользователь
	BaseURL        string        `env:"IMAGEGEN_BASE_URL"`        // Базовый адрес Gemini API
	RequestTimeout time.Duration `env:"IMAGEGEN_REQUEST_TIMEOUT"` // Таймаут одного вызова модели
	KeyPolicy      string        `env:"IMAGEGEN_KEY_POLICY"`      // embed|redact: как ключ попадает в curl-команду
	DefaultModel   string        `env:"IMAGEGEN_DEFAULT_MODEL"`   // Модель, выбранная в селекторе изначально (id или quality|fast)
}

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	return &Config{
		DebugMode: false,
		HTTP: HTTPConfig{
			BindAddr:        "127.0.0.1:8080",
			ShutdownTimeout: 5 * time.Second,
		},
		ImageGen: ImageGenConfig{
			BaseURL:        imagegen.DefaultBaseURL,
			RequestTimeout: 90 * time.Second,
			KeyPolicy:      string(imagegen.KeyPolicyEmbed),
			DefaultModel:   string(imagegen.ModelImagen),
		},
	}
}

// Load собирает конфигурацию: дефолты, затем .env (envFiles, по умолчанию ./.env),
// переменные окружения и флаги из args. Флаги регистрируются в fs, поэтому вызывающий
// может добавить в тот же fs свои.
func Load(fs *flag.FlagSet, args []string, envFiles ...string) (*Config, error) {
	// .env не обязателен; уже выставленные переменные окружения он не перекрывает
	_ = godotenv.Load(envFiles...)

	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfig загружает конфигурацию приложения из аргументов командной строки процесса.
func NewConfig() *Config {
	cfg, err := Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) bindFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.DebugMode, "debug-mode", c.DebugMode, "включить режим дебага (подробные логи)")
	// HTTP
	fs.StringVar(&c.HTTP.BindAddr, "http-bind-addr", c.HTTP.BindAddr, "адрес для прослушивания веб-сервера (напр. 127.0.0.1:8080)")
	fs.DurationVar(&c.HTTP.ShutdownTimeout, "http-shutdown-timeout", c.HTTP.ShutdownTimeout, "сколько ждать активные запросы при остановке, напр. 5s")
	// Генерация изображений
	fs.StringVar(&c.ImageGen.APIKey, "gemini-api-key", c.ImageGen.APIKey, "API ключ Gemini по умолчанию (перекрывает ENV GEMINI_API_KEY)")
	fs.StringVar(&c.ImageGen.BaseURL, "imagegen-base-url", c.ImageGen.BaseURL, "базовый адрес Gemini API")
	fs.DurationVar(&c.ImageGen.RequestTimeout, "imagegen-request-timeout", c.ImageGen.RequestTimeout, "таймаут одного вызова модели, напр. 90s")
	fs.StringVar(&c.ImageGen.KeyPolicy, "imagegen-key-policy", c.ImageGen.KeyPolicy, "ключ в curl-команде: embed|redact")
	fs.StringVar(&c.ImageGen.DefaultModel, "imagegen-default-model", c.ImageGen.DefaultModel, "модель по умолчанию: imagen-4.0-generate-001|gemini-2.5-flash-image-preview (или quality|fast)")
}

// Validate проверяет все поля и возвращает все найденные ошибки разом.
func (c *Config) Validate() error {
	var result *multierror.Error

	if strings.TrimSpace(c.HTTP.BindAddr) == "" {
		result = multierror.Append(result, errors.New("http bind address must not be empty"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("http shutdown timeout must be positive, got %s", c.HTTP.ShutdownTimeout))
	}
	if c.ImageGen.RequestTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("imagegen request timeout must be positive, got %s", c.ImageGen.RequestTimeout))
	}
	if u, err := url.Parse(c.ImageGen.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("imagegen base url %q must be an absolute http(s) url", c.ImageGen.BaseURL))
	}
	if _, err := imagegen.ParseKeyPolicy(c.ImageGen.KeyPolicy); err != nil {
		result = multierror.Append(result, err)
	}
	if _, ok := imagegen.ParseModel(c.ImageGen.DefaultModel); !ok {
		result = multierror.Append(result, fmt.Errorf("unknown default model %q", c.ImageGen.DefaultModel))
	}

	return result.ErrorOrNil()
}

// Options параметры клиента imagegen. Вызывается после Validate.
func (c ImageGenConfig) Options() imagegen.Options {
	policy, _ := imagegen.ParseKeyPolicy(c.KeyPolicy)
	return imagegen.Options{
		DefaultAPIKey: strings.TrimSpace(c.APIKey),
		BaseURL:       strings.TrimRight(c.BaseURL, "/"),
		Timeout:       c.RequestTimeout,
		KeyPolicy:     policy,
	}
}

// Model модель по умолчанию; для некорректного значения Imagen.
func (c ImageGenConfig) Model() imagegen.Model {
	if m, ok := imagegen.ParseModel(c.DefaultModel); ok {
		return m
	}
	return imagegen.ModelImagen
}
