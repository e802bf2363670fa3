package main

import (
	"ImagenStudio/internal/config"
	"ImagenStudio/internal/imagefile"
	"ImagenStudio/internal/imagegen"
	"ImagenStudio/internal/logger"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// generator то, что CLI использует от imagegen.Client.
type generator interface {
	Generate(ctx context.Context, prompt string, model imagegen.Model, apiKey string) (imagegen.Result, error)
	Command(prompt string, model imagegen.Model, apiKey string) (string, error)
}

type clientFactory func(opts imagegen.Options, logger *zap.SugaredLogger) generator

// Разовая генерация изображения из терминала:
//
//	imagegen -prompt "a red cube" -model fast -out cube.jpg
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	newClient := func(opts imagegen.Options, l *zap.SugaredLogger) generator { return imagegen.New(opts, l) }
	if err := run(ctx, os.Args[1:], os.Stdout, newClient); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, newClient clientFactory) error {
	fs := flag.NewFlagSet("imagegen", flag.ContinueOnError)
	fs.SetOutput(out)
	prompt := fs.String("prompt", "", "текст промпта (можно передать и позиционными аргументами)")
	modelFlag := fs.String("model", "", "модель: imagen-4.0-generate-001|gemini-2.5-flash-image-preview или quality|fast")
	apiKey := fs.String("api-key", "", "API ключ для этого запроса (иначе GEMINI_API_KEY)")
	outPath := fs.String("out", "image.jpg", "куда сохранить изображение; формат по расширению (.jpg|.png)")
	maxWidth := fs.Int("max-width", 0, "уменьшить изображение до этой ширины (0: как есть)")
	timeout := fs.Duration("timeout", 0, "таймаут вызова, напр. 60s (0: из конфигурации)")
	dryRun := fs.Bool("dry-run", false, "только напечатать curl-команду, без вызова модели")

	cfg, err := config.Load(fs, args)
	if err != nil {
		return err
	}

	text := *prompt
	if text == "" {
		text = strings.Join(fs.Args(), " ")
	}
	if err := imagegen.ValidatePrompt(text); err != nil {
		return err
	}

	model := cfg.ImageGen.Model()
	if *modelFlag != "" {
		m, ok := imagegen.ParseModel(*modelFlag)
		if !ok {
			return fmt.Errorf("unsupported model %q", *modelFlag)
		}
		model = m
	}

	opts := cfg.ImageGen.Options()
	if *timeout > 0 {
		opts.Timeout = *timeout
	}

	var sugar *zap.SugaredLogger
	if cfg.DebugMode {
		if sugar, err = logger.New(true); err != nil {
			return err
		}
		defer func() { _ = sugar.Sync() }()
	} else {
		sugar = zap.NewNop().Sugar()
	}
	client := newClient(opts, sugar)

	title := color.New(color.FgCyan, color.Bold)
	if *dryRun {
		cmd, err := client.Command(text, model, *apiKey)
		if err != nil {
			return err
		}
		title.Fprintln(out, "Reproduction command:")
		fmt.Fprintln(out, cmd)
		return nil
	}

	color.New(color.FgYellow).Fprintf(out, "Generating with %s...\n", model)
	started := time.Now()
	res, err := client.Generate(ctx, text, model, *apiKey)
	if err != nil {
		var ge *imagegen.Error
		if errors.As(err, &ge) {
			return fmt.Errorf("%s [%s]", ge.Message, ge.Kind)
		}
		return err
	}

	data, err := imagegen.DecodeDataURI(res.ImageURL)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	saved, err := imagefile.NewWriter(*maxWidth).Write(*outPath, data)
	if err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	color.New(color.FgGreen).Fprintf(out, "Saved %s (%dx%d, %s, %d bytes) in %s\n",
		saved.Path, saved.Width, saved.Height, saved.MimeType, saved.SizeBytes, time.Since(started).Round(time.Millisecond))
	title.Fprintln(out, "Reproduction command:")
	fmt.Fprintln(out, res.Command)
	fmt.Fprintf(out, "API key used: %s\n", opts.KeyPolicy.Visible(res.APIKey))
	return nil
}
