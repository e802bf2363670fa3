package imagegen

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

// ModelsAPI подмножество *genai.Models, которым пользуется клиент. Позволяет подменять SDK в тестах.
type ModelsAPI interface {
	GenerateImages(ctx context.Context, model string, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var errNoImage = errors.New("response contains no image bytes")

// variant обработка одной модели: структурный вызов SDK, REST-тело для команды воспроизведения
// и извлечение байтов изображения из ответа.
type variant interface {
	// method REST-метод модели (predict | generateContent).
	method() string
	// body тело запроса в том виде, который ожидает REST endpoint.
	body(prompt string) any
	// generate выполняет вызов и возвращает байты первого изображения.
	generate(ctx context.Context, api ModelsAPI, model Model, prompt string) ([]byte, error)
}

var variants = map[Model]variant{
	ModelImagen:     imagenVariant{},
	ModelFlashImage: flashVariant{},
}

const (
	outputMIMEType = "image/jpeg"
	aspectRatio    = "1:1"
)

// --- Imagen (:predict) ---

type imagenVariant struct{}

type imagenRequest struct {
	Instances  []imagenInstance `json:"instances"`
	Parameters imagenParameters `json:"parameters"`
}

type imagenInstance struct {
	Prompt string `json:"prompt"`
}

type imagenParameters struct {
	SampleCount   int                 `json:"sampleCount"`
	OutputOptions imagenOutputOptions `json:"outputOptions"`
	AspectRatio   string              `json:"aspectRatio"`
}

type imagenOutputOptions struct {
	MimeType string `json:"mimeType"`
}

func (imagenVariant) method() string { return "predict" }

func (imagenVariant) config() *genai.GenerateImagesConfig {
	return &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: outputMIMEType,
		AspectRatio:    aspectRatio,
	}
}

func (imagenVariant) body(prompt string) any {
	return imagenRequest{
		Instances: []imagenInstance{{Prompt: prompt}},
		Parameters: imagenParameters{
			SampleCount:   1,
			OutputOptions: imagenOutputOptions{MimeType: outputMIMEType},
			AspectRatio:   aspectRatio,
		},
	}
}

func (v imagenVariant) generate(ctx context.Context, api ModelsAPI, model Model, prompt string) ([]byte, error) {
	resp, err := api.GenerateImages(ctx, string(model), prompt, v.config())
	if err != nil {
		return nil, err
	}
	return extractImagen(resp)
}

// extractImagen берёт байты первого сгенерированного изображения.
func extractImagen(resp *genai.GenerateImagesResponse) ([]byte, error) {
	if resp == nil || len(resp.GeneratedImages) == 0 {
		return nil, errNoImage
	}
	first := resp.GeneratedImages[0]
	if first == nil || first.Image == nil || len(first.Image.ImageBytes) == 0 {
		return nil, errNoImage
	}
	return first.Image.ImageBytes, nil
}

// --- Gemini Flash Image (:generateContent) ---

type flashVariant struct{}

// В REST поле опций называется generationConfig, в SDK config.
type flashRequest struct {
	Contents         []flashContent        `json:"contents"`
	GenerationConfig flashGenerationConfig `json:"generationConfig"`
}

type flashContent struct {
	Parts []flashPart `json:"parts"`
}

type flashPart struct {
	Text string `json:"text"`
}

type flashGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

var flashModalities = []string{"IMAGE", "TEXT"}

func (flashVariant) method() string { return "generateContent" }

func (flashVariant) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseModalities: append([]string(nil), flashModalities...),
	}
}

func (flashVariant) body(prompt string) any {
	return flashRequest{
		Contents:         []flashContent{{Parts: []flashPart{{Text: prompt}}}},
		GenerationConfig: flashGenerationConfig{ResponseModalities: append([]string(nil), flashModalities...)},
	}
}

func (v flashVariant) generate(ctx context.Context, api ModelsAPI, model Model, prompt string) ([]byte, error) {
	resp, err := api.GenerateContent(ctx, string(model), genai.Text(prompt), v.config())
	if err != nil {
		return nil, err
	}
	return extractFlash(resp)
}

// extractFlash берёт первую inline-часть с данными у первого кандидата.
func extractFlash(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errNoImage
	}
	first := resp.Candidates[0]
	if first == nil || first.Content == nil {
		return nil, errNoImage
	}
	for _, part := range first.Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, nil
		}
	}
	return nil, errNoImage
}
