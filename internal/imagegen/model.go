package imagegen

import (
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Model идентификатор бэкенда генерации изображений. Набор закрыт: см. Catalog.
type Model string

const (
	// ModelImagen «качественная» модель, endpoint :predict.
	ModelImagen Model = "imagen-4.0-generate-001"
	// ModelFlashImage «быстрая» модель, endpoint :generateContent.
	ModelFlashImage Model = "gemini-2.5-flash-image-preview"
)

// ModelInfo описание модели для селектора в UI и в CLI.
type ModelInfo struct {
	ID    Model  `json:"id"`
	Label string `json:"label"`
	Alias string `json:"alias"`
}

var catalog = []ModelInfo{
	{ID: ModelImagen, Label: "Imagen 4 (high quality)", Alias: "quality"},
	{ID: ModelFlashImage, Label: "Gemini 2.5 Flash Image (fast)", Alias: "fast"},
}

// Catalog возвращает копию списка поддерживаемых моделей в порядке отображения.
func Catalog() []ModelInfo {
	return slices.Clone(catalog)
}

// ParseModel принимает идентификатор модели или её алиас (quality|fast).
func ParseModel(s string) (Model, bool) {
	s = strings.TrimSpace(s)
	info, ok := lo.Find(catalog, func(m ModelInfo) bool {
		return string(m.ID) == s || strings.EqualFold(m.Alias, s)
	})
	return info.ID, ok
}

func (m Model) Supported() bool {
	return lo.ContainsBy(catalog, func(i ModelInfo) bool { return i.ID == m })
}

func (m Model) String() string { return string(m) }
