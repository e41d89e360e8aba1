// Пакет metadata — формирование XML-документа CrossRef deposit для DOI.
// Шаблон загружается один раз за время жизни процесса, рендеринг — чистая
// функция без I/O и без состояния (кроме монотонных часов batch ID).
package metadata

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed crossref_metadata_template.xml
var defaultTemplate string

// Плейсхолдеры шаблона.
const (
	phDepositor      = "${depositor}"
	phDepositorEmail = "${depositorEmail}"
	phTitle          = "${title}"
	phInstitution    = "${institution}"
	phBatchID        = "${batchId}"
	phTimestamp      = "${timestamp}"
	phDatasets       = "${datasets}"
)

// requiredPlaceholders — плейсхолдеры, без которых документ не будет валидным deposit.
var requiredPlaceholders = []string{phBatchID, phTimestamp, phDatasets}

// Template — загруженный шаблон CrossRef deposit.
type Template struct {
	body string
}

// DefaultTemplate возвращает встроенный шаблон.
func DefaultTemplate() (*Template, error) {
	return parseTemplate(defaultTemplate, "embedded")
}

// LoadTemplate загружает шаблон из файла.
// Пустой path — используется встроенный шаблон.
func LoadTemplate(path string) (*Template, error) {
	if path == "" {
		return DefaultTemplate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &RenderError{Reason: fmt.Sprintf("чтение шаблона %s", path), Err: err}
	}
	return parseTemplate(string(data), path)
}

// parseTemplate проверяет наличие обязательных плейсхолдеров.
func parseTemplate(body, source string) (*Template, error) {
	if strings.TrimSpace(body) == "" {
		return nil, &RenderError{Reason: fmt.Sprintf("шаблон %s пуст", source)}
	}
	for _, ph := range requiredPlaceholders {
		if !strings.Contains(body, ph) {
			return nil, &RenderError{Reason: fmt.Sprintf("в шаблоне %s отсутствует плейсхолдер %s", source, ph)}
		}
	}
	return &Template{body: body}, nil
}

// RenderError — шаблон недоступен или некорректен, документ сформировать нельзя.
type RenderError struct {
	Reason string
	Err    error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return "ошибка формирования метаданных: " + e.Reason + ": " + e.Err.Error()
	}
	return "ошибка формирования метаданных: " + e.Reason
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
