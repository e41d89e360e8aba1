package metadata

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bigkaa/goartstore/doi-registrar/internal/domain/model"
)

const (
	// Unavailable — маркер отсутствующего значения (title, автор).
	Unavailable = ":unav"
	// NotApplicable — значение поля «не применимо», приходящее из метаданных датасета.
	NotApplicable = "N/A"
)

// Renderer формирует CrossRef deposit XML для датасета или файла.
// Потокобезопасен: шаблон неизменяем, часы защищены мьютексом.
type Renderer struct {
	tmpl  *Template
	clock *batchClock
}

// NewRenderer создаёт Renderer с указанным шаблоном.
func NewRenderer(tmpl *Template) *Renderer {
	return newRendererWithClock(tmpl, time.Now)
}

// newRendererWithClock позволяет подменить источник времени в тестах.
func newRendererWithClock(tmpl *Template, now func() time.Time) *Renderer {
	return &Renderer{tmpl: tmpl, clock: newBatchClock(now)}
}

// Render формирует документ для identifier (doi:10.5072/ABCD).
// baseURL — базовый URL сайта, на котором открывается landing page.
func (r *Renderer) Render(
	identifier string,
	obj *model.ContentObject,
	depositor, depositorEmail, institution, baseURL string,
) (string, error) {
	if r == nil || r.tmpl == nil {
		return "", &RenderError{Reason: "шаблон не загружен"}
	}
	if obj == nil {
		return "", &RenderError{Reason: "объект для идентификатора " + identifier + " не задан"}
	}

	doi := model.Suffix(identifier)
	title := documentTitle(obj)
	timestamp := r.clock.Timestamp()

	datasets := datasetElement(doi, title, obj.Dataset().Authors, baseURL)

	replacer := strings.NewReplacer(
		phDepositor, depositor,
		phDepositorEmail, depositorEmail,
		phTitle, title,
		phInstitution, institution,
		phBatchID, doi+" "+timestamp,
		phTimestamp, timestamp,
		phDatasets, datasets,
	)
	return replacer.Replace(r.tmpl.body), nil
}

// LandingPageURL — resource URL, на который резолвится DOI датасета.
func LandingPageURL(baseURL, doi string) string {
	return baseURL + "/dataset.xhtml?persistentId=doi:" + doi
}

// documentTitle — название для документа.
// Названия файлов экранируются, названия датасетов вставляются как есть.
func documentTitle(obj *model.ContentObject) string {
	title := obj.Title
	if obj.IsFile() {
		title = EscapeXML(title)
	}
	if title == "" || title == NotApplicable {
		return Unavailable
	}
	return title
}

// datasetElement строит элемент <dataset> c contributors, titles и doi_data.
func datasetElement(doi, title string, authors []model.Author, baseURL string) string {
	var b strings.Builder
	b.WriteString(`<dataset dataset_type="collection">`)
	b.WriteString(contributorsElement(authors))
	b.WriteString("<titles><title>")
	b.WriteString(title)
	b.WriteString("</title></titles>")
	b.WriteString("<doi_data><doi>")
	b.WriteString(doi)
	b.WriteString("</doi><resource>")
	b.WriteString(LandingPageURL(baseURL, doi))
	b.WriteString("</resource></doi_data>")
	b.WriteString("</dataset>")
	return b.String()
}

// contributorsElement строит <contributors>. При пустом списке авторов —
// единственный person_name с маркером :unav.
func contributorsElement(authors []model.Author) string {
	if len(authors) == 0 {
		return "<contributors><person_name>" + Unavailable + "</person_name></contributors>"
	}

	var b strings.Builder
	b.WriteString("<contributors>")
	for _, a := range authors {
		b.WriteString(`<person_name contributor_role="author" sequence="first"><given_name>`)
		b.WriteString(a.Name)
		b.WriteString("</given_name><surname>")
		b.WriteString(a.Name)
		b.WriteString("</surname>")

		// affiliation и внешний идентификатор выводятся только вместе.
		if a.Affiliation != "" && a.IDType != "" && a.IDValue != "" {
			b.WriteString("<affiliations><institution><institution_name>")
			b.WriteString(a.Affiliation)
			b.WriteString("</institution_name></institution></affiliations>")

			switch a.IDType {
			case model.AuthorIDORCID, model.AuthorIDISNI, model.AuthorIDLCNA:
				tag := string(a.IDType)
				b.WriteString("<" + tag + ">" + a.IDValue + "</" + tag + ">")
			}
		}

		b.WriteString("</person_name>")
	}
	b.WriteString("</contributors>")
	return b.String()
}

// xmlEscaper — пять предопределённых сущностей XML 1.0.
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// EscapeXML экранирует текст для XML 1.0 и удаляет символы,
// недопустимые в документе XML 1.0 (управляющие, суррогаты, U+FFFE/U+FFFF).
func EscapeXML(s string) string {
	clean := strings.Map(func(r rune) rune {
		if isXML10Char(r) {
			return r
		}
		return -1
	}, s)
	return xmlEscaper.Replace(clean)
}

func isXML10Char(r rune) bool {
	switch {
	case r == utf8.RuneError:
		return false
	case r == 0x9 || r == 0xA || r == 0xD:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	}
	return false
}
