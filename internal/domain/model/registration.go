// Пакет model — доменные модели DOI Registrar.
// RegistrationCacheRecord — маппинг таблицы registration_cache,
// ContentObject — описание объекта (датасет или файл), для которого регистрируется DOI.
package model

import (
	"strings"
	"time"
)

// Status — состояние идентификатора в жизненном цикле регистрации.
type Status string

const (
	// StatusReserved — идентификатор выделен локально, но не отправлен в CrossRef как публичный.
	StatusReserved Status = "reserved"
	// StatusPublic — метаданные отправлены в CrossRef, идентификатор должен резолвиться.
	StatusPublic Status = "public"
)

// statusRank — порядок состояний. Переход возможен только вперёд.
var statusRank = map[Status]int{
	StatusReserved: 1,
	StatusPublic:   2,
}

// IsValid проверяет, что статус — одно из допустимых значений.
func (s Status) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// Advance возвращает статус после запрошенного перехода в target.
// Откат public → reserved не выполняется: возвращается текущий статус.
func (s Status) Advance(target Status) Status {
	if statusRank[target] < statusRank[s] {
		return s
	}
	return target
}

// RegistrationCacheRecord — запись кэша регистрации (одна строка на идентификатор).
// Хранит то, что последний раз было отправлено (или подготовлено к отправке) в CrossRef.
type RegistrationCacheRecord struct {
	// ID — суррогатный ключ строки
	ID int64
	// Identifier — полный идентификатор (doi:10.5072/ABCD), неизменяемый
	Identifier string
	// Status — reserved или public
	Status Status
	// TargetURL — URL landing page, на который резолвится идентификатор.
	// nil — значение не задано (NULL в БД).
	TargetURL *string
	// Document — XML-документ, последний раз подготовленный для CrossRef
	Document string
	// Version — версия строки для оптимистичной блокировки (0 — запись ещё не сохранена)
	Version int64
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Target возвращает TargetURL или пустую строку.
func (r *RegistrationCacheRecord) Target() string {
	if r.TargetURL == nil {
		return ""
	}
	return *r.TargetURL
}

// ObjectKind — тип объекта, которому назначается идентификатор.
type ObjectKind string

const (
	// KindDataset — датасет.
	KindDataset ObjectKind = "dataset"
	// KindFile — файл, принадлежащий датасету.
	KindFile ObjectKind = "file"
)

// AuthorIDType — тип внешнего идентификатора автора.
type AuthorIDType string

const (
	AuthorIDORCID AuthorIDType = "ORCID"
	AuthorIDISNI  AuthorIDType = "ISNI"
	AuthorIDLCNA  AuthorIDType = "LCNA"
)

// Author — автор датасета.
type Author struct {
	// Name — отображаемое имя
	Name string `json:"name"`
	// Affiliation — организация (опционально)
	Affiliation string `json:"affiliation,omitempty"`
	// IDType — тип внешнего идентификатора (ORCID, ISNI, LCNA)
	IDType AuthorIDType `json:"idType,omitempty"`
	// IDValue — значение внешнего идентификатора
	IDValue string `json:"idValue,omitempty"`
}

// ContentObject — датасет или файл. Для этого сервиса — только входные данные.
type ContentObject struct {
	// Kind — dataset или file
	Kind ObjectKind `json:"kind"`
	// Protocol — схема идентификатора (doi)
	Protocol string `json:"protocol,omitempty"`
	// Authority — префикс (10.5072)
	Authority string `json:"authority,omitempty"`
	// Identifier — суффикс (FK2/ABCDEF), пустой — ещё не назначен
	Identifier string `json:"identifier,omitempty"`
	// Title — отображаемое название
	Title string `json:"title"`
	// Authors — авторы (используются только у датасета)
	Authors []Author `json:"authors,omitempty"`
	// PublicationDate — дата публикации (опционально)
	PublicationDate *time.Time `json:"publicationDate,omitempty"`
	// Owner — датасет-владелец (обязателен для файла)
	Owner *ContentObject `json:"owner,omitempty"`
}

// IsFile возвращает true для файлов.
func (o *ContentObject) IsFile() bool {
	return o.Kind == KindFile
}

// Dataset возвращает датасет, метаданные которого описывают объект:
// сам объект для датасета или владельца для файла.
func (o *ContentObject) Dataset() *ContentObject {
	if o.IsFile() && o.Owner != nil {
		return o.Owner
	}
	return o
}

// HasGlobalID проверяет, назначен ли объекту идентификатор.
func (o *ContentObject) HasGlobalID() bool {
	return o.Identifier != ""
}

// GlobalID возвращает полный идентификатор вида doi:10.5072/FK2/ABCDEF.
func (o *ContentObject) GlobalID() string {
	return FormatIdentifier(o.Protocol, o.Authority, o.Identifier)
}

// FormatIdentifier собирает полный идентификатор из схемы, префикса и суффикса.
func FormatIdentifier(protocol, authority, identifier string) string {
	if protocol == "" {
		protocol = "doi"
	}
	return protocol + ":" + authority + "/" + identifier
}

// Suffix возвращает часть идентификатора после схемы (doi:10.5072/X → 10.5072/X).
// Используется в запросах к CrossRef и в теле документа.
func Suffix(identifier string) string {
	if i := strings.Index(identifier, ":"); i >= 0 {
		return identifier[i+1:]
	}
	return identifier
}
