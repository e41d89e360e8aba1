package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/doi-registrar/internal/crossref"
	"github.com/bigkaa/goartstore/doi-registrar/internal/domain/model"
)

func newTestProvider(t *testing.T, repo *memCacheRepo, authority *fakeAuthority) *Provider {
	t.Helper()
	svc := newTestRegistrationService(t, repo, authority)
	return NewProvider(svc, ProviderSettings{
		Authority: "10.5072",
		Shoulder:  "FK2/",
		SiteURL:   "https://data.example.org",
	}, testLogger())
}

// sequence возвращает генератор суффиксов из заданного списка.
func sequence(values ...string) func() string {
	i := 0
	return func() string {
		v := values[i%len(values)]
		i++
		return v
	}
}

func TestRandomSuffix(t *testing.T) {
	for range 100 {
		s := randomSuffix()
		if len(s) != suffixRandomLength {
			t.Fatalf("len(%q) = %d, ожидалось %d", s, len(s), suffixRandomLength)
		}
		if s != strings.ToUpper(s) {
			t.Fatalf("%q не в верхнем регистре", s)
		}
	}
}

// TestProvider_CreateIdentifier — идентификатор назначается объекту, reserve без записи ничего не создаёт.
func TestProvider_CreateIdentifier(t *testing.T) {
	repo := newMemCacheRepo()
	provider := newTestProvider(t, repo, &fakeAuthority{})
	provider.randomSuffix = sequence("ABCDEF")

	obj := &model.ContentObject{Kind: model.KindDataset, Title: "New Data"}
	identifier, err := provider.CreateIdentifier(context.Background(), obj)
	if err != nil {
		t.Fatalf("CreateIdentifier ошибка: %v", err)
	}
	if identifier != "doi:10.5072/FK2/ABCDEF" {
		t.Errorf("identifier = %q", identifier)
	}
	if obj.Protocol != "doi" || obj.Authority != "10.5072" || obj.Identifier != "FK2/ABCDEF" {
		t.Errorf("объект: %+v", obj)
	}
	if repo.upsertCount() != 0 {
		t.Error("reserve не создаёт запись кэша")
	}
}

// TestProvider_CreateIdentifierSkipsTaken — занятые в кэше и в CrossRef суффиксы пропускаются.
func TestProvider_CreateIdentifierSkipsTaken(t *testing.T) {
	repo := newMemCacheRepo(&model.RegistrationCacheRecord{
		Identifier: "doi:10.5072/FK2/AAAAAA",
		Status:     model.StatusReserved,
		Document:   "<x/>",
	})
	authority := &fakeAuthority{exists: map[string]bool{"10.5072/FK2/BBBBBB": true}}
	provider := newTestProvider(t, repo, authority)
	provider.randomSuffix = sequence("AAAAAA", "BBBBBB", "CCCCCC")

	identifier, err := provider.CreateIdentifier(context.Background(), &model.ContentObject{Kind: model.KindDataset})
	if err != nil {
		t.Fatalf("CreateIdentifier ошибка: %v", err)
	}
	if identifier != "doi:10.5072/FK2/CCCCCC" {
		t.Errorf("identifier = %q, ожидался первый свободный", identifier)
	}
}

// TestProvider_CreateIdentifierExhausted — все кандидаты заняты.
func TestProvider_CreateIdentifierExhausted(t *testing.T) {
	authority := &fakeAuthority{exists: map[string]bool{"10.5072/FK2/TAKEN1": true}}
	provider := newTestProvider(t, newMemCacheRepo(), authority)
	provider.randomSuffix = sequence("TAKEN1")

	_, err := provider.CreateIdentifier(context.Background(), &model.ContentObject{Kind: model.KindDataset})
	if !errors.Is(err, ErrIdentifierExhausted) {
		t.Fatalf("ожидалась ErrIdentifierExhausted, получено: %v", err)
	}
}

// TestProvider_CreateIdentifierKeepsExisting — существующий идентификатор не перегенерируется.
func TestProvider_CreateIdentifierKeepsExisting(t *testing.T) {
	repo := newMemCacheRepo(reservedRecord())
	provider := newTestProvider(t, repo, &fakeAuthority{})

	identifier, err := provider.CreateIdentifier(context.Background(), datasetA())
	if err != nil {
		t.Fatalf("CreateIdentifier ошибка: %v", err)
	}
	if identifier != testIdentifier {
		t.Errorf("identifier = %q, ожидался %q", identifier, testIdentifier)
	}
	if rec := repo.get(testIdentifier); rec.Document == "<old/>" {
		t.Error("reserve существующей записи должен обновить документ")
	}
}

// TestProvider_PublicizeIdentifier — register с target на landing page.
func TestProvider_PublicizeIdentifier(t *testing.T) {
	repo := newMemCacheRepo(reservedRecord())
	authority := &fakeAuthority{}
	provider := newTestProvider(t, repo, authority)

	if !provider.PublicizeIdentifier(context.Background(), datasetA()) {
		t.Fatal("PublicizeIdentifier = false")
	}
	rec := repo.get(testIdentifier)
	if rec.Status != model.StatusPublic {
		t.Errorf("status = %q", rec.Status)
	}
	want := "https://data.example.org/dataset.xhtml?persistentId=doi:10.5072/X1"
	if rec.Target() != want {
		t.Errorf("target = %q, ожидался %q", rec.Target(), want)
	}
	if authority.submitCount() != 1 {
		t.Errorf("отправок = %d", authority.submitCount())
	}
}

// TestProvider_PublicizeIdentifierFailure — ошибка CrossRef даёт false.
func TestProvider_PublicizeIdentifierFailure(t *testing.T) {
	authority := &fakeAuthority{submitErr: &crossref.AuthorityRejectedError{Op: "submit", StatusCode: 503}}
	provider := newTestProvider(t, newMemCacheRepo(reservedRecord()), authority)

	if provider.PublicizeIdentifier(context.Background(), datasetA()) {
		t.Error("PublicizeIdentifier = true при отказе CrossRef")
	}
	if provider.PublicizeIdentifier(context.Background(), nil) {
		t.Error("PublicizeIdentifier = true для nil-объекта")
	}
}

// TestProvider_PublicizeIdentifierAssignsIdentifier — объекту без идентификатора
// он назначается перед register.
func TestProvider_PublicizeIdentifierAssignsIdentifier(t *testing.T) {
	authority := &fakeAuthority{}
	provider := newTestProvider(t, newMemCacheRepo(), authority)
	provider.randomSuffix = sequence("PUBL1C")

	obj := &model.ContentObject{Kind: model.KindDataset, Title: "Fresh Data"}
	if !provider.PublicizeIdentifier(context.Background(), obj) {
		t.Fatal("PublicizeIdentifier = false")
	}
	if obj.GlobalID() != "doi:10.5072/FK2/PUBL1C" {
		t.Errorf("идентификатор объекта = %q", obj.GlobalID())
	}
	if authority.submitCount() != 1 {
		t.Errorf("отправок = %d, ожидалась 1", authority.submitCount())
	}
}

// TestProvider_PublicizeIdentifierExhausted — без свободного идентификатора публикации нет.
func TestProvider_PublicizeIdentifierExhausted(t *testing.T) {
	authority := &fakeAuthority{exists: map[string]bool{"10.5072/FK2/TAKEN1": true}}
	provider := newTestProvider(t, newMemCacheRepo(), authority)
	provider.randomSuffix = sequence("TAKEN1")

	obj := &model.ContentObject{Kind: model.KindDataset}
	if provider.PublicizeIdentifier(context.Background(), obj) {
		t.Error("PublicizeIdentifier = true без свободного идентификатора")
	}
	if obj.HasGlobalID() {
		t.Errorf("идентификатор не должен назначаться: %q", obj.GlobalID())
	}
	if authority.submitCount() != 0 {
		t.Errorf("отправок = %d, ожидалось 0", authority.submitCount())
	}
}

// TestProvider_TargetURL — страница датасета и файла.
func TestProvider_TargetURL(t *testing.T) {
	provider := newTestProvider(t, newMemCacheRepo(), &fakeAuthority{})

	file := &model.ContentObject{
		Kind: model.KindFile, Protocol: "doi", Authority: "10.5072", Identifier: "X1/F1",
		Owner: datasetA(),
	}
	if got := provider.TargetURL(file); got != "https://data.example.org/file.xhtml?persistentId=doi:10.5072/X1/F1" {
		t.Errorf("TargetURL(file) = %q", got)
	}
	if got := provider.TargetURL(datasetA()); got != "https://data.example.org/dataset.xhtml?persistentId=doi:10.5072/X1" {
		t.Errorf("TargetURL(dataset) = %q", got)
	}
}

// TestProvider_PublicationYear — дата датасета, иначе текущий год.
func TestProvider_PublicationYear(t *testing.T) {
	provider := newTestProvider(t, newMemCacheRepo(), &fakeAuthority{})
	provider.now = func() time.Time { return time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC) }

	published := time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)
	ds := datasetA()
	ds.PublicationDate = &published
	file := &model.ContentObject{Kind: model.KindFile, Owner: ds}

	if got := provider.publicationYear(file); got != "2019" {
		t.Errorf("publicationYear(file) = %q, ожидался год датасета", got)
	}
	if got := provider.publicationYear(datasetA()); got != "2031" {
		t.Errorf("publicationYear без даты = %q, ожидался текущий год", got)
	}
}

// TestProvider_ModifyIdentifierTargetURL — метаданные CrossRef передаются как атрибуты.
func TestProvider_ModifyIdentifierTargetURL(t *testing.T) {
	public := reservedRecord()
	public.Status = model.StatusPublic
	repo := newMemCacheRepo(public)
	authority := &fakeAuthority{metadata: `{"status":"ok"}`}
	provider := newTestProvider(t, repo, authority)

	identifier, result, err := provider.ModifyIdentifierTargetURL(context.Background(), datasetA())
	if err != nil {
		t.Fatalf("ModifyIdentifierTargetURL ошибка: %v", err)
	}
	if identifier != testIdentifier {
		t.Errorf("identifier = %q", identifier)
	}
	if result.Outcome != OutcomeUpdated {
		t.Errorf("outcome = %q, ожидался %q (атрибуты непустые)", result.Outcome, OutcomeUpdated)
	}
	if authority.submitCount() != 0 {
		t.Error("modify с атрибутами не отправляет документ")
	}
	if repo.get(testIdentifier).Status != model.StatusPublic {
		t.Error("статус public не должен откатываться")
	}
}

// TestProvider_ModifyIdentifierTargetURLNoMetadata — без метаданных modify публикует.
func TestProvider_ModifyIdentifierTargetURLNoMetadata(t *testing.T) {
	repo := newMemCacheRepo(reservedRecord())
	authority := &fakeAuthority{fetchErr: errors.New("недоступен")}
	provider := newTestProvider(t, repo, authority)

	_, result, err := provider.ModifyIdentifierTargetURL(context.Background(), datasetA())
	if err != nil {
		t.Fatalf("ModifyIdentifierTargetURL ошибка: %v", err)
	}
	if result.Outcome != OutcomeSubmitted || authority.submitCount() != 1 {
		t.Errorf("outcome = %q, отправок %d", result.Outcome, authority.submitCount())
	}
}

// TestProvider_Lookups — AlreadyExists и чтение метаданных.
func TestProvider_Lookups(t *testing.T) {
	authority := &fakeAuthority{
		exists:   map[string]bool{"10.5072/X1": true},
		metadata: `{"DOI":"10.5072/X1"}`,
	}
	provider := newTestProvider(t, newMemCacheRepo(), authority)
	ctx := context.Background()

	if provider.AlreadyExists(ctx, "") {
		t.Error("AlreadyExists(\"\") = true")
	}
	if !provider.AlreadyExists(ctx, testIdentifier) {
		t.Error("AlreadyExists = false для известного DOI")
	}
	if md := provider.GetIdentifierMetadata(ctx, datasetA()); md["DOI"] != "10.5072/X1" {
		t.Errorf("GetIdentifierMetadata = %v", md)
	}
	if md := provider.LookupMetadataFromIdentifier(ctx, "doi", "10.5072", "X1"); md["DOI"] != "10.5072/X1" {
		t.Errorf("LookupMetadataFromIdentifier = %v", md)
	}
	if md := provider.GetIdentifierMetadata(ctx, &model.ContentObject{}); len(md) != 0 {
		t.Errorf("для объекта без идентификатора ожидалась пустая карта: %v", md)
	}
}
