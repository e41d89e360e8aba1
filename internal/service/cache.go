// Пакет service — бизнес-логика DOI Registrar.
// LookupCache — LRU-кэш метаданных CrossRef с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"maps"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dr_lookup_cache_hits_total",
		Help: "Общее количество попаданий в кэш метаданных CrossRef.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dr_lookup_cache_misses_total",
		Help: "Общее количество промахов кэша метаданных CrossRef.",
	})
)

// LookupCache — кэш ответов CrossRef на запрос метаданных.
// Ключ — DOI без схемы (10.5072/FK2/ABCDEF). Кэш у каждого экземпляра свой.
type LookupCache struct {
	cache *expirable.LRU[string, map[string]string]
}

// NewLookupCache создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewLookupCache(maxSize int, ttl time.Duration) *LookupCache {
	cache := expirable.NewLRU[string, map[string]string](maxSize, nil, ttl)
	return &LookupCache{cache: cache}
}

// Get возвращает копию метаданных из кэша.
// Возвращает (метаданные, true) при hit или (nil, false) при miss.
func (c *LookupCache) Get(doi string) (map[string]string, bool) {
	val, ok := c.cache.Get(doi)
	if ok {
		cacheHitsTotal.Inc()
		return maps.Clone(val), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись. Сохраняется копия, вызывающий код
// может изменять переданную карту.
func (c *LookupCache) Set(doi string, metadata map[string]string) {
	c.cache.Add(doi, maps.Clone(metadata))
}

// Delete удаляет запись (инвалидация после отправки deposit).
func (c *LookupCache) Delete(doi string) {
	c.cache.Remove(doi)
}

// Len — количество записей в кэше.
func (c *LookupCache) Len() int {
	return c.cache.Len()
}
