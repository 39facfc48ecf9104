// properties.go — каталог свойств контактов удалённой CRM.
// Каталог кэшируется per-instance в LRU с TTL (hashicorp/golang-lru/v2/expirable).
package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/crm-sync/internal/remotecrm"
)

var (
	propertyCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_property_cache_hits_total",
		Help: "Общее количество попаданий в кэш каталога свойств.",
	})
	propertyCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_property_cache_misses_total",
		Help: "Общее количество промахов кэша каталога свойств.",
	})
)

// propertyCacheSize — максимальное число установок в кэше.
const propertyCacheSize = 1024

// PropertyLister — получение каталога свойств удалённой CRM.
type PropertyLister interface {
	ListProperties(ctx context.Context, tenantKey string) ([]remotecrm.Property, error)
}

// PropertyService возвращает каталог свойств с кэшированием по установке.
type PropertyService struct {
	lister PropertyLister
	cache  *expirable.LRU[string, []remotecrm.Property]
}

// NewPropertyService создаёт сервис каталога свойств.
func NewPropertyService(lister PropertyLister, ttl time.Duration) *PropertyService {
	return &PropertyService{
		lister: lister,
		cache:  expirable.NewLRU[string, []remotecrm.Property](propertyCacheSize, nil, ttl),
	}
}

// List возвращает свойства контактов установки.
// Для неподключённой установки возвращает ErrNotConnected.
func (s *PropertyService) List(ctx context.Context, tenantKey string) ([]remotecrm.Property, error) {
	if props, ok := s.cache.Get(tenantKey); ok {
		propertyCacheHitsTotal.Inc()
		return props, nil
	}
	propertyCacheMissesTotal.Inc()

	props, err := s.lister.ListProperties(ctx, tenantKey)
	if err != nil {
		return nil, wrapRemote("получение каталога свойств", err)
	}
	s.cache.Add(tenantKey, props)
	return props, nil
}

// Invalidate удаляет каталог установки из кэша (после отключения).
func (s *PropertyService) Invalidate(tenantKey string) {
	s.cache.Remove(tenantKey)
}
