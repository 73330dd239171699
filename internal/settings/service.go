package settings

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	KeyStoreStatus        = "store_status"
	KeyDeliveryTime       = "delivery_time"
	KeyOperationHours     = "operation_hours"
	KeyPaymentAccessToken = "payment_access_token"
)

const maskedValue = "********"

var ErrUnknownKey = errors.New("unknown setting key")

// broadcastKeys are announced to every connected client when they change.
var broadcastKeys = map[string]bool{
	KeyStoreStatus:    true,
	KeyDeliveryTime:   true,
	KeyOperationHours: true,
}

var knownKeys = map[string]bool{
	KeyStoreStatus:        true,
	KeyDeliveryTime:       true,
	KeyOperationHours:     true,
	KeyPaymentAccessToken: true,
}

// IsClosed reports whether a store_status value means the store refuses orders.
func IsClosed(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "fechada", "closed":
		return true
	}
	return false
}

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, rooms ...string)
}

// Service reads settings straight from the store on every call so an update
// is visible to the next request.
type Service struct {
	repo      Repository
	publisher Publisher
}

func NewService(repo Repository, publisher Publisher) *Service {
	return &Service{repo: repo, publisher: publisher}
}

// Get returns the stored value, or an empty string when the key is unset.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	value, _, err := s.repo.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Service) StoreClosed(ctx context.Context) (bool, error) {
	value, err := s.Get(ctx, KeyStoreStatus)
	if err != nil {
		return false, err
	}
	return IsClosed(value), nil
}

// All returns every setting with credentials masked.
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	values, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	if v, ok := values[KeyPaymentAccessToken]; ok && v != "" {
		values[KeyPaymentAccessToken] = maskedValue
	}
	return values, nil
}

func (s *Service) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if !knownKeys[key] {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	if err := s.repo.Set(ctx, key, value); err != nil {
		return err
	}
	log.Info().Str("key", key).Msg("service: setting updated")

	if broadcastKeys[key] && s.publisher != nil {
		s.publisher.Publish(ctx, key+"_changed", value)
	}
	return nil
}

// SetMany applies values in key order and stops at the first failure.
func (s *Service) SetMany(ctx context.Context, values map[string]string) error {
	for _, key := range slices.Sorted(maps.Keys(values)) {
		if err := s.Set(ctx, key, values[key]); err != nil {
			return err
		}
	}
	return nil
}
