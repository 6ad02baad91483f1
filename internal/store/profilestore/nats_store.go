// Package profilestore provides the NATS JetStream KV stores for voice
// profiles, quality profiles and conversion models.
package profilestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/store"
)

// NatsVoiceProfileStore implements core.VoiceProfileStore.
type NatsVoiceProfileStore struct {
	bucket string
	kv     nats.KeyValue
}

// Compile-time interface assertions.
var (
	_ core.VoiceProfileStore    = (*NatsVoiceProfileStore)(nil)
	_ core.QualityProfileStore  = (*NatsQualityProfileStore)(nil)
	_ core.ConversionModelStore = (*NatsConversionModelStore)(nil)
)

// NewVoiceProfileStore creates the voice-profile store on the given bucket.
func NewVoiceProfileStore(js nats.JetStreamContext, bucketName string) (*NatsVoiceProfileStore, error) {
	kv, err := store.EnsureKeyValue(js, bucketName)
	if err != nil {
		return nil, err
	}

	return &NatsVoiceProfileStore{bucket: bucketName, kv: kv}, nil
}

// GetProfile loads a voice profile by id.
func (s *NatsVoiceProfileStore) GetProfile(_ context.Context, id string) (*core.VoiceProfile, error) {
	kvEntry, err := s.kv.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %q", core.ErrProfileNotFound, id)
		}

		return nil, fmt.Errorf("failed to get voice profile %q: %w", id, err)
	}

	var profile core.VoiceProfile

	err = json.Unmarshal(kvEntry.Value(), &profile)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal voice profile %q: %w", id, err)
	}

	return &profile, nil
}

// SaveProfile persists a voice profile.
func (s *NatsVoiceProfileStore) SaveProfile(_ context.Context, profile *core.VoiceProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal voice profile %q: %w", profile.ID, err)
	}

	_, err = s.kv.Put(profile.ID, data)
	if err != nil {
		return fmt.Errorf("failed to save voice profile %q to bucket %q: %w", profile.ID, s.bucket, err)
	}

	return nil
}

// DeleteProfile removes a voice profile.
func (s *NatsVoiceProfileStore) DeleteProfile(_ context.Context, id string) error {
	err := s.kv.Delete(id)
	if err != nil {
		return fmt.Errorf("failed to delete voice profile %q: %w", id, err)
	}

	return nil
}

// NatsQualityProfileStore implements core.QualityProfileStore.
type NatsQualityProfileStore struct {
	bucket string
	kv     nats.KeyValue
}

// NewQualityProfileStore creates the quality-profile store on the given
// bucket.
func NewQualityProfileStore(js nats.JetStreamContext, bucketName string) (*NatsQualityProfileStore, error) {
	kv, err := store.EnsureKeyValue(js, bucketName)
	if err != nil {
		return nil, err
	}

	return &NatsQualityProfileStore{bucket: bucketName, kv: kv}, nil
}

// GetQualityProfile loads a stored quality profile by id.
func (s *NatsQualityProfileStore) GetQualityProfile(_ context.Context, id string) (*core.QualityProfile, error) {
	kvEntry, err := s.kv.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %q", core.ErrQualityProfileNotFound, id)
		}

		return nil, fmt.Errorf("failed to get quality profile %q: %w", id, err)
	}

	var profile core.QualityProfile

	err = json.Unmarshal(kvEntry.Value(), &profile)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal quality profile %q: %w", id, err)
	}

	return &profile, nil
}

// SaveQualityProfile persists a quality profile.
func (s *NatsQualityProfileStore) SaveQualityProfile(_ context.Context, profile *core.QualityProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal quality profile %q: %w", profile.ID, err)
	}

	_, err = s.kv.Put(profile.ID, data)
	if err != nil {
		return fmt.Errorf("failed to save quality profile %q to bucket %q: %w", profile.ID, s.bucket, err)
	}

	return nil
}

// NatsConversionModelStore implements core.ConversionModelStore.
type NatsConversionModelStore struct {
	bucket string
	kv     nats.KeyValue
}

// NewConversionModelStore creates the conversion-model store on the given
// bucket.
func NewConversionModelStore(js nats.JetStreamContext, bucketName string) (*NatsConversionModelStore, error) {
	kv, err := store.EnsureKeyValue(js, bucketName)
	if err != nil {
		return nil, err
	}

	return &NatsConversionModelStore{bucket: bucketName, kv: kv}, nil
}

// GetModel loads a conversion model record by id.
func (s *NatsConversionModelStore) GetModel(_ context.Context, id string) (*core.ConversionModel, error) {
	kvEntry, err := s.kv.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %q", core.ErrConversionModelNotFound, id)
		}

		return nil, fmt.Errorf("failed to get conversion model %q: %w", id, err)
	}

	var model core.ConversionModel

	err = json.Unmarshal(kvEntry.Value(), &model)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversion model %q: %w", id, err)
	}

	return &model, nil
}

// SaveModel persists a conversion model record.
func (s *NatsConversionModelStore) SaveModel(_ context.Context, model *core.ConversionModel) error {
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to marshal conversion model %q: %w", model.ID, err)
	}

	_, err = s.kv.Put(model.ID, data)
	if err != nil {
		return fmt.Errorf("failed to save conversion model %q to bucket %q: %w", model.ID, s.bucket, err)
	}

	return nil
}
