// Package registry keeps the saved-device list and enforces the free-tier
// device cap.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/HerbHall/tvremote/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BlobKey is the persistence key of the saved-device list.
const BlobKey = "saved_devices"

var (
	ErrDeviceLimit    = errors.New("registry: device limit reached")
	ErrNotFound       = errors.New("registry: device not found")
	ErrInvalidAddress = errors.New("registry: invalid IPv4 address")
	ErrEmptyName      = errors.New("registry: empty device name")
)

// BlobStore persists opaque values by key. GetBlob returns nil, nil for a
// missing key.
type BlobStore interface {
	GetBlob(ctx context.Context, key string) ([]byte, error)
	SetBlob(ctx context.Context, key string, value []byte) error
}

// Entitlement reports whether the user has unlimited access.
type Entitlement interface {
	IsEntitled() bool
}

// Registry is the saved-device store. Devices keep insertion order.
type Registry struct {
	store  BlobStore
	ent    Entitlement
	limit  int
	logger *zap.Logger

	mu       sync.RWMutex
	devices  []models.TVDevice
	onRemove []func(id string)
}

// New creates a registry and loads the saved list. Unreadable or corrupt
// data yields an empty list rather than an error.
func New(ctx context.Context, store BlobStore, ent Entitlement, limit int, logger *zap.Logger) *Registry {
	r := &Registry{
		store:  store,
		ent:    ent,
		limit:  max(limit, 1),
		logger: logger.Named("registry"),
	}
	r.Load(ctx)
	return r
}

// Load replaces the in-memory list with the persisted one.
func (r *Registry) Load(ctx context.Context) {
	devices := r.read(ctx)
	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()
	r.logger.Debug("saved devices loaded", zap.Int("count", len(devices)))
}

func (r *Registry) read(ctx context.Context) []models.TVDevice {
	raw, err := r.store.GetBlob(ctx, BlobKey)
	if err != nil {
		r.logger.Warn("failed to read saved devices", zap.Error(err))
		return nil
	}
	if len(raw) == 0 {
		return nil
	}
	var devices []models.TVDevice
	if err := json.Unmarshal(raw, &devices); err != nil {
		r.logger.Warn("discarding unreadable saved devices", zap.Error(err))
		return nil
	}
	// Drop entries without an id and any repeated id.
	seen := make(map[string]bool, len(devices))
	out := devices[:0]
	for _, d := range devices {
		if d.ID == "" || seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}

// commit persists next and makes it current. Callers hold r.mu.
func (r *Registry) commit(ctx context.Context, next []models.TVDevice) error {
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode saved devices: %w", err)
	}
	if err := r.store.SetBlob(ctx, BlobKey, raw); err != nil {
		return fmt.Errorf("persist saved devices: %w", err)
	}
	r.devices = next
	return nil
}

func (r *Registry) indexOf(id string) int {
	return slices.IndexFunc(r.devices, func(d models.TVDevice) bool { return d.ID == id })
}

// List returns the saved devices.
func (r *Registry) List() []models.TVDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.devices)
}

// Count returns the number of saved devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Get looks a device up by id.
func (r *Registry) Get(id string) (models.TVDevice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexOf(id); i >= 0 {
		return r.devices[i], true
	}
	return models.TVDevice{}, false
}

// Limit returns the free-tier device cap.
func (r *Registry) Limit() int { return r.limit }

// CanAddMore reports whether one more device may be saved.
func (r *Registry) CanAddMore() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.canAddLocked()
}

func (r *Registry) canAddLocked() bool {
	return (r.ent != nil && r.ent.IsEntitled()) || len(r.devices) < r.limit
}

// Add validates and saves a manually entered device. A device whose id is
// already saved is updated in place and never counts against the cap. A
// missing id is generated.
func (r *Registry) Add(ctx context.Context, d models.TVDevice) (models.TVDevice, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return models.TVDevice{}, ErrEmptyName
	}
	d.Address = strings.TrimSpace(d.Address)
	if !models.ValidIPv4(d.Address) {
		return models.TVDevice{}, ErrInvalidAddress
	}
	return r.Upsert(ctx, d)
}

// Upsert saves d, replacing an entry with the same id.
func (r *Registry) Upsert(ctx context.Context, d models.TVDevice) (models.TVDevice, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := slices.Clone(r.devices)
	if i := r.indexOf(d.ID); i >= 0 {
		next[i] = d
	} else {
		if !r.canAddLocked() {
			r.logger.Info("device limit reached", zap.Int("limit", r.limit))
			return models.TVDevice{}, ErrDeviceLimit
		}
		next = append(next, d)
	}
	if err := r.commit(ctx, next); err != nil {
		return models.TVDevice{}, err
	}
	r.logger.Debug("device saved", zap.String("id", d.ID), zap.String("name", d.Name))
	return d, nil
}

// update applies fn to the device with id and persists the result.
func (r *Registry) update(ctx context.Context, id string, fn func(*models.TVDevice)) (models.TVDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return models.TVDevice{}, ErrNotFound
	}
	next := slices.Clone(r.devices)
	fn(&next[i])
	if err := r.commit(ctx, next); err != nil {
		return models.TVDevice{}, err
	}
	return next[i], nil
}

// Rename changes a saved device's display name.
func (r *Registry) Rename(ctx context.Context, id, name string) (models.TVDevice, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.TVDevice{}, ErrEmptyName
	}
	return r.update(ctx, id, func(d *models.TVDevice) { d.Name = name })
}

// UpdateAddress changes a saved device's IPv4 address.
func (r *Registry) UpdateAddress(ctx context.Context, id, address string) (models.TVDevice, error) {
	address = strings.TrimSpace(address)
	if !models.ValidIPv4(address) {
		return models.TVDevice{}, ErrInvalidAddress
	}
	return r.update(ctx, id, func(d *models.TVDevice) { d.Address = address })
}

// Remove deletes a saved device and notifies OnRemove hooks.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	i := r.indexOf(id)
	if i < 0 {
		r.mu.Unlock()
		return ErrNotFound
	}
	next := slices.Delete(slices.Clone(r.devices), i, i+1)
	if err := r.commit(ctx, next); err != nil {
		r.mu.Unlock()
		return err
	}
	hooks := slices.Clone(r.onRemove)
	r.mu.Unlock()

	r.logger.Info("device removed", zap.String("id", id))
	for _, fn := range hooks {
		fn(id)
	}
	return nil
}

// OnRemove registers fn to run after a device is removed.
func (r *Registry) OnRemove(fn func(id string)) {
	r.mu.Lock()
	r.onRemove = append(r.onRemove, fn)
	r.mu.Unlock()
}

// MostRecent returns the device connected most recently.
func (r *Registry) MostRecent() (models.TVDevice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best models.TVDevice
	found := false
	for _, d := range r.devices {
		if d.LastConnected == nil {
			continue
		}
		if !found || d.LastConnected.After(*best.LastConnected) {
			best, found = d, true
		}
	}
	return best, found
}
