// Package devices mirrors the user's device inventory as last confirmed by the
// backend. Entries only change after a successful server response.
package devices

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"ecodispose/client/internal/api"
	"ecodispose/client/internal/model"
	"ecodispose/client/internal/toast"
)

const (
	errRequestFailed    = "request_failed"
	errInvalidStatus    = "invalid_status"
	errInvalidCondition = "invalid_condition"
	errStale            = "stale_response"
	errMissingID        = "missing_id"
)

type API interface {
	ListDevices(ctx context.Context) ([]model.Device, error)
	AddDevice(ctx context.Context, draft model.Device, image api.File) (model.Device, error)
	UpdateDevice(ctx context.Context, id model.ID, device model.Device) (model.Device, error)
	DeleteDevice(ctx context.Context, id model.ID) error
	URL(path string) string
}

type Notifier interface {
	Show(title, message string, severity toast.Severity) string
}

type Cache struct {
	api         API
	notifier    Notifier
	policy      toast.Policy
	logger      log.FieldLogger
	placeholder string

	mu      sync.RWMutex
	devices map[model.ID]model.Device
	epoch   uint64
}

func NewCache(client API, notifier Notifier, policy toast.Policy, logger log.FieldLogger, placeholder string) *Cache {
	return &Cache{
		api:         client,
		notifier:    notifier,
		policy:      policy,
		logger:      logger.WithField("component", "devices"),
		placeholder: placeholder,
		devices:     make(map[model.ID]model.Device),
	}
}

// Refresh replaces the mirror with the server's list.
func (c *Cache) Refresh(ctx context.Context) model.Result {
	return c.RefreshAt(ctx, c.Epoch())
}

// RefreshAt is Refresh for a caller that captured the epoch earlier. The list
// is dropped if Invalidate ran since then.
func (c *Cache) RefreshAt(ctx context.Context, epoch uint64) model.Result {
	list, err := c.api.ListDevices(ctx)
	if err != nil {
		return c.fail(toast.OpDeviceRefresh, "Could not load devices", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		c.logger.Debug("dropping device list from before invalidation")
		return model.Fail(errStale)
	}
	c.devices = make(map[model.ID]model.Device, len(list))
	for _, d := range list {
		if d.ID == "" {
			c.logger.Warn("skipping device without id")
			continue
		}
		c.devices[d.ID] = d
	}
	c.logger.WithField("count", len(c.devices)).Debug("devices refreshed")
	return model.OK()
}

// Add uploads a new device and stores the record the server created.
func (c *Cache) Add(ctx context.Context, draft model.Device, image api.File) (model.Device, model.Result) {
	epoch := c.Epoch()
	created, err := c.api.AddDevice(ctx, draft, image)
	if err != nil {
		return model.Device{}, c.fail(toast.OpDeviceAdd, "Could not add device", err)
	}
	if created.ID == "" {
		c.logger.Error("add device response has no id")
		return model.Device{}, model.Fail(errMissingID)
	}
	if !c.store(epoch, created) {
		return created, model.Fail(errStale)
	}
	c.logger.WithField("device_id", created.ID).Info("device added")
	return created, model.OK()
}

// Update sends the full record and overwrites the entry with the server's copy.
func (c *Cache) Update(ctx context.Context, id model.ID, device model.Device) model.Result {
	if device.Status != "" && !device.Status.Valid() {
		return c.reject(toast.OpDeviceUpdate, "Could not update device", errInvalidStatus)
	}
	if device.Condition != "" && !device.Condition.Valid() {
		return c.reject(toast.OpDeviceUpdate, "Could not update device", errInvalidCondition)
	}

	epoch := c.Epoch()
	updated, err := c.api.UpdateDevice(ctx, id, device)
	if err != nil {
		return c.fail(toast.OpDeviceUpdate, "Could not update device", err)
	}
	if updated.ID == "" {
		updated.ID = id
	}
	if !c.store(epoch, updated) {
		return model.Fail(errStale)
	}
	c.logger.WithField("device_id", id).Info("device updated")
	return model.OK()
}

// Delete removes the entry once the server has confirmed the deletion.
func (c *Cache) Delete(ctx context.Context, id model.ID) model.Result {
	epoch := c.Epoch()
	if err := c.api.DeleteDevice(ctx, id); err != nil {
		return c.fail(toast.OpDeviceDelete, "Could not delete device", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return model.Fail(errStale)
	}
	delete(c.devices, id)
	c.logger.WithField("device_id", id).Info("device deleted")
	return model.OK()
}

// Image returns the device picture URL, or the placeholder when it has none.
func (c *Cache) Image(d model.Device) string {
	if d.ImageURL == "" {
		return c.placeholder
	}
	return c.api.URL(d.ImageURL)
}

func (c *Cache) Get(id model.ID) (model.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[id]
	return d, ok
}

// List returns a snapshot ordered by id.
func (c *Cache) List() []model.Device {
	c.mu.RLock()
	out := make([]model.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.devices)
}

// Invalidate empties the mirror. Responses to requests issued before the call
// are dropped when they arrive.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.devices = make(map[model.ID]model.Device)
}

// Epoch counts Invalidate calls.
func (c *Cache) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

func (c *Cache) store(epoch uint64, d model.Device) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		c.logger.WithField("device_id", d.ID).Debug("dropping device response from before invalidation")
		return false
	}
	c.devices[d.ID] = d
	return true
}

func (c *Cache) fail(op, title string, err error) model.Result {
	msg := api.Message(err)
	if msg == "" {
		msg = errRequestFailed
	}
	c.logger.WithError(err).WithField("op", op).Error("device request failed")
	if c.policy.Allows(op) {
		c.notifier.Show(title, msg, toast.Danger)
	}
	return model.Fail(msg)
}

func (c *Cache) reject(op, title, code string) model.Result {
	c.logger.WithField("op", op).Warn(code)
	if c.policy.Allows(op) {
		c.notifier.Show(title, code, toast.Warning)
	}
	return model.Fail(code)
}
