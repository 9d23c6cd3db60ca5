package pipeline

import (
	"context"
	"errors"

	"github.com/systmms/secretsync/internal/remote"
	"github.com/systmms/secretsync/pkg/descriptor"
)

// Entry is one descriptor with its backend status
type Entry struct {
	Descriptor descriptor.SecretDescriptor   `json:"descriptor"`
	Store      string                        `json:"store,omitempty"`
	Status     descriptor.RemoteSecretStatus `json:"status"`

	// Err is set when the status could not be determined.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

func (e *Entry) fail(err error) {
	e.Err = err
	e.Error = err.Error()
}

// Key returns the entry's store-qualified remote key
func (e Entry) Key() remote.StoreKey {
	return remote.StoreKey{Store: e.Store, RemoteKey: e.Descriptor.RemoteKey}
}

// CheckResult is the backend status of every descriptor
type CheckResult struct {
	// Entries holds one entry per descriptor in discovery order.
	Entries []Entry `json:"entries"`

	// Statuses holds one status per (store, remote key); descriptors sharing
	// a key share a status.
	Statuses map[remote.StoreKey]descriptor.RemoteSecretStatus `json:"-"`
}

// Existing returns entries whose key holds a value
func (c *CheckResult) Existing() []Entry {
	return c.filter(func(e Entry) bool { return e.Err == nil && e.Status.Populated() })
}

// Missing returns entries whose key is absent or has no live version
func (c *CheckResult) Missing() []Entry {
	return c.filter(func(e Entry) bool { return e.Err == nil && !e.Status.Populated() })
}

// Failed returns entries whose status is unknown
func (c *CheckResult) Failed() []Entry {
	return c.filter(func(e Entry) bool { return e.Err != nil })
}

func (c *CheckResult) filter(keep func(Entry) bool) []Entry {
	var out []Entry
	for _, e := range c.Entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Check fetches the backend status of every descriptor's remote key, one
// batch per store. Credential, permission, and exhausted-retry failures abort
// the check; other per-key failures are recorded on the entry.
func (p *Pipeline) Check(ctx context.Context, descs []descriptor.SecretDescriptor) (*CheckResult, error) {
	result := &CheckResult{
		Entries:  make([]Entry, len(descs)),
		Statuses: make(map[remote.StoreKey]descriptor.RemoteSecretStatus),
	}

	clients := make(map[string]*remote.Client)
	keysByStore := make(map[string][]string)
	var storeOrder []string

	for i, d := range descs {
		result.Entries[i] = Entry{Descriptor: d, Status: descriptor.RemoteSecretStatus{RemoteKey: d.RemoteKey}}

		name, client, err := p.stores.Client(ctx, d.SecretStoreRef)
		if err != nil {
			result.Entries[i].fail(err)
			p.logger.Error("%s: %v", d.RemoteKey, err)
			continue
		}
		result.Entries[i].Store = name
		if _, ok := clients[name]; !ok {
			clients[name] = client
			storeOrder = append(storeOrder, name)
		}
		keysByStore[name] = append(keysByStore[name], d.RemoteKey)
	}

	failed := make(map[remote.StoreKey]error)
	for _, name := range storeOrder {
		statuses, err := clients[name].BatchStatus(ctx, keysByStore[name])
		var batchErr *remote.BatchError
		switch {
		case errors.As(err, &batchErr):
			for key, kerr := range batchErr.Failed {
				failed[remote.StoreKey{Store: name, RemoteKey: key}] = kerr
			}
		case err != nil:
			return result, err
		}
		for key, st := range statuses {
			result.Statuses[remote.StoreKey{Store: name, RemoteKey: key}] = st
		}
	}

	warned := make(map[remote.StoreKey]bool)
	for i := range result.Entries {
		e := &result.Entries[i]
		if e.Err != nil {
			continue
		}
		if err, ok := failed[e.Key()]; ok {
			e.fail(err)
			p.logger.Error("%v", err)
			continue
		}
		e.Status = result.Statuses[e.Key()]
		if e.Status.Empty() && !warned[e.Key()] {
			warned[e.Key()] = true
			p.logger.Warn("%s exists in %s but has no versions", e.Descriptor.RemoteKey, e.Store)
		}
	}
	return result, nil
}
