package engine

import (
	"time"

	"github.com/kioku-io/kioku/internal/model"
)

// LeaseAcquire installs a new lease for (ns,key) if none exists, the
// existing one has expired, or it is held by the same owner. The minted token is drawn from the same
// monotonic counter as commit_seq — only Acquire bumps it; Renew and
// Release reuse the token they are given.
func (e *Engine) LeaseAcquire(ns, key, owner string, ttl time.Duration) (model.Lease, error) {
	if err := model.ValidateNamespace(ns); err != nil {
		return model.Lease{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.namespace(ns)
	now := e.clock()
	if existing, ok := n.leases[key]; ok && !existing.Expired(now) && existing.Owner != owner {
		return model.Lease{}, model.Conflictf("lease %s/%s held by %s", ns, key, existing.Owner)
	}

	seq := n.commitSeq + 1
	n.commitSeq = seq

	lease := &model.Lease{Ns: ns, Key: key, Owner: owner, Token: seq, ExpiresAt: now.Add(ttl)}
	n.leases[key] = lease
	return *lease, nil
}

// LeaseRenew extends an existing lease's expiry, requiring an exact
// (owner, token) match. It does not mint a new token.
func (e *Engine) LeaseRenew(ns, key, owner string, token uint64, ttl time.Duration) (model.Lease, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.ns[ns]
	if !ok {
		return model.Lease{}, model.NotFoundf("lease %s/%s not found", ns, key)
	}
	lease, ok := n.leases[key]
	if !ok {
		return model.Lease{}, model.NotFoundf("lease %s/%s not found", ns, key)
	}
	if lease.Owner != owner || lease.Token != token {
		return model.Lease{}, model.Conflictf("lease %s/%s: owner/token mismatch", ns, key)
	}
	lease.ExpiresAt = e.clock().Add(ttl)
	return *lease, nil
}

// LeaseRelease removes a lease, requiring an exact (owner, token) match.
func (e *Engine) LeaseRelease(ns, key, owner string, token uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.ns[ns]
	if !ok {
		return model.NotFoundf("lease %s/%s not found", ns, key)
	}
	lease, ok := n.leases[key]
	if !ok {
		return model.NotFoundf("lease %s/%s not found", ns, key)
	}
	if lease.Owner != owner || lease.Token != token {
		return model.Conflictf("lease %s/%s: owner/token mismatch", ns, key)
	}
	delete(n.leases, key)
	return nil
}

// ValidateFence checks that the current lease for (ns,resource) carries
// exactly fence as its token and has not expired. Used at the request edge
// to gate fenced writes (§4.4).
func (e *Engine) ValidateFence(ns, resource string, fence uint64) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n, ok := e.ns[ns]
	if !ok {
		return model.Conflictf("no lease for resource %s/%s", ns, resource)
	}
	lease, ok := n.leases[resource]
	if !ok {
		return model.Conflictf("no lease for resource %s/%s", ns, resource)
	}
	if lease.Token != fence || lease.Expired(e.clock()) {
		return model.Conflictf("fence mismatch for resource %s/%s", ns, resource)
	}
	return nil
}
