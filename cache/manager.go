// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package cache is the single source of truth for accounts, credentials,
// app metadata and per-request correlation state. Durable records are
// encrypted at rest under a per-profile context bootstrapped from the
// cookie tier; reads are served from a decrypted in-memory mirror.
package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/spakit/spakit/cryptor"
	"github.com/spakit/spakit/storage"
)

// Manager owns key naming, indexing and encryption-at-rest for one client.
type Manager struct {
	clientID string
	cryptor  *cryptor.Provider
	logger   hclog.Logger

	durable  storage.Store    // encrypted records + indices
	mirror   *storage.Session // decrypted in-memory mirror of durable records
	temp     *storage.Memory  // ephemeral correlation state
	cookie   storage.Store    // short security flags + encryption context
	location storage.Location // effective durable tier after any fallback

	key   []byte
	ctxID string

	// mu sequences every index read-modify-write and mirror/index pair.
	mu sync.Mutex

	// queueMu guards the durable write queue; writes drain FIFO on one
	// goroutine so same-key updates apply in submission order.
	queueMu  sync.Mutex
	queue    []func()
	draining bool
	pending  sync.WaitGroup
}

// NewManager creates a Manager and performs the encryption bootstrap: load
// (or create) the encryption context from the cookie tier, wipe the durable
// tier when the context was lost, then eagerly import every indexed record
// into the mirror. Import is best effort per key; corrupt records are
// dropped and logged, never surfaced as a hard failure.
func NewManager(clientID string, c *cryptor.Provider, opt ...Option) (*Manager, error) {
	const op = "cache.NewManager"
	if clientID == "" {
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c == nil {
		return nil, fmt.Errorf("%s: crypto provider is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)

	durable, effective := storage.NewWithFallback(opts.withLocation,
		storage.WithDir(opts.withDir),
		storage.WithNamespace("spakit-"+strings.ToLower(clientID)),
		storage.WithLogger(opts.withLogger),
	)

	cookie := opts.withCookieStore
	if cookie == nil {
		var cookieOpts []storage.Option
		if opts.withCookieTTL > 0 {
			cookieOpts = append(cookieOpts, storage.WithTTL(opts.withCookieTTL))
		}
		cookie = storage.NewCookie(cookieOpts...)
	}

	m := &Manager{
		clientID: clientID,
		cryptor:  c,
		logger:   opts.withLogger,
		durable:  durable,
		mirror:   storage.NewSession(),
		temp:     storage.NewMemory(),
		cookie:   cookie,
		location: effective,
	}

	ec, created, err := m.loadOrCreateContext()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if created {
		// Existing durable records were sealed under a context we no longer
		// hold; they are unreadable and therefore untrusted.
		m.wipeDurable()
	}
	m.key, err = m.deriveKey(ec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.ctxID = ec.ID

	if !created {
		m.importDurable()
	}
	return m, nil
}

// Location reports the effective durable tier: MemoryLocation when the
// requested durable backend was unavailable and the cache downgraded.
func (m *Manager) Location() storage.Location { return m.location }

// Flush blocks until every queued durable write has been applied. Reads are
// served from the mirror, so callers only need Flush before process exit or
// in tests.
func (m *Manager) Flush() { m.pending.Wait() }

// wipeDurable removes every namespaced record from the durable tier.
func (m *Manager) wipeDurable() {
	n := 0
	for _, k := range m.durable.Keys() {
		if strings.HasPrefix(k, keyPrefix+".") || strings.HasPrefix(k, "appmetadata-") || m.looksLikeRecord(k) {
			m.durable.Remove(k)
			n++
		}
	}
	if n > 0 {
		m.logger.Info("wiped unreadable durable cache", "records", n)
	}
}

// looksLikeRecord reports whether a durable key was written by this cache's
// record path (record keys are the entities' composite keys, which always
// contain at least one "-" separator).
func (m *Manager) looksLikeRecord(key string) bool {
	return strings.Contains(key, "-")
}

// importDurable eagerly decrypts every indexed record into the mirror,
// dropping (and de-indexing) records that are not valid JSON, lack envelope
// fields, were sealed under a stale context, or fail authenticated
// decryption. One corrupt record never aborts the rest of the import.
func (m *Manager) importDurable() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs *multierror.Error
	imported := 0
	for _, idx := range []struct {
		indexKey string
		binding  string
	}{
		{accountIndexKey, sharedContext},
		{tokenIndexKey, m.clientID},
	} {
		keys := m.readIndex(idx.indexKey)
		kept := keys[:0]
		for _, key := range keys {
			plaintext, err := m.openRecord(key, idx.binding)
			if err != nil {
				m.durable.Remove(key)
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			if err := m.mirror.Set(key, string(plaintext)); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			kept = append(kept, key)
			imported++
		}
		if len(kept) != len(keys) {
			if err := m.writeIndex(idx.indexKey, kept); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	// app metadata is unindexed; recognized by its key shape
	for _, key := range m.durable.Keys() {
		if !strings.HasPrefix(key, "appmetadata-") {
			continue
		}
		plaintext, err := m.openRecord(key, m.clientID)
		if err != nil {
			m.durable.Remove(key)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		_ = m.mirror.Set(key, string(plaintext))
	}

	if err := errs.ErrorOrNil(); err != nil {
		m.logger.Warn("dropped unreadable cache records during import", "error", err)
	}
	m.logger.Debug("cache import complete", "records", imported)
}

// openRecord reads and decrypts one durable record.
func (m *Manager) openRecord(key, binding string) ([]byte, error) {
	raw, ok := m.durable.Get(key)
	if !ok {
		return nil, fmt.Errorf("dangling index entry: %w", ErrNotFound)
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("record is not valid JSON: %w", err)
	}
	if env.ID == "" || env.Nonce == "" || env.Data == "" {
		return nil, fmt.Errorf("record envelope is missing fields: %w", ErrInvalidParameter)
	}
	if env.ID != m.ctxID {
		return nil, fmt.Errorf("record sealed under stale context %q: %w", env.ID, ErrInvalidParameter)
	}
	nonce, err := cryptor.Base64URLDecode(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("record nonce: %w", err)
	}
	data, err := cryptor.Base64URLDecode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("record data: %w", err)
	}
	return m.cryptor.Decrypt(m.key, nonce, binding, data)
}

// sealRecord encrypts plaintext for the durable tier.
func (m *Manager) sealRecord(plaintext []byte, binding string) (string, error) {
	env, err := m.cryptor.Encrypt(m.key, plaintext, binding)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(envelope{
		ID:    m.ctxID,
		Nonce: cryptor.Base64URLEncode(env.Nonce),
		Data:  cryptor.Base64URLEncode(env.Data),
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// enqueueDurable runs fn on the single background drain goroutine, after
// every previously queued durable operation. The mirror is already updated
// and the index already written by the caller, so a concurrent read
// observes the latest value and a crash mid-write at worst leaves an index
// entry that self-heals on lookup.
func (m *Manager) enqueueDurable(fn func()) {
	m.pending.Add(1)
	m.queueMu.Lock()
	m.queue = append(m.queue, fn)
	if !m.draining {
		m.draining = true
		go m.drainQueue()
	}
	m.queueMu.Unlock()
}

func (m *Manager) drainQueue() {
	for {
		m.queueMu.Lock()
		if len(m.queue) == 0 {
			m.draining = false
			m.queueMu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.queueMu.Unlock()
		fn()
		m.pending.Done()
	}
}

// enqueueDurableSet seals plaintext and writes it to durable storage off
// the caller's path.
func (m *Manager) enqueueDurableSet(key string, plaintext []byte, binding string) {
	m.enqueueDurable(func() {
		sealed, err := m.sealRecord(plaintext, binding)
		if err != nil {
			m.logger.Error("unable to seal cache record", "key", key, "error", err)
			return
		}
		if err := m.durable.Set(key, sealed); err != nil {
			m.logger.Error("unable to persist cache record", "key", key, "error", err)
		}
	})
}

// SetAccount caches (or updates) an account and indexes it.
func (m *Manager) SetAccount(a *Account) error {
	const op = "cache.(Manager).SetAccount"
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("%s: unable to marshal account: %w", op, err)
	}
	key := a.Key()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mirror.Set(key, string(raw)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := m.addToIndex(accountIndexKey, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.enqueueDurableSet(key, raw, m.bindingContext(false))
	return nil
}

// Account returns the account for the composite key, self-healing a
// dangling index entry on a failed lookup.
func (m *Manager) Account(key string) (*Account, error) {
	const op = "cache.(Manager).Account"
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.mirror.Get(key)
	if !ok {
		_ = m.removeFromIndex(accountIndexKey, key)
		return nil, fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	}
	var a Account
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal account: %w", op, err)
	}
	return &a, nil
}

// Accounts enumerates all cached accounts via the account index.
func (m *Manager) Accounts() ([]*Account, error) {
	const op = "cache.(Manager).Accounts"
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.readIndex(accountIndexKey)
	accounts := make([]*Account, 0, len(keys))
	kept := keys[:0]
	for _, key := range keys {
		raw, ok := m.mirror.Get(key)
		if !ok {
			continue // dangling; dropped below
		}
		var a Account
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("%s: unable to unmarshal account: %w", op, err)
		}
		accounts = append(accounts, &a)
		kept = append(kept, key)
	}
	if len(kept) != len(keys) {
		if err := m.writeIndex(accountIndexKey, kept); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return accounts, nil
}

// SetCredential caches a credential and indexes it. Caching a claims-free
// access token invalidates any previously cached access token for the same
// target that carried a claims hash, so a stale claims-scoped token is
// never served once a fresh claims-free one exists.
func (m *Manager) SetCredential(c *Credential) error {
	const op = "cache.(Manager).SetCredential"
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Type == AccessTokenType && c.ClaimsHash == "" {
		if err := m.invalidateClaimsTokensLocked(c); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	raw, err := c.marshalRaw()
	if err != nil {
		return fmt.Errorf("%s: unable to marshal credential: %w", op, err)
	}
	key := c.Key()
	if err := m.mirror.Set(key, string(raw)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := m.addToIndex(tokenIndexKey, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.enqueueDurableSet(key, raw, m.bindingContext(true))
	return nil
}

// invalidateClaimsTokensLocked must be called with m.mu held.
func (m *Manager) invalidateClaimsTokensLocked(fresh *Credential) error {
	for _, key := range m.readIndex(tokenIndexKey) {
		cred, err := m.credentialAtLocked(key)
		if err != nil {
			continue
		}
		if cred.Type != AccessTokenType || cred.ClaimsHash == "" {
			continue
		}
		if cred.ClientID != fresh.ClientID ||
			cred.AccountKey() != fresh.AccountKey() ||
			scopeKey(cred.Scopes) != scopeKey(fresh.Scopes) {
			continue
		}
		if err := m.removeCredentialLocked(key); err != nil {
			return err
		}
	}
	return nil
}

// credentialAtLocked must be called with m.mu held.
func (m *Manager) credentialAtLocked(key string) (*Credential, error) {
	raw, ok := m.mirror.Get(key)
	if !ok {
		_ = m.removeFromIndex(tokenIndexKey, key)
		return nil, fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	return unmarshalCredential([]byte(raw))
}

// Credential returns the credential stored under key, self-healing dangling
// index entries.
func (m *Manager) Credential(key string) (*Credential, error) {
	const op = "cache.(Manager).Credential"
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, err := m.credentialAtLocked(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cred, nil
}

// CredentialMatch narrows a credential lookup.
type CredentialMatch struct {
	Type          CredentialType
	HomeAccountID string
	Realm         string
	Scopes        []string // access tokens: every requested scope must be present
	ClaimsHash    string
}

// FindCredential returns the best credential matching the criteria, or
// ErrNotFound. When several access tokens match, one whose scope set equals
// the request exactly wins over a superset match.
func (m *Manager) FindCredential(match CredentialMatch) (*Credential, error) {
	const op = "cache.(Manager).FindCredential"
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Credential
	for _, key := range m.readIndex(tokenIndexKey) {
		cred, err := m.credentialAtLocked(key)
		if err != nil {
			continue // dangling entry self-healed
		}
		if cred.Type != match.Type || cred.ClientID != m.clientID {
			continue
		}
		if match.HomeAccountID != "" && !strings.EqualFold(cred.HomeAccountID, match.HomeAccountID) {
			continue
		}
		if match.Realm != "" && !strings.EqualFold(cred.Realm, match.Realm) {
			continue
		}
		if cred.Type == AccessTokenType {
			if cred.ClaimsHash != match.ClaimsHash {
				continue
			}
			if !cred.MatchesScopes(match.Scopes) {
				continue
			}
			if scopeKey(cred.Scopes) == scopeKey(match.Scopes) {
				return cred, nil // exact scope match wins
			}
		}
		if best == nil {
			best = cred
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return best, nil
}

// RemoveCredential removes the credential from its index first, then
// deletes its value, so a crash in between leaves an unreferenced value
// rather than a dangling index entry.
func (m *Manager) RemoveCredential(key string) error {
	const op = "cache.(Manager).RemoveCredential"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.removeCredentialLocked(key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// removeCredentialLocked must be called with m.mu held.
func (m *Manager) removeCredentialLocked(key string) error {
	if err := m.removeFromIndex(tokenIndexKey, key); err != nil {
		return err
	}
	m.mirror.Remove(key)
	m.enqueueDurable(func() { m.durable.Remove(key) })
	return nil
}

// RemoveAccount removes every credential owned by the account before the
// account key leaves its index, so no credential can be orphaned by a crash
// mid-removal.
func (m *Manager) RemoveAccount(accountKey string) error {
	const op = "cache.(Manager).RemoveAccount"
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs *multierror.Error
	for _, key := range m.readIndex(tokenIndexKey) {
		cred, err := m.credentialAtLocked(key)
		if err != nil {
			continue
		}
		if cred.AccountKey() != accountKey {
			continue
		}
		if err := m.removeCredentialLocked(key); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := m.removeFromIndex(accountIndexKey, accountKey); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.mirror.Remove(accountKey)
	m.enqueueDurable(func() { m.durable.Remove(accountKey) })
	return nil
}

// SetAppMetadata caches per-client app metadata.
func (m *Manager) SetAppMetadata(md *AppMetadata) error {
	const op = "cache.(Manager).SetAppMetadata"
	if md == nil {
		return fmt.Errorf("%s: app metadata is nil: %w", op, ErrNilParameter)
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("%s: unable to marshal app metadata: %w", op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mirror.Set(md.Key(), string(raw)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.enqueueDurableSet(md.Key(), raw, m.bindingContext(true))
	return nil
}

// AppMetadata returns the cached app metadata for an environment.
func (m *Manager) AppMetadata(environment string) (*AppMetadata, error) {
	const op = "cache.(Manager).AppMetadata"
	md := AppMetadata{ClientID: m.clientID, Environment: environment}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.mirror.Get(md.Key())
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal app metadata: %w", op, err)
	}
	return &md, nil
}

// Clear removes every account, credential and index. Correlation state and
// the interaction flag are left alone; an in-flight flow owns those.
func (m *Manager) Clear() error {
	const op = "cache.(Manager).Clear"
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs *multierror.Error
	for _, key := range m.readIndex(tokenIndexKey) {
		if err := m.removeCredentialLocked(key); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, key := range m.readIndex(accountIndexKey) {
		key := key
		m.mirror.Remove(key)
		m.enqueueDurable(func() { m.durable.Remove(key) })
	}
	if err := m.writeIndex(accountIndexKey, nil); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
