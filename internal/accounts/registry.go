package accounts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/stoker/internal/codespaces"
	"github.com/seantiz/stoker/internal/model"
	"github.com/seantiz/stoker/internal/store"
)

var (
	// ErrNotFound means no account is registered under the given name.
	ErrNotFound = errors.New("account not found")

	// ErrExists means an account with the given name is already registered.
	ErrExists = errors.New("account already exists")

	// ErrLocked means the account comes from the secrets file and cannot be
	// removed at runtime.
	ErrLocked = errors.New("account is locked")
)

// entry pairs an account with its API client and lazily cached user info.
type entry struct {
	account model.Account
	client  *codespaces.Client
}

// Registry holds the configured provider accounts and resolves which client
// to use for a given account name. Accounts added at runtime are persisted
// through the account store; accounts from the secrets file are locked.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	store   store.AccountStore
	baseURL string
}

// NewRegistry creates an empty registry persisting runtime accounts to s.
func NewRegistry(s store.AccountStore) *Registry {
	return NewRegistryWithBaseURL(s, codespaces.DefaultBaseURL)
}

// NewRegistryWithBaseURL creates a registry whose clients target an explicit
// API root. Tests point this at httptest servers.
func NewRegistryWithBaseURL(s store.AccountStore, baseURL string) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		store:   s,
		baseURL: baseURL,
	}
}

func (r *Registry) newClient(token string) *codespaces.Client {
	return codespaces.NewWithBaseURL(r.baseURL, token)
}

// Load populates the registry: locked accounts from the secrets mapping, then
// persisted runtime accounts. A persisted account shadowed by a locked one of
// the same name is skipped. Tokens are not validated here; a bad token
// surfaces on first API call.
func (r *Registry) Load(ctx context.Context, locked map[string]string) error {
	persisted, err := r.store.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load persisted accounts: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, token := range locked {
		r.entries[name] = &entry{
			account: model.Account{Name: name, Token: token, Locked: true},
			client:  r.newClient(token),
		}
	}
	for name, token := range persisted {
		if _, ok := r.entries[name]; ok {
			continue
		}
		r.entries[name] = &entry{
			account: model.Account{Name: name, Token: token},
			client:  r.newClient(token),
		}
	}
	return nil
}

// Add validates the token against the provider, registers the account, and
// persists the updated runtime set.
func (r *Registry) Add(ctx context.Context, name, token string) (*model.Account, error) {
	if name == "" {
		return nil, errors.New("account name is required")
	}
	if token == "" {
		return nil, errors.New("account token is required")
	}

	r.mu.RLock()
	_, exists := r.entries[name]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("account %q: %w", name, ErrExists)
	}

	client := r.newClient(token)
	user, err := client.User(ctx)
	if err != nil {
		return nil, fmt.Errorf("validate token for %q: %w", name, err)
	}

	r.mu.Lock()
	if _, ok := r.entries[name]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("account %q: %w", name, ErrExists)
	}
	acct := model.Account{Name: name, Token: token, Login: user.Login}
	r.entries[name] = &entry{account: acct, client: client}
	unlocked := r.unlockedLocked()
	r.mu.Unlock()

	if err := r.store.SaveAccounts(ctx, unlocked); err != nil {
		return nil, fmt.Errorf("persist accounts: %w", err)
	}
	return &acct, nil
}

// Remove unregisters a runtime account and persists the updated set. Locked
// accounts cannot be removed.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("account %q: %w", name, ErrNotFound)
	}
	if e.account.Locked {
		r.mu.Unlock()
		return fmt.Errorf("account %q: %w", name, ErrLocked)
	}
	delete(r.entries, name)
	unlocked := r.unlockedLocked()
	r.mu.Unlock()

	if err := r.store.SaveAccounts(ctx, unlocked); err != nil {
		return fmt.Errorf("persist accounts: %w", err)
	}
	return nil
}

// Client returns the API client for the named account.
func (r *Registry) Client(name string) (*codespaces.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("account %q: %w", name, ErrNotFound)
	}
	return e.client, nil
}

// Get returns the named account.
func (r *Registry) Get(name string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("account %q: %w", name, ErrNotFound)
	}
	acct := e.account
	return &acct, nil
}

// UserInfo returns the provider login for the account, fetching and caching
// it on first use.
func (r *Registry) UserInfo(ctx context.Context, name string) (*model.User, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("account %q: %w", name, ErrNotFound)
	}
	if e.account.Login != "" {
		return &model.User{Login: e.account.Login}, nil
	}

	user, err := e.client.User(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if cur, ok := r.entries[name]; ok {
		cur.account.Login = user.Login
	}
	r.mu.Unlock()
	return user, nil
}

// List returns all accounts sorted by name for a stable API response.
func (r *Registry) List() []model.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	accounts := make([]model.Account, 0, len(r.entries))
	for _, e := range r.entries {
		accounts = append(accounts, e.account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Name < accounts[j].Name
	})
	return accounts
}

// Names returns the registered account names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// unlockedLocked snapshots the runtime (persistable) accounts. Callers hold mu.
func (r *Registry) unlockedLocked() map[string]string {
	unlocked := make(map[string]string)
	for name, e := range r.entries {
		if !e.account.Locked {
			unlocked[name] = e.account.Token
		}
	}
	return unlocked
}
