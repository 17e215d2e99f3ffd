// Package hooks is the ordered extension point registry of the login flow.
//
// Callbacks run synchronously in registration order. Callbacks that receive
// a map or account may mutate it; later callbacks see earlier mutations.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/dropDatabas3/cilogonauth/internal/claims"
	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
	"github.com/dropDatabas3/cilogonauth/internal/oauth"
)

// Context describes one authorization attempt.
type Context struct {
	ProviderID string
	Sub        string
	Tokens     *oauth.TokenSet
	// UserData are the decoded identity token claims.
	UserData oauth.UserInfo
	// UserInfo is the merged payload (userinfo over identity token).
	UserInfo oauth.UserInfo
	IsNew    bool
}

// Decision is the result of a pre-authorize callback.
type Decision struct {
	Deny bool
	// Account, when set, replaces the account to authorize.
	Account *repository.Account
}

// Allow is the zero decision.
var Allow = Decision{}

type (
	// IgnoreFunc alters the set of properties the mapper must skip. hc is nil
	// for the global pass.
	IgnoreFunc func(ignored map[string]bool, hc *Context)
	// UserInfoFunc alters the merged userinfo. hc.UserInfo is not yet set.
	UserInfoFunc func(info oauth.UserInfo, hc *Context)
	// PreAuthorizeFunc may deny or substitute the account. account is nil
	// when none has been resolved yet.
	PreAuthorizeFunc func(ctx context.Context, account *repository.Account, hc *Context) Decision
	// ClaimFunc rewrites one mapped value.
	ClaimFunc func(value any, cc claims.ClaimContext, hc *Context) any
	// SaveFunc runs after claim assignments and before the account is saved,
	// for claims the mapper cannot express.
	SaveFunc func(ctx context.Context, account *repository.Account, hc *Context) error
	// PostAuthorizeFunc runs once the account is persisted and linked.
	PostAuthorizeFunc func(ctx context.Context, account *repository.Account, hc *Context)
)

// Registry holds the ordered callbacks per hook point.
type Registry struct {
	mu       sync.RWMutex
	ignore   []IgnoreFunc
	userinfo []UserInfoFunc
	pre      []PreAuthorizeFunc
	claim    []ClaimFunc
	save     []SaveFunc
	post     []PostAuthorizeFunc
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) OnIgnoredProperties(f IgnoreFunc) {
	r.mu.Lock()
	r.ignore = append(r.ignore, f)
	r.mu.Unlock()
}

func (r *Registry) OnUserInfo(f UserInfoFunc) {
	r.mu.Lock()
	r.userinfo = append(r.userinfo, f)
	r.mu.Unlock()
}

func (r *Registry) OnPreAuthorize(f PreAuthorizeFunc) {
	r.mu.Lock()
	r.pre = append(r.pre, f)
	r.mu.Unlock()
}

func (r *Registry) OnClaimValue(f ClaimFunc) {
	r.mu.Lock()
	r.claim = append(r.claim, f)
	r.mu.Unlock()
}

func (r *Registry) OnUserInfoSave(f SaveFunc) {
	r.mu.Lock()
	r.save = append(r.save, f)
	r.mu.Unlock()
}

func (r *Registry) OnPostAuthorize(f PostAuthorizeFunc) {
	r.mu.Lock()
	r.post = append(r.post, f)
	r.mu.Unlock()
}

// IgnoredProperties builds the skip set from base, then runs every callback
// once globally (nil context) and once with hc.
func (r *Registry) IgnoredProperties(base []string, hc *Context) map[string]bool {
	set := make(map[string]bool, len(base))
	for _, p := range base {
		set[p] = true
	}
	if r == nil {
		return set
	}
	r.mu.RLock()
	fs := append([]IgnoreFunc(nil), r.ignore...)
	r.mu.RUnlock()
	for _, f := range fs {
		f(set, nil)
	}
	if hc != nil {
		for _, f := range fs {
			f(set, hc)
		}
	}
	return set
}

// AlterUserInfo lets callbacks rewrite info in place.
func (r *Registry) AlterUserInfo(info oauth.UserInfo, hc *Context) {
	if r == nil {
		return
	}
	r.mu.RLock()
	fs := append([]UserInfoFunc(nil), r.userinfo...)
	r.mu.RUnlock()
	for _, f := range fs {
		f(info, hc)
	}
}

// PreAuthorize runs every callback. Any deny wins; a substitution is passed
// on to the next callback and returned.
func (r *Registry) PreAuthorize(ctx context.Context, account *repository.Account, hc *Context) Decision {
	if r == nil {
		return Decision{Account: account}
	}
	r.mu.RLock()
	fs := append([]PreAuthorizeFunc(nil), r.pre...)
	r.mu.RUnlock()
	out := Decision{Account: account}
	for _, f := range fs {
		d := f(ctx, out.Account, hc)
		if d.Deny {
			out.Deny = true
		}
		if d.Account != nil {
			out.Account = d.Account
		}
	}
	return out
}

// ClaimValue chains the rewrite callbacks.
func (r *Registry) ClaimValue(v any, cc claims.ClaimContext, hc *Context) any {
	if r == nil {
		return v
	}
	r.mu.RLock()
	fs := append([]ClaimFunc(nil), r.claim...)
	r.mu.RUnlock()
	for _, f := range fs {
		v = f(v, cc, hc)
	}
	return v
}

// Rewriter adapts ClaimValue to claims.MapContext.Rewrite.
func (r *Registry) Rewriter(hc *Context) func(any, claims.ClaimContext) any {
	return func(v any, cc claims.ClaimContext) any { return r.ClaimValue(v, cc, hc) }
}

// UserInfoSave stops at the first error.
func (r *Registry) UserInfoSave(ctx context.Context, account *repository.Account, hc *Context) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	fs := append([]SaveFunc(nil), r.save...)
	r.mu.RUnlock()
	for i, f := range fs {
		if err := f(ctx, account, hc); err != nil {
			return fmt.Errorf("hooks: userinfo save #%d: %w", i, err)
		}
	}
	return nil
}

func (r *Registry) PostAuthorize(ctx context.Context, account *repository.Account, hc *Context) {
	if r == nil {
		return
	}
	r.mu.RLock()
	fs := append([]PostAuthorizeFunc(nil), r.post...)
	r.mu.RUnlock()
	for _, f := range fs {
		f(ctx, account, hc)
	}
}
