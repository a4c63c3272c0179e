// Package policy provides an optional per-action execution policy carried
// via context.  It is deliberately decoupled from the orchestrator so that
// using it is entirely opt-in – callers that do not embed a Policy in their
// context keep the default "auto" behaviour.

package policy

import (
	"context"
	"strings"

	"github.com/sk-go/actioncore/model/action"
)

// Execution modes recognised by the orchestrator.
const (
	ModeAsk  = "ask"  // force an approval request for every action
	ModeAuto = "auto" // follow the risk-based approval rules (default)
	ModeDeny = "deny" // block action creation
)

// AskFunc is invoked when Mode==ask.  Returning true approves the action,
// false rejects it.  Implementations MAY mutate the policy (for example,
// switching to ModeAuto after the first approval).
type AskFunc func(
	ctx context.Context,
	actionType action.Type,
	parameters map[string]interface{}, // may be nil
	p *Policy,
) bool

// Policy represents the execution settings applied at action creation.
//
//   - Mode controls the high-level behaviour (ask / auto / deny).
//   - AllowList, BlockList filter by action type regardless of Mode.
//   - Ask is only used when Mode==ask.
//
// A nil *Policy means "follow the risk-based rules" and is therefore the
// zero-cost default.
type Policy struct {
	Mode      string        // ask / auto / deny      (default = auto)
	AllowList []action.Type // whitelist (empty => all)
	BlockList []action.Type // blacklist
	Ask       AskFunc       // used only when Mode==ask
}

// Config represents the declarative, serialisable part of a Policy (a Policy
// with AskFunc cannot be persisted).
type Config struct {
	Mode      string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	AllowList []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	BlockList []string `json:"block,omitempty" yaml:"block,omitempty"`
}

// ToConfig converts a runtime Policy into a persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	return &Config{
		Mode:      p.Mode,
		AllowList: typeNames(p.AllowList),
		BlockList: typeNames(p.BlockList),
	}
}

// FromConfig converts a stored Config back to a runtime Policy (without
// AskFunc).
func FromConfig(c *Config) *Policy {
	if c == nil {
		return nil
	}
	return &Policy{
		Mode:      c.Mode,
		AllowList: actionTypes(c.AllowList),
		BlockList: actionTypes(c.BlockList),
	}
}

func typeNames(items []action.Type) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, string(item))
	}
	return out
}

func actionTypes(items []string) []action.Type {
	out := make([]action.Type, 0, len(items))
	for _, item := range items {
		out = append(out, action.Type(item))
	}
	return out
}

// IsAllowed evaluates AllowList / BlockList.  Both lists match the action
// type case-insensitively.
func (p *Policy) IsAllowed(actionType action.Type) bool {
	if p == nil {
		return true
	}

	normalized := strings.ToLower(string(actionType))

	// BlockList has priority.
	for _, b := range p.BlockList {
		if normalized == strings.ToLower(string(b)) {
			return false
		}
	}

	// AllowList – if empty everything is allowed, otherwise only the listed
	// entries.
	if len(p.AllowList) == 0 {
		return true
	}

	for _, a := range p.AllowList {
		if normalized == strings.ToLower(string(a)) {
			return true
		}
	}

	return false
}

type ctxKeyT struct{}

var ctxKey ctxKeyT

// WithPolicy embeds policy in ctx.
func WithPolicy(ctx context.Context, p *Policy) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey, p)
}

// FromContext extracts the policy from ctx, or nil.
func FromContext(ctx context.Context) *Policy {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKey).(*Policy); ok {
		return v
	}
	return nil
}
