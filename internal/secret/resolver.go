// Package secret implements the Secret Resolver: recursive
// ${global:NAME} substitution and encrypted:-prefixed decryption,
// applied lazily at point of use rather than at storage time.
package secret

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// globalVarRegex matches a single ${global:NAME} reference. Unlike
// the teacher's resolver.go template-variable regex ({{\w+}}), this
// one targets the spec's distinct delimiter and sentinel prefix.
var globalVarRegex = regexp.MustCompile(`\$\{global:([^}]+)\}`)

const (
	encryptedPrefix       = "encrypted:"
	encryptedFailedPrefix = "encrypted_failed:"
)

// GlobalVarLookup resolves a global variable by name.
type GlobalVarLookup func(ctx context.Context, name string) (string, bool)

// Resolver walks values substituting ${global:NAME} references and
// decrypting encrypted: values, up to a bounded recursion depth.
type Resolver struct {
	lookup   GlobalVarLookup
	kdf      *KDF
	maxDepth int
}

// New builds a Resolver. maxDepth <= 0 defaults to 10, per spec §4.2.
func New(lookup GlobalVarLookup, kdf *KDF, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	return &Resolver{lookup: lookup, kdf: kdf, maxDepth: maxDepth}
}

// Resolve recursively walks value (string / []any / map[string]any)
// substituting every ${global:NAME} occurrence and decrypting
// encrypted: values. Already-resolved values (no tokens, no prefix)
// are returned unchanged — resolution is idempotent.
func (r *Resolver) Resolve(ctx context.Context, value any) any {
	return r.walk(ctx, value, 0)
}

func (r *Resolver) walk(ctx context.Context, value any, depth int) any {
	switch v := value.(type) {
	case string:
		return r.resolveString(ctx, v, depth)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.walk(ctx, item, depth)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = r.walk(ctx, item, depth)
		}
		return out
	default:
		return value
	}
}

func (r *Resolver) resolveString(ctx context.Context, s string, depth int) string {
	if depth >= r.maxDepth {
		log.Warn().Int("depth", depth).Msg("secret resolution depth exceeded, returning partially-resolved value")
		return s
	}

	if strings.HasPrefix(s, encryptedFailedPrefix) {
		// Left un-decrypted and flagged, per spec §4.2 — never retried.
		return s
	}

	if strings.HasPrefix(s, encryptedPrefix) {
		cipher := strings.TrimPrefix(s, encryptedPrefix)
		plain, err := r.kdf.Decrypt(cipher)
		if err != nil {
			log.Warn().Err(err).Msg("decrypting secret failed, flagging as encrypted_failed")
			return encryptedFailedPrefix + cipher
		}
		// The decrypted plaintext may itself contain ${global:...}
		// references or a nested encrypted: layer — keep unwinding.
		return r.resolveString(ctx, plain, depth+1)
	}

	if !strings.Contains(s, "${global:") {
		return s
	}

	resolvedAny := false
	out := globalVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		sub := globalVarRegex.FindStringSubmatch(match)
		name := sub[1]
		val, ok := r.lookup(ctx, name)
		if !ok {
			return match // leave unresolved reference literal
		}
		resolvedAny = true
		return val
	})

	if !resolvedAny {
		return out
	}
	// The substituted value may itself be an encrypted: or ${global:...}
	// reference, so keep unwinding up to maxDepth.
	return r.resolveString(ctx, out, depth+1)
}
