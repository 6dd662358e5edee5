package env

import (
	"os"
	"sort"
	"strings"
)

// Env composes the environment handed to block commands. Layers are applied
// in order: the daemon's own environment, global overrides, then whatever
// layers Compose receives (per-block entries, the clicked button variable).
type Env struct {
	base   map[string]string
	global map[string]string
}

// New captures the current process environment and applies global as the
// first override layer. Entries without '=' or with an empty key are ignored.
func New(global []string) *Env {
	e := &Env{base: parse(os.Environ()), global: parse(global)}
	return e
}

// Empty returns an Env without an OS base, useful for hermetic commands.
func Empty(global []string) *Env {
	return &Env{base: map[string]string{}, global: parse(global)}
}

// Lookup returns the value a composed environment would carry for key,
// considering only the base and global layers.
func (e *Env) Lookup(key string) (string, bool) {
	if v, ok := e.global[key]; ok {
		return v, true
	}
	v, ok := e.base[key]
	return v, ok
}

// Compose merges layers over the base and returns a sorted KEY=VALUE slice.
// Values of the override layers may reference other variables as ${VAR} or
// $VAR; references resolve against the merged map, unknown names expand to "".
func (e *Env) Compose(layers ...[]string) []string {
	m := make(map[string]string, len(e.base)+len(e.global))
	for k, v := range e.base {
		m[k] = v
	}
	overrides := make(map[string]string, len(e.global))
	for k, v := range e.global {
		m[k] = v
		overrides[k] = v
	}
	for _, l := range layers {
		for k, v := range parse(l) {
			m[k] = v
			overrides[k] = v
		}
	}
	// base values are taken verbatim; only overrides get expanded, one level deep
	merged := make(map[string]string, len(m))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range overrides {
		if strings.ContainsRune(v, '$') {
			m[k] = os.Expand(v, func(name string) string { return merged[name] })
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func parse(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}
