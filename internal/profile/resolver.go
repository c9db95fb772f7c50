package profile

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Resolver merges inheritance chains into effective profiles.
//
// Resolution walks the inherit list depth-first with an explicit visiting
// set, so cycles fail fast instead of recursing unboundedly. Results are
// cached for the process lifetime; Invalidate() drops the cache on config
// reload.
type Resolver struct {
	store *Store

	mu    sync.Mutex
	cache map[string]*node
}

type node struct {
	// prio orders blocks for scalar precedence: the profile itself first,
	// then ancestors nearest-first (a first-listed parent and its chain
	// before later-listed ones).
	prio []*Block
	// lineage orders blocks for list concatenation: furthest ancestors
	// first, the profile itself last. Every ancestor appears exactly once
	// even when reachable through several inherit paths.
	lineage []*Block
	eff     *Effective
}

func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store, cache: map[string]*node{}}
}

// Store exposes the underlying profile store.
func (r *Resolver) Store() *Store { return r.store }

// Resolve returns the effective profile for name.
// Failures are *ConfigError values attributed to the offending profile.
func (r *Resolver) Resolve(name string) (*Effective, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.resolveLocked(name, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return n.eff, nil
}

// Invalidate drops all cached effective profiles.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = map[string]*node{}
	r.mu.Unlock()
}

func (r *Resolver) resolveLocked(name string, visiting map[string]bool) (*node, error) {
	if n, ok := r.cache[name]; ok {
		return n, nil
	}
	if visiting[name] {
		return nil, &ConfigError{Profile: name, Err: ErrCycle}
	}
	blk, ok := r.store.Block(name)
	if !ok {
		return nil, &ConfigError{Profile: name, Err: ErrUnknownProfile}
	}

	visiting[name] = true
	defer delete(visiting, name)

	// Resolve ancestors fully before applying the profile's own values.
	parents := make([]*node, 0, 2)
	for _, pname := range blk.Inherit() {
		pn, err := r.resolveLocked(pname, visiting)
		if err != nil {
			// A dangling reference is the inheriting profile's fault;
			// deeper failures keep their own attribution.
			var ce *ConfigError
			if errors.As(err, &ce) && ce.Profile == pname && errors.Is(err, ErrUnknownProfile) {
				return nil, &ConfigError{Profile: name, Err: fmt.Errorf("inherits unknown profile %q: %w", pname, ErrUnknownProfile)}
			}
			return nil, err
		}
		parents = append(parents, pn)
	}

	n := &node{}
	seenPrio := map[string]bool{}
	addPrio := func(b *Block) {
		if !seenPrio[b.Name] {
			seenPrio[b.Name] = true
			n.prio = append(n.prio, b)
		}
	}
	seenLin := map[string]bool{}
	addLin := func(b *Block) {
		if !seenLin[b.Name] {
			seenLin[b.Name] = true
			n.lineage = append(n.lineage, b)
		}
	}
	addPrio(blk)
	for _, pn := range parents {
		for _, b := range pn.prio {
			addPrio(b)
		}
		for _, b := range pn.lineage {
			addLin(b)
		}
	}
	addLin(blk)

	n.eff = mergeLineage(n.prio, n.lineage).effective(name)
	r.cache[name] = n
	return n, nil
}

// ---- merge ----

// orderedListKeys fixes the iteration order for list-typed options.
var orderedListKeys = []string{KeyCommand, KeyArgs, KeyFlags, KeyGlobalFlags}

type merged struct {
	scalars     map[string]string
	scalarOrder []string
	lists       map[string][]string
	extra       []string
}

func newMerged() *merged {
	return &merged{
		scalars: map[string]string{},
		lists:   map[string][]string{},
	}
}

func (m *merged) setScalar(key, val string) {
	if _, seen := m.scalars[key]; !seen {
		m.scalarOrder = append(m.scalarOrder, key)
	}
	m.scalars[key] = val
}

func (m *merged) setScalarIfAbsent(key, val string) {
	if _, seen := m.scalars[key]; seen {
		return
	}
	m.scalarOrder = append(m.scalarOrder, key)
	m.scalars[key] = val
}

func (m *merged) appendList(key string, vals []string) {
	m.lists[key] = append(m.lists[key], vals...)
}

// blockOptions classifies a single block's own options into the merge
// buckets, without any inherited contributions.
func blockOptions(blk *Block) *merged {
	m := newMerged()
	for _, o := range blk.Options {
		key := canonical(o.Key)
		switch {
		case key == KeyInherit:
			// consumed by the traversal itself
		case listKeys[key]:
			m.appendList(key, o.Values)
		case strings.HasPrefix(key, "flag."):
			m.extra = append(m.extra, renderFlag(strings.TrimPrefix(key, "flag."), o.Values)...)
		case strings.HasPrefix(key, "env."), strings.HasPrefix(key, "-"), builtinScalar[key]:
			m.setScalar(key, strings.Join(o.Values, " "))
		default:
			// Unrecognized option: forward-compatible passthrough into the
			// extra flags bucket rather than a hard error.
			m.extra = append(m.extra, renderFlag(key, o.Values)...)
		}
	}
	return m
}

// mergeLineage folds per-block options along both orders: scalars by
// precedence (the profile's own value wins, ties among ancestors break
// toward the first-listed parent's chain), lists and extra flags by
// lineage (ancestors before descendants). Each contributor is merged
// exactly once regardless of how many inherit paths reach it.
func mergeLineage(prio, lineage []*Block) *merged {
	own := make(map[string]*merged, len(lineage))
	options := func(b *Block) *merged {
		m, ok := own[b.Name]
		if !ok {
			m = blockOptions(b)
			own[b.Name] = m
		}
		return m
	}

	winners := map[string]string{}
	for i := len(prio) - 1; i >= 0; i-- {
		bm := options(prio[i])
		for _, k := range bm.scalarOrder {
			winners[k] = bm.scalars[k]
		}
	}

	out := newMerged()
	for _, b := range lineage {
		bm := options(b)
		for _, k := range bm.scalarOrder {
			out.setScalarIfAbsent(k, winners[k])
		}
		for _, lk := range orderedListKeys {
			if vals := bm.lists[lk]; len(vals) > 0 {
				out.appendList(lk, vals)
			}
		}
		out.extra = append(out.extra, bm.extra...)
	}
	return out
}

var builtinScalar = map[string]bool{
	KeyDescription: true,
	KeySchedule:    true,
	KeyResticPath:  true,
	KeyWaitForLock: true,
	KeyCPUPriority: true,
	KeyIOPriority:  true,
	KeyKeyring:     true,
	KeyLogFilter:   true,
	KeyTimeout:     true,
	KeyWorkDir:     true,
}

// renderFlag turns a passthrough option into CLI tokens: one flag per value,
// or a bare flag when no value is given.
func renderFlag(name string, values []string) []string {
	flag := name
	if !strings.HasPrefix(flag, "-") {
		flag = "--" + flag
	}
	nonEmpty := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	if len(nonEmpty) == 0 {
		return []string{flag}
	}
	out := make([]string, 0, 2*len(nonEmpty))
	for _, v := range nonEmpty {
		out = append(out, flag, v)
	}
	return out
}

func (m *merged) effective(name string) *Effective {
	eff := &Effective{
		Name:        name,
		Description: m.scalars[KeyDescription],
		Command:     append([]string(nil), m.lists[KeyCommand]...),
		Args:        append([]string(nil), m.lists[KeyArgs]...),
		Flags:       append([]string(nil), m.lists[KeyFlags]...),
		GlobalFlags: append([]string(nil), m.lists[KeyGlobalFlags]...),
		Schedule:    m.scalars[KeySchedule],
		ResticPath:  m.scalars[KeyResticPath],
		WaitForLock: m.scalars[KeyWaitForLock],
		CPUPriority: m.scalars[KeyCPUPriority],
		IOPriority:  m.scalars[KeyIOPriority],
		Keyring:     m.scalars[KeyKeyring],
		LogFilter:   m.scalars[KeyLogFilter],
		Timeout:     m.scalars[KeyTimeout],
		WorkDir:     m.scalars[KeyWorkDir],
		ExtraFlags:  append([]string(nil), m.extra...),
	}
	for _, k := range m.scalarOrder {
		v := m.scalars[k]
		switch {
		case strings.HasPrefix(k, "env."):
			eff.Env = append(eff.Env, KV{Key: strings.TrimPrefix(k, "env."), Value: v})
		case strings.HasPrefix(k, "-"):
			eff.OptionFlags = append(eff.OptionFlags, KV{Key: k, Value: v})
		}
	}
	return eff
}
