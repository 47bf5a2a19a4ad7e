package event

import (
	"fmt"
	"strconv"
	"strings"
)

// renderer walks a parsed node tree against a Context and a variable
// resolver, enforcing MaxRecursion against $inner$ expansion and nested
// %for%/%if% blocks combined.
type renderer struct {
	ctx      *Context
	resolve  func(name string) (string, bool, error)
	depth    int
}

// render renders body (parsed once by the caller and cached) against snap
// using resolveVar as the outermost lookup tier.
func render(nodes []node, ctx *Context, resolveVar func(name string) (string, bool, error)) (string, error) {
	r := &renderer{ctx: ctx, resolve: resolveVar}
	return r.renderNodes(nodes)
}

func (r *renderer) enter() error {
	r.depth++
	if r.depth > MaxRecursion {
		return fmt.Errorf("event: max recursion depth %d exceeded", MaxRecursion)
	}
	return nil
}

func (r *renderer) leave() { r.depth-- }

func (r *renderer) renderNodes(nodes []node) (string, error) {
	var b strings.Builder
	for _, n := range nodes {
		s, err := r.renderNode(n)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func (r *renderer) renderNode(n node) (string, error) {
	switch v := n.(type) {
	case textNode:
		return v.text, nil
	case varNode:
		return r.renderVar(v.raw)
	case *forNode:
		return r.renderFor(v)
	case *ifNode:
		return r.renderIf(v)
	default:
		return "", fmt.Errorf("event: unknown node type %T", n)
	}
}

// renderVar expands any $inner$ references in raw, then resolves the
// resulting name through lookup.
func (r *renderer) renderVar(raw string) (string, error) {
	if err := r.enter(); err != nil {
		return "", err
	}
	defer r.leave()

	name, err := r.expandInner(raw)
	if err != nil {
		return "", err
	}
	return r.lookup(name)
}

// expandInner resolves every $name$ occurrence inside s, recursively, so
// that e.g. %match$idx$_result% can reference match0_result, match1_result,
// and so on depending on the current value of $idx$.
func (r *renderer) expandInner(s string) (string, error) {
	for {
		i := strings.IndexByte(s, '$')
		if i < 0 {
			return s, nil
		}
		j := strings.IndexByte(s[i+1:], '$')
		if j < 0 {
			return "", fmt.Errorf("event: unterminated $ in %q", s)
		}
		inner := s[i+1 : i+1+j]
		if err := r.enter(); err != nil {
			return "", err
		}
		val, err := r.lookup(inner)
		r.leave()
		if err != nil {
			return "", err
		}
		s = s[:i] + val + s[i+1+j+1:]
	}
}

// lookup resolves a single already-inner-expanded variable name through the
// user-variable table first, then the caller-supplied translator chain.
func (r *renderer) lookup(name string) (string, error) {
	if v, ok, err := r.ctx.lookupUserVar(name); err != nil {
		return "", err
	} else if ok {
		return v, nil
	}
	val, ok, err := r.resolve(name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("event: unknown variable %q", name)
	}
	return val, nil
}

func (r *renderer) renderFor(f *forNode) (string, error) {
	if err := r.enter(); err != nil {
		return "", err
	}
	defer r.leave()

	items, err := r.rangeItems(f.rng)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, item := range items {
		pop := r.ctx.pushLoopVar(f.ident, item)
		s, err := r.renderNodes(f.body)
		pop()
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func (r *renderer) rangeItems(rng rangeExpr) ([]string, error) {
	if rng.isList {
		items := make([]string, len(rng.items))
		for i, it := range rng.items {
			v, err := r.expandInner(it)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	}

	fromS, err := r.expandInner(rng.from)
	if err != nil {
		return nil, err
	}
	toS, err := r.expandInner(rng.to)
	if err != nil {
		return nil, err
	}
	from, err := r.intOperand(fromS)
	if err != nil {
		return nil, fmt.Errorf("event: %%for%% lower bound %q: %w", rng.from, err)
	}
	to, err := r.intOperand(toS)
	if err != nil {
		return nil, fmt.Errorf("event: %%for%% upper bound %q: %w", rng.to, err)
	}
	var items []string
	if from <= to {
		for i := from; i <= to; i++ {
			items = append(items, strconv.Itoa(i))
		}
	} else {
		for i := from; i >= to; i-- {
			items = append(items, strconv.Itoa(i))
		}
	}
	return items, nil
}

func (r *renderer) renderIf(n *ifNode) (string, error) {
	if err := r.enter(); err != nil {
		return "", err
	}
	defer r.leave()

	ok, err := r.evalCond(n)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return r.renderNodes(n.body)
}

// evalCond compares the two operands numerically if both parse as
// integers, falling back to a string comparison otherwise (only == and !=
// are meaningful for strings).
func (r *renderer) evalCond(n *ifNode) (bool, error) {
	left, err := r.operand(n.left)
	if err != nil {
		return false, err
	}
	right, err := r.operand(n.right)
	if err != nil {
		return false, err
	}

	li, lerr := strconv.Atoi(left)
	ri, rerr := strconv.Atoi(right)
	if lerr == nil && rerr == nil {
		switch n.op {
		case "==":
			return li == ri, nil
		case "!=":
			return li != ri, nil
		case "<":
			return li < ri, nil
		case "<=":
			return li <= ri, nil
		case ">":
			return li > ri, nil
		case ">=":
			return li >= ri, nil
		}
	}
	switch n.op {
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	default:
		return false, fmt.Errorf("event: %%if%% operator %q needs numeric operands, got %q and %q", n.op, left, right)
	}
}

// operand resolves an %if% side: a variable name if it expands to one,
// otherwise its own literal text (so e.g. "3" compares as the literal 3).
func (r *renderer) operand(s string) (string, error) {
	expanded, err := r.expandInner(s)
	if err != nil {
		return "", err
	}
	if v, err := r.lookup(expanded); err == nil {
		return v, nil
	}
	return expanded, nil
}

func (r *renderer) intOperand(s string) (int, error) {
	if v, err := r.lookup(s); err == nil {
		s = v
	}
	return strconv.Atoi(s)
}
