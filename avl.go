package canard

// This file defines the AVL tree that keeps subscriptions sorted by port
// and the TX queue sorted by arbitration order. Nodes are embedded in the
// values they order, so insertion never allocates.

// avlNode is a node of an AVL tree.
type avlNode[T any] struct {
	up *avlNode[T]
	lr [2]*avlNode[T]
	// Balance factor.
	bf    int8
	value T
}

type avlTree[T any] struct {
	root *avlNode[T]
	len  int
}

// search returns the node for which predicate yields 0 or nil. The predicate
// returns a positive value if the sought item orders after the node's value.
func (t *avlTree[T]) search(predicate func(T) int8) *avlNode[T] {
	n := t.root
	for n != nil {
		cmp := predicate(n.value)
		if cmp == 0 {
			return n
		}
		n = n.lr[b2i(cmp > 0)]
	}
	return nil
}

// insert links node into the tree at the place predicate leads to. If a
// matching node already exists it is returned instead and inserted is false.
func (t *avlTree[T]) insert(node *avlNode[T], predicate func(T) int8) (_ *avlNode[T], inserted bool) {
	var up *avlNode[T]
	n := &t.root
	for *n != nil {
		cmp := predicate((*n).value)
		if cmp == 0 {
			return *n, false
		}
		up = *n
		n = &up.lr[b2i(cmp > 0)]
		if *n != nil && (*n).up != up {
			panic("bad up pointer")
		}
	}
	*n = node
	node.up = up
	node.lr = [2]*avlNode[T]{}
	node.bf = 0
	if rt := retraceOnGrowth(node); rt != nil {
		t.root = rt
	}
	t.len++
	return node, true
}

// retraceOnGrowth rebalances the path above a freshly added leaf and returns
// the new root if it changed, nil otherwise.
func retraceOnGrowth[T any](added *avlNode[T]) *avlNode[T] {
	if added == nil || added.bf != 0 {
		panic(ErrInvalidArgument)
	}
	c := added
	p := added.up
	for p != nil {
		r := p.lr[1] == c // c is the right child of parent
		c = adjustBalance(p, r)
		p = c.up
		if c.bf == 0 {
			// The height change of the subtree made this parent
			// perfectly balanced (as all things should be),
			// hence, the height of the outer subtree is unchanged,
			// so upper balance factors are unchanged.
			break
		}
	}
	if p != nil {
		return nil
	}
	return c
}

func adjustBalance[T any](x *avlNode[T], increment bool) *avlNode[T] {
	if x == nil || x.bf < -1 || x.bf > 1 {
		panic("bad x arg")
	}
	out := x
	newBf := x.bf - 1
	if increment {
		newBf += 2
	}
	if newBf >= -1 && newBf <= 1 {
		x.bf = newBf // Balancing not needed, just update the balance factor and call it a day.
		return out
	}
	r := newBf < 0 // bf<0 if left-heavy --> right rotation is needed.
	sign := bsign(r)
	z := x.lr[b2i(!r)]
	if z == nil {
		panic("nil z")
	}
	if z.bf*sign <= 0 {
		// Parent and child are heavy on the same side or the child is balanced.
		out = z
		rotate(x, r)
		if z.bf == 0 {
			x.bf = -sign
			z.bf = sign
		} else {
			x.bf = 0
			z.bf = 0
		}
		return out
	}
	// Otherwise, the child needs to be rotated in the opposite direction first.
	y := z.lr[b2i(r)]
	if y == nil {
		panic("nil y")
	}
	out = y
	rotate(z, !r)
	rotate(x, r)
	switch {
	case y.bf*sign < 0:
		x.bf = sign
		y.bf = 0
		z.bf = 0
	case y.bf*sign > 0:
		x.bf = 0
		y.bf = 0
		z.bf = -sign
	default:
		x.bf = 0
		z.bf = 0
	}
	return out
}

func rotate[T any](x *avlNode[T], r bool) {
	if x == nil || x.lr[b2i(!r)] == nil || x.bf < -1 || x.bf > 1 {
		panic(ErrInvalidArgument)
	}
	z := x.lr[b2i(!r)]
	if x.up != nil {
		x.up.lr[b2i(x.up.lr[1] == x)] = z
	}
	z.up = x.up
	x.up = z
	x.lr[b2i(!r)] = z.lr[b2i(r)]
	if x.lr[b2i(!r)] != nil {
		x.lr[b2i(!r)].up = x
	}
	z.lr[b2i(r)] = x
}

func findExtremum[T any](root *avlNode[T], max bool) *avlNode[T] {
	var result *avlNode[T]
	r := b2i(max)
	c := root
	for c != nil {
		result = c
		c = c.lr[r]
	}
	return result
}

// min returns the leftmost node or nil if the tree is empty.
func (t *avlTree[T]) min() *avlNode[T] { return findExtremum(t.root, false) }

// remove unlinks node, which must belong to t.
func (t *avlTree[T]) remove(node *avlNode[T]) {
	if node == nil {
		return
	}
	if t.root == nil || !(node.up != nil || node == t.root) {
		panic(ErrInvalidArgument)
	}
	var p *avlNode[T] // The lowest parent node that suffered a shortening of its subtree.
	r := false         // Which side of the above was shortened.
	// The first step is to update the topology and remember the node where to start the retracing from later.
	// Balancing is not performed yet so we may end up with an unbalanced tree.
	if node.lr[0] != nil && node.lr[1] != nil {
		re := findExtremum(node.lr[1], false)
		if re == nil || re.lr[0] != nil || re.up == nil {
			panic("invalid re extremum")
		}
		re.bf = node.bf
		re.lr[0] = node.lr[0]
		re.lr[0].up = re
		if re.up != node {
			p = re.up // Retracing starts with the ex-parent of our replacement node.
			if p.lr[0] != re {
				panic("bad replacement parent")
			}
			p.lr[0] = re.lr[1] // Reducing the height of the left subtree here.
			if p.lr[0] != nil {
				p.lr[0].up = p
			}
			re.lr[1] = node.lr[1]
			re.lr[1].up = re
			r = false
		} else {
			// In this case, we are reducing the height of the right subtree, so r=1.
			p = re // Retracing starts with the replacement node itself as we are deleting its parent.
			r = true
		}
		re.up = node.up
		if re.up != nil {
			re.up.lr[b2i(re.up.lr[1] == node)] = re // Replace link in the parent of node.
		} else {
			t.root = re
		}
	} else {
		p = node.up
		rr := b2i(node.lr[1] != nil)
		if node.lr[rr] != nil {
			node.lr[rr].up = p
		}
		if p != nil {
			r = p.lr[1] == node
			p.lr[b2i(r)] = node.lr[rr]
			if p.lr[b2i(r)] != nil {
				p.lr[b2i(r)].up = p
			}
		} else {
			t.root = node.lr[rr]
		}
	}
	t.len--
	node.up = nil
	node.lr = [2]*avlNode[T]{}
	node.bf = 0
	if p == nil {
		return // work is done.
	}
	// Now that the topology is updated, perform the retracing to restore balance. We climb up adjusting the
	// balance factors until we reach the root or a parent whose balance factor becomes plus/minus one, which
	// means that that parent was able to absorb the balance delta; in other words, the height of the outer
	// subtree is unchanged, so upper balance factors shall be kept unchanged.
	var c *avlNode[T]
	for {
		c = adjustBalance(p, !r)
		p = c.up
		if c.bf != 0 || p == nil {
			// Reached the root or the height difference is absorbed by c.
			break
		}
		r = p.lr[1] == c
	}
	if p == nil {
		t.root = c
	}
}

// each visits values in order until fn returns false.
func (t *avlTree[T]) each(fn func(T) bool) {
	t.root.walk(fn)
}

func (n *avlNode[T]) walk(fn func(T) bool) bool {
	if n == nil {
		return true
	}
	return n.lr[0].walk(fn) && fn(n.value) && n.lr[1].walk(fn)
}

// height is a recursive function to find node height.
// Best not used in production.
func (n *avlNode[T]) height() int {
	if n == nil {
		return 0
	}
	return 1 + max(n.lr[0].height(), n.lr[1].height())
}
