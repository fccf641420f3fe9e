package entity

import (
	"github.com/shopspring/decimal"
)

// GetPathToRoot walks from the first row representing identity up to the root,
// following the first matching row at every step. The result is leaf-first.
func (b *BOMStructure) GetPathToRoot(identity string) ([]BOMItem, error) {
	if b.indexOf(identity) < 0 {
		return nil, NewNotFoundError("bom item", identity)
	}

	var path []BOMItem
	visited := map[string]bool{}
	var chain []string
	current := identity
	for {
		if visited[current] {
			return nil, &CircularReferenceError{ItemID: current, Chain: append(chain, current)}
		}
		visited[current] = true
		chain = append(chain, current)

		idx := b.indexOf(current)
		if idx < 0 {
			// dangling parent reference; Validate reports it
			return path, nil
		}
		it := b.items[idx]
		path = append(path, it)
		if it.IsRoot() {
			return path, nil
		}
		current = *it.ParentItemID
	}
}

// AncestorIdentities returns every identity above identity over all usage paths,
// identity itself excluded.
func (b *BOMStructure) AncestorIdentities(identity string) []string {
	var out []string
	seen := map[string]bool{identity: true}
	queue := []string{identity}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, idx := range b.rowsOf(cur) {
			it := b.items[idx]
			if it.IsRoot() || seen[*it.ParentItemID] {
				continue
			}
			seen[*it.ParentItemID] = true
			out = append(out, *it.ParentItemID)
			queue = append(queue, *it.ParentItemID)
		}
	}
	return out
}

// ancestorChain searches target among start and all of its ancestors. The
// returned chain runs from start up to target.
func (b *BOMStructure) ancestorChain(start, target string) ([]string, bool) {
	if start == target {
		return []string{start}, true
	}
	pred := map[string]string{}
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, idx := range b.rowsOf(cur) {
			it := b.items[idx]
			if it.IsRoot() {
				continue
			}
			next := *it.ParentItemID
			if seen[next] {
				continue
			}
			seen[next] = true
			pred[next] = cur
			if next == target {
				chain := []string{next}
				for n := next; n != start; {
					n = pred[n]
					chain = append([]string{n}, chain...)
				}
				return chain, true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

type quantityFrame struct {
	row    int
	amount decimal.Decimal
	seen   []string
}

// CalculateTotalQuantity sums, over every row representing identity, the
// quantity accumulated along each path from that row up to the root, scaled by
// rootQuantity. The unit comes from the last row of identity that reached the root.
func (b *BOMStructure) CalculateTotalQuantity(identity string, rootQuantity decimal.Decimal) (Quantity, error) {
	if rootQuantity.IsNegative() {
		return Quantity{}, NewValidationError("root_quantity", "must be >= 0")
	}
	targets := b.rowsOf(identity)
	if len(targets) == 0 {
		return Quantity{}, NewNotFoundError("bom item", identity)
	}

	total := decimal.Zero
	unit := b.items[targets[0]].Quantity.Unit
	for _, t := range targets {
		contributed := false
		stack := []quantityFrame{{
			row:    t,
			amount: rootQuantity.Mul(b.items[t].Quantity.Amount),
			seen:   []string{identity},
		}}
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			it := b.items[f.row]
			if it.IsRoot() {
				total = total.Add(f.amount)
				contributed = true
				continue
			}
			parent := *it.ParentItemID
			for _, s := range f.seen {
				if s == parent {
					return Quantity{}, &CircularReferenceError{ItemID: parent, Chain: append(append([]string(nil), f.seen...), parent)}
				}
			}
			seen := append(append(make([]string, 0, len(f.seen)+1), f.seen...), parent)
			for _, p := range b.rowsOf(parent) {
				stack = append(stack, quantityFrame{
					row:    p,
					amount: f.amount.Mul(b.items[p].Quantity.Amount),
					seen:   seen,
				})
			}
		}
		if contributed {
			unit = b.items[t].Quantity.Unit
		}
	}
	return Quantity{Amount: total, Unit: unit}, nil
}

// Explode returns the total requirement of every identity in the BOM for
// rootQuantity units of the root.
func (b *BOMStructure) Explode(rootQuantity decimal.Decimal) (map[string]Quantity, error) {
	out := make(map[string]Quantity)
	for _, it := range b.items {
		if _, done := out[it.ChildItemID]; done {
			continue
		}
		q, err := b.CalculateTotalQuantity(it.ChildItemID, rootQuantity)
		if err != nil {
			return nil, err
		}
		out[it.ChildItemID] = q
	}
	return out, nil
}
