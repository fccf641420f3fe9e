package entity

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// AverageProgress is the unweighted roll-up: a leaf contributes its own
// progress_percent, a parent the mean of its children, the project the mean of
// its roots. It does not modify the aggregate.
func (p *Project) AverageProgress() decimal.Decimal {
	progress := p.averageByItem()
	roots := p.GetRootItems()
	if len(roots) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, r := range roots {
		sum = sum.Add(progress[r.ID])
	}
	return sum.Div(decimal.NewFromInt(int64(len(roots))))
}

// ItemAverageProgress is the unweighted roll-up of one subtree.
func (p *Project) ItemAverageProgress(itemID string) (decimal.Decimal, error) {
	if p.indexOf(itemID) < 0 {
		return decimal.Zero, NewNotFoundError("project item", itemID)
	}
	return p.averageByItem()[itemID], nil
}

// averageByItem computes the recursive average of every item reachable from the
// roots in one post-order pass.
func (p *Project) averageByItem() map[string]decimal.Decimal {
	children := p.childIndex()
	order := make([]int, 0, len(p.items))
	visited := make(map[string]bool, len(p.items))
	stack := append([]int(nil), children[""]...)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		id := p.items[i].ID
		if visited[id] {
			continue
		}
		visited[id] = true
		order = append(order, i)
		stack = append(stack, children[id]...)
	}

	progress := make(map[string]decimal.Decimal, len(order))
	// reverse pre-order visits every child before its parent
	for k := len(order) - 1; k >= 0; k-- {
		it := p.items[order[k]]
		kids := children[it.ID]
		if len(kids) == 0 {
			progress[it.ID] = it.ProgressPercent
			continue
		}
		sum := decimal.Zero
		for _, c := range kids {
			sum = sum.Add(progress[p.items[c].ID])
		}
		progress[it.ID] = sum.Div(decimal.NewFromInt(int64(len(kids))))
	}
	return progress
}

// levels returns the depth of every item (roots are 0). Items whose parent
// chain is broken or cyclic are treated as roots.
func (p *Project) levels() map[string]int {
	depth := make(map[string]int, len(p.items))
	byID := make(map[string]int, len(p.items))
	for i, it := range p.items {
		byID[it.ID] = i
	}
	for _, it := range p.items {
		if _, ok := depth[it.ID]; ok {
			continue
		}
		var chain []string
		onChain := map[string]bool{}
		cur := it.ID
		base := 0
		for {
			if d, ok := depth[cur]; ok {
				base = d + 1
				break
			}
			if onChain[cur] {
				base = 0
				break
			}
			chain = append(chain, cur)
			onChain[cur] = true
			parent := p.items[byID[cur]].ParentProjectItemID
			if parent == nil {
				break
			}
			if _, ok := byID[*parent]; !ok {
				break
			}
			cur = *parent
		}
		for k := len(chain) - 1; k >= 0; k-- {
			depth[chain[k]] = base
			base++
		}
	}
	return depth
}

// RecalculateProgress is the quantity-weighted roll-up. Levels are processed
// from the deepest up; a parent's quantity_completed becomes
// quantity_required * sum(children completed) / sum(children required). The
// project progress is total completed / total required * 100 over all items.
func (p *Project) RecalculateProgress(actor string) (decimal.Decimal, error) {
	if err := p.ensureMutable(); err != nil {
		return decimal.Zero, err
	}

	depth := p.levels()
	children := p.childIndex()
	maxLevel := 0
	byLevel := map[int][]int{}
	for i, it := range p.items {
		d := depth[it.ID]
		byLevel[d] = append(byLevel[d], i)
		if d > maxLevel {
			maxLevel = d
		}
	}

	for level := maxLevel; level >= 0; level-- {
		for _, i := range byLevel[level] {
			kids := children[p.items[i].ID]
			if len(kids) == 0 {
				continue
			}
			required, completed := decimal.Zero, decimal.Zero
			for _, c := range kids {
				required = required.Add(p.items[c].QuantityRequired)
				completed = completed.Add(p.items[c].QuantityCompleted)
			}
			if required.IsZero() {
				continue
			}
			p.items[i].QuantityCompleted = p.items[i].QuantityRequired.Mul(completed).Div(required)
		}
	}

	totalRequired, totalCompleted := decimal.Zero, decimal.Zero
	for _, it := range p.items {
		totalRequired = totalRequired.Add(it.QuantityRequired)
		totalCompleted = totalCompleted.Add(it.QuantityCompleted)
	}
	progress := decimal.Zero
	if !totalRequired.IsZero() {
		progress = totalCompleted.Div(totalRequired).Mul(hundred).Round(2)
	}
	if progress.GreaterThan(hundred) {
		progress = hundred
	}

	p.ProgressPercent = progress
	p.apply(EventProjectProgress, actor, nil, map[string]string{"progress_percent": progress.String()})
	return progress, nil
}
