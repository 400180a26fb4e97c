package tiled

import "github.com/rotblauer/globetiles/tile"

// Stats is a snapshot of the tree's shape.
type Stats struct {
	Nodes     int `json:"nodes"`
	Leaves    int `json:"leaves"`
	Visible   int `json:"visible"`
	Displayed int `json:"displayed"`
	Pending   int `json:"pending"`
	MaxLevel  int `json:"max_level"`
}

func (l *Layer) Stats() Stats {
	var s Stats
	for _, r := range l.tree.Roots() {
		l.tree.Walk(r, func(n *tile.Node) bool {
			s.Nodes++
			if !n.HasChildren() {
				s.Leaves++
			}
			if n.Visible {
				s.Visible++
			}
			if n.Displayed {
				s.Displayed++
			}
			if n.PendingSubdivision {
				s.Pending++
			}
			s.MaxLevel = max(s.MaxLevel, n.Level())
			return true
		})
	}
	return s
}

// Displayed returns the nodes currently shown, in walk order.
func (l *Layer) Displayed() []*tile.Node {
	var out []*tile.Node
	for _, r := range l.tree.Roots() {
		l.tree.Walk(r, func(n *tile.Node) bool {
			if n.Displayed {
				out = append(out, n)
			}
			return true
		})
	}
	return out
}
