package schemagraph

// DefaultMaxDepth bounds join path search.
const DefaultMaxDepth = 3

// JoinStep joins FromTable.FromColumn = ToTable.ToColumn, oriented along the
// traversal. Reversed is set when the step walks a foreign key backwards.
type JoinStep struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
	Reversed   bool
}

// FindJoinPath returns the first shortest path from src to dst following
// outgoing foreign keys, or, when dst is unreachable that way, following
// incoming foreign keys in reverse. A path never exceeds maxDepth steps.
// Neighbours are visited in edge order, so ties are broken by catalog order.
func (g *Graph) FindJoinPath(src, dst string, maxDepth int) ([]JoinStep, bool) {
	if !g.HasTable(src) || !g.HasTable(dst) {
		return nil, false
	}
	if src == dst {
		return []JoinStep{}, true
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	forward := func(table string) []JoinStep {
		edges := g.out[table]
		steps := make([]JoinStep, 0, len(edges))
		for _, e := range edges {
			steps = append(steps, JoinStep{FromTable: e.FromTable, FromColumn: e.FromColumn, ToTable: e.ToTable, ToColumn: e.ToColumn})
		}
		return steps
	}
	backward := func(table string) []JoinStep {
		edges := g.in[table]
		steps := make([]JoinStep, 0, len(edges))
		for _, e := range edges {
			steps = append(steps, JoinStep{FromTable: e.ToTable, FromColumn: e.ToColumn, ToTable: e.FromTable, ToColumn: e.FromColumn, Reversed: true})
		}
		return steps
	}

	if path, ok := bfs(src, dst, maxDepth, forward); ok {
		return path, true
	}
	return bfs(src, dst, maxDepth, backward)
}

func bfs(src, dst string, maxDepth int, next func(string) []JoinStep) ([]JoinStep, bool) {
	type node struct {
		table string
		path  []JoinStep
	}

	visited := map[string]bool{src: true}
	queue := []node{{table: src}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) >= maxDepth {
			continue
		}
		for _, step := range next(cur.table) {
			if visited[step.ToTable] {
				continue
			}
			path := make([]JoinStep, len(cur.path), len(cur.path)+1)
			copy(path, cur.path)
			path = append(path, step)
			if step.ToTable == dst {
				return path, true
			}
			visited[step.ToTable] = true
			queue = append(queue, node{table: step.ToTable, path: path})
		}
	}
	return nil, false
}
