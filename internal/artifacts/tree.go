package artifacts

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Node is one node of a tree in the XGBoost JSON dump format. Leaves carry
// Leaf; split nodes carry Split, SplitCondition and the child ids.
type Node struct {
	NodeID         int      `json:"nodeid"`
	Depth          int      `json:"depth,omitempty"`
	Split          string   `json:"split,omitempty"`
	SplitCondition float64  `json:"split_condition,omitempty"`
	Yes            int      `json:"yes,omitempty"`
	No             int      `json:"no,omitempty"`
	Missing        int      `json:"missing,omitempty"`
	Leaf           *float64 `json:"leaf,omitempty"`
	Children       []*Node  `json:"children,omitempty"`
}

type compiledNode struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	yes       int
	no        int
	missing   int
}

type tree struct {
	nodes map[int]compiledNode
}

// TreeEnsemble evaluates a gradient-boosted regression ensemble. The
// prediction is the base score plus the sum of one leaf per tree.
type TreeEnsemble struct {
	trees     []tree
	features  []string
	baseScore float64
}

func LoadTreeEnsemble(path string, features []string, baseScore float64) (*TreeEnsemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	var roots []*Node
	if err := json.Unmarshal(data, &roots); err != nil {
		return nil, fmt.Errorf("failed to parse model dump: %w", err)
	}
	return NewTreeEnsemble(roots, features, baseScore)
}

func NewTreeEnsemble(roots []*Node, features []string, baseScore float64) (*TreeEnsemble, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("model dump has no trees")
	}

	index := make(map[string]int, len(features))
	for i, f := range features {
		index[f] = i
	}

	e := &TreeEnsemble{features: features, baseScore: baseScore}
	for i, root := range roots {
		t := tree{nodes: map[int]compiledNode{}}
		if err := t.add(root, index); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		if _, ok := t.nodes[0]; !ok {
			return nil, fmt.Errorf("tree %d: missing root node", i)
		}
		e.trees = append(e.trees, t)
	}
	return e, nil
}

func (t *tree) add(n *Node, index map[string]int) error {
	if n == nil {
		return fmt.Errorf("nil node")
	}
	if _, dup := t.nodes[n.NodeID]; dup {
		return fmt.Errorf("duplicate node id %d", n.NodeID)
	}

	if n.Leaf != nil {
		t.nodes[n.NodeID] = compiledNode{leaf: true, value: *n.Leaf}
		return nil
	}

	feature, err := featureIndex(n.Split, index)
	if err != nil {
		return fmt.Errorf("node %d: %w", n.NodeID, err)
	}
	t.nodes[n.NodeID] = compiledNode{
		feature:   feature,
		threshold: n.SplitCondition,
		yes:       n.Yes,
		no:        n.No,
		missing:   n.Missing,
	}

	for _, c := range n.Children {
		if err := t.add(c, index); err != nil {
			return err
		}
	}
	for _, id := range []int{n.Yes, n.No, n.Missing} {
		if !t.referenced(n, id) {
			return fmt.Errorf("node %d: child %d not present", n.NodeID, id)
		}
	}
	return nil
}

func (t *tree) referenced(n *Node, id int) bool {
	for _, c := range n.Children {
		if c.NodeID == id {
			return true
		}
	}
	return false
}

// featureIndex resolves a split name. Dumps made without feature names use
// f<index>.
func featureIndex(split string, index map[string]int) (int, error) {
	if i, ok := index[split]; ok {
		return i, nil
	}
	if strings.HasPrefix(split, "f") {
		if i, err := strconv.Atoi(split[1:]); err == nil && i >= 0 && i < len(index) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("split on unknown feature %q", split)
}

func (e *TreeEnsemble) Features() []string {
	return e.features
}

func (e *TreeEnsemble) NumTrees() int {
	return len(e.trees)
}

// Predict evaluates the ensemble on values ordered like Features. NaN
// follows each node's missing branch.
func (e *TreeEnsemble) Predict(values []float64) float64 {
	sum := e.baseScore
	for _, t := range e.trees {
		id := 0
		for {
			n := t.nodes[id]
			if n.leaf {
				sum += n.value
				break
			}

			x := math.NaN()
			if n.feature < len(values) {
				x = values[n.feature]
			}
			switch {
			case math.IsNaN(x):
				id = n.missing
			case x < n.threshold:
				id = n.yes
			default:
				id = n.no
			}
		}
	}
	return sum
}
