package chat

import "github.com/suPer8Hu/neko-client/internal/models"

type TreeNode struct {
	Chat     models.Chat
	Children []*TreeNode
}

// BuildTree nests branch chats under their parent. Chats whose parent is not
// in the list become roots. Input order is kept at every level.
func BuildTree(chats []models.Chat) []*TreeNode {
	nodes := make(map[string]*TreeNode, len(chats))
	for _, c := range chats {
		nodes[c.ID] = &TreeNode{Chat: c}
	}

	var roots []*TreeNode
	for _, c := range chats {
		n := nodes[c.ID]
		if parent, ok := nodes[c.ParentChatID]; ok && c.ParentChatID != "" && c.ParentChatID != c.ID {
			parent.Children = append(parent.Children, n)
			continue
		}
		roots = append(roots, n)
	}
	return roots
}

// Walk visits nodes depth first, passing each node's depth.
func Walk(nodes []*TreeNode, fn func(n *TreeNode, depth int)) {
	var walk func([]*TreeNode, int)
	walk = func(ns []*TreeNode, depth int) {
		for _, n := range ns {
			fn(n, depth)
			walk(n.Children, depth+1)
		}
	}
	walk(nodes, 0)
}
