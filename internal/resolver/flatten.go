package resolver

import (
	"watchy/internal/alldebrid"
	"watchy/internal/domain"
)

// Flatten walks a file tree depth first in pre-order and returns one file per
// leaf. Leaf names are the path segments from the root joined by "/".
func Flatten(nodes []alldebrid.FileNode, prefix string) []domain.ResolvedFile {
	var files []domain.ResolvedFile
	for _, node := range nodes {
		files = append(files, flattenNode(node, prefix)...)
	}
	return files
}

func flattenNode(node alldebrid.FileNode, prefix string) []domain.ResolvedFile {
	name := node.Name
	if prefix != "" {
		name = prefix + "/" + node.Name
	}
	if node.IsLeaf() {
		return []domain.ResolvedFile{{Filename: name, DirectURL: node.Link}}
	}
	return Flatten(node.Children, name)
}
