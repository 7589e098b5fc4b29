package workspace

// FoldersChange describes how the folder list changed.
type FoldersChange struct {
	Added   []Folder
	Removed []Folder
	Changed []Folder
}

// IsEmpty reports whether nothing changed.
func (c FoldersChange) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// CompareFolders reports folders added to, removed from, and moved or
// renamed between current and next. Folders are matched by URI.
func CompareFolders(current, next []Folder) FoldersChange {
	var change FoldersChange

	currentByURI := make(map[string]int, len(current))
	for i, f := range current {
		currentByURI[f.URI] = i
	}

	nextURIs := make(map[string]bool, len(next))
	for i, f := range next {
		nextURIs[f.URI] = true
		ci, ok := currentByURI[f.URI]
		if !ok {
			change.Added = append(change.Added, f)
			continue
		}
		if ci != i || current[ci].Name != f.Name {
			change.Changed = append(change.Changed, f)
		}
	}

	for _, f := range current {
		if !nextURIs[f.URI] {
			change.Removed = append(change.Removed, f)
		}
	}
	return change
}
