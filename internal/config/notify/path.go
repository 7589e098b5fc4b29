package notify

// IsParentPath checks if parent is a parent path of child.
// e.g., "editor" is parent of "editor.tabSize".
func IsParentPath(parent, child string) bool {
	if len(parent) >= len(child) {
		return false
	}
	if parent == "" {
		return true
	}
	return child[:len(parent)] == parent && child[len(parent)] == '.'
}

// Affects reports whether section is touched by any of keys. A section is
// affected when it equals a key, is an ancestor of a key, or is a
// descendant of a key.
func Affects(keys []string, section string) bool {
	if section == "" {
		return len(keys) > 0
	}
	for _, k := range keys {
		if k == section || IsParentPath(section, k) || IsParentPath(k, section) {
			return true
		}
	}
	return false
}
