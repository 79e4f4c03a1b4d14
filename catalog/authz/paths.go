package authz

import "strings"

// ParentPaths returns every ancestor path of a file path, root first,
// finishing with the path itself. Paths are study relative, the study root
// is "" and folder paths end with '/'.
//
// ParentPaths("a/b/c.txt") == ["", "a/", "a/b/", "a/b/c.txt"]
func ParentPaths(filePath string) []string {
	if filePath == "" {
		return []string{""}
	}

	split := strings.Split(strings.TrimSuffix(filePath, "/"), "/")

	paths := make([]string, 0, len(split)+1)
	paths = append(paths, "")

	prefix := ""
	for i := 0; i < len(split)-1; i++ {
		prefix = prefix + split[i] + "/"
		paths = append(paths, prefix)
	}

	paths = append(paths, filePath)
	return paths
}
