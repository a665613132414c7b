package builddb

import "strings"

// keySeparator joins the components of every derived document key.
// Components are not escaped, so a hyphen inside a product or version
// is indistinguishable from a separator.
const keySeparator = "-"

// ProductVersionIndexKey is the well-known key of the product-version index document.
const ProductVersionIndexKey = "product-version-index"

// BuildKey derives the document key of a build: "{product}-{version}-{buildNumber}".
func BuildKey(product, version, buildNumber string) string {
	return strings.Join([]string{product, version, buildNumber}, keySeparator)
}

// CommitKey derives the document key of a commit: "{project}-{sha}".
func CommitKey(project, sha string) string {
	return project + keySeparator + sha
}

// SplitCommitKey is the inverse of CommitKey. The last hyphen-delimited
// segment is the sha and everything before it is the project, so project
// names may contain hyphens. A key without a hyphen has an empty project.
func SplitCommitKey(key string) (project, sha string) {
	i := strings.LastIndex(key, keySeparator)
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+len(keySeparator):]
}
