package rediskey

import "fmt"

// Catalog keys (shared by api and worker)
const (
	CatalogPrefix          = "catalog"
	CatalogActivityPrefix  = "catalog:activity"
	CatalogQuizPrefix      = "catalog:quiz"
	CatalogChallengePrefix = "catalog:challenge"
	CatalogBadgePrefix     = "catalog:badge"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildActivityKey returns "catalog:activity:{id}"
func BuildActivityKey(id string) string {
	return NamespaceKey(CatalogActivityPrefix, id)
}

// BuildQuizKey returns "catalog:quiz:{id}"
func BuildQuizKey(id string) string {
	return NamespaceKey(CatalogQuizPrefix, id)
}

// BuildChallengeKey returns "catalog:challenge:{id}"
func BuildChallengeKey(id string) string {
	return NamespaceKey(CatalogChallengePrefix, id)
}

// BuildBadgeKey returns "catalog:badge:{slug}"
func BuildBadgeKey(slug string) string {
	return NamespaceKey(CatalogBadgePrefix, slug)
}

// BuildListKey returns "catalog:{kind}:list"
func BuildListKey(kind string) string {
	return NamespaceKey(NamespaceKey(CatalogPrefix, kind), "list")
}
