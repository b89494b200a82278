package catalog

import (
	"fmt"
	"sort"
	"strconv"
)

// Cache tags. Every product-derived entry carries TagProducts so a single
// "products:*" or "products" pattern reaches all of them.
const (
	TagProducts      = "products"
	TagProductCounts = "products:count"
	TagCategories    = "categories"

	CategoriesKey = "categories:list"
)

// ProductKey is the cache key of a single product.
func ProductKey(id uint) string {
	return "product:" + strconv.FormatUint(uint64(id), 10)
}

// CategoryTag groups every entry derived from products of one category.
func CategoryTag(categoryID uint) string {
	return "products:category:" + strconv.FormatUint(uint64(categoryID), 10)
}

// ProductTags returns the tags stored with a product entry.
func ProductTags(id, categoryID uint) []string {
	return []string{TagProducts, ProductKey(id), CategoryTag(categoryID)}
}

// ListKey is the cache key of one page of a product listing.
func ListKey(f ProductFilter) string {
	return fmt.Sprintf("products:list:%s:%d:%d:%s", categoryPart(f.CategoryID), f.Page, f.Limit, f.Sort)
}

// ListTags returns the tags stored with a listing page.
func ListTags(f ProductFilter) []string {
	if f.CategoryID == 0 {
		return []string{TagProducts}
	}
	return []string{TagProducts, CategoryTag(f.CategoryID)}
}

// CountKey is the cache key of the product count for a category (0 = all).
func CountKey(categoryID uint) string {
	return "products:count:" + categoryPart(categoryID)
}

// CountTags returns the tags stored with a count entry.
func CountTags(categoryID uint) []string {
	if categoryID == 0 {
		return []string{TagProducts, TagProductCounts}
	}
	return []string{TagProducts, TagProductCounts, CategoryTag(categoryID)}
}

// ProductChanged lists the patterns that scrub everything a write to one
// product can make stale: every listing and count, the product itself and
// each category it belonged to before or after the write.
func ProductChanged(id uint, categoryIDs ...uint) []string {
	patterns := []string{"products:*", ProductKey(id)}
	seen := make(map[uint]struct{}, len(categoryIDs))
	ids := make([]uint, 0, len(categoryIDs))
	for _, c := range categoryIDs {
		if c == 0 {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		ids = append(ids, c)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, c := range ids {
		patterns = append(patterns, CategoryTag(c))
	}
	return patterns
}

// ProductsImported scrubs every product-derived entry after a bulk import.
func ProductsImported() []string {
	return []string{"products:*", "product:*"}
}

// CategoriesChanged scrubs the category listing.
func CategoriesChanged() []string {
	return []string{TagCategories}
}

func categoryPart(categoryID uint) string {
	if categoryID == 0 {
		return "all"
	}
	return strconv.FormatUint(uint64(categoryID), 10)
}
