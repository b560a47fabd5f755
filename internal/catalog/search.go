package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"chatshop/internal/repo"
)

const searchPoolLimit = 200

type scoredProduct struct {
	Product repo.Product
	Score   int
}

// Search returns the active products best matching a free text query.
func (s *Service) Search(ctx context.Context, storeID, query string) ([]repo.Product, error) {
	tokens := tokenizeQuery(strings.ToLower(strings.TrimSpace(query)))
	if len(tokens) == 0 {
		return nil, nil
	}
	pool, err := s.store.ListActiveProducts(ctx, storeID, searchPoolLimit)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	return filterByQuery(pool, tokens), nil
}

func filterByQuery(items []repo.Product, tokens []string) []repo.Product {
	var scored []scoredProduct
	for _, item := range items {
		if score := matchScore(item, tokens); score > 0 {
			scored = append(scored, scoredProduct{Product: item, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].Product.BasePrice.LessThan(scored[j].Product.BasePrice)
		}
		return scored[i].Score > scored[j].Score
	})

	top := make([]repo.Product, 0, len(scored))
	for _, sc := range scored {
		top = append(top, sc.Product)
	}
	return topN(top, MaxListedProducts)
}

func matchScore(item repo.Product, tokens []string) int {
	name := strings.ToLower(item.Name)
	category := strings.ToLower(item.Category)
	description := strings.ToLower(item.Description)

	score := 0
	for _, token := range tokens {
		if len(token) < 2 {
			continue
		}
		if strings.Contains(name, token) {
			score += 4
		}
		if strings.Contains(category, token) {
			score += 3
		}
		if strings.Contains(description, token) {
			score++
		}
	}
	return score
}

func tokenizeQuery(query string) []string {
	if query == "" {
		return nil
	}
	query = strings.ReplaceAll(query, ".", " ")
	query = strings.ReplaceAll(query, ",", " ")
	raw := strings.Fields(query)
	tokens := make([]string, 0, len(raw))
	for _, token := range raw {
		token = strings.TrimSpace(strings.ToLower(token))
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
