package main

import (
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/shopflow/internal/domain"
)

// demoCatalog seeds the in-memory store so the API is usable without Postgres.
func demoCatalog() []*domain.Product {
	item := func(id, name, price string, count int) *domain.Product {
		return &domain.Product{
			ID:                id,
			Name:              name,
			Price:             decimal.RequireFromString(price),
			CountInStock:      count,
			LowStockThreshold: domain.DefaultLowStockThreshold,
		}
	}
	return []*domain.Product{
		item("kente-scarf", "Kente Scarf", "45.00", 20),
		item("shea-butter", "Shea Butter 250g", "12.50", 40),
		item("clay-pot", "Clay Cooking Pot", "60.00", 4),
		item("ceramic-mug", "Ceramic Mug", "7.50", 0),
	}
}
