// Package catalog загружает каталог товаров из YAML.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// File формат файла каталога:
//
//	products:
//	  - id: p1
//	    name: Mug
//	    price: "19.99"
//	    image: https://example.com/mug.png
//	    stock: 5
type File struct {
	Products []Item `yaml:"products"`
}

// Item товар в файле каталога. Цена хранится строкой, чтобы не терять копейки.
type Item struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
	Image string `yaml:"image"`
	Stock int    `yaml:"stock"`
}

// LoadFile читает и проверяет каталог из файла.
func LoadFile(path string) ([]domain.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse разбирает YAML каталога в товары.
func Parse(r io.Reader) ([]domain.Product, error) {
	var file File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Products))
	products := make([]domain.Product, 0, len(file.Products))
	for i, item := range file.Products {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, fmt.Errorf("product #%d: id is required", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("product %s: duplicate id", id)
		}
		seen[id] = struct{}{}

		price, err := decimal.NewFromString(strings.TrimSpace(item.Price))
		if err != nil {
			return nil, fmt.Errorf("product %s: invalid price %q", id, item.Price)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("product %s: price must not be negative", id)
		}
		if item.Stock < 0 {
			return nil, fmt.Errorf("product %s: stock must not be negative", id)
		}

		products = append(products, domain.Product{
			ID:    id,
			Name:  strings.TrimSpace(item.Name),
			Price: domain.RoundMoney(price),
			Image: strings.TrimSpace(item.Image),
			Stock: item.Stock,
		})
	}
	return products, nil
}

// Seed записывает товары в каталог хранилища.
func Seed(ctx context.Context, repo domain.ProductRepository, products []domain.Product) error {
	for _, product := range products {
		if err := repo.Upsert(ctx, product); err != nil {
			return fmt.Errorf("upsert product %s: %w", product.ID, err)
		}
	}
	return nil
}
