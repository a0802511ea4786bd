package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

// Catalog is a set of rows owned by the catalog, cart and wallet flows. It is
// loaded with explicit ids.
type Catalog struct {
	Customers []domain.Customer
	Addresses []domain.Address
	Products  []domain.Product
	Variants  []domain.ProductVariant
	Carts     []domain.Cart
	CartItems []domain.CartItem
	Wallets   []domain.Wallet
}

// RushPlan describes many shoppers buying the same variant at once.
type RushPlan struct {
	BaseID   int64
	Shoppers int
	Quantity int
	Price    decimal.Decimal
	Stock    int
	Balance  decimal.Decimal
}

// Shopper is one seeded customer holding a single cart line.
type Shopper struct {
	CustomerID int64
	AddressID  int64
	CartItemID int64
}

// Rush builds the catalog for plan. Shopper i gets customer, address, cart,
// cart item and wallet id BaseID+1+i. The merchant is BaseID and the product
// and variant share that id too.
func Rush(plan RushPlan) (Catalog, []Shopper) {
	now := time.Now().UTC()
	merchantID := plan.BaseID

	c := Catalog{
		Customers: []domain.Customer{{
			ID:        merchantID,
			Email:     fmt.Sprintf("merchant-%d@storefront.test", merchantID),
			Role:      domain.RoleMerchant,
			Status:    domain.AccountStatusActive,
			CreatedAt: now,
		}},
		Products: []domain.Product{{ID: merchantID, MerchantID: merchantID, Name: "rush item"}},
		Variants: []domain.ProductVariant{{
			ID:        merchantID,
			ProductID: merchantID,
			SKU:       fmt.Sprintf("RUSH-%d", merchantID),
			Price:     plan.Price,
			Stock:     plan.Stock,
			UpdatedAt: now,
		}},
	}

	shoppers := make([]Shopper, 0, plan.Shoppers)
	for i := 0; i < plan.Shoppers; i++ {
		id := plan.BaseID + 1 + int64(i)
		customerID := id
		c.Customers = append(c.Customers, domain.Customer{
			ID:        id,
			Email:     fmt.Sprintf("shopper-%d@storefront.test", id),
			Role:      domain.RoleCustomer,
			Status:    domain.AccountStatusActive,
			CreatedAt: now,
		})
		c.Addresses = append(c.Addresses, domain.Address{
			ID: id, CustomerID: id, Line1: "1 Market St", City: "Springfield", PostalCode: "10001", Country: "US",
		})
		c.Carts = append(c.Carts, domain.Cart{ID: id, CustomerID: &customerID})
		c.CartItems = append(c.CartItems, domain.CartItem{ID: id, CartID: id, VariantID: merchantID, Quantity: plan.Quantity})
		c.Wallets = append(c.Wallets, domain.Wallet{ID: id, CustomerID: id, Balance: plan.Balance, Currency: "USD", UpdatedAt: now})
		shoppers = append(shoppers, Shopper{CustomerID: id, AddressID: id, CartItemID: id})
	}
	return c, shoppers
}

func (m *MemoryAdapter) Load(ctx context.Context, c Catalog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, v := range c.Customers {
		m.PutCustomer(v)
	}
	for _, v := range c.Addresses {
		m.PutAddress(v)
	}
	for _, v := range c.Products {
		m.PutProduct(v)
	}
	for _, v := range c.Variants {
		m.PutVariant(v)
	}
	for _, v := range c.Carts {
		m.PutCart(v)
	}
	for _, v := range c.CartItems {
		m.PutCartItem(v)
	}
	for _, v := range c.Wallets {
		m.PutWallet(v)
	}
	return nil
}

// Load inserts c in one transaction, parents first.
func (a *SQLAdapter) Load(ctx context.Context, c Catalog) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback()

	exec := func(what, query string, args ...any) error {
		if _, err := tx.ExecContext(ctx, a.dialect.rebind(query), args...); err != nil {
			return fmt.Errorf("insert %s: %w", what, classify(err))
		}
		return nil
	}

	for _, v := range c.Customers {
		if err := exec("customer", `INSERT INTO customers (id, email, role, status, created_at) VALUES (?, ?, ?, ?, ?)`,
			v.ID, v.Email, string(v.Role), string(v.Status), v.CreatedAt); err != nil {
			return err
		}
	}
	for _, v := range c.Addresses {
		if err := exec("address", `INSERT INTO addresses (id, customer_id, line1, city, postal_code, country) VALUES (?, ?, ?, ?, ?, ?)`,
			v.ID, v.CustomerID, v.Line1, v.City, v.PostalCode, v.Country); err != nil {
			return err
		}
	}
	for _, v := range c.Products {
		if err := exec("product", `INSERT INTO products (id, merchant_id, name) VALUES (?, ?, ?)`,
			v.ID, v.MerchantID, v.Name); err != nil {
			return err
		}
	}
	for _, v := range c.Variants {
		if err := exec("variant", `INSERT INTO product_variants (id, product_id, sku, price, stock, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			v.ID, v.ProductID, v.SKU, v.Price, v.Stock, v.UpdatedAt); err != nil {
			return err
		}
	}
	for _, v := range c.Carts {
		if err := exec("cart", `INSERT INTO carts (id, customer_id) VALUES (?, ?)`, v.ID, v.CustomerID); err != nil {
			return err
		}
	}
	for _, v := range c.CartItems {
		if err := exec("cart item", `INSERT INTO cart_items (id, cart_id, variant_id, quantity) VALUES (?, ?, ?, ?)`,
			v.ID, v.CartID, v.VariantID, v.Quantity); err != nil {
			return err
		}
	}
	for _, v := range c.Wallets {
		if err := exec("wallet", `INSERT INTO wallets (id, customer_id, balance, currency, updated_at) VALUES (?, ?, ?, ?, ?)`,
			v.ID, v.CustomerID, v.Balance, v.Currency, v.UpdatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}
