package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

type stressStore interface {
	port.UnitOfWork
	port.OrderQueryRepository
	Load(ctx context.Context, c storage.Catalog) error
}

func main() {
	var (
		driver   = flag.String("driver", "memory", "storage driver: memory, mysql or pgx")
		dsn      = flag.String("dsn", os.Getenv("DATABASE_DSN"), "database DSN for mysql or pgx")
		requests = flag.Int("requests", 50, "number of concurrent shoppers")
		stock    = flag.Int("stock", 20, "initial stock of the variant")
		quantity = flag.Int("quantity", 1, "units each shopper buys")
		baseID   = flag.Int64("base-id", time.Now().Unix()*1000, "first id used for seeded rows")
	)
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx := context.Background()
	st, cleanup, err := openStore(ctx, *driver, *dsn)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer cleanup()

	price := decimal.NewFromInt(10)
	catalog, shoppers := storage.Rush(storage.RushPlan{
		BaseID:   *baseID,
		Shoppers: *requests,
		Quantity: *quantity,
		Price:    price,
		Stock:    *stock,
		Balance:  price.Mul(decimal.NewFromInt(int64(*quantity))),
	})
	if err := st.Load(ctx, catalog); err != nil {
		logger.Fatal("seed store", zap.Error(err))
	}

	orderService := service.NewOrderService(st, st, zap.NewNop())

	// Counters
	var successCount, soldOutCount, retryCount, otherCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for _, s := range shoppers {
		wg.Add(1)
		go func(s storage.Shopper) {
			defer wg.Done()

			_, err := orderService.PlaceOrder(ctx, domain.PlaceOrderCommand{
				CustomerID:    s.CustomerID,
				AddressID:     s.AddressID,
				PaymentMethod: domain.PaymentMethodWallet,
				CartItemIDs:   []int64{s.CartItemID},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			case domain.IsRetryable(err):
				retryCount.Add(1)
			default:
				otherCount.Add(1)
				logger.Warn("unexpected failure", zap.Error(err))
			}
		}(s)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := int(successCount.Load())
	expected := *stock / *quantity
	if expected > *requests {
		expected = *requests
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Driver:           %s\n", *driver)
	fmt.Printf("Initial Stock:    %d\n", *stock)
	fmt.Printf("Quantity:         %d\n", *quantity)
	fmt.Printf("Total Requests:   %d\n", *requests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOutCount.Load())
	fmt.Printf("Retryable:        %d\n", retryCount.Load())
	fmt.Printf("Other Failures:   %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if retryCount.Load() == 0 && success != expected {
		fmt.Printf("FAIL: Expected %d successful orders, got %d\n", expected, success)
		failed = true
	} else if success > expected {
		fmt.Printf("FAIL: Oversold, %d orders for capacity %d\n", success, expected)
		failed = true
	} else {
		fmt.Printf("PASS: %d orders placed for capacity %d\n", success, expected)
	}

	orders := 0
	for _, s := range shoppers {
		list, err := st.ListOrdersByCustomer(ctx, s.CustomerID)
		if err != nil {
			logger.Fatal("list orders", zap.Error(err))
		}
		orders += len(list)
	}
	if orders == success {
		fmt.Printf("PASS: %d orders stored\n", orders)
	} else {
		fmt.Printf("FAIL: Expected %d stored orders, got %d\n", success, orders)
		failed = true
	}

	var finalStock int
	err = st.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		v, err := tx.LockVariant(ctx, *baseID)
		if err != nil {
			return err
		}
		finalStock = v.Stock
		return nil
	})
	if err != nil {
		logger.Fatal("read final stock", zap.Error(err))
	}
	fmt.Printf("Final Stock:      %d\n", finalStock)
	if want := *stock - success*(*quantity); finalStock != want {
		fmt.Printf("FAIL: Expected final stock %d, got %d\n", want, finalStock)
		failed = true
	} else {
		fmt.Printf("PASS: Final stock is %d\n", finalStock)
	}

	if failed {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, driver, dsn string) (stressStore, func(), error) {
	if driver == "memory" {
		return storage.NewMemoryAdapter(), func() {}, nil
	}

	dialect, err := storage.DialectFor(driver)
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", dialect.Name(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping %s: %w", dialect.Name(), err)
	}

	adapter := storage.NewSQLAdapter(db, dialect)
	if err := adapter.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return adapter, func() { db.Close() }, nil
}
