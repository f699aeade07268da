package connectivity_test

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/hazyhaar/uemcp/connectivity"
	"github.com/hazyhaar/uemcp/dbopen"

	_ "modernc.org/sqlite"
)

func Example() {
	db, err := dbopen.Open(":memory:", dbopen.WithMaxOpenConns(1), dbopen.WithSchema(connectivity.Schema))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	router := connectivity.New()
	defer router.Close()

	router.RegisterLocal(connectivity.ServiceEditor, func(ctx context.Context, payload []byte) ([]byte, error) {
		return []byte(`{"success":true}`), nil
	})
	router.RegisterTransport(connectivity.StrategyHTTP, connectivity.HTTPFactory())

	ctx := context.Background()
	if err := connectivity.SeedRoutes(ctx, db, "", "mock"); err != nil {
		log.Fatal(err)
	}
	if err := router.Reload(ctx, db); err != nil {
		log.Fatal(err)
	}

	resp, err := router.Call(ctx, connectivity.ServiceEditor, []byte(`{"type":"system.test","params":{}}`))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(resp))

	// Detach the editor without a restart.
	if err := connectivity.NewAdmin(db).SetStrategy(ctx, connectivity.ServiceEditor, connectivity.StrategyNoop); err != nil {
		log.Fatal(err)
	}
	router.Reload(ctx, db)

	resp, err = router.Call(ctx, connectivity.ServiceEditor, nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(resp == nil)

	// Output:
	// {"success":true}
	// true
}

func Example_middleware() {
	echo := func(ctx context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	}

	wrapped := connectivity.Chain(
		connectivity.Recovery(slog.Default()),
		connectivity.Timeout(5*time.Second),
	)(echo)

	resp, err := wrapped(context.Background(), []byte("hello"))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(resp))
	// Output:
	// hello
}

func Example_circuitBreaker() {
	cb := connectivity.NewCircuitBreaker(
		connectivity.WithBreakerThreshold(2),
		connectivity.WithBreakerResetTimeout(100*time.Millisecond),
	)

	offline := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, fmt.Errorf("connection refused")
	}

	wrapped := connectivity.WithCircuitBreaker(cb, connectivity.ServiceEditor, nil)(offline)

	wrapped(context.Background(), nil)
	wrapped(context.Background(), nil)

	_, err := wrapped(context.Background(), nil)
	fmt.Println(err)
	// Output:
	// connectivity: circuit open: editor
}
