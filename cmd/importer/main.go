// Command importer loads CRM client and client-history exports (CSV or XLSX)
// into the CRM database, reconciling rows against existing data by natural
// key. main stays tiny; the command tree is built by newRootCmd from Deps so
// tests can run it hermetically.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crmloader/internal/store"
	_ "crmloader/internal/store/all"
)

// Deps holds the side effects the commands reach for. In tests we pass fakes
// here; in production, defaultDeps() provides the real ones.
type Deps struct {
	OpenDB func(ctx context.Context, driver, dsn string) (*store.DB, error)
	Now    func() time.Time
}

func defaultDeps() Deps {
	return Deps{
		OpenDB: store.Open,
		Now:    time.Now,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(defaultDeps()).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
