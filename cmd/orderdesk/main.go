package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"orderdesk/internal"
	"orderdesk/internal/catalog"
	"orderdesk/internal/classifier"
	"orderdesk/internal/config"
	"orderdesk/internal/listener"
	"orderdesk/internal/logging"
	"orderdesk/internal/pipeline"
	"orderdesk/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	must(err)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := storage.Open(cfg.DataSource())
	must(err)
	defer db.Close()

	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "catalog:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant := fs.String("tenant", cfg.DefaultTenantID, "tenant id")
		file := fs.String("file", "", "catalog xlsx path")
		_ = fs.Parse(args)
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		f, err := os.Open(*file)
		must(err)
		defer f.Close()
		report, err := catalog.ImportXLSX(ctx, db.Queries(), f, *tenant)
		must(err)
		for _, re := range report.Rejected {
			fmt.Printf("row %d rejected: %v\n", re.Row, re.Err)
		}
		fmt.Printf("catalog import done tenant=%s sheet=%s imported=%d rejected=%d\n", *tenant, report.Sheet, report.Imported, len(report.Rejected))
	case "catalog:sync":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant := fs.String("tenant", cfg.DefaultTenantID, "tenant id")
		_ = fs.Parse(args)
		svc := catalog.NewSyncService(db.Queries(), catalog.NewClient(cfg), logger)
		report, err := svc.Sync(ctx, *tenant)
		must(err)
		fmt.Printf("catalog sync done tenant=%s fetched=%d upserted=%d rejected=%d\n", *tenant, report.Fetched, report.Upserted, report.Rejected)
	case "customer:tier":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant := fs.String("tenant", cfg.DefaultTenantID, "tenant id")
		customer := fs.String("customer", "", "customer (conversation) id")
		tier := fs.String("tier", "", "NEW|RETURNING|VIP")
		_ = fs.Parse(args)
		t := internal.CustomerTier(strings.ToUpper(strings.TrimSpace(*tier)))
		switch t {
		case internal.TierNew, internal.TierReturning, internal.TierVIP:
		default:
			must(fmt.Errorf("--tier must be NEW, RETURNING or VIP"))
		}
		if strings.TrimSpace(*customer) == "" {
			must(fmt.Errorf("--customer is required"))
		}
		must(db.Queries().SetCustomerTier(ctx, *tenant, *customer, t))
		fmt.Printf("customer %s is %s\n", *customer, t)
	case "chat:send":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant := fs.String("tenant", cfg.DefaultTenantID, "tenant id")
		conv := fs.String("conversation", "", "conversation id")
		text := fs.String("text", "", "message text")
		_ = fs.Parse(args)
		if strings.TrimSpace(*conv) == "" || strings.TrimSpace(*text) == "" {
			must(fmt.Errorf("--conversation and --text are required"))
		}
		svc := newPipeline(ctx, cfg, db, logger)
		printJSON(svc.ProcessMessage(ctx, *tenant, *conv, *text))
	case "cart:show", "cart:checkout", "cart:cancel":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant := fs.String("tenant", cfg.DefaultTenantID, "tenant id")
		conv := fs.String("conversation", "", "conversation id")
		_ = fs.Parse(args)
		if strings.TrimSpace(*conv) == "" {
			must(fmt.Errorf("--conversation is required"))
		}
		svc := newPipeline(ctx, cfg, db, logger)
		runCart(ctx, svc, cmd, *tenant, *conv)
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant := fs.String("tenant", cfg.DefaultTenantID, "tenant id")
		conv := fs.String("conversation", "", "conversation id")
		out := fs.String("out", "", "output xlsx path")
		order := fs.Bool("order", false, "export the latest order draft instead of the cart")
		_ = fs.Parse(args)
		if strings.TrimSpace(*conv) == "" || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--conversation and --out are required"))
		}
		svc := newPipeline(ctx, cfg, db, logger)
		must(svc.ExportConversation(ctx, *tenant, *conv, *order, *out))
		fmt.Printf("exported conversation %s to %s\n", *conv, *out)
	case "chat:listen":
		svc := newPipeline(ctx, cfg, db, logger)
		l, err := listener.NewService(ctx, db, svc, cfg, logger)
		must(err)
		must(l.Run(ctx))
	default:
		usage()
		os.Exit(1)
	}
}

func newPipeline(ctx context.Context, cfg config.Config, db *storage.DB, logger *zap.Logger) *pipeline.Service {
	if cfg.ClassifierURL != "" && cfg.ClassifierAPIKey == "" && cfg.ClassifierAPIKeySecret != "" {
		accessor, closeFn, err := config.NewGCPSecretAccessor(ctx)
		must(err)
		defer func() { _ = closeFn() }()
		must(cfg.ResolveSecrets(ctx, accessor, os.Getenv("GCP_PROJECT")))
	}
	svc, err := pipeline.NewService(db, cfg, classifier.FromConfig(cfg, logger), logger)
	must(err)
	return svc
}

func runCart(ctx context.Context, svc *pipeline.Service, cmd, tenant, conv string) {
	switch cmd {
	case "cart:show":
		c, totals, err := svc.Cart(ctx, tenant, conv)
		must(err)
		if c == nil {
			fmt.Println("cart is empty")
			return
		}
		printJSON(map[string]any{"cart": c, "totals": totals})
	case "cart:checkout":
		c, _, err := svc.Cart(ctx, tenant, conv)
		must(err)
		if c == nil {
			must(fmt.Errorf("conversation %s has no cart", conv))
		}
		draft, err := svc.CommitCartToOrder(ctx, c.ID)
		must(err)
		printJSON(draft)
	case "cart:cancel":
		had, err := svc.CancelCart(ctx, tenant, conv)
		must(err)
		if had {
			fmt.Printf("cart of %s cancelled\n", conv)
		} else {
			fmt.Printf("conversation %s had no cart\n", conv)
		}
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	must(err)
	fmt.Println(string(out))
}

func usage() {
	fmt.Println("usage: orderdesk <command>")
	fmt.Println("commands:")
	fmt.Println("  catalog:import --tenant=t1 --file=catalog.xlsx")
	fmt.Println("  catalog:sync --tenant=t1")
	fmt.Println("  customer:tier --tenant=t1 --customer=c1 --tier=NEW|RETURNING|VIP")
	fmt.Println("  chat:send --tenant=t1 --conversation=c1 --text=\"8x80 10 ctns\"")
	fmt.Println("  cart:show|cart:checkout|cart:cancel --tenant=t1 --conversation=c1")
	fmt.Println("  export:xlsx --tenant=t1 --conversation=c1 --out=./out/cart.xlsx [--order]")
	fmt.Println("  chat:listen")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
