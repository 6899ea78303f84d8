package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ecofinds/marketclient/internal/cart"
	"github.com/ecofinds/marketclient/internal/catalog"
	"github.com/ecofinds/marketclient/internal/checkout"
	"github.com/ecofinds/marketclient/internal/domain"
	"github.com/ecofinds/marketclient/internal/gateway"
	"github.com/ecofinds/marketclient/internal/session"
	"github.com/ecofinds/marketclient/pkg/config"
)

const usage = `marketctl <command> [flags]

Commands:
  signup     create an account and sign in
  login      sign in with email/password
  logout     clear the local session
  me         show the current profile
  browse     browse the catalog (paginated)
  cart       show the cart, or add/remove items
  checkout   convert the cart into an order
  orders     list past orders
  listings   manage your own product listings
  categories list known categories
`

type app struct {
	cfg      *config.Config
	log      *zap.Logger
	session  *session.Store
	cart     *cart.Synchronizer
	catalog  *catalog.Paginator
	products *catalog.Products
	checkout *checkout.Orchestrator
	history  *checkout.History
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := newTokenStore(cfg)
	if err != nil {
		logger.Fatal("Failed to set up token store", zap.Error(err))
	}

	// The auth-reject hook closes over the store so an expired token tears
	// the session down centrally, wherever the 401 surfaced.
	var store *session.Store
	gw, err := gateway.New(gateway.Config{
		BaseURL: cfg.APIBaseURL,
		Tokens:  tokens,
		Logger:  logger,
		OnAuthReject: func() {
			if store != nil {
				store.Logout()
			}
		},
	})
	if err != nil {
		logger.Fatal("Failed to create gateway", zap.Error(err))
	}
	store = session.New(gw, tokens, logger)

	carts := cart.New(gw, logger)
	a := &app{
		cfg:      cfg,
		log:      logger,
		session:  store,
		cart:     carts,
		catalog:  catalog.New(gw, cfg.PageSize, logger),
		products: catalog.NewProducts(gw),
		checkout: checkout.New(gw, carts, logger),
		history:  checkout.NewHistory(gw),
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "marketctl:", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "signup":
		return a.cmdSignup(ctx, args)
	case "login":
		return a.cmdLogin(ctx, args)
	case "logout":
		a.session.Logout()
		fmt.Println("logged out")
		return nil
	case "me":
		return a.cmdMe(ctx)
	case "browse":
		return a.cmdBrowse(ctx, args)
	case "cart":
		return a.cmdCart(ctx, args)
	case "checkout":
		return a.cmdCheckout(ctx, args)
	case "orders":
		return a.cmdOrders(ctx)
	case "listings":
		return a.cmdListings(ctx, args)
	case "categories":
		return a.cmdCategories(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) cmdSignup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	username := fs.String("username", "", "display name")
	fs.Parse(args)

	u, err := a.session.Signup(ctx, *email, *password, *username)
	if err != nil {
		return err
	}
	fmt.Printf("welcome, %s (%s)\n", u.Username, u.Email)
	return nil
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	fs.Parse(args)

	u, err := a.session.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Printf("signed in as %s\n", u.Email)
	return nil
}

func (a *app) cmdMe(ctx context.Context) error {
	a.session.Restore(ctx)
	u, ok := a.session.User()
	if !ok {
		return session.ErrUnauthenticated
	}
	fmt.Printf("id=%d email=%s username=%s\n", u.ID, u.Email, u.Username)
	return nil
}

func (a *app) cmdBrowse(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("browse", flag.ExitOnError)
	query := fs.String("q", "", "search text")
	category := fs.String("category", "", "category filter")
	pages := fs.Int("pages", 1, "number of pages to load")
	fs.Parse(args)

	if err := a.catalog.SetFilter(ctx, catalog.Filter{Query: *query, Category: *category}); err != nil {
		return err
	}
	for i := 1; i < *pages && a.catalog.HasMore(); i++ {
		if err := a.catalog.LoadMore(ctx); err != nil {
			return err
		}
	}
	for _, p := range a.catalog.Items() {
		fmt.Printf("%6d  %-30s  %8.2f  %s (%s)\n", p.ID, p.Name, p.Price, p.Category, p.SellerName)
	}
	if a.catalog.HasMore() {
		fmt.Println("... more available")
	}
	return nil
}

func (a *app) cmdCart(ctx context.Context, args []string) error {
	a.session.Restore(ctx)
	if len(args) == 0 {
		return a.printCart(ctx)
	}
	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("cart add", flag.ExitOnError)
		id := fs.Int64("id", 0, "product id")
		qty := fs.Int("qty", 1, "quantity")
		fs.Parse(args[1:])
		snapshot, err := a.cart.Add(ctx, *id, *qty)
		if err != nil {
			return err
		}
		return printCart(snapshot)
	case "remove":
		fs := flag.NewFlagSet("cart remove", flag.ExitOnError)
		id := fs.Int64("id", 0, "product id")
		fs.Parse(args[1:])
		snapshot, err := a.cart.Remove(ctx, *id)
		if err != nil {
			return err
		}
		return printCart(snapshot)
	case "show":
		return a.printCart(ctx)
	default:
		return fmt.Errorf("unknown cart subcommand %q", args[0])
	}
}

func (a *app) printCart(ctx context.Context) error {
	snapshot, err := a.cart.Snapshot(ctx)
	if err != nil {
		return err
	}
	return printCart(snapshot)
}

func printCart(c *domain.Cart) error {
	if c.Empty() {
		fmt.Println("cart is empty")
		return nil
	}
	for _, item := range c.Items {
		fmt.Printf("%6d  %-30s  x%d  %8.2f\n", item.ProductID, item.ProductName, item.Quantity, item.TotalPrice)
	}
	fmt.Printf("total: %d items, %.2f\n", c.TotalItems, c.TotalAmount)
	return nil
}

func (a *app) cmdCheckout(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkout", flag.ExitOnError)
	address := fs.String("address", "", "shipping address")
	city := fs.String("city", "", "shipping city")
	state := fs.String("state", "", "shipping state")
	zip := fs.String("zip", "", "shipping zip")
	country := fs.String("country", "", "shipping country")
	fs.Parse(args)

	a.session.Restore(ctx)
	if err := a.checkout.Begin(ctx); err != nil {
		return err
	}
	if err := a.checkout.SetShipping(domain.ShippingDetails{
		Address: *address,
		City:    *city,
		State:   *state,
		Zip:     *zip,
		Country: *country,
	}); err != nil {
		return err
	}
	order, err := a.checkout.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("order %d created, total %.2f\n", order.ID, order.TotalAmount)
	return nil
}

func (a *app) cmdOrders(ctx context.Context) error {
	a.session.Restore(ctx)
	orders, err := a.history.List(ctx)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Println("no orders yet")
		return nil
	}
	for _, o := range orders {
		fmt.Printf("%6d  %-10s  %8.2f  %s\n", o.ID, o.Status, o.TotalAmount, o.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

func (a *app) cmdListings(ctx context.Context, args []string) error {
	a.session.Restore(ctx)
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		listings, err := a.products.Mine(ctx)
		if err != nil {
			return err
		}
		for _, p := range listings {
			fmt.Printf("%6d  %-30s  %8.2f  %s\n", p.ID, p.Name, p.Price, p.Status)
		}
		return nil
	case "create":
		fs := flag.NewFlagSet("listings create", flag.ExitOnError)
		name := fs.String("name", "", "product name")
		desc := fs.String("desc", "", "description")
		price := fs.Float64("price", 0, "price")
		category := fs.String("category", "", "category")
		condition := fs.String("condition", "used", "condition")
		fs.Parse(args[1:])
		p, err := a.products.Create(ctx, domain.NewProduct{
			Name:        *name,
			Description: *desc,
			Price:       *price,
			Category:    *category,
			Condition:   *condition,
		})
		if err != nil {
			return err
		}
		fmt.Printf("listing %d created\n", p.ID)
		return nil
	case "delete":
		fs := flag.NewFlagSet("listings delete", flag.ExitOnError)
		id := fs.Int64("id", 0, "product id")
		fs.Parse(args[1:])
		if err := a.products.Delete(ctx, *id); err != nil {
			return err
		}
		fmt.Printf("listing %d deleted\n", *id)
		return nil
	default:
		return fmt.Errorf("unknown listings subcommand %q", args[0])
	}
}

func (a *app) cmdCategories(ctx context.Context) error {
	categories, err := a.products.Categories(ctx)
	if err != nil {
		return err
	}
	for _, c := range categories {
		fmt.Println(c)
	}
	return nil
}

func newLogger(level string) *zap.Logger {
	if level == "debug" {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}

func newTokenStore(cfg *config.Config) (session.TokenStore, error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return session.NewRedisTokenStore(client, "marketctl"), nil
	}
	dir := cfg.TokenDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		dir = filepath.Join(base, "marketctl")
	}
	return session.NewFileTokenStore(dir), nil
}
