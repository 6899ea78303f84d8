// Package apitest hosts an in-memory marketplace API used by package tests.
// It implements the consumed HTTP contract (auth, products, cart, orders)
// closely enough to exercise the client end to end, with knobs for failure
// injection and request counting.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ecofinds/marketclient/internal/domain"
)

type user struct {
	id       int64
	email    string
	password string
	username string
}

type Server struct {
	srv *httptest.Server

	mu         sync.Mutex
	users      map[string]*user  // by email
	tokens     map[string]int64  // bearer token -> user id
	products   []domain.Product  // insertion order; listing serves newest-last slices
	carts      map[int64]map[int64]int
	orders     map[int64][]domain.Order
	idemOrders map[string]*domain.Order
	nextID     int64

	requests map[string]int // "METHOD /path" -> count
	failures map[string]int // route key -> remaining forced 500s
}

func New() *Server {
	s := &Server{
		users:      map[string]*user{},
		tokens:     map[string]int64{},
		carts:      map[int64]map[int64]int{},
		orders:     map[int64][]domain.Order{},
		idemOrders: map[string]*domain.Order{},
		requests:   map[string]int{},
		failures:   map[string]int{},
	}

	r := chi.NewRouter()
	r.Use(s.record)

	r.Post("/api/auth/signup", s.handleSignup)
	r.Post("/api/auth/login", s.handleLogin)
	r.Get("/api/auth/me", s.handleMe)
	r.Put("/api/auth/me", s.handleUpdateMe)

	r.Get("/api/products", s.handleListProducts)
	r.Get("/api/products/{id}", s.handleGetProduct)
	r.Post("/api/products", s.handleCreateProduct)
	r.Put("/api/products/{id}", s.handleUpdateProduct)
	r.Delete("/api/products/{id}", s.handleDeleteProduct)
	r.Get("/api/categories", s.handleCategories)

	r.Get("/api/cart", s.handleGetCart)
	r.Post("/api/cart", s.handleAddToCart)
	r.Delete("/api/cart/{productID}", s.handleRemoveFromCart)

	r.Post("/api/orders", s.handleCreateOrder)
	r.Get("/api/orders", s.handleListOrders)

	s.srv = httptest.NewServer(r)
	return s
}

func (s *Server) Close() { s.srv.Close() }

func (s *Server) URL() string { return s.srv.URL }

// FailNext forces the next n hits of "METHOD /path" to return 500.
func (s *Server) FailNext(route string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = n
}

// Requests returns how many times "METHOD /path" was hit.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// SeedUser registers an account and returns a valid bearer token for it.
func (s *Server) SeedUser(email, password, username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.users[email] = &user{id: s.nextID, email: email, password: password, username: username}
	token := uuid.NewString()
	s.tokens[token] = s.nextID
	return token
}

// RevokeToken invalidates a previously issued bearer token.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// SeedProduct stores a product, assigning an ID when absent.
func (s *Server) SeedProduct(p domain.Product) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	}
	if p.Status == "" {
		p.Status = "active"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.products = append(s.products, p)
	return p.ID
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.requests[route]++
		if s.failures[route] > 0 {
			s.failures[route]--
			s.mu.Unlock()
			respondError(w, http.StatusInternalServerError, "injected failure")
			return
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(r *http.Request) (*user, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	if !ok {
		return nil, false
	}
	for _, u := range s.users {
		if u.id == id {
			return u, true
		}
	}
	return nil, false
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusUnprocessableEntity, "invalid signup payload")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[req.Email]; exists {
		respondError(w, http.StatusBadRequest, "Email already registered")
		return
	}
	s.nextID++
	u := &user{id: s.nextID, email: req.Email, password: req.Password, username: req.Username}
	s.users[req.Email] = u
	respondJSON(w, http.StatusOK, profileOf(u))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid login payload")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[req.Email]
	if !ok || u.password != req.Password {
		respondError(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	token := uuid.NewString()
	s.tokens[token] = u.id
	respondJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	respondJSON(w, http.StatusOK, profileOf(u))
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid payload")
		return
	}
	s.mu.Lock()
	u.username = req.Username
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, profileOf(u))
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var seller *user
	if q.Get("seller") == "me" {
		u, ok := s.authenticate(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		seller = u
	}

	limit := 20
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if v := q.Get("cursor"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid cursor format")
			return
		}
		offset = n
	}

	s.mu.Lock()
	var matched []domain.Product
	for _, p := range s.products {
		if p.Status != "active" {
			continue
		}
		if search := q.Get("q"); search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(search)) {
			continue
		}
		if cat := q.Get("category"); cat != "" && p.Category != cat {
			continue
		}
		if seller != nil && p.SellerID != seller.id {
			continue
		}
		matched = append(matched, p)
	}
	s.mu.Unlock()

	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	page := domain.ProductPage{
		Products: matched[offset:end],
		HasMore:  end < len(matched),
	}
	if page.HasMore {
		page.NextCursor = strconv.Itoa(end)
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.ID == id {
			respondJSON(w, http.StatusOK, p)
			return
		}
	}
	respondError(w, http.StatusNotFound, "Product not found")
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	var req domain.NewProduct
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Price < 0 {
		respondError(w, http.StatusUnprocessableEntity, "invalid product payload")
		return
	}
	s.mu.Lock()
	s.nextID++
	p := domain.Product{
		ID:          s.nextID,
		SellerID:    u.id,
		SellerName:  u.username,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Condition:   req.Condition,
		EcoRating:   req.EcoRating,
		EcoDetails:  req.EcoDetails,
		ImageURLs:   req.ImageURLs,
		Status:      "active",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	s.products = append(s.products, p)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req domain.ProductUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid product payload")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.products {
		p := &s.products[i]
		if p.ID != id {
			continue
		}
		if p.SellerID != u.id {
			respondError(w, http.StatusForbidden, "Not your listing")
			return
		}
		if req.Name != nil {
			p.Name = *req.Name
		}
		if req.Price != nil {
			p.Price = *req.Price
		}
		if req.Category != nil {
			p.Category = *req.Category
		}
		p.UpdatedAt = time.Now()
		respondJSON(w, http.StatusOK, *p)
		return
	}
	respondError(w, http.StatusNotFound, "Product not found")
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.products {
		if s.products[i].ID != id {
			continue
		}
		if s.products[i].SellerID != u.id {
			respondError(w, http.StatusForbidden, "Not your listing")
			return
		}
		s.products = append(s.products[:i], s.products[i+1:]...)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondError(w, http.StatusNotFound, "Product not found")
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	seen := map[string]struct{}{}
	var categories []string
	for _, p := range s.products {
		if _, dup := seen[p.Category]; dup || p.Category == "" {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string][]string{"categories": categories})
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	respondJSON(w, http.StatusOK, s.cartOf(u.id))
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	var req struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity <= 0 {
		respondError(w, http.StatusUnprocessableEntity, "invalid cart payload")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findProduct(req.ProductID) == nil {
		respondError(w, http.StatusNotFound, "Product not found")
		return
	}
	if s.carts[u.id] == nil {
		s.carts[u.id] = map[int64]int{}
	}
	s.carts[u.id][req.ProductID] += req.Quantity
	respondJSON(w, http.StatusOK, s.cartOf(u.id))
}

func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	productID, _ := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, inCart := s.carts[u.id][productID]; !inCart {
		respondError(w, http.StatusNotFound, "Item not found in cart")
		return
	}
	delete(s.carts[u.id], productID)
	respondJSON(w, http.StatusOK, s.cartOf(u.id))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	var req struct {
		domain.ShippingDetails
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Complete() {
		respondError(w, http.StatusUnprocessableEntity, "all shipping fields are required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if existing, dup := s.idemOrders[req.IdempotencyKey]; dup {
			respondJSON(w, http.StatusOK, existing)
			return
		}
	}
	cart := s.cartOf(u.id)
	if len(cart.Items) == 0 {
		respondError(w, http.StatusBadRequest, "Cart is empty")
		return
	}

	s.nextID++
	order := domain.Order{
		ID:              s.nextID,
		Status:          "pending",
		TotalAmount:     cart.TotalAmount,
		ShippingAddress: req.Address,
		ShippingCity:    req.City,
		ShippingState:   req.State,
		ShippingZip:     req.Zip,
		ShippingCountry: req.Country,
		CreatedAt:       time.Now(),
	}
	for _, item := range cart.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:           item.ID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			PricePerUnit: item.ProductPrice,
			TotalPrice:   item.TotalPrice,
			ProductName:  item.ProductName,
		})
	}
	s.orders[u.id] = append(s.orders[u.id], order)
	delete(s.carts, u.id) // order creation clears the cart server-side
	if req.IdempotencyKey != "" {
		s.idemOrders[req.IdempotencyKey] = &order
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := s.orders[u.id]
	if orders == nil {
		orders = []domain.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// cartOf builds the response cart for userID. Caller holds s.mu.
func (s *Server) cartOf(userID int64) domain.Cart {
	cart := domain.Cart{ID: userID, Items: []domain.CartItem{}}
	for productID, qty := range s.carts[userID] {
		p := s.findProduct(productID)
		if p == nil {
			continue
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ID:           productID,
			ProductID:    productID,
			Quantity:     qty,
			AddedAt:      time.Now(),
			ProductName:  p.Name,
			ProductPrice: p.Price,
			TotalPrice:   p.Price * float64(qty),
		})
		cart.TotalItems += qty
		cart.TotalAmount += p.Price * float64(qty)
	}
	return cart
}

// findProduct returns the active product with id. Caller holds s.mu.
func (s *Server) findProduct(id int64) *domain.Product {
	for i := range s.products {
		if s.products[i].ID == id && s.products[i].Status == "active" {
			return &s.products[i]
		}
	}
	return nil
}

func profileOf(u *user) map[string]any {
	return map[string]any{"id": u.id, "email": u.email, "username": u.username}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Println("apitest: encode response:", err)
	}
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}
