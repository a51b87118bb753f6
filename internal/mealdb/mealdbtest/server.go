// Package mealdbtest provides an in-memory stand-in for the recipe API,
// for tests and local development.
package mealdbtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// APIPath is where the fake serves the API, mirroring the public layout
const APIPath = "/api/json/v1/1"

// Recipe is one meal known to the fake
type Recipe struct {
	ID          string
	Name        string
	Category    string
	Area        string
	Thumb       string
	Ingredients []string
}

func (r Recipe) full() map[string]interface{} {
	rec := map[string]interface{}{
		"idMeal":       r.ID,
		"strMeal":      r.Name,
		"strCategory":  r.Category,
		"strArea":      r.Area,
		"strMealThumb": r.Thumb,
	}
	for i := 0; i < 20; i++ {
		key := "strIngredient" + strconv.Itoa(i+1)
		if i < len(r.Ingredients) {
			rec[key] = r.Ingredients[i]
		} else {
			rec[key] = ""
		}
	}
	return rec
}

func (r Recipe) summary() map[string]interface{} {
	return map[string]interface{}{
		"idMeal":       r.ID,
		"strMeal":      r.Name,
		"strMealThumb": r.Thumb,
	}
}

type override struct {
	status int
	body   string
	drop   bool
}

// Handler answers search.php, filter.php and lookup.php from a recipe catalog.
// Individual queries can be overridden with canned bodies or failures.
type Handler struct {
	mu        sync.Mutex
	recipes   []Recipe
	overrides map[string]override
	calls     map[string]int
	order     []string
}

// NewHandler creates a handler serving the given recipes
func NewHandler(recipes ...Recipe) *Handler {
	return &Handler{
		recipes:   append([]Recipe(nil), recipes...),
		overrides: make(map[string]override),
		calls:     make(map[string]int),
	}
}

func key(endpoint, param, value string) string {
	return endpoint + "?" + param + "=" + value
}

// Add appends recipes to the catalog
func (h *Handler) Add(recipes ...Recipe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recipes = append(h.recipes, recipes...)
}

// Respond makes a query answer with a fixed 200 body
func (h *Handler) Respond(endpoint, param, value, body string) {
	h.setOverride(endpoint, param, value, override{status: http.StatusOK, body: body})
}

// Fail makes a query answer with the given status
func (h *Handler) Fail(endpoint, param, value string, status int) {
	h.setOverride(endpoint, param, value, override{status: status, body: "upstream failure"})
}

// Drop makes a query fail at the transport level: the connection is closed
// without a response.
func (h *Handler) Drop(endpoint, param, value string) {
	h.setOverride(endpoint, param, value, override{drop: true})
}

func (h *Handler) setOverride(endpoint, param, value string, o override) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.overrides[key(endpoint, param, value)] = o
}

// Calls returns how many times a query was received
func (h *Handler) Calls(endpoint, param, value string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[key(endpoint, param, value)]
}

// Order returns every received query in arrival order, as "endpoint?param=value"
func (h *Handler) Order() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}

// TotalCalls returns the number of queries received
func (h *Handler) TotalCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	endpoint := path.Base(r.URL.Path)
	q := r.URL.Query()

	param := ""
	for _, p := range []string{"f", "s", "i", "a"} {
		if q.Has(p) {
			param = p
			break
		}
	}
	value := q.Get(param)
	k := key(endpoint, param, value)

	h.mu.Lock()
	h.calls[k]++
	h.order = append(h.order, k)
	o, overridden := h.overrides[k]
	recipes := append([]Recipe(nil), h.recipes...)
	h.mu.Unlock()

	if overridden {
		if o.drop {
			dropConnection(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(o.status)
		_, _ = w.Write([]byte(o.body))
		return
	}

	var meals []map[string]interface{}
	switch {
	case endpoint == "search.php" && param == "f":
		for _, rec := range recipes {
			if value != "" && strings.HasPrefix(strings.ToLower(rec.Name), strings.ToLower(value[:1])) {
				meals = append(meals, rec.full())
			}
		}
	case endpoint == "search.php" && param == "s":
		for _, rec := range recipes {
			if strings.Contains(strings.ToLower(rec.Name), strings.ToLower(value)) {
				meals = append(meals, rec.full())
			}
		}
	case endpoint == "filter.php" && param == "i":
		want := normalize(value)
		for _, rec := range recipes {
			for _, ing := range rec.Ingredients {
				if normalize(ing) == want {
					meals = append(meals, rec.summary())
					break
				}
			}
		}
	case endpoint == "filter.php" && param == "a":
		for _, rec := range recipes {
			if strings.EqualFold(rec.Area, value) {
				meals = append(meals, rec.summary())
			}
		}
	case endpoint == "lookup.php" && param == "i":
		for _, rec := range recipes {
			if rec.ID == value {
				meals = append(meals, rec.full())
				break
			}
		}
	default:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"meals": meals})
}

func normalize(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", " "))
}

func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic(http.ErrAbortHandler)
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(http.ErrAbortHandler)
	}
	_ = conn.Close()
}

// Server is a running fake recipe API
type Server struct {
	*httptest.Server
	*Handler
}

// NewServer starts a fake API serving recipes
func NewServer(recipes ...Recipe) *Server {
	h := NewHandler(recipes...)
	mux := http.NewServeMux()
	mux.Handle(APIPath+"/", h)
	return &Server{Server: httptest.NewServer(mux), Handler: h}
}

// BaseURL is the API root to hand to a client
func (s *Server) BaseURL() string {
	return s.URL + APIPath
}

// Close shuts the server down
func (s *Server) Close() {
	s.Server.Close()
}

// Sample returns a small catalog covering several letters, ingredients and cuisines
func Sample() []Recipe {
	recipes := []Recipe{
		{ID: "52772", Name: "Teriyaki Chicken Casserole", Category: "Chicken", Area: "Japanese",
			Ingredients: []string{"soy sauce", "water", "brown sugar", "chicken breasts", "stir-fry vegetables"}},
		{ID: "52771", Name: "Spicy Arrabiata Penne", Category: "Vegetarian", Area: "Italian",
			Ingredients: []string{"penne rigate", "olive oil", "garlic", "chopped tomatoes", "red chilli flakes"}},
		{ID: "52940", Name: "Brown Stew Chicken", Category: "Chicken", Area: "Jamaican",
			Ingredients: []string{"whole chicken", "tomato", "onions", "garlic", "thyme"}},
		{ID: "52802", Name: "Fish pie", Category: "Seafood", Area: "British",
			Ingredients: []string{"floury potatoes", "olive oil", "semi-skimmed milk", "white fish fillets", "plain flour"}},
		{ID: "52874", Name: "Beef and Mustard Pie", Category: "Beef", Area: "British",
			Ingredients: []string{"beef", "plain flour", "rapeseed oil", "red wine", "beef stock"}},
		{ID: "52959", Name: "Baked salmon with fennel & tomatoes", Category: "Seafood", Area: "British",
			Ingredients: []string{"fennel", "lemon", "cherry tomatoes", "olive oil", "salmon"}},
		{ID: "52906", Name: "Flamiche", Category: "Vegetarian", Area: "French",
			Ingredients: []string{"butter", "leek", "egg yolks", "double cream", "gruyere"}},
		{ID: "53013", Name: "Chicken Couscous", Category: "Chicken", Area: "Moroccan",
			Ingredients: []string{"olive oil", "onion", "chicken breasts", "couscous", "chicken stock"}},
		{ID: "52893", Name: "Apple & Blackberry Crumble", Category: "Dessert", Area: "British",
			Ingredients: []string{"plain flour", "caster sugar", "butter", "braeburn apples", "blackberries"}},
		{ID: "52814", Name: "Thai Green Curry", Category: "Chicken", Area: "Thai",
			Ingredients: []string{"potatoes", "green beans", "chicken", "coconut milk", "thai green curry paste"}},
	}
	for i := range recipes {
		recipes[i].Thumb = fmt.Sprintf("https://www.themealdb.com/images/media/meals/%s.jpg", recipes[i].ID)
	}
	sort.Slice(recipes, func(i, j int) bool { return recipes[i].ID < recipes[j].ID })
	return recipes
}
