// Package api exposes the recipe lookups as a read-only JSON API.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xReLogic/recettes/internal/logging"
	"github.com/0xReLogic/recettes/internal/mealdb"
	"github.com/0xReLogic/recettes/internal/utils"
)

// Searcher is the set of lookups the API serves. *mealdb.Client implements it.
type Searcher interface {
	ByLetter(ctx context.Context, letter string) []mealdb.Meal
	ByName(ctx context.Context, query string) []mealdb.Meal
	ByIngredient(ctx context.Context, ingredient string) []mealdb.Meal
	ByCountry(ctx context.Context, country string) []mealdb.Meal
	ByID(ctx context.Context, id string) (mealdb.Meal, bool)
	CombinedSearch(ctx context.Context, query string) []mealdb.Meal
	FetchAllLetters(ctx context.Context) []mealdb.Meal
	EachLetter(ctx context.Context, fn func(letter string, meals []mealdb.Meal) error) error
}

const writeWait = 10 * time.Second

// Handler serves the /api/meals routes
type Handler struct {
	searcher Searcher
	upgrader websocket.Upgrader
}

// NewHandler creates an API handler backed by s
func NewHandler(s Searcher) *Handler {
	return &Handler{
		searcher: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

type mealsResponse struct {
	Meals []mealdb.Meal `json:"meals"`
}

type mealResponse struct {
	Meal mealdb.Meal `json:"meal"`
}

// Register mounts the API on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/meals", get(h.all))
	mux.Handle("/api/meals/stream", get(h.stream))
	mux.Handle("/api/meals/letter/{letter}", get(h.letter))
	mux.Handle("/api/meals/search", get(h.query("q", h.searcher.ByName)))
	mux.Handle("/api/meals/ingredient", get(h.query("i", h.searcher.ByIngredient)))
	mux.Handle("/api/meals/country", get(h.query("a", h.searcher.ByCountry)))
	mux.Handle("/api/meals/combined", get(h.query("q", h.searcher.CombinedSearch)))
	mux.Handle("/api/meals/{id}", get(h.byID))
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "not found")
	})
}

// get rejects everything but GET and HEAD
func get(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	})
}

func writeMeals(w http.ResponseWriter, r *http.Request, meals []mealdb.Meal) {
	if meals == nil {
		meals = []mealdb.Meal{}
	}
	if err := utils.WriteJSON(w, http.StatusOK, mealsResponse{Meals: meals}); err != nil {
		logging.WithContext(r.Context()).Error().Err(err).Msg("error writing response")
	}
}

func (h *Handler) all(w http.ResponseWriter, r *http.Request) {
	writeMeals(w, r, h.searcher.FetchAllLetters(r.Context()))
}

func (h *Handler) letter(w http.ResponseWriter, r *http.Request) {
	letter, ok := mealdb.NormalizeLetter(r.PathValue("letter"))
	if !ok {
		_ = utils.WriteError(w, http.StatusBadRequest, "letter must be a single letter a-z")
		return
	}
	writeMeals(w, r, h.searcher.ByLetter(r.Context(), letter))
}

func (h *Handler) query(param string, fn func(context.Context, string) []mealdb.Meal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value := strings.TrimSpace(r.URL.Query().Get(param))
		if value == "" {
			_ = utils.WriteError(w, http.StatusBadRequest, "missing query parameter "+param)
			return
		}
		meals := fn(r.Context(), value)
		logging.WithContext(r.Context()).Debug().
			Str("param", param).
			Str("value", value).
			Int("meals", len(meals)).
			Msg("recipe query served")
		writeMeals(w, r, meals)
	}
}

func (h *Handler) byID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	meal, ok := h.searcher.ByID(r.Context(), id)
	if !ok {
		_ = utils.WriteError(w, http.StatusNotFound, "meal not found")
		return
	}
	if err := utils.WriteJSON(w, http.StatusOK, mealResponse{Meal: meal}); err != nil {
		logging.WithContext(r.Context()).Error().Err(err).Msg("error writing response")
	}
}

type letterFrame struct {
	Letter string        `json:"letter"`
	Meals  []mealdb.Meal `json:"meals"`
}

type doneFrame struct {
	Done  bool `json:"done"`
	Count int  `json:"count"`
}

// stream walks the alphabet and pushes one frame per letter over a websocket.
// The walk stops when the client goes away.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the client never sends data; a read error means it left
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	count := 0
	err = h.searcher.EachLetter(ctx, func(letter string, meals []mealdb.Meal) error {
		if meals == nil {
			meals = []mealdb.Meal{}
		}
		count += len(meals)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(letterFrame{Letter: letter, Meals: meals})
	})
	if err != nil {
		logger.Debug().Err(err).Int("meals", count).Msg("meal stream aborted")
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(doneFrame{Done: true, Count: count}); err != nil {
		logger.Debug().Err(err).Msg("error writing final stream frame")
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	logger.Info().Int("meals", count).Msg("meal stream completed")
}
