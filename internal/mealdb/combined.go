package mealdb

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/0xReLogic/recettes/internal/logging"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// Letters returns "a" through "z"
func Letters() []string {
	letters := make([]string, len(alphabet))
	for i := range alphabet {
		letters[i] = alphabet[i : i+1]
	}
	return letters
}

type query struct {
	kind  Kind
	value string
}

// Dedupe folds collections into one sequence keyed by meal id. A later
// record with an id already seen replaces the earlier one in place, so the
// result keeps first-seen positions and last-seen values. Never nil.
func Dedupe(collections ...[]Meal) []Meal {
	index := make(map[string]int)
	out := make([]Meal, 0)
	for _, meals := range collections {
		for _, m := range meals {
			if i, ok := index[m.ID]; ok {
				out[i] = m
				continue
			}
			index[m.ID] = len(out)
			out = append(out, m)
		}
	}
	return out
}

// CombinedSearch looks query up by name, ingredient and country and merges
// the three results by meal id. Failures of any source only remove that
// source's contribution.
func (c *Client) CombinedSearch(ctx context.Context, q string) []Meal {
	results := c.run(ctx, []query{
		{KindName, q},
		{KindIngredient, q},
		{KindCountry, q},
	})
	return Dedupe(results...)
}

// FetchAllLetters concatenates the by-letter results for a to z, in letter order.
func (c *Client) FetchAllLetters(ctx context.Context) []Meal {
	if c.fanOut {
		letters := Letters()
		queries := make([]query, len(letters))
		for i, l := range letters {
			queries[i] = query{KindLetter, l}
		}

		all := make([]Meal, 0)
		for _, meals := range c.run(ctx, queries) {
			all = append(all, meals...)
		}
		return all
	}

	all := make([]Meal, 0)
	err := c.EachLetter(ctx, func(_ string, meals []Meal) error {
		all = append(all, meals...)
		return nil
	})
	if err != nil {
		logging.WithContext(ctx).Warn().Err(err).Int("meals", len(all)).Msg("letter walk interrupted")
	}
	return all
}

// EachLetter calls fn with the result of ByLetter for a to z, one letter at
// a time. It stops at the first error from fn or when ctx is done.
func (c *Client) EachLetter(ctx context.Context, fn func(letter string, meals []Meal) error) error {
	for _, letter := range Letters() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(letter, c.ByLetter(ctx, letter)); err != nil {
			return err
		}
	}
	return nil
}

// run executes the queries and returns their collapsed results in query order
func (c *Client) run(ctx context.Context, queries []query) [][]Meal {
	results := make([][]Meal, len(queries))

	if !c.fanOut {
		for i, q := range queries {
			results[i] = c.collapse(ctx, q.kind, q.value)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(c.maxConcurrency)
	for i, q := range queries {
		g.Go(func() error {
			results[i] = c.collapse(ctx, q.kind, q.value)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
