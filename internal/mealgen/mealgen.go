// Package mealgen talks to the meal-generation model. The remote side
// is an opaque collaborator: any response the transform understands is
// accepted, and only the recognized meal slots survive it.
package mealgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fitme-tracker/internal/plan"
)

// TextGenerator is an interface for generating text from a prompt.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Profile carries the user's preference fields for a generation request.
type Profile struct {
	Diet           string
	Budget         string
	MaxPrepMinutes int
	Cuisine        string
	MacroFocus     string
}

// Generator builds prompts from a profile and transforms the model's
// response into a daily plan.
type Generator struct {
	textGen TextGenerator
}

// NewGenerator creates a generator on top of any text model client.
func NewGenerator(textGen TextGenerator) *Generator {
	return &Generator{textGen: textGen}
}

// apiMeal is the per-slot shape of the generation response.
type apiMeal struct {
	Name         string         `json:"name"`
	Ingredients  []string       `json:"ingredients"`
	Instructions []string       `json:"instructions"`
	Nutrition    plan.Nutrition `json:"nutrition"`
	PrepTime     int            `json:"prep_time"`
	CookTime     int            `json:"cook_time"`
	Description  string         `json:"description"`
	Cuisine      string         `json:"cuisine"`
	Difficulty   string         `json:"difficulty"`
	Portion      string         `json:"portion"`
}

// dailyPlanResponse is the top-level generation response.
type dailyPlanResponse struct {
	Breakfast   *apiMeal        `json:"breakfast"`
	Lunch       *apiMeal        `json:"lunch"`
	Dinner      *apiMeal        `json:"dinner"`
	Snack       *apiMeal        `json:"snack"`
	DailyTotals *plan.Nutrition `json:"dailyTotals"`
}

// GeneratePlan requests a daily plan for the profile and returns it in
// the store's format.
func (g *Generator) GeneratePlan(ctx context.Context, profile Profile) (plan.Plan, error) {
	response, err := g.textGen.GenerateContent(ctx, buildPrompt(profile))
	if err != nil {
		return plan.Plan{}, fmt.Errorf("failed to generate plan: %w", err)
	}

	var parsed dailyPlanResponse
	if err := json.Unmarshal([]byte(stripCodeFences(response)), &parsed); err != nil {
		return plan.Plan{}, fmt.Errorf("failed to parse generated plan: %w", err)
	}

	p := transformDailyPlan(parsed)
	if p.IsEmpty() {
		return plan.Plan{}, fmt.Errorf("generated plan contains no meals")
	}
	return p, nil
}

// transformDailyPlan converts the response shape into the plan format,
// keeping only the recognized meal slots.
func transformDailyPlan(resp dailyPlanResponse) plan.Plan {
	meals := make(map[string]plan.Meal)
	for slot, m := range map[string]*apiMeal{
		plan.SlotBreakfast: resp.Breakfast,
		plan.SlotLunch:     resp.Lunch,
		plan.SlotDinner:    resp.Dinner,
		plan.SlotSnack:     resp.Snack,
	} {
		if m == nil || m.Name == "" {
			continue
		}
		meals[slot] = plan.Meal{
			Name:         m.Name,
			Ingredients:  m.Ingredients,
			Instructions: m.Instructions,
			Nutrition:    m.Nutrition,
			PrepTime:     m.PrepTime,
			CookTime:     m.CookTime,
			Description:  m.Description,
			Cuisine:      m.Cuisine,
			Difficulty:   m.Difficulty,
			Portion:      m.Portion,
		}
	}
	return plan.Plan{Meals: meals, DailyTotals: resp.DailyTotals}
}

func buildPrompt(profile Profile) string {
	var b strings.Builder
	b.WriteString("Create a one-day meal plan as JSON with keys breakfast, lunch, dinner, snack and dailyTotals.\n")
	b.WriteString("Each meal needs: name, ingredients (list), instructions (list), nutrition {calories, protein, carbs, fat}, prep_time (minutes).\n")
	b.WriteString("dailyTotals sums calories, protein, carbs and fat across all meals.\n")
	if profile.Diet != "" {
		fmt.Fprintf(&b, "Diet: %s.\n", profile.Diet)
	}
	if profile.Budget != "" {
		fmt.Fprintf(&b, "Budget: %s.\n", profile.Budget)
	}
	if profile.MaxPrepMinutes > 0 {
		fmt.Fprintf(&b, "Maximum prep time per meal: %d minutes.\n", profile.MaxPrepMinutes)
	}
	if profile.Cuisine != "" {
		fmt.Fprintf(&b, "Preferred cuisine: %s.\n", profile.Cuisine)
	}
	if profile.MacroFocus != "" {
		fmt.Fprintf(&b, "Macro focus: %s.\n", profile.MacroFocus)
	}
	b.WriteString("Respond with JSON only.")
	return b.String()
}

// stripCodeFences removes a surrounding ```json ... ``` block when the
// model wraps its answer in one.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
