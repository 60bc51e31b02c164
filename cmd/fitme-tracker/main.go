package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"fitme-tracker/internal/app"
	"fitme-tracker/internal/config"
	"fitme-tracker/internal/mealgen"

	"github.com/joho/godotenv"
)

func main() {
	ctx := context.Background()

	// Missing .env is fine; plain environment variables still apply.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer application.Close()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		generateCmd := flag.NewFlagSet("generate", flag.ExitOnError)
		diet := generateCmd.String("diet", "", "Dietary preference (e.g. vegetarian)")
		budget := generateCmd.String("budget", "", "Budget level (e.g. low, medium)")
		prep := generateCmd.Int("max-prep", 0, "Maximum prep time per meal in minutes")
		cuisine := generateCmd.String("cuisine", "", "Preferred cuisine")
		macro := generateCmd.String("macro", "", "Macro focus (e.g. high-protein)")
		name := generateCmd.String("name", "", "Name to save the plan under")
		generateCmd.Parse(os.Args[2:])

		p, err := application.GeneratePlan(ctx, mealgen.Profile{
			Diet:           *diet,
			Budget:         *budget,
			MaxPrepMinutes: *prep,
			Cuisine:        *cuisine,
			MacroFocus:     *macro,
		})
		if err != nil {
			log.Fatalf("Plan generation failed: %v", err)
		}
		for slot, meal := range p.Meals {
			fmt.Printf("%-10s %s (%.0f kcal)\n", slot+":", meal.Name, meal.Nutrition.Calories)
		}

		result := application.Plans.Save(p, *name, false)
		if !result.Success {
			log.Fatalf("Save failed: %s", result.Message)
		}
		fmt.Printf("Saved as %s\n", result.PlanID)

	case "plans":
		if len(os.Args) > 2 && os.Args[2] == "delete" {
			deleteCmd := flag.NewFlagSet("plans delete", flag.ExitOnError)
			id := deleteCmd.String("id", "", "Plan id to delete")
			deleteCmd.Parse(os.Args[3:])
			result := application.Plans.Delete(*id)
			fmt.Println(result.Message)
			return
		}
		if len(os.Args) > 2 && os.Args[2] == "load" {
			loadCmd := flag.NewFlagSet("plans load", flag.ExitOnError)
			id := loadCmd.String("id", "", "Plan id to load; empty loads the most recent")
			loadCmd.Parse(os.Args[3:])
			result := application.Plans.Load(ctx, *id)
			if !result.Success {
				log.Fatal(result.Message)
			}
			fmt.Printf("Loaded: %s\n", result.Metadata.Name)
			for slot, meal := range result.Meals.Meals {
				fmt.Printf("%-10s %s\n", slot+":", meal.Name)
			}
			return
		}
		for _, sp := range application.Plans.List() {
			syncMark := " "
			if sp.Synced {
				syncMark = "*"
			}
			fmt.Printf("%s %-28s %-24s %d meals, %d kcal\n",
				syncMark, sp.ID, sp.Name, sp.Summary.MealCount, sp.Summary.TotalCalories)
		}

	case "restore":
		result := application.Hydrate()
		if !result.Success {
			fmt.Println(result.Message)
			return
		}
		fmt.Printf("Restored: %s\n", result.Metadata.Name)
		for slot, meal := range result.Meals.Meals {
			fmt.Printf("%-10s %s\n", slot+":", meal.Name)
		}

	case "tasks":
		if len(os.Args) > 2 && os.Args[2] == "add" {
			addCmd := flag.NewFlagSet("tasks add", flag.ExitOnError)
			timeLabel := addCmd.String("time", "", "Time slot (e.g. \"8:00 AM\")")
			category := addCmd.String("category", "meal", "Task category")
			name := addCmd.String("name", "", "Task name")
			calories := addCmd.Float64("calories", 0, "Calories")
			protein := addCmd.Float64("protein", 0, "Protein in grams")
			carbs := addCmd.Float64("carbs", 0, "Carbs in grams")
			fat := addCmd.Float64("fat", 0, "Fat in grams")
			addCmd.Parse(os.Args[3:])
			if *timeLabel == "" || *name == "" {
				log.Fatal("Both -time and -name are required")
			}
			task := application.Tasks.Add(*timeLabel, *category, *name, *calories, *protein, *carbs, *fat)
			fmt.Printf("Added %s at %s\n", task.Name, task.Time)
			return
		}
		if len(os.Args) > 2 && os.Args[2] == "done" {
			doneCmd := flag.NewFlagSet("tasks done", flag.ExitOnError)
			timeLabel := doneCmd.String("time", "", "Time slot of the task")
			name := doneCmd.String("name", "", "Task name")
			doneCmd.Parse(os.Args[3:])
			task, ok := application.Tasks.Toggle(*timeLabel, *name)
			if !ok {
				log.Fatalf("No task %q at %s today", *name, *timeLabel)
			}
			state := "incomplete"
			if task.Completed {
				state = "completed"
			}
			fmt.Printf("%s is now %s\n", task.Name, state)
			return
		}

		tasks := application.Tasks.Tasks()
		byTime := make(map[string]string, len(tasks))
		for _, t := range tasks {
			mark := "[ ]"
			if t.Completed {
				mark = "[x]"
			}
			byTime[t.Time] = fmt.Sprintf("%s %s: %s (%.0f kcal)", mark, t.Category, t.Name, t.Calories)
		}
		for _, slot := range cfg.TimeSlots {
			line, ok := byTime[slot]
			if !ok {
				line = "-"
			}
			fmt.Printf("%-9s %s\n", slot, line)
		}

	case "meals":
		if len(os.Args) > 2 && os.Args[2] == "save" {
			saveCmd := flag.NewFlagSet("meals save", flag.ExitOnError)
			slot := saveCmd.String("slot", "", "Plan slot to bookmark (breakfast, lunch, dinner, snack)")
			saveCmd.Parse(os.Args[3:])

			restored := application.Hydrate()
			if !restored.Success && application.CurrentPlan().IsEmpty() {
				log.Fatal("No current plan to bookmark a meal from")
			}
			meal, ok := application.CurrentPlan().Meals[*slot]
			if !ok || meal.Name == "" {
				log.Fatalf("No meal in slot %q", *slot)
			}
			result := application.Meals.Save(meal)
			if !result.Success {
				log.Fatalf("Save failed: %s", result.Message)
			}
			fmt.Printf("Bookmarked %s as %s\n", meal.Name, result.PlanID)
			return
		}
		for _, sm := range application.Meals.List() {
			fmt.Printf("%-14s %-28s %.0f kcal\n", sm.ID, sm.Meal.Name, sm.Meal.Nutrition.Calories)
		}

	case "stats":
		lifetime := application.Nutrition.LifetimeTotals()
		fmt.Printf("Lifetime: %.0f kcal, %.0fg protein, %.0fg carbs, %.0fg fat\n",
			lifetime.Calories, lifetime.Protein, lifetime.Carbs, lifetime.Fat)
		fmt.Println("This week:")
		for _, day := range application.Nutrition.WeekCalories() {
			fmt.Printf("  %s %s: %.0f kcal\n", day.Weekday, day.Date, day.Calories)
		}

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: fitme-tracker <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  generate    Generate a daily meal plan and save it")
	fmt.Println("  plans       List saved plans (subcommands: load, delete)")
	fmt.Println("  restore     Restore the most recent plan")
	fmt.Println("  tasks       Show today's routine tasks (subcommands: add, done)")
	fmt.Println("  meals       List bookmarked meals (subcommands: save)")
	fmt.Println("  stats       Show cumulative nutrition statistics")
}
