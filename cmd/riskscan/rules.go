package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coolbeans/riskscan/pkg/filing"
	"github.com/coolbeans/riskscan/pkg/rules"
	"github.com/coolbeans/riskscan/pkg/section"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate boundary rules",
	}

	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesValidateCmd())

	return cmd
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules in cascade order",
		Long: `List the rules a cascade tries, in order. With --entity the list is the
exact cascade for that entity, generic rules first.

Example:
  riskscan rules list
  riskscan rules list --kind 10-Q --entity TMO --end "Item 2"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kindName, _ := cmd.Flags().GetString("kind")
			entityID, _ := cmd.Flags().GetString("entity")
			startLabel, _ := cmd.Flags().GetString("start")
			endLabel, _ := cmd.Flags().GetString("end")
			asJSON, _ := cmd.Flags().GetBool("json")

			registry, err := newRegistry(settings.Extraction.RulesDirectory)
			if err != nil {
				return err
			}
			ruleSet := registry.Snapshot()

			listed := ruleSet.Rules()
			if kindName != "" || entityID != "" {
				kind, err := filing.ParseKind(defaultString(kindName, settings.Extraction.Kind))
				if err != nil {
					return err
				}
				start, err := section.ParseLabel(defaultString(startLabel, settings.Extraction.Start))
				if err != nil {
					return err
				}
				end, err := section.ParseLabel(defaultString(endLabel, settings.Extraction.End))
				if err != nil {
					return err
				}
				listed = ruleSet.Active(kind, strings.ToUpper(entityID), start, end)
			}

			if asJSON {
				data, err := json.MarshalIndent(listed, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode rules: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("%-5s %-40s %-7s %-9s %-10s %s\n", "INDEX", "ID", "SURFACE", "PRIORITY", "KIND", "ENTITIES")
			fmt.Println(strings.Repeat("─", 90))
			for index, rule := range listed {
				kind := string(rule.DocumentKind)
				if kind == "" {
					kind = "any"
				}
				entities := "all"
				if !rule.IsGeneric() {
					entities = strings.Join(rule.Entities, ",")
				}
				fmt.Printf("%-5d %-40s %-7s %-9d %-10s %s\n", index, rule.ID, rule.Surface, rule.Priority, kind, entities)
			}
			fmt.Printf("\nTotal: %d rules\n", len(listed))
			return nil
		},
	}

	cmd.Flags().StringP("kind", "k", "", "Only rules for this document kind")
	cmd.Flags().String("entity", "", "Show the cascade for this entity")
	cmd.Flags().String("start", "", "Start section label (default from config)")
	cmd.Flags().String("end", "", "End section label (default from config)")
	cmd.Flags().Bool("json", false, "Print rules as JSON")

	return cmd
}

func rulesValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dir]",
		Short: "Validate a directory of rule files",
		Long: `Load the built-in rules and the rule files of a directory, reporting any
file that fails to parse, validate or compile. With --watch the directory
is validated again on every change until interrupted.

Example:
  riskscan rules validate ./rules
  riskscan rules validate ./rules --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetBool("watch")

			dir := settings.Extraction.RulesDirectory
			if len(args) > 0 {
				dir = args[0]
			}
			if dir == "" {
				registry, err := rules.NewDefaultRegistry()
				if err != nil {
					return err
				}
				fmt.Printf("[OK] %d built-in rules\n", registry.Count())
				return nil
			}

			registry, err := rules.NewRegistryWithDirectory(dir)
			if err != nil {
				fmt.Printf("[FAIL] %v\n", err)
				if !watch {
					return fmt.Errorf("rule validation failed")
				}
			} else {
				fmt.Printf("[OK] %d rules (built-in and %s)\n", registry.Count(), dir)
			}
			if !watch {
				return nil
			}

			if registry == nil {
				registry = rules.NewRegistry()
				if loadErr := registry.LoadBuiltin(); loadErr != nil {
					return loadErr
				}
				// Keep the directory for reloads even though it failed to load.
				_ = registry.LoadDirectory(dir)
			}
			registry.SetOnChange(func(event string, path string) {
				fmt.Printf("[OK] %s %s: %d rules\n", event, path, registry.Count())
			})
			if err := registry.Watch(); err != nil {
				return err
			}
			defer registry.StopWatch()

			fmt.Printf("Watching %s (Ctrl+C to stop)\n", dir)
			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().Bool("watch", false, "Validate again whenever the directory changes")

	return cmd
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
