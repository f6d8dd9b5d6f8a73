package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tripsync/ledger"
)

var inputPath string
var outputPath string
var strategyName string

func settleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "settle a CSV of trip expenses offline",
		Long: `settle reads a CSV of expenses (description,amount,paidBy,splitMembers), splits every
expense equally among its members and prints each member's balance followed by the transfers
that settle the group.`,
		Example: `tripsync settle --input trip.csv --output result.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, ok := ledger.StrategyByName(strategyName)
			if !ok {
				return fmt.Errorf("unknown strategy %q", strategyName)
			}

			inputFile, err := os.Open(inputPath)
			if err != nil {
				return err
			}
			defer inputFile.Close()

			csvContent, err := csv.NewReader(inputFile).ReadAll()
			if err != nil {
				return err
			}

			members, expenses, err := ParseExpensesCSV(csvContent)
			if err != nil {
				return fmt.Errorf("failed to parse CSV: %w", err)
			}
			if len(expenses) == 0 {
				return fmt.Errorf("no expenses found in the CSV")
			}

			out := cmd.OutOrStdout()
			if outputPath != "" {
				outputFile, err := os.Create(outputPath)
				if err != nil {
					return err
				}
				defer func() {
					if err := outputFile.Close(); err != nil {
						slog.Error("failed to close output file", "error", err)
					}
				}()
				out = outputFile
			}

			return WriteSettlement(out, members, expenses, strategy)
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "csv input file path (required)")
	if err := cmd.MarkFlagRequired("input"); err != nil {
		panic(err)
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path, stdout when empty")
	cmd.Flags().StringVarP(&strategyName, "strategy", "s", "in_order", "settlement order (in_order, by_magnitude)")

	return cmd
}

// ParseExpensesCSV parses rows of description,amount,paidBy,splitMembers after a header
// row. splitMembers is a comma separated list; every expense is split equally among
// them. Members are returned in order of first appearance.
func ParseExpensesCSV(csvContent [][]string) ([]string, []ledger.Expense, error) {
	if len(csvContent) == 0 {
		return nil, nil, fmt.Errorf("CSV is empty")
	}

	// skip the header row
	dataRows := csvContent[1:]

	var members []string
	seen := make(map[string]bool)
	addMember := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			members = append(members, name)
		}
	}

	inputs := make([]ledger.ExpenseInput, 0, len(dataRows))
	for i, row := range dataRows {
		line := i + 2 // header is line 1
		if len(row) != 4 {
			return nil, nil, fmt.Errorf("row %d: expected 4 columns, but got %d", line, len(row))
		}

		amount, err := ledger.ParseAmount(row[1])
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", line, err)
		}

		paidBy := strings.TrimSpace(row[2])
		addMember(paidBy)

		var selection []string
		for _, m := range strings.Split(row[3], ",") {
			m = strings.TrimSpace(m)
			if m == "" {
				continue
			}
			addMember(m)
			selection = append(selection, m)
		}

		inputs = append(inputs, ledger.ExpenseInput{
			Description: row[0],
			Amount:      amount,
			PaidBy:      paidBy,
			Policy:      ledger.SplitEqual,
			Selection:   selection,
		})
	}

	expenses := make([]ledger.Expense, 0, len(inputs))
	for i, in := range inputs {
		e, err := in.Build(members)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		e.ID = fmt.Sprintf("row-%d", i+2)
		expenses = append(expenses, e)
	}
	return members, expenses, nil
}

// WriteSettlement prints balances, the total spent and the settling transfers.
func WriteSettlement(w io.Writer, members []string, expenses []ledger.Expense, strategy ledger.SettleStrategy) error {
	balances := ledger.ComputeBalances(members, expenses)
	settlements := ledger.SettleWith(balances, strategy)

	var b strings.Builder
	fmt.Fprintf(&b, "Total spent: ₹%s\n\n", ledger.FormatAmount(ledger.TotalSpent(expenses)))
	b.WriteString("Balances:\n")
	for _, bal := range balances {
		fmt.Fprintf(&b, "  %s: %s\n", bal.Member, ledger.FormatAmount(bal.Amount))
	}
	b.WriteString("\nSettlements:\n")
	if len(settlements) == 0 {
		b.WriteString("  all settled\n")
	}
	for _, s := range settlements {
		fmt.Fprintf(&b, "  %s\n", s.String())
	}

	_, err := io.WriteString(w, b.String())
	return err
}
