package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	// Color functions - fatih/color disables itself when output is not a TTY
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

// PrintSection prints a section header
func PrintSection(title string) {
	fmt.Println()
	_, _ = headerColor.Printf("▸ %s\n", title)
	fmt.Println()
}

// PrintSuccess prints a success message with a checkmark
func PrintSuccess(msg string) {
	_, _ = successColor.Printf("✓ %s\n", msg)
}

// PrintWarning prints a warning message with a warning symbol
func PrintWarning(msg string) {
	_, _ = warningColor.Printf("⚠ %s\n", msg)
}

// PrintError prints an error message to stderr
func PrintError(msg string) {
	_, _ = errorColor.Fprintf(os.Stderr, "✗ %s\n", msg)
}

// PrintLabelValue prints a label-value pair with aligned formatting
func PrintLabelValue(label, value string) {
	_, _ = labelColor.Printf("  %-16s", label+":")
	fmt.Println(value)
}

// PrintDim prints de-emphasized detail text
func PrintDim(msg string) {
	_, _ = dimColor.Printf("  %s\n", msg)
}
