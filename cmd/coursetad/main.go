package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/studyloop/courseta/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coursetad",
		Short: "Courseta daemon and CLI",
		Long:  "Courseta daemon for serving the course question-answering API and maintaining the embedding corpus",
	}

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.BackfillCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
