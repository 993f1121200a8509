package main

import (
	"log"

	"github.com/absmach/flotilla/flotillad"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flotillad",
		Short: "Flotilla Daemon",
		Long:  `Flotilla Daemon manages the lifecycle of the federated-learning coordinator.`,
	}

	coordinatorCmd := flotillad.NewCoordinatorCmd()

	rootCmd.AddCommand(coordinatorCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
