package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/ktrace/internal/loadgen"
	"github.com/okian/ktrace/pkg/logger"
)

var (
	// Global flags
	baseURL   string
	apiKey    string
	logFormat string
	verbose   bool

	workload loadgen.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ktload",
	Short: "Load and replay checks for a ktrace server",
	Long: `ktload generates synthetic students answering quizzes, submits their
attempts to a ktrace server and replays them to check that no knowledge
state moves the second time.

The server needs the matching concept registry:

  ktload registry -o registry.yaml
  KTRACE_REGISTRY_FILE=registry.yaml ktrace
  ktload run --students 500 --workers 16`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Init(logger.WithFormat(logFormat), logger.WithWriter(cmd.ErrOrStderr())); err != nil {
			return err
		}
		if verbose {
			return logger.SetLevelString("debug")
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	// Workload shape, shared by run and registry so both agree on item IDs.
	rootCmd.PersistentFlags().IntVar(&workload.Students, "students", loadgen.DefaultStudents, "Students per course")
	rootCmd.PersistentFlags().IntVar(&workload.Courses, "courses", loadgen.DefaultCourses, "Number of courses")
	rootCmd.PersistentFlags().IntVar(&workload.Attempts, "attempts", loadgen.DefaultAttempts, "Attempts per student and course")
	rootCmd.PersistentFlags().IntVar(&workload.Questions, "questions", loadgen.DefaultQuestions, "Questions per attempt")
	rootCmd.PersistentFlags().IntVar(&workload.Concepts, "concepts", loadgen.DefaultConcepts, "Number of concepts")
}
