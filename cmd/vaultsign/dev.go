package main

import (
	"context"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// runner executes an external program with the CLI's stdio attached.
type runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	c := exec.CommandContext(ctx, name, args...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Stdin = os.Stdin
	return c.Run()
}

// toggle maps a boolean flag onto an argument of the wrapped tool. With
// whenUnset the argument is passed while the flag is false.
type toggle struct {
	flag, short string
	def         bool
	usage       string
	arg         string
	whenUnset   bool
}

// tool describes one wrapped invocation: program, fixed leading args and
// defaults used when the caller passes no positional args.
type tool struct {
	use, short string
	program    string
	base       []string
	defaults   []string
	toggles    []toggle
}

func (t tool) command(run runner, prefix func() []string) *cobra.Command {
	set := make([]bool, len(t.toggles))
	cmd := &cobra.Command{
		Use:   t.use,
		Short: t.short,
		RunE: func(cmd *cobra.Command, args []string) error {
			argv := append(prefix(), t.base...)
			for i, tg := range t.toggles {
				if set[i] != tg.whenUnset {
					argv = append(argv, tg.arg)
				}
			}
			if len(args) == 0 {
				args = t.defaults
			}
			return run(cmd.Context(), t.program, append(argv, args...)...)
		},
	}
	for i, tg := range t.toggles {
		cmd.Flags().BoolVarP(&set[i], tg.flag, tg.short, tg.def, tg.usage)
	}
	return cmd
}

// newDevCmd groups the local development helpers: the docker compose stack
// (postgres, redis, minio, server, worker), go test and go run.
func newDevCmd(run runner) *cobra.Command {
	var composeFile string
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Drive the local docker compose stack and Go toolchain",
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "compose file for stack commands")
	compose := func() []string { return []string{"compose", "-f", composeFile} }
	none := func() []string { return nil }

	stack := []tool{
		{use: "build [service...]", short: "Build the server and worker images", base: []string{"build"},
			toggles: []toggle{{flag: "no-cache", usage: "build without the layer cache", arg: "--no-cache"}}},
		{use: "up [service...]", short: "Start postgres, redis, minio, server and worker", base: []string{"up"},
			toggles: []toggle{
				{flag: "skip-build", usage: "start without rebuilding images", arg: "--build", whenUnset: true},
				{flag: "detached", short: "d", def: true, usage: "return once containers are up", arg: "-d"},
			}},
		{use: "down", short: "Stop the stack", base: []string{"down"},
			toggles: []toggle{{flag: "volumes", short: "v", usage: "also drop the postgres and minio volumes", arg: "-v"}}},
		{use: "logs [service...]", short: "Show service logs", base: []string{"logs"},
			toggles: []toggle{{flag: "follow", usage: "stream logs until interrupted", arg: "-f"}}},
	}
	for _, t := range stack {
		t.program = "docker"
		cmd.AddCommand(t.command(run, compose))
	}

	test := tool{
		use: "test [packages]", short: "Run go test (./... by default)", program: "go",
		base: []string{"test"}, defaults: []string{"./..."},
		toggles: []toggle{
			{flag: "race", usage: "enable the race detector", arg: "-race"},
			{flag: "cover", usage: "report coverage", arg: "-cover"},
		},
	}
	runCmd := &cobra.Command{Use: "run", Short: "go run one of the service binaries"}
	for _, bin := range []string{"server", "worker"} {
		runCmd.AddCommand(tool{use: bin, short: "go run ./cmd/" + bin, program: "go", base: []string{"run", "./cmd/" + bin}}.command(run, none))
	}
	cmd.AddCommand(test.command(run, none), runCmd)
	return cmd
}
